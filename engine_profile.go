package goAuthCore

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
)

// Profile metadata keys mirrored by UpdateSecurityPreferences.
const (
	MetadataRememberDevice     = "rememberDevice"
	MetadataLoginNotifications = "loginNotifications"
)

// UpdateProfile sends patch to the directory and, once it succeeds, applies the
// same partial update to the local principal. On failure nothing changes locally.
func (e *Engine) UpdateProfile(ctx context.Context, patch ProfilePatch) error {
	const op = "update_profile"
	if err := e.ready(); err != nil {
		return opError(op, err)
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	st := e.snapshot()
	if !st.IsAuthenticated || st.User == nil {
		return opError(op, ErrNotAuthenticated)
	}
	if err := validateProfilePatch(patch); err != nil {
		return opError(op, err)
	}

	if err := e.directory.UpdateProfile(e.authCtx(ctx), st.User.ID, patch); err != nil {
		return opError(op, fmt.Errorf("directory update profile: %w", err))
	}

	userID := st.User.ID
	e.update(func(s *AuthState) {
		if s.User == nil || s.User.ID != userID {
			return
		}
		applyProfilePatch(s.User, patch)
	})

	e.metricInc(MetricProfileUpdate)
	e.emitAudit(ctx, auditEventProfileUpdated, true, nil, func() map[string]string {
		return map[string]string{"fields": strings.Join(patchedFields(patch), ",")}
	})
	return nil
}

func validateProfilePatch(patch ProfilePatch) error {
	if patch.DisplayName == nil && patch.Email == nil && len(patch.Metadata) == 0 {
		return fmt.Errorf("%w: empty patch", ErrInvalidProfile)
	}
	if patch.DisplayName != nil && strings.TrimSpace(*patch.DisplayName) == "" {
		return fmt.Errorf("%w: display name is empty", ErrInvalidProfile)
	}
	if patch.Email != nil && !validEmail(*patch.Email) {
		return ErrInvalidEmail
	}
	return nil
}

func applyProfilePatch(p *Principal, patch ProfilePatch) {
	if patch.DisplayName != nil {
		p.DisplayName = strings.TrimSpace(*patch.DisplayName)
	}
	if patch.Email != nil {
		p.Email = strings.TrimSpace(*patch.Email)
	}
	if len(patch.Metadata) > 0 {
		if p.Metadata == nil {
			p.Metadata = make(map[string]any, len(patch.Metadata))
		}
		for k, v := range patch.Metadata {
			p.Metadata[k] = cloneValue(v)
		}
	}
}

func patchedFields(patch ProfilePatch) []string {
	var fields []string
	if patch.DisplayName != nil {
		fields = append(fields, "display_name")
	}
	if patch.Email != nil {
		fields = append(fields, "email")
	}
	if len(patch.Metadata) > 0 {
		fields = append(fields, "metadata")
	}
	return fields
}

func validEmail(email string) bool {
	email = strings.TrimSpace(email)
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// ResetPassword asks the directory to send a reset email. It needs no session and
// does not touch the state.
func (e *Engine) ResetPassword(ctx context.Context, email string) error {
	const op = "reset_password"
	if err := e.ready(); err != nil {
		return opError(op, err)
	}

	email = strings.TrimSpace(email)
	if !validEmail(email) {
		return opError(op, ErrInvalidEmail)
	}

	err := e.directory.ResetPassword(ctx, email)
	e.metricInc(MetricPasswordResetRequest)
	e.emitAuditFor(ctx, auditEventPasswordResetRequested, "", err == nil, err, func() map[string]string {
		return map[string]string{"email_domain": emailDomain(email)}
	})
	if err != nil {
		return opError(op, fmt.Errorf("directory reset password: %w", err))
	}
	return nil
}

// UpdateSecurityPreferences applies patch locally at once, then mirrors it into
// profile metadata. If the mirror write fails the local change is rolled back and
// the error returned. Not allowed while impersonating.
func (e *Engine) UpdateSecurityPreferences(ctx context.Context, patch SecurityPreferencesPatch) error {
	const op = "update_security_preferences"
	if err := e.ready(); err != nil {
		return opError(op, err)
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	st := e.snapshot()
	if !st.IsAuthenticated || st.User == nil {
		return opError(op, ErrNotAuthenticated)
	}
	if st.IsImpersonating {
		return opError(op, ErrImpersonationActive)
	}
	if patch.RememberDevice == nil && patch.LoginNotifications == nil {
		return nil
	}

	userID := st.User.ID
	previous := st.User.SecurityPreferences
	meta := make(map[string]any, 2)

	e.update(func(s *AuthState) {
		if s.User == nil || s.User.ID != userID {
			return
		}
		if patch.RememberDevice != nil {
			s.User.SecurityPreferences.RememberDevice = *patch.RememberDevice
			meta[MetadataRememberDevice] = *patch.RememberDevice
		}
		if patch.LoginNotifications != nil {
			s.User.SecurityPreferences.LoginNotifications = *patch.LoginNotifications
			meta[MetadataLoginNotifications] = *patch.LoginNotifications
		}
	})

	if err := e.idp.UpdateProfileMetadata(e.authCtx(ctx), meta); err != nil {
		e.update(func(s *AuthState) {
			if s.User == nil || s.User.ID != userID {
				return
			}
			s.User.SecurityPreferences = previous
		})
		e.metricInc(MetricSecurityPrefsRollback)
		e.emitAudit(ctx, auditEventSecurityPreferencesRollback, false, err, nil)
		return opError(op, fmt.Errorf("update profile metadata: %w", err))
	}

	e.metricInc(MetricSecurityPrefsUpdate)
	e.emitAudit(ctx, auditEventSecurityPreferencesUpdated, true, nil, nil)
	return nil
}
