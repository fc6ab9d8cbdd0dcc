package memory

import (
	"context"
	"fmt"
	"net/mail"

	goAuthCore "github.com/MrEthical07/goAuthCore"
	"github.com/MrEthical07/goAuthCore/internal"
)

// callerLocked authenticates ctx and checks that it may act for userID: the
// caller must be userID or hold a superadmin system role.
func (p *Provider) callerLocked(ctx context.Context, userID string) (*user, error) {
	caller, _, err := p.authenticateLocked(ctx)
	if err != nil {
		return nil, err
	}
	if caller.id != userID && !p.isSuperadminLocked(caller) {
		return nil, goAuthCore.ErrPermissionDenied
	}
	u, ok := p.users[userID]
	if !ok {
		return nil, goAuthCore.ErrUserNotFound
	}
	return u, nil
}

// ListTenants returns the active tenants userID belongs to, in membership order.
func (p *Provider) ListTenants(ctx context.Context, userID string) ([]goAuthCore.Tenant, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	u, err := p.callerLocked(ctx, userID)
	if err != nil {
		return nil, err
	}
	return p.tenantsLocked(u), nil
}

// ListRoles returns the roles userID holds in tenantID, or system roles when
// tenantID is empty.
func (p *Provider) ListRoles(ctx context.Context, userID, tenantID string) ([]goAuthCore.Role, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	u, err := p.callerLocked(ctx, userID)
	if err != nil {
		return nil, err
	}
	if tenantID != "" && !p.memberLocked(u, tenantID) {
		return nil, goAuthCore.ErrTenantNotAvailable
	}
	return p.rolesLocked(u, tenantID), nil
}

// SwitchRole records roleID as userID's current role in tenantID.
func (p *Provider) SwitchRole(ctx context.Context, userID, tenantID, roleID string) (goAuthCore.Role, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	u, err := p.callerLocked(ctx, userID)
	if err != nil {
		return goAuthCore.Role{}, err
	}
	if !containsString(u.grants[tenantID], roleID) {
		return goAuthCore.Role{}, goAuthCore.ErrRoleNotAvailable
	}
	r, ok := p.roles[roleID]
	if !ok || r.TenantID != tenantID {
		return goAuthCore.Role{}, goAuthCore.ErrRoleNotAvailable
	}
	u.currentRole[tenantID] = roleID
	return cloneRole(r), nil
}

// SwitchTenant returns tenantID and the roles userID holds there.
func (p *Provider) SwitchTenant(ctx context.Context, userID, tenantID string) (goAuthCore.Tenant, []goAuthCore.Role, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	u, err := p.callerLocked(ctx, userID)
	if err != nil {
		return goAuthCore.Tenant{}, nil, err
	}
	if !p.memberLocked(u, tenantID) {
		return goAuthCore.Tenant{}, nil, goAuthCore.ErrTenantNotAvailable
	}
	roles := p.rolesLocked(u, tenantID)
	if len(roles) == 0 {
		return goAuthCore.Tenant{}, nil, goAuthCore.ErrRoleNotAvailable
	}
	return cloneTenant(p.tenants[tenantID]), roles, nil
}

// GetImpersonationTarget loads userID for a superadmin caller. The target acts
// in its first tenant with its last used role there. When ImpersonationSessions
// is set the target gets its own session.
func (p *Provider) GetImpersonationTarget(ctx context.Context, userID string) (goAuthCore.ImpersonationTarget, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	caller, _, err := p.authenticateLocked(ctx)
	if err != nil {
		return goAuthCore.ImpersonationTarget{}, err
	}
	if !p.isSuperadminLocked(caller) {
		return goAuthCore.ImpersonationTarget{}, goAuthCore.ErrNotSuperadmin
	}
	u, ok := p.users[userID]
	if !ok {
		return goAuthCore.ImpersonationTarget{}, goAuthCore.ErrUserNotFound
	}
	if !u.active {
		return goAuthCore.ImpersonationTarget{}, goAuthCore.ErrAccountDisabled
	}

	target := goAuthCore.ImpersonationTarget{
		User:    p.principalLocked(ctx, u),
		Tenants: p.tenantsLocked(u),
	}

	tenantID := ""
	if len(target.Tenants) > 0 {
		t := target.Tenants[0]
		target.Tenant = &t
		tenantID = t.ID
	}
	target.Roles = p.rolesLocked(u, tenantID)
	if id, ok := u.currentRole[tenantID]; ok {
		for i := range target.Roles {
			if target.Roles[i].ID == id {
				r := target.Roles[i]
				target.CurrentRole = &r
			}
		}
	}

	if p.opts.ImpersonationSessions {
		sess, err := p.issueLocked(u)
		if err != nil {
			return goAuthCore.ImpersonationTarget{}, err
		}
		target.Session = &sess
	}

	p.logger.InfoContext(ctx, "impersonation target issued", "actor_id", caller.id, "user_id", u.id)
	return target, nil
}

// UpdateProfile applies patch to userID's profile.
func (p *Provider) UpdateProfile(ctx context.Context, userID string, patch goAuthCore.ProfilePatch) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	u, err := p.callerLocked(ctx, userID)
	if err != nil {
		return err
	}

	if patch.Email != nil {
		email := normalizeEmail(*patch.Email)
		if _, err := mail.ParseAddress(email); err != nil {
			return goAuthCore.ErrInvalidEmail
		}
		if owner, ok := p.byEmail[email]; ok && owner != u.id {
			return ErrEmailTaken
		}
		delete(p.byEmail, u.email)
		p.byEmail[email] = u.id
		u.email = email
	}
	if patch.DisplayName != nil {
		u.displayName = *patch.DisplayName
	}
	mergeMetadata(u.metadata, patch.Metadata)
	return nil
}

// ResetPassword mails a reset token when email is registered. Unknown addresses
// succeed silently so the call cannot be used to probe for accounts.
func (p *Provider) ResetPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)

	p.mu.Lock()
	id, ok := p.byEmail[email]
	if !ok {
		p.mu.Unlock()
		return nil
	}

	rid, err := internal.NewSessionID()
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("reset id: %w", err)
	}
	tok, hash, err := internal.NewOpaqueToken(rid)
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("reset token: %w", err)
	}
	p.resets[rid.String()] = resetRecord{
		userID:    id,
		hash:      hash,
		expiresAt: p.opts.Clock.Now().Add(p.opts.ResetTTL),
	}
	p.mu.Unlock()

	if p.opts.Mailer == nil {
		p.logger.WarnContext(ctx, "password reset requested without a mailer", "user_id", id)
		return nil
	}
	return p.opts.Mailer.SendPasswordReset(ctx, email, tok)
}

// ConfirmPasswordReset sets a new password with a token from ResetPassword. Every
// session of the user is revoked and the lockout counter cleared.
func (p *Provider) ConfirmPasswordReset(ctx context.Context, resetToken, newPassword string) error {
	rid, hash, err := internal.DecodeOpaqueToken(resetToken)
	if err != nil {
		return ErrInvalidResetToken
	}
	newHash, err := p.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	p.mu.Lock()
	rec, ok := p.resets[rid.String()]
	delete(p.resets, rid.String())
	if !ok || !internal.HashesEqual(rec.hash, hash) || !rec.expiresAt.After(p.opts.Clock.Now()) {
		p.mu.Unlock()
		return ErrInvalidResetToken
	}
	u, ok := p.users[rec.userID]
	if !ok {
		p.mu.Unlock()
		return goAuthCore.ErrUserNotFound
	}
	u.passwordHash = newHash
	p.revokeUserSessionsLocked(u.id)
	p.mu.Unlock()

	return p.counter.Reset(ctx, rec.userID)
}

func (p *Provider) memberLocked(u *user, tenantID string) bool {
	if !containsString(u.tenants, tenantID) {
		return false
	}
	t, ok := p.tenants[tenantID]
	return ok && t.Active
}

func (p *Provider) tenantsLocked(u *user) []goAuthCore.Tenant {
	out := make([]goAuthCore.Tenant, 0, len(u.tenants))
	for _, id := range u.tenants {
		if t, ok := p.tenants[id]; ok && t.Active {
			out = append(out, cloneTenant(t))
		}
	}
	return out
}

func (p *Provider) rolesLocked(u *user, tenantID string) []goAuthCore.Role {
	out := make([]goAuthCore.Role, 0, len(u.grants[tenantID]))
	for _, id := range u.grants[tenantID] {
		if r, ok := p.roles[id]; ok && r.TenantID == tenantID {
			out = append(out, cloneRole(r))
		}
	}
	return out
}

func cloneTenant(t goAuthCore.Tenant) goAuthCore.Tenant {
	if t.Settings != nil {
		t.Settings = cloneMap(t.Settings)
	}
	return t
}
