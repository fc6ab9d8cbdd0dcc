package goAuthCore

import (
	"context"

	"github.com/MrEthical07/goAuthCore/mfa"
	"github.com/MrEthical07/goAuthCore/permission"
	"github.com/MrEthical07/goAuthCore/session"
)

// Aliases so callers need only this package for the common MFA types.
type (
	Factor        = mfa.Factor
	MFAStatus     = mfa.Status
	MFAEnrollment = mfa.Enrollment
	RecoveryCode  = mfa.RecoveryCode
)

// SecurityPreferences are the per-principal security toggles.
type SecurityPreferences struct {
	MFAEnabled           bool `json:"mfa_enabled"`
	BackupCodesGenerated bool `json:"backup_codes_generated"`
	RememberDevice       bool `json:"remember_device"`
	LoginNotifications   bool `json:"login_notifications"`
}

// Principal is the authenticated identity. Its lifecycle belongs to the identity
// provider; the Engine only patches the local copy.
type Principal struct {
	ID                  string              `json:"id"`
	Email               string              `json:"email"`
	DisplayName         string              `json:"display_name"`
	Active              bool                `json:"active"`
	FailedLoginAttempts int                 `json:"failed_login_attempts"`
	SecurityPreferences SecurityPreferences `json:"security_preferences"`
	Metadata            map[string]any      `json:"metadata,omitempty"`
}

// Tenant is an organization the principal can act in.
type Tenant struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Active   bool           `json:"active"`
	Settings map[string]any `json:"settings,omitempty"`
}

// Role is a named permission bundle. An empty TenantID means system level.
type Role struct {
	ID           string                  `json:"id"`
	Name         string                  `json:"name"`
	TenantID     string                  `json:"tenant_id,omitempty"`
	Permissions  []permission.Permission `json:"permissions"`
	IsSystemRole bool                    `json:"is_system_role"`
	IsProtected  bool                    `json:"is_protected"`
	IsSuperadmin bool                    `json:"is_superadmin"`
}

// Credentials are the inputs to Login.
type Credentials struct {
	Email    string
	Password string
}

// ProfilePatch is a partial profile update. Nil fields are left unchanged;
// Metadata keys are merged.
type ProfilePatch struct {
	DisplayName *string
	Email       *string
	Metadata    map[string]any
}

// SecurityPreferencesPatch is a partial update of the user-controlled security
// preferences. MFA flags are owned by the MFA operations and cannot be patched.
type SecurityPreferencesPatch struct {
	RememberDevice     *bool
	LoginNotifications *bool
}

// SignInResult is returned by IdentityProvider.SignInWithPassword.
type SignInResult struct {
	Session   session.Session
	Principal Principal
}

// ImpersonationTarget is everything the Engine needs to act as another principal.
// Session is optional; when nil the superadmin's session stays live.
type ImpersonationTarget struct {
	User        Principal
	Tenant      *Tenant
	Roles       []Role
	CurrentRole *Role
	Tenants     []Tenant
	Session     *session.Session
}

// IdentityProvider is the remote identity service. Calls that act on the signed-in
// principal read the access token from ctx (see AccessTokenFromContext).
type IdentityProvider interface {
	mfa.FactorStore
	mfa.MetadataStore
	session.Refresher

	SignInWithPassword(ctx context.Context, email, password string) (SignInResult, error)
	SignOut(ctx context.Context) error
	CurrentUser(ctx context.Context) (Principal, error)
}

// Directory resolves tenants and roles for a principal and owns the profile and
// password-reset calls.
type Directory interface {
	ListTenants(ctx context.Context, userID string) ([]Tenant, error)
	// ListRoles returns the roles userID holds in tenantID, or system roles when
	// tenantID is empty.
	ListRoles(ctx context.Context, userID, tenantID string) ([]Role, error)
	SwitchRole(ctx context.Context, userID, tenantID, roleID string) (Role, error)
	SwitchTenant(ctx context.Context, userID, tenantID string) (Tenant, []Role, error)
	GetImpersonationTarget(ctx context.Context, userID string) (ImpersonationTarget, error)
	UpdateProfile(ctx context.Context, userID string, patch ProfilePatch) error
	ResetPassword(ctx context.Context, email string) error
}
