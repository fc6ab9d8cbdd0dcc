package httpidp

import (
	goAuthCore "github.com/MrEthical07/goAuthCore"
	"github.com/MrEthical07/goAuthCore/session"
)

type errorBody struct {
	Code    string `json:"error"`
	Message string `json:"error_description,omitempty"`
}

type passwordGrant struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshGrant struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	session.Session
	TokenType string                `json:"token_type"`
	User      *goAuthCore.Principal `json:"user,omitempty"`
}

type enrollRequest struct {
	FactorType   string `json:"factor_type"`
	FriendlyName string `json:"friendly_name,omitempty"`
}

type enrollResponse struct {
	ID   string     `json:"id"`
	Type string     `json:"type"`
	TOTP totpSecret `json:"totp"`
}

type totpSecret struct {
	Secret string `json:"secret"`
}

type challengeResponse struct {
	ID string `json:"id"`
}

type verifyRequest struct {
	ChallengeID string `json:"challenge_id"`
	Code        string `json:"code"`
}

type switchRoleRequest struct {
	TenantID string `json:"tenant_id"`
	RoleID   string `json:"role_id"`
}

type switchTenantRequest struct {
	TenantID string `json:"tenant_id"`
}

type switchTenantResponse struct {
	Tenant goAuthCore.Tenant `json:"tenant"`
	Roles  []goAuthCore.Role `json:"roles"`
}

type impersonationBody struct {
	User        goAuthCore.Principal `json:"user"`
	Tenant      *goAuthCore.Tenant   `json:"tenant,omitempty"`
	Roles       []goAuthCore.Role    `json:"roles"`
	CurrentRole *goAuthCore.Role     `json:"current_role,omitempty"`
	Tenants     []goAuthCore.Tenant  `json:"tenants"`
	Session     *session.Session     `json:"session,omitempty"`
}

func toImpersonationBody(t goAuthCore.ImpersonationTarget) impersonationBody {
	return impersonationBody{
		User:        t.User,
		Tenant:      t.Tenant,
		Roles:       t.Roles,
		CurrentRole: t.CurrentRole,
		Tenants:     t.Tenants,
		Session:     t.Session,
	}
}

func (b impersonationBody) target() goAuthCore.ImpersonationTarget {
	return goAuthCore.ImpersonationTarget{
		User:        b.User,
		Tenant:      b.Tenant,
		Roles:       b.Roles,
		CurrentRole: b.CurrentRole,
		Tenants:     b.Tenants,
		Session:     b.Session,
	}
}

type profilePatchBody struct {
	DisplayName *string        `json:"display_name,omitempty"`
	Email       *string        `json:"email,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type recoverRequest struct {
	Email string `json:"email"`
}

type recoverConfirmRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}
