package goAuthCore

import (
	"github.com/MrEthical07/goAuthCore/permission"
	"github.com/MrEthical07/goAuthCore/session"
)

// AuthState is the aggregate the UI renders. Values handed out by the Engine are
// deep copies; mutating them has no effect on the Engine.
type AuthState struct {
	User             *Principal
	Tenant           *Tenant
	CurrentRole      *Role
	AvailableRoles   []Role
	AvailableTenants []Tenant

	IsAuthenticated bool
	IsLoading       bool
	IsImpersonating bool
	IsSuperadmin    bool

	// OriginalUser is the superadmin, set only while impersonating.
	OriginalUser *Principal
	Session      *session.Session

	// LastError is the failure that last forced the state back to signed out,
	// such as a failed background refresh.
	LastError error
}

func initialState() AuthState {
	return AuthState{IsLoading: true}
}

func signedOutState(lastErr error) AuthState {
	return AuthState{LastError: lastErr}
}

func (s AuthState) subject() permission.Subject {
	sub := permission.Subject{
		Authenticated: s.IsAuthenticated,
		HasRole:       s.CurrentRole != nil,
		Superadmin:    s.IsSuperadmin,
	}
	if s.CurrentRole != nil {
		sub.Permissions = s.CurrentRole.Permissions
	}
	if s.Tenant != nil {
		sub.TenantID = s.Tenant.ID
	}
	return sub
}

func hasSuperadminRole(roles []Role) bool {
	for _, r := range roles {
		if r.IsSuperadmin {
			return true
		}
	}
	return false
}

func findRole(roles []Role, id string) (int, bool) {
	for i, r := range roles {
		if r.ID == id {
			return i, true
		}
	}
	return -1, false
}

func firstRole(roles []Role) *Role {
	if len(roles) == 0 {
		return nil
	}
	r := cloneRole(roles[0])
	return &r
}

// Clone returns a deep copy of s.
func (s AuthState) Clone() AuthState {
	out := s
	out.User = clonePrincipalPtr(s.User)
	out.OriginalUser = clonePrincipalPtr(s.OriginalUser)
	if s.Tenant != nil {
		t := cloneTenant(*s.Tenant)
		out.Tenant = &t
	}
	if s.CurrentRole != nil {
		r := cloneRole(*s.CurrentRole)
		out.CurrentRole = &r
	}
	out.AvailableRoles = cloneRoles(s.AvailableRoles)
	if s.AvailableTenants != nil {
		out.AvailableTenants = make([]Tenant, len(s.AvailableTenants))
		for i, t := range s.AvailableTenants {
			out.AvailableTenants[i] = cloneTenant(t)
		}
	}
	if s.Session != nil {
		sess := *s.Session
		out.Session = &sess
	}
	return out
}

func clonePrincipalPtr(p *Principal) *Principal {
	if p == nil {
		return nil
	}
	c := clonePrincipal(*p)
	return &c
}

func clonePrincipal(p Principal) Principal {
	p.Metadata = cloneMap(p.Metadata)
	return p
}

func cloneTenant(t Tenant) Tenant {
	t.Settings = cloneMap(t.Settings)
	return t
}

func cloneRole(r Role) Role {
	if r.Permissions != nil {
		r.Permissions = append([]permission.Permission(nil), r.Permissions...)
	}
	return r
}

func cloneRoles(roles []Role) []Role {
	if roles == nil {
		return nil
	}
	out := make([]Role, len(roles))
	for i, r := range roles {
		out[i] = cloneRole(r)
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
