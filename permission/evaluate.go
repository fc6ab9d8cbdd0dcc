package permission

import "strings"

// Subject is everything the evaluator needs to know about the caller. It is a
// value type so callers hand over a snapshot, never live state.
type Subject struct {
	Authenticated bool
	HasRole       bool
	// Permissions held by the current role.
	Permissions []Permission
	// TenantID of the active tenant, empty when none is selected.
	TenantID   string
	Superadmin bool
}

// Evaluate reports whether subject is granted perm.
//
// Order matters: an unauthenticated subject or one without a current role is
// always denied, a superadmin is always granted (even for malformed strings),
// and only then is the string parsed and matched.
func Evaluate(subject Subject, perm string) bool {
	granted, _ := evaluate(subject, perm)
	return granted
}

// Evaluator wraps [Evaluate] with a hook that observes malformed permission
// strings. The zero value behaves exactly like Evaluate.
type Evaluator struct {
	OnInvalidFormat func(perm string)
}

// Evaluate is [Evaluate] plus the invalid-format hook.
func (e Evaluator) Evaluate(subject Subject, perm string) bool {
	granted, valid := evaluate(subject, perm)
	if !valid && e.OnInvalidFormat != nil {
		e.OnInvalidFormat(perm)
	}
	return granted
}

func evaluate(subject Subject, perm string) (granted bool, validFormat bool) {
	if !subject.Authenticated || !subject.HasRole {
		return false, true
	}
	if subject.Superadmin {
		return true, true
	}

	parts := strings.Split(perm, separator)
	switch len(parts) {
	case 3:
		tenantID, resource, action := parts[0], parts[1], parts[2]
		if subject.TenantID == "" || tenantID != subject.TenantID {
			return false, true
		}
		for _, p := range subject.Permissions {
			if p.Resource == resource && p.Action == action && p.TenantID == tenantID {
				return true, true
			}
		}
		return false, true
	case 2:
		resource, action := parts[0], parts[1]
		for _, p := range subject.Permissions {
			if p.Resource == resource && p.Action == action && p.TenantID == "" {
				return true, true
			}
		}
		return false, true
	default:
		return false, false
	}
}
