package permission

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidFormat is returned by [Parse] when a permission string does not have
// two or three colon-separated segments, or has an empty segment.
var ErrInvalidFormat = errors.New("invalid permission format")

const separator = ":"

// Permission is the atomic authorization unit: an action on a resource,
// optionally scoped to a tenant. An empty TenantID means system scope.
type Permission struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
	TenantID string `json:"tenant_id,omitempty"`
}

// Scoped reports whether the permission is bound to a tenant.
func (p Permission) Scoped() bool {
	return p.TenantID != ""
}

// String renders the permission in wire format.
func (p Permission) String() string {
	if p.TenantID != "" {
		return p.TenantID + separator + p.Resource + separator + p.Action
	}
	return p.Resource + separator + p.Action
}

// Parse decodes "resource:action" or "tenantId:resource:action".
func Parse(s string) (Permission, error) {
	parts := strings.Split(s, separator)
	for _, part := range parts {
		if part == "" {
			return Permission{}, ErrInvalidFormat
		}
	}

	switch len(parts) {
	case 2:
		return Permission{Resource: parts[0], Action: parts[1]}, nil
	case 3:
		return Permission{TenantID: parts[0], Resource: parts[1], Action: parts[2]}, nil
	default:
		return Permission{}, ErrInvalidFormat
	}
}

// MustParse is like [Parse] but panics on malformed input. Intended for static
// role tables in tests and seed data.
func MustParse(s string) Permission {
	p, err := Parse(s)
	if err != nil {
		panic("permission: " + err.Error() + ": " + s)
	}
	return p
}

// ParseAll parses a list of permission strings, failing on the first malformed entry.
func ParseAll(list []string) ([]Permission, error) {
	if len(list) == 0 {
		return nil, nil
	}
	out := make([]Permission, 0, len(list))
	for _, s := range list {
		p, err := Parse(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", err, s)
		}
		out = append(out, p)
	}
	return out, nil
}
