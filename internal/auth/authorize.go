package auth

import "strings"

// Principal is the authenticated caller of one request.
type Principal struct {
	UserID      string
	TenantID    string
	Email       string
	Roles       []string
	Permissions map[string]struct{}
}

// HasRole reports whether the principal holds role (case-insensitive).
func (p Principal) HasRole(role string) bool {
	role = strings.TrimSpace(role)
	if role == "" {
		return false
	}
	for _, r := range p.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// HasPermission reports whether the principal can execute action identified by key.
func (p Principal) HasPermission(key string) bool {
	_, ok := p.Permissions[key]
	return ok
}

// WithPermissions returns a copy of p carrying the given permission keys.
func (p Principal) WithPermissions(keys []string) Principal {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	p.Permissions = set
	return p
}

// IsSystemAdmin reports whether p administers the whole system. The
// SystemAdmin role counts only for members of the system tenant.
func (p Principal) IsSystemAdmin() bool {
	return p.TenantID == SystemTenantID && p.HasRole(RoleSystemAdmin)
}
