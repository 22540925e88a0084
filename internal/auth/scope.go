package auth

import (
	"context"
	"strings"

	"lidar.app/internal/ids"
)

type scopeKind uint8

const (
	scopeNone scopeKind = iota
	scopeTenant
	scopeSystem
)

// Scope is the tenant filter applied to every tenant-owned storage access.
// The zero value is the empty scope, which matches no rows.
type Scope struct {
	kind     scopeKind
	tenantID string
}

// TenantScope restricts access to one tenant. A malformed id yields the empty scope.
func TenantScope(tenantID string) Scope {
	tenantID = strings.TrimSpace(tenantID)
	if !ids.Valid(tenantID) {
		return Scope{}
	}
	return Scope{kind: scopeTenant, tenantID: tenantID}
}

// SystemScope bypasses the tenant filter. It is reserved for the tenant
// administration operations and pre-authentication credential lookups.
func SystemScope() Scope { return Scope{kind: scopeSystem} }

// TenantID returns the tenant the scope is bound to, or "".
func (s Scope) TenantID() string { return s.tenantID }

// IsSystem reports whether the scope bypasses tenant filtering.
func (s Scope) IsSystem() bool { return s.kind == scopeSystem }

// Empty reports whether the scope matches nothing.
func (s Scope) Empty() bool { return s.kind == scopeNone }

// Allows reports whether a row owned by tenantID is visible in the scope.
func (s Scope) Allows(tenantID string) bool {
	switch s.kind {
	case scopeSystem:
		return true
	case scopeTenant:
		return tenantID == s.tenantID
	default:
		return false
	}
}

// AllowsRole reports whether a role owned by tenantID ("" for global) is visible.
func (s Scope) AllowsRole(tenantID string) bool {
	if s.kind == scopeNone {
		return false
	}
	return tenantID == "" || s.Allows(tenantID)
}

func (s Scope) String() string {
	switch s.kind {
	case scopeSystem:
		return "system"
	case scopeTenant:
		return "tenant:" + s.tenantID
	default:
		return "none"
	}
}

// ResolveScope derives the request scope from the caller's tenant claim. An
// absent or malformed claim yields the empty scope; it never errors.
func ResolveScope(p Principal) Scope {
	return TenantScope(p.TenantID)
}

// RequireTenant returns ErrMissingTenantContext unless scope names a tenant.
func RequireTenant(scope Scope) error {
	if scope.kind != scopeTenant {
		return ErrMissingTenantContext
	}
	return nil
}

type scopeContextKey struct{}

// WithScope attaches the resolved scope to ctx.
func WithScope(ctx context.Context, scope Scope) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, scope)
}

// ScopeFromContext returns the scope attached to ctx, or the empty scope.
func ScopeFromContext(ctx context.Context) Scope {
	if ctx == nil {
		return Scope{}
	}
	s, _ := ctx.Value(scopeContextKey{}).(Scope)
	return s
}
