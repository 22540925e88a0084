package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
// Tenant-owned entities are always read through an explicit Scope.
type Store interface {
	Tenants(ctx context.Context) TenantStore
	Users(ctx context.Context) UserStore
	Roles(ctx context.Context) RoleStore
	Audit(ctx context.Context) AuditStore
	RefreshTokens(ctx context.Context) RefreshTokenStore
	// WithTx runs fn against a Store bound to a single transaction.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// TenantStore manages tenants. Find excludes soft-deleted tenants; the
// system-level methods (ListAll, SetActive, SoftDelete) require SystemScope.
// SoftDelete reports changed=false when the tenant was already deleted.
type TenantStore interface {
	Create(ctx context.Context, t *Tenant) error
	Find(ctx context.Context, scope Scope, id string) (*Tenant, error)
	ListAll(ctx context.Context, scope Scope) ([]*Tenant, error)
	SetActive(ctx context.Context, scope Scope, id string, active bool) (*Tenant, error)
	SoftDelete(ctx context.Context, scope Scope, id string) (t *Tenant, changed bool, err error)
}

// UserStore manages users and their role assignments.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, scope Scope, id string) (*User, error)
	FindByEmail(ctx context.Context, scope Scope, email string) ([]*User, error)
	List(ctx context.Context, scope Scope) ([]*User, error)
	Update(ctx context.Context, scope Scope, u *User) error
	SetRoles(ctx context.Context, scope Scope, userID string, roleIDs []string) error
}

// RoleStore manages roles. Visible roles are global or owned by the scope's tenant.
type RoleStore interface {
	Ensure(ctx context.Context, key RoleKey) (*Role, error)
	Resolve(ctx context.Context, scope Scope, name string) (*Role, error)
	List(ctx context.Context, scope Scope) ([]*Role, error)
	Permissions(ctx context.Context, scope Scope, names []string) ([]string, error)
	EnsurePermissions(ctx context.Context, perms []Permission) error
	Grant(ctx context.Context, roleID string, keys []string) error
}

// AuditStore appends immutable entries and lists them per tenant.
type AuditStore interface {
	Append(ctx context.Context, rec *AuditRecord) error
	List(ctx context.Context, scope Scope, limit int) ([]*AuditRecord, error)
}

// RefreshTokenStore persists rotation chain entries keyed by lookup key.
type RefreshTokenStore interface {
	Create(ctx context.Context, t *RefreshToken) error
	Find(ctx context.Context, token string) (*RefreshToken, error)
	// Rotate revokes prevToken (only if still unrevoked) pointing it at next,
	// and inserts next, atomically. It returns ErrTokenReplay when prevToken
	// was already revoked at write time.
	Rotate(ctx context.Context, prevToken string, at time.Time, next *RefreshToken) error
	// Revoke sets revoked_at on an unrevoked token and reports whether it did.
	Revoke(ctx context.Context, token string, at time.Time) (bool, error)
	// RevokeChain revokes token and its active successors, returning the count.
	RevokeChain(ctx context.Context, token string, at time.Time) (int, error)
	RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int, error)
}
