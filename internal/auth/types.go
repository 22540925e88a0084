package auth

import (
	"strings"
	"time"
)

// Tenant is an institution whose users and data are isolated from other tenants.
type Tenant struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	RegistrationNumber string    `json:"registrationNumber"`
	IsActive           bool      `json:"isActive"`
	IsDeleted          bool      `json:"isDeleted"`
	CreatedAt          time.Time `json:"createdAt"`
}

// User is an account owned by exactly one tenant.
type User struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenantId"`
	Email          string     `json:"email"`
	DisplayName    string     `json:"displayName"`
	PasswordHash   string     `json:"-"`
	Roles          []string   `json:"roles"`
	LockoutEnabled bool       `json:"lockoutEnabled"`
	LockoutUntil   *time.Time `json:"lockoutUntil,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// LockedOut reports whether the user is deactivated at now.
func (u *User) LockedOut(now time.Time) bool {
	if u == nil || !u.LockoutEnabled || u.LockoutUntil == nil {
		return false
	}
	return now.Before(*u.LockoutUntil)
}

// RoleKey is the identity of a role: its name plus owning tenant, where an
// empty TenantID denotes a global role.
type RoleKey struct {
	Name     string
	TenantID string
}

// Global reports whether the key names a role shared by all tenants.
func (k RoleKey) Global() bool { return k.TenantID == "" }

func (k RoleKey) String() string {
	if k.Global() {
		return k.Name + "@global"
	}
	return k.Name + "@" + k.TenantID
}

// Role groups permissions. TenantID is nil for global roles.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	TenantID    *string   `json:"tenantId,omitempty"`
	Permissions []string  `json:"permissions,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Key returns the composite identity of the role.
func (r Role) Key() RoleKey {
	if r.TenantID == nil {
		return RoleKey{Name: r.Name}
	}
	return RoleKey{Name: r.Name, TenantID: *r.TenantID}
}

// Permission is a fine-grained capability.
type Permission struct {
	Key         string `json:"key"`
	Description string `json:"description"`
}

// RefreshToken is one entry of a rotation chain. Token holds the lookup key
// (the bearer value, or its digest when tokens are hashed at rest) and
// ReplacedByToken holds the lookup key of the successor.
type RefreshToken struct {
	ID              string
	Token           string
	UserID          string
	CreatedAt       time.Time
	ExpiresAt       time.Time
	RevokedAt       *time.Time
	ReplacedByToken *string
}

// IsActive reports whether the token may still be trusted at now.
func (t *RefreshToken) IsActive(now time.Time) bool {
	return t != nil && t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

// Revoked reports whether the token was revoked or rotated.
func (t *RefreshToken) Revoked() bool { return t != nil && t.RevokedAt != nil }

// TokenPair is returned by every flow that authenticates a caller.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	ExpiresAt        time.Time `json:"expiresAt"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshExpiresAt time.Time `json:"-"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
