package auth

import (
	"net/mail"
	"sort"
	"strings"
)

const (
	maxNameLength         = 200
	maxRegistrationLength = 100
)

// RegisterRequest creates a tenant together with its first administrator.
type RegisterRequest struct {
	TenantName         string `json:"tenantName"`
	RegistrationNumber string `json:"registrationNumber"`
	Email              string `json:"email"`
	Password           string `json:"password"`
	DisplayName        string `json:"displayName"`
}

// Validate checks the request shape.
func (r RegisterRequest) Validate() error {
	v := &ValidationError{}
	requireLen(v, "tenantName", r.TenantName, maxNameLength)
	requireLen(v, "registrationNumber", r.RegistrationNumber, maxRegistrationLength)
	checkEmail(v, "email", r.Email)
	if msg := passwordProblem(r.Password); msg != "" {
		v.add("password", msg)
	}
	requireLen(v, "displayName", r.DisplayName, maxNameLength)
	return v.orNil()
}

// Credentials identify a caller at login. TenantID is optional and narrows
// the lookup when the same email exists in several tenants.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	TenantID string `json:"tenantId,omitempty"`
}

// Validate checks the request shape.
func (c Credentials) Validate() error {
	v := &ValidationError{}
	checkEmail(v, "email", c.Email)
	if c.Password == "" {
		v.add("password", "is required")
	}
	return v.orNil()
}

// CreateUserRequest adds a user to the caller's tenant.
type CreateUserRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
	RoleName    string `json:"roleName"`
}

// Validate checks the request shape.
func (r CreateUserRequest) Validate() error {
	v := &ValidationError{}
	checkEmail(v, "email", r.Email)
	if msg := passwordProblem(r.Password); msg != "" {
		v.add("password", msg)
	}
	requireLen(v, "displayName", r.DisplayName, maxNameLength)
	requireLen(v, "roleName", r.RoleName, maxNameLength)
	return v.orNil()
}

// UpdateUserRequest changes a user. Nil fields are left untouched; a non-nil
// Roles replaces the assignment set.
type UpdateUserRequest struct {
	DisplayName *string  `json:"displayName,omitempty"`
	Password    *string  `json:"password,omitempty"`
	Roles       []string `json:"roles,omitempty"`
}

// Validate checks the request shape.
func (r UpdateUserRequest) Validate() error {
	v := &ValidationError{}
	if r.DisplayName != nil && len([]rune(*r.DisplayName)) > maxNameLength {
		v.add("displayName", "must be at most 200 characters")
	}
	if r.Password != nil && *r.Password != "" {
		if msg := passwordProblem(*r.Password); msg != "" {
			v.add("password", msg)
		}
	}
	for _, role := range r.Roles {
		if strings.TrimSpace(role) == "" {
			v.add("roles", "must not contain empty names")
		}
	}
	return v.orNil()
}

func requireLen(v *ValidationError, field, value string, max int) {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		v.add(field, "is required")
	case len([]rune(value)) > max:
		v.add(field, "is too long")
	}
}

func checkEmail(v *ValidationError, field, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		v.add(field, "is required")
		return
	}
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value {
		v.add(field, "is not a valid email address")
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
