package auth

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound             = errors.New("auth: not found")
	ErrConflict             = errors.New("auth: already exists")
	ErrInvalidCredentials   = errors.New("auth: invalid credentials")
	ErrInactiveToken        = errors.New("auth: refresh token inactive")
	ErrInvalidToken         = errors.New("auth: invalid token")
	ErrValidation           = errors.New("auth: validation failed")
	ErrMissingTenantContext = errors.New("auth: missing tenant context")
	ErrForbidden            = errors.New("auth: forbidden")
)

// ErrTokenReplay is returned when a refresh token that was already rotated or
// revoked is presented again, including the loser of a concurrent rotation.
// It matches ErrInactiveToken under errors.Is.
var ErrTokenReplay = fmt.Errorf("%w: replayed", ErrInactiveToken)

// ValidationError lists field problems found before a request reaches the core.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	parts := make([]string, 0, len(e.Fields))
	for _, k := range sortedKeys(e.Fields) {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, exists := e.Fields[field]; !exists {
		e.Fields[field] = msg
	}
}

func (e *ValidationError) orNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}
