package auth

import (
	"context"
	"encoding/json"
	"time"
)

// Audit actions emitted by successful mutating operations.
const (
	ActionRegisterTenant    = "RegisterTenant"
	ActionLogin             = "Login"
	ActionRefreshToken      = "RefreshToken"
	ActionLogout            = "Logout"
	ActionTenantActivated   = "TenantActivated"
	ActionTenantDeactivated = "TenantDeactivated"
	ActionTenantSoftDeleted = "TenantSoftDeleted"
	ActionUserCreated       = "UserCreated"
	ActionUserUpdated       = "UserUpdated"
	ActionUserDeactivated   = "UserDeactivated"
)

// AuditRecord carries the correlation fields an audit sink needs. Before and
// After are JSON snapshots and never contain token values or password hashes.
type AuditRecord struct {
	ID         string          `json:"id"`
	OccurredAt time.Time       `json:"occurredAt"`
	ActorID    *string         `json:"actorId"`
	TenantID   string          `json:"tenantId"`
	Action     string          `json:"action"`
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	RequestID  string          `json:"requestId,omitempty"`
}

// AuditRecorder receives audit records. Implementations live in package audit.
type AuditRecorder interface {
	Record(ctx context.Context, rec AuditRecord) error
}

// AuditRecorderFunc adapts a function to AuditRecorder.
type AuditRecorderFunc func(ctx context.Context, rec AuditRecord) error

func (f AuditRecorderFunc) Record(ctx context.Context, rec AuditRecord) error { return f(ctx, rec) }

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, AuditRecord) error { return nil }

func snapshot(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

func actorPtr(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}
