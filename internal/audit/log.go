package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"lidar.app/internal/auth"
	"lidar.app/internal/obs"
)

// LogEvent writes an audit log entry enriched with request and user context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"event": event,
	}
	if rid := obs.RequestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		entry["user_id"] = userID
	}
	copyFields := make(map[string]any, len(fields))
	for k, v := range fields {
		copyFields[k] = v
	}
	entry["fields"] = copyFields

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}

// LogSink writes every audit record as one structured log line.
type LogSink struct{}

func (LogSink) Record(ctx context.Context, rec auth.AuditRecord) error {
	fields := map[string]any{
		"audit_id":    rec.ID,
		"tenant_id":   rec.TenantID,
		"entity_type": rec.EntityType,
		"entity_id":   rec.EntityID,
		"occurred_at": rec.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	if rec.ActorID != nil {
		fields["actor_id"] = *rec.ActorID
	}
	if rec.RequestID != "" && obs.RequestIDFromContext(ctx) == "" {
		ctx = obs.WithRequestID(ctx, rec.RequestID)
	}
	return LogEvent(ctx, rec.Action, fields)
}
