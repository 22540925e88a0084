package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"lidar.app/internal/auth"
)

type auditStore struct{ s *Store }

func (a auditStore) Append(ctx context.Context, rec *auth.AuditRecord) error {
	_, err := a.s.q.ExecContext(ctx, `
		insert into audit_logs (id, occurred_at, actor_id, tenant_id, action, entity_type, entity_id, before_json, after_json, request_id)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, rec.ID, rec.OccurredAt.UTC(), nullString(rec.ActorID), rec.TenantID, rec.Action,
		rec.EntityType, rec.EntityID, nullJSON(rec.Before), nullJSON(rec.After), rec.RequestID)
	return mapError(err)
}

func (a auditStore) List(ctx context.Context, scope auth.Scope, limit int) ([]*auth.AuditRecord, error) {
	filter, args := tenantFilter(scope, "tenant_id", nil)
	query := `
		select id, occurred_at, actor_id, tenant_id, action, entity_type, entity_id, before_json, after_json, request_id
		from audit_logs
		where ` + filter + `
		order by occurred_at desc, id desc`
	if limit > 0 {
		query += fmt.Sprintf(" limit %d", limit)
	}
	rows, err := a.s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*auth.AuditRecord{}
	for rows.Next() {
		var (
			rec           auth.AuditRecord
			actor         sql.NullString
			before, after sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.OccurredAt, &actor, &rec.TenantID, &rec.Action,
			&rec.EntityType, &rec.EntityID, &before, &after, &rec.RequestID); err != nil {
			return nil, err
		}
		rec.OccurredAt = rec.OccurredAt.UTC()
		rec.ActorID = stringPtr(actor)
		if before.Valid {
			rec.Before = json.RawMessage(before.String)
		}
		if after.Valid {
			rec.After = json.RawMessage(after.String)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func nullJSON(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}
