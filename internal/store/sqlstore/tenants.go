package sqlstore

import (
	"context"

	"lidar.app/internal/auth"
)

const tenantColumns = `id, name, registration_number, is_active, is_deleted, created_at`

type tenantStore struct{ s *Store }

func scanTenant(row rowScanner) (*auth.Tenant, error) {
	var t auth.Tenant
	if err := row.Scan(&t.ID, &t.Name, &t.RegistrationNumber, &t.IsActive, &t.IsDeleted, &t.CreatedAt); err != nil {
		return nil, mapError(err)
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}

func (t tenantStore) Create(ctx context.Context, tenant *auth.Tenant) error {
	_, err := t.s.q.ExecContext(ctx, `
		insert into tenants (id, name, registration_number, is_active, is_deleted, created_at)
		values ($1, $2, $3, $4, $5, $6)
	`, tenant.ID, tenant.Name, tenant.RegistrationNumber, tenant.IsActive, tenant.IsDeleted, tenant.CreatedAt.UTC())
	return mapError(err)
}

func (t tenantStore) Find(ctx context.Context, scope auth.Scope, id string) (*auth.Tenant, error) {
	filter, args := tenantFilter(scope, "id", []any{id})
	return scanTenant(t.s.q.QueryRowContext(ctx, `
		select `+tenantColumns+`
		from tenants
		where id = $1 and is_deleted = false and `+filter, args...))
}

func (t tenantStore) ListAll(ctx context.Context, scope auth.Scope) ([]*auth.Tenant, error) {
	if !scope.IsSystem() {
		return nil, auth.ErrForbidden
	}
	rows, err := t.s.q.QueryContext(ctx, `select `+tenantColumns+` from tenants order by name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*auth.Tenant{}
	for rows.Next() {
		tenant, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tenant)
	}
	return out, rows.Err()
}

func (t tenantStore) SetActive(ctx context.Context, scope auth.Scope, id string, active bool) (*auth.Tenant, error) {
	if !scope.IsSystem() {
		return nil, auth.ErrForbidden
	}
	res, err := t.s.q.ExecContext(ctx, `update tenants set is_active = $1 where id = $2 and is_deleted = false`, active, id)
	if err != nil {
		return nil, mapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, auth.ErrNotFound
	}
	return t.Find(ctx, scope, id)
}

func (t tenantStore) SoftDelete(ctx context.Context, scope auth.Scope, id string) (*auth.Tenant, bool, error) {
	if !scope.IsSystem() {
		return nil, false, auth.ErrForbidden
	}
	var (
		tenant  *auth.Tenant
		changed bool
	)
	err := t.s.inTx(ctx, func(tx *Store) error {
		current, err := scanTenant(tx.q.QueryRowContext(ctx, `select `+tenantColumns+` from tenants where id = $1`, id))
		if err != nil {
			return err
		}
		tenant = current
		if current.IsDeleted {
			return nil
		}
		if _, err := tx.q.ExecContext(ctx, `update tenants set is_deleted = true where id = $1`, id); err != nil {
			return mapError(err)
		}
		tenant.IsDeleted = true
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return tenant, changed, nil
}
