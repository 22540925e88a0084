package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"lidar.app/internal/auth"
	"lidar.app/internal/ids"
)

const roleColumns = `id, name, tenant_id, created_at`

type roleStore struct{ s *Store }

func scanRole(row rowScanner) (*auth.Role, error) {
	var (
		r      auth.Role
		tenant sql.NullString
	)
	if err := row.Scan(&r.ID, &r.Name, &tenant, &r.CreatedAt); err != nil {
		return nil, mapError(err)
	}
	r.TenantID = stringPtr(tenant)
	r.CreatedAt = r.CreatedAt.UTC()
	r.Permissions = []string{}
	return &r, nil
}

// Ensure returns the role with key, creating it when missing.
func (r roleStore) Ensure(ctx context.Context, key auth.RoleKey) (*auth.Role, error) {
	role, err := r.byKey(ctx, key)
	if !errors.Is(err, auth.ErrNotFound) {
		return role, err
	}
	var tenant *string
	if !key.Global() {
		tenant = &key.TenantID
	}
	if _, err := r.s.q.ExecContext(ctx, `
		insert into roles (id, name, tenant_id, created_at)
		values ($1, $2, $3, $4)
		on conflict do nothing
	`, ids.New(), key.Name, nullString(tenant), nowUTC()); err != nil {
		return nil, mapError(err)
	}
	return r.byKey(ctx, key)
}

func (r roleStore) byKey(ctx context.Context, key auth.RoleKey) (*auth.Role, error) {
	role, err := scanRole(r.s.q.QueryRowContext(ctx, `
		select `+roleColumns+`
		from roles
		where name = $1 and coalesce(tenant_id, '') = $2
	`, key.Name, key.TenantID))
	if err != nil {
		return nil, err
	}
	if err := r.loadPermissions(ctx, []*auth.Role{role}); err != nil {
		return nil, err
	}
	return role, nil
}

// Resolve finds a visible role by name, preferring a tenant-owned role over
// a global one of the same name.
func (r roleStore) Resolve(ctx context.Context, scope auth.Scope, name string) (*auth.Role, error) {
	filter, args := roleFilter(scope, "tenant_id", []any{strings.TrimSpace(name)})
	role, err := scanRole(r.s.q.QueryRowContext(ctx, `
		select `+roleColumns+`
		from roles
		where lower(name) = lower($1) and `+filter+`
		order by case when tenant_id is null then 1 else 0 end, id
		limit 1`, args...))
	if err != nil {
		return nil, err
	}
	if err := r.loadPermissions(ctx, []*auth.Role{role}); err != nil {
		return nil, err
	}
	return role, nil
}

func (r roleStore) List(ctx context.Context, scope auth.Scope) ([]*auth.Role, error) {
	filter, args := roleFilter(scope, "tenant_id", nil)
	rows, err := r.s.q.QueryContext(ctx, `
		select `+roleColumns+`
		from roles
		where `+filter+`
		order by name, case when tenant_id is null then 0 else 1 end, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*auth.Role{}
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadPermissions(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r roleStore) loadPermissions(ctx context.Context, roles []*auth.Role) error {
	if len(roles) == 0 {
		return nil
	}
	byID := make(map[string]*auth.Role, len(roles))
	roleIDs := make([]string, 0, len(roles))
	for _, role := range roles {
		byID[role.ID] = role
		roleIDs = append(roleIDs, role.ID)
	}
	marks, args := placeholders(nil, roleIDs)
	rows, err := r.s.q.QueryContext(ctx, `
		select role_id, permission_key
		from role_permissions
		where role_id in (`+marks+`)
		order by permission_key`, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var roleID, key string
		if err := rows.Scan(&roleID, &key); err != nil {
			return err
		}
		if role := byID[roleID]; role != nil {
			role.Permissions = append(role.Permissions, key)
		}
	}
	return rows.Err()
}

// Permissions returns the distinct permission keys granted to the visible
// roles whose names appear in names (case-insensitive).
func (r roleStore) Permissions(ctx context.Context, scope auth.Scope, names []string) ([]string, error) {
	lowered := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
			lowered = append(lowered, n)
		}
	}
	if len(lowered) == 0 || scope.Empty() {
		return []string{}, nil
	}
	marks, args := placeholders(nil, lowered)
	filter, args := roleFilter(scope, "r.tenant_id", args)
	rows, err := r.s.q.QueryContext(ctx, `
		select distinct rp.permission_key
		from role_permissions rp
		join roles r on r.id = rp.role_id
		where lower(r.name) in (`+marks+`) and `+filter+`
		order by rp.permission_key`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

func (r roleStore) EnsurePermissions(ctx context.Context, perms []auth.Permission) error {
	for _, p := range perms {
		if _, err := r.s.q.ExecContext(ctx, `
			insert into permissions (key, description) values ($1, $2)
			on conflict (key) do nothing
		`, p.Key, p.Description); err != nil {
			return mapError(err)
		}
	}
	return nil
}

func (r roleStore) Grant(ctx context.Context, roleID string, keys []string) error {
	for _, key := range keys {
		if _, err := r.s.q.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_key) values ($1, $2)
			on conflict (role_id, permission_key) do nothing
		`, roleID, key); err != nil {
			return mapError(err)
		}
	}
	return nil
}
