package sqlstore

import (
	"context"
	"database/sql"

	"lidar.app/internal/auth"
)

const userColumns = `id, tenant_id, email, display_name, password_hash, lockout_enabled, lockout_until, created_at, updated_at`

type userStore struct{ s *Store }

func scanUser(row rowScanner) (*auth.User, error) {
	var (
		u     auth.User
		until sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.DisplayName, &u.PasswordHash,
		&u.LockoutEnabled, &until, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, mapError(err)
	}
	u.LockoutUntil = timePtr(until)
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	u.Roles = []string{}
	return &u, nil
}

func (u userStore) Create(ctx context.Context, user *auth.User) error {
	_, err := u.s.q.ExecContext(ctx, `
		insert into users (id, tenant_id, email, display_name, password_hash, lockout_enabled, lockout_until, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, user.ID, user.TenantID, user.Email, user.DisplayName, user.PasswordHash,
		user.LockoutEnabled, nullTime(user.LockoutUntil), user.CreatedAt.UTC(), user.UpdatedAt.UTC())
	return mapError(err)
}

func (u userStore) Find(ctx context.Context, scope auth.Scope, id string) (*auth.User, error) {
	filter, args := tenantFilter(scope, "tenant_id", []any{id})
	user, err := scanUser(u.s.q.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where id = $1 and `+filter, args...))
	if err != nil {
		return nil, err
	}
	if err := u.loadRoles(ctx, []*auth.User{user}); err != nil {
		return nil, err
	}
	return user, nil
}

func (u userStore) FindByEmail(ctx context.Context, scope auth.Scope, email string) ([]*auth.User, error) {
	filter, args := tenantFilter(scope, "tenant_id", []any{email})
	return u.query(ctx, `
		select `+userColumns+`
		from users
		where email = $1 and `+filter+`
		order by id`, args...)
}

func (u userStore) List(ctx context.Context, scope auth.Scope) ([]*auth.User, error) {
	filter, args := tenantFilter(scope, "tenant_id", nil)
	return u.query(ctx, `
		select `+userColumns+`
		from users
		where `+filter+`
		order by email, id`, args...)
}

func (u userStore) query(ctx context.Context, query string, args ...any) ([]*auth.User, error) {
	rows, err := u.s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*auth.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := u.loadRoles(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (u userStore) loadRoles(ctx context.Context, users []*auth.User) error {
	if len(users) == 0 {
		return nil
	}
	byID := make(map[string]*auth.User, len(users))
	userIDs := make([]string, 0, len(users))
	for _, user := range users {
		byID[user.ID] = user
		userIDs = append(userIDs, user.ID)
	}
	marks, args := placeholders(nil, userIDs)
	rows, err := u.s.q.QueryContext(ctx, `
		select ur.user_id, r.name
		from user_roles ur
		join roles r on r.id = ur.role_id
		where ur.user_id in (`+marks+`)
		order by r.name`, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var userID, name string
		if err := rows.Scan(&userID, &name); err != nil {
			return err
		}
		if user := byID[userID]; user != nil {
			user.Roles = append(user.Roles, name)
		}
	}
	return rows.Err()
}

func (u userStore) Update(ctx context.Context, scope auth.Scope, user *auth.User) error {
	filter, args := tenantFilter(scope, "tenant_id", []any{
		user.DisplayName, user.PasswordHash, user.LockoutEnabled, nullTime(user.LockoutUntil), user.UpdatedAt.UTC(), user.ID,
	})
	res, err := u.s.q.ExecContext(ctx, `
		update users
		set display_name = $1, password_hash = $2, lockout_enabled = $3, lockout_until = $4, updated_at = $5
		where id = $6 and `+filter, args...)
	if err != nil {
		return mapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// SetRoles replaces the user's role assignments. A role must be global or
// owned by the user's tenant.
func (u userStore) SetRoles(ctx context.Context, scope auth.Scope, userID string, roleIDs []string) error {
	return u.s.inTx(ctx, func(tx *Store) error {
		filter, args := tenantFilter(scope, "tenant_id", []any{userID})
		user, err := scanUser(tx.q.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1 and `+filter, args...))
		if err != nil {
			return err
		}
		if _, err := tx.q.ExecContext(ctx, `delete from user_roles where user_id = $1`, user.ID); err != nil {
			return err
		}
		for _, roleID := range roleIDs {
			res, err := tx.q.ExecContext(ctx, `
				insert into user_roles (user_id, role_id)
				select $1, id from roles where id = $2 and (tenant_id is null or tenant_id = $3)
			`, user.ID, roleID, user.TenantID)
			if err != nil {
				return mapError(err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return auth.ErrNotFound
			}
		}
		return nil
	})
}
