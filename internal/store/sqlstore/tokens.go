package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"lidar.app/internal/auth"
)

const tokenColumns = `id, token, user_id, created_at, expires_at, revoked_at, replaced_by_token`

type tokenStore struct{ s *Store }

func scanToken(row rowScanner) (*auth.RefreshToken, error) {
	var (
		t        auth.RefreshToken
		revoked  sql.NullTime
		replaced sql.NullString
	)
	if err := row.Scan(&t.ID, &t.Token, &t.UserID, &t.CreatedAt, &t.ExpiresAt, &revoked, &replaced); err != nil {
		return nil, mapError(err)
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.ExpiresAt = t.ExpiresAt.UTC()
	t.RevokedAt = timePtr(revoked)
	t.ReplacedByToken = stringPtr(replaced)
	return &t, nil
}

func (t tokenStore) Create(ctx context.Context, token *auth.RefreshToken) error {
	return insertToken(ctx, t.s.q, token)
}

func insertToken(ctx context.Context, q querier, token *auth.RefreshToken) error {
	_, err := q.ExecContext(ctx, `
		insert into refresh_tokens (id, token, user_id, created_at, expires_at, revoked_at, replaced_by_token)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, token.ID, token.Token, token.UserID, token.CreatedAt.UTC(), token.ExpiresAt.UTC(),
		nullTime(token.RevokedAt), nullString(token.ReplacedByToken))
	return mapError(err)
}

func (t tokenStore) Find(ctx context.Context, token string) (*auth.RefreshToken, error) {
	return scanToken(t.s.q.QueryRowContext(ctx, `select `+tokenColumns+` from refresh_tokens where token = $1`, token))
}

// Rotate revokes prevToken only while it is still unrevoked. Of two
// concurrent rotations of the same token exactly one updates a row; the other
// gets ErrTokenReplay and its transaction inserts nothing.
func (t tokenStore) Rotate(ctx context.Context, prevToken string, at time.Time, next *auth.RefreshToken) error {
	return t.s.inTx(ctx, func(tx *Store) error {
		res, err := tx.q.ExecContext(ctx, `
			update refresh_tokens
			set revoked_at = $1, replaced_by_token = $2
			where token = $3 and revoked_at is null
		`, at.UTC(), next.Token, prevToken)
		if err != nil {
			return mapError(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var exists int
			err := tx.q.QueryRowContext(ctx, `select 1 from refresh_tokens where token = $1`, prevToken).Scan(&exists)
			if err != nil {
				return mapError(err)
			}
			return auth.ErrTokenReplay
		}
		return insertToken(ctx, tx.q, next)
	})
}

func (t tokenStore) Revoke(ctx context.Context, token string, at time.Time) (bool, error) {
	res, err := t.s.q.ExecContext(ctx, `
		update refresh_tokens set revoked_at = $1
		where token = $2 and revoked_at is null
	`, at.UTC(), token)
	if err != nil {
		return false, mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RevokeChain walks replaced_by_token links from token and revokes every
// entry that is still active.
func (t tokenStore) RevokeChain(ctx context.Context, token string, at time.Time) (int, error) {
	revoked := 0
	err := t.s.inTx(ctx, func(tx *Store) error {
		seen := map[string]bool{}
		for key := token; key != "" && !seen[key]; {
			seen[key] = true
			var (
				revokedAt sql.NullTime
				next      sql.NullString
			)
			err := tx.q.QueryRowContext(ctx, `
				select revoked_at, replaced_by_token from refresh_tokens where token = $1
			`, key).Scan(&revokedAt, &next)
			if err == sql.ErrNoRows {
				return nil
			}
			if err != nil {
				return err
			}
			if !revokedAt.Valid {
				if _, err := tx.q.ExecContext(ctx, `
					update refresh_tokens set revoked_at = $1
					where token = $2 and revoked_at is null
				`, at.UTC(), key); err != nil {
					return err
				}
				revoked++
			}
			key = next.String
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return revoked, nil
}

func (t tokenStore) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int, error) {
	res, err := t.s.q.ExecContext(ctx, `
		update refresh_tokens set revoked_at = $1
		where user_id = $2 and revoked_at is null
	`, at.UTC(), userID)
	if err != nil {
		return 0, mapError(err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
