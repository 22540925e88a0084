// Package sqlstore implements auth.Store on database/sql. The same queries
// run on PostgreSQL (pgx) and SQLite (go-sqlite3): placeholders are numbered
// in order of appearance and timestamps are always supplied by the caller.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"

	"lidar.app/internal/auth"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// PoolConfig tunes the connection pool. Zero values keep the defaults.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a database-backed auth.Store.
type Store struct {
	db     *sql.DB
	q      querier
	inTxn  bool
	driver string
}

var _ auth.Store = (*Store)(nil)

// Open connects using driver "pgx" or "sqlite3".
func Open(driver, dsn string, pool PoolConfig) (*Store, error) {
	switch driver {
	case "pgx", "sqlite3":
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite3" {
		// SQLite allows one writer; a single connection avoids busy errors.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(orDefault(pool.MaxOpenConns, 50))
		db.SetMaxIdleConns(orDefault(pool.MaxIdleConns, 25))
		db.SetConnMaxLifetime(orDefaultDuration(pool.ConnMaxLifetime, 15*time.Minute))
		db.SetConnMaxIdleTime(orDefaultDuration(pool.ConnMaxIdleTime, 5*time.Minute))
	}
	return New(db, driver), nil
}

// New wraps an existing handle.
func New(db *sql.DB, driver string) *Store {
	return &Store{db: db, q: db, driver: driver}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Driver returns the database/sql driver name.
func (s *Store) Driver() string { return s.driver }

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Tenants(context.Context) auth.TenantStore { return tenantStore{s} }

func (s *Store) Users(context.Context) auth.UserStore { return userStore{s} }

func (s *Store) Roles(context.Context) auth.RoleStore { return roleStore{s} }

func (s *Store) Audit(context.Context) auth.AuditStore { return auditStore{s} }

func (s *Store) RefreshTokens(context.Context) auth.RefreshTokenStore { return tokenStore{s} }

// WithTx runs fn inside one transaction. Calls nested in an open transaction
// join it.
func (s *Store) WithTx(ctx context.Context, fn func(auth.Store) error) error {
	return s.inTx(ctx, func(tx *Store) error { return fn(tx) })
}

func (s *Store) inTx(ctx context.Context, fn func(*Store) error) error {
	if s.inTxn {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(&Store{db: s.db, q: tx, inTxn: true, driver: s.driver}); err != nil {
		return err
	}
	return mapError(tx.Commit())
}

// mapError translates constraint violations into auth sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return auth.ErrConflict
		case pgErrForeignKeyViolation:
			return auth.ErrNotFound
		}
		return err
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return auth.ErrConflict
		case sqlite3.ErrConstraintForeignKey:
			return auth.ErrNotFound
		}
	}
	return err
}

// tenantFilter renders the tenant predicate on column as the next placeholder
// after args. The empty scope renders a predicate that matches nothing.
func tenantFilter(scope auth.Scope, column string, args []any) (string, []any) {
	switch {
	case scope.IsSystem():
		return "1=1", args
	case scope.Empty():
		return "1=0", args
	default:
		args = append(args, scope.TenantID())
		return fmt.Sprintf("%s = $%d", column, len(args)), args
	}
}

// roleFilter is tenantFilter for roles, which are also visible when global.
func roleFilter(scope auth.Scope, column string, args []any) (string, []any) {
	switch {
	case scope.IsSystem():
		return "1=1", args
	case scope.Empty():
		return "1=0", args
	default:
		args = append(args, scope.TenantID())
		return fmt.Sprintf("(%s is null or %s = $%d)", column, column, len(args)), args
	}
}

// placeholders returns "$n, $n+1, ..." for values appended after args.
func placeholders(args []any, values []string) (string, []any) {
	marks := make([]string, 0, len(values))
	for _, v := range values {
		args = append(args, v)
		marks = append(marks, fmt.Sprintf("$%d", len(args)))
	}
	return strings.Join(marks, ", "), args
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullTime(p *time.Time) sql.NullTime {
	if p == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: p.UTC(), Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time.UTC()
	return &v
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func orDefaultDuration(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}

var nowUTC = func() time.Time { return time.Now().UTC() }

type rowScanner interface {
	Scan(dest ...any) error
}
