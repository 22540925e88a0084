// Package app assembles the service from configuration: store, migrations,
// token issuer, audit sinks, rate limiter and the HTTP and gRPC servers.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"lidar.app/internal/audit"
	"lidar.app/internal/auth"
	"lidar.app/internal/config"
	"lidar.app/internal/httpapi"
	"lidar.app/internal/migrate"
	"lidar.app/internal/obs"
	"lidar.app/internal/store/memory"
	"lidar.app/internal/store/sqlstore"
	"lidar.app/internal/stream"
	"lidar.app/migrations"
)

// App holds the wired components.
type App struct {
	Config  *config.Config
	Store   auth.Store
	Service *auth.Service
	Stream  *stream.Stream
	API     *httpapi.API
	GRPC    *grpc.Server

	closers []func() error
}

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version string
	Commit  string
}

// Build wires every component described by cfg. On error, anything already
// opened is closed.
func Build(ctx context.Context, cfg *config.Config, info BuildInfo) (_ *App, err error) {
	a := &App{Config: cfg, Stream: stream.New()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	var probe httpapi.ReadyProbe
	switch cfg.Database.Driver {
	case "memory":
		a.Store = memory.New()
	default:
		db, err := OpenSQL(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		a.Store = db
		probe.DB = db
	}

	issuer, err := auth.NewIssuer(a.Store.RefreshTokens(ctx), cfg.Auth.SigningKey, cfg.IssuerOptions()...)
	if err != nil {
		return nil, fmt.Errorf("issuer: %w", err)
	}

	sinks := audit.Multi{
		audit.StoreSink{Store: a.Store},
		audit.StreamSink{Stream: a.Stream},
		audit.LogSink{},
	}
	if cfg.AMQP.URL != "" {
		sink, err := audit.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Queue)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, sink.Close)
		sinks = append(sinks, sink)
	}

	a.Service, err = auth.NewService(a.Store, issuer, auth.WithAuditRecorder(sinks))
	if err != nil {
		return nil, err
	}
	if err := a.Service.Bootstrap(ctx, auth.BootstrapOptions{
		AdminEmail:       cfg.Bootstrap.AdminEmail,
		AdminPassword:    cfg.Bootstrap.AdminPassword,
		AdminDisplayName: cfg.Bootstrap.AdminName,
	}); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	limiter, err := a.limiter(ctx)
	if err != nil {
		return nil, err
	}

	a.API = httpapi.New(a.Service, probe, httpapi.Options{
		Version: info.Version,
		Commit:  info.Commit,
		Stream:  a.Stream,
		Limiter: limiter,
		Cookie: httpapi.CookieConfig{
			Name:   cfg.Auth.CookieName,
			TTL:    cfg.CookieTTL(),
			Secure: cfg.Auth.CookieSecure,
		},
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
	})
	a.GRPC = httpapi.NewGRPC(a.Service, probe, info.Version)
	return a, nil
}

// OpenSQL opens the configured database and, when enabled, applies
// migrations and seeds.
func OpenSQL(ctx context.Context, cfg *config.Config) (*sqlstore.Store, error) {
	db, err := sqlstore.Open(cfg.Database.Driver, cfg.Database.DSN, sqlstore.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime(),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if !cfg.Database.AutoMigrate {
		return db, nil
	}
	mgr, err := NewMigrator(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	applied, err := mgr.Up(ctx)
	if err == nil {
		err = mgr.Seed(ctx)
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	obs.Info("migrations_applied", map[string]any{"driver": db.Driver(), "count": len(applied)})
	return db, nil
}

// NewMigrator returns a migration manager for the store's dialect.
func NewMigrator(db *sqlstore.Store) (*migrate.Manager, error) {
	files, err := migrations.For(db.Driver())
	if err != nil {
		return nil, err
	}
	return migrate.NewManager(db.DB(), files, migrations.Seeds()), nil
}

func (a *App) limiter(ctx context.Context) (httpapi.Limiter, error) {
	rl := a.Config.RateLimit
	if !rl.Enabled {
		return nil, nil
	}
	if a.Config.Redis.Addr == "" {
		return httpapi.NewLocalLimiter(rl.RequestsPerMinute, rl.Burst), nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     a.Config.Redis.Addr,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	a.closers = append(a.closers, rdb.Close)
	return httpapi.NewRedisLimiter(rdb, rl.RequestsPerMinute, rl.Burst), nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
