package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"lidar.app/internal/app"
	"lidar.app/internal/config"
	"lidar.app/internal/migrate"
	"lidar.app/internal/store/sqlstore"
)

func main() {
	log.SetFlags(0)
	var (
		driver  = flag.String("driver", envOr("LIDAR_DATABASE_DRIVER", "pgx"), "database/sql driver: pgx or sqlite3")
		dsn     = flag.String("dsn", os.Getenv("LIDAR_DATABASE_DSN"), "Database DSN")
		cfgPath = flag.String("config", os.Getenv("LIDAR_CONFIG"), "YAML config, used by bootstrap")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or LIDAR_DATABASE_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status|bootstrap]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if flag.Arg(0) == "bootstrap" {
		if err := bootstrap(ctx, *cfgPath, *driver, *dsn); err != nil {
			log.Fatalf("migrate bootstrap: %v", err)
		}
		fmt.Println("bootstrap complete")
		return
	}

	db, err := sqlstore.Open(*driver, *dsn, sqlstore.PoolConfig{MaxOpenConns: 1})
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	mgr, err := app.NewMigrator(db)
	if err != nil {
		log.Fatalf("migrations: %v", err)
	}

	switch flag.Arg(0) {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		for _, name := range applied {
			fmt.Println("applied", name)
		}
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var all []migrate.Migration
		all, err = mgr.Status(ctx)
		for _, mig := range all {
			if mig.Applied {
				fmt.Printf("applied  %s  %s\n", mig.Name, mig.AppliedAt.UTC().Format(time.RFC3339))
			} else {
				fmt.Printf("pending  %s\n", mig.Name)
			}
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}

// bootstrap migrates, seeds and ensures the system tenant, global roles and
// the configured system administrator.
func bootstrap(ctx context.Context, cfgPath, driver, dsn string) error {
	cfg, err := config.Load(cfgPath, ".env")
	if err != nil {
		return err
	}
	cfg.Database.Driver = driver
	cfg.Database.DSN = dsn
	cfg.Database.AutoMigrate = true
	cfg.RateLimit.Enabled = false
	cfg.AMQP.URL = ""
	if err := cfg.Validate(); err != nil {
		return err
	}
	a, err := app.Build(ctx, cfg, app.BuildInfo{})
	if err != nil {
		return err
	}
	return a.Close()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
