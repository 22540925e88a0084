package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testKey = "0123456789abcdef0123456789abcdef"

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadDefaultsWithKeyFromEnv(t *testing.T) {
	t.Setenv("LIDAR_AUTH_SIGNING_KEY", testKey)

	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Driver != "memory" {
		t.Fatalf("expected memory driver, got %q", cfg.Database.Driver)
	}
	if cfg.RefreshTTL() != 30*24*time.Hour {
		t.Fatalf("refresh ttl = %s", cfg.RefreshTTL())
	}
	if cfg.CookieTTL() != 14*24*time.Hour {
		t.Fatalf("cookie ttl = %s", cfg.CookieTTL())
	}
	if cfg.AccessTTL() != time.Hour {
		t.Fatalf("access ttl = %s", cfg.AccessTTL())
	}
	if !cfg.Auth.HashRefreshTokens {
		t.Fatal("expected hashed refresh tokens by default")
	}
}

func TestLoadYAMLThenEnvOverrides(t *testing.T) {
	path := writeFile(t, "lidar.yaml", `
server:
  http_addr: ":18080"
database:
  driver: sqlite3
  dsn: "file:test.db"
auth:
  signing_key: "`+testKey+`"
  refresh_token_days: 7
  rotation_miss: reject
`)
	t.Setenv("LIDAR_SERVER_HTTP_ADDR", ":28080")

	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.HTTPAddr != ":28080" {
		t.Fatalf("env should override yaml, got %q", cfg.Server.HTTPAddr)
	}
	if cfg.Database.Driver != "sqlite3" || cfg.Auth.RefreshTokenDays != 7 {
		t.Fatalf("yaml not applied: %+v", cfg)
	}
	if cfg.Auth.RefreshCookieDays != 14 {
		t.Fatalf("cookie lifetime should keep its default, got %d", cfg.Auth.RefreshCookieDays)
	}
	if got := len(cfg.IssuerOptions()); got == 0 {
		t.Fatal("expected issuer options")
	}
}

func TestLoadEnvFile(t *testing.T) {
	env := writeFile(t, ".env", "LIDAR_AUTH_SIGNING_KEY="+testKey+"\nLIDAR_AUTH_CASCADE_ON_REUSE=true\n")
	t.Setenv("LIDAR_AUTH_SIGNING_KEY", "")
	os.Unsetenv("LIDAR_AUTH_SIGNING_KEY")
	t.Cleanup(func() { os.Unsetenv("LIDAR_AUTH_CASCADE_ON_REUSE") })

	cfg, err := Load("", env)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Auth.SigningKey != testKey || !cfg.Auth.CascadeOnReuse {
		t.Fatalf("env file not applied: %+v", cfg.Auth)
	}
}

func TestLoadMissingEnvFileIsIgnored(t *testing.T) {
	t.Setenv("LIDAR_AUTH_SIGNING_KEY", testKey)
	if _, err := Load("", filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("load: %v", err)
	}
}

func TestLoadRejectsBadEnvValue(t *testing.T) {
	t.Setenv("LIDAR_AUTH_SIGNING_KEY", testKey)
	t.Setenv("LIDAR_AUTH_REFRESH_TOKEN_DAYS", "thirty")
	_, err := Load("", "")
	if err == nil || !strings.Contains(err.Error(), "LIDAR_AUTH_REFRESH_TOKEN_DAYS") {
		t.Fatalf("expected parse error naming the variable, got %v", err)
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Auth.SigningKey = "short"
	cfg.Auth.RefreshTokenDays = 0
	cfg.Auth.LeewaySeconds = 300
	cfg.Auth.RotationMiss = "ignore"
	cfg.Database.Driver = "mysql"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"signing_key", "refresh_token_days", "leeway_seconds", "rotation_miss", "database.driver"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestValidateRequiresDSNForSQLDrivers(t *testing.T) {
	cfg := Default()
	cfg.Auth.SigningKey = testKey
	cfg.Database.Driver = "pgx"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "dsn") {
		t.Fatalf("expected dsn error, got %v", err)
	}
}
