// Package config loads service configuration from YAML, an optional .env
// file and LIDAR_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"lidar.app/internal/auth"
)

// Config is the root configuration structure.
// Loading order: defaults, YAML file, .env, environment variables.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Redis     RedisConfig     `yaml:"redis"`
	AMQP      AMQPConfig      `yaml:"amqp"`
}

// ServerConfig contains HTTP and gRPC listener settings.
type ServerConfig struct {
	HTTPAddr       string   `yaml:"http_addr"`
	GRPCAddr       string   `yaml:"grpc_addr"`
	ReadTimeout    int      `yaml:"read_timeout"`
	WriteTimeout   int      `yaml:"write_timeout"`
	IdleTimeout    int      `yaml:"idle_timeout"`
	MaxBodyBytes   int64    `yaml:"max_body_bytes"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig selects the store. Driver is "memory", "pgx" or "sqlite3".
type DatabaseConfig struct {
	Driver          string `yaml:"driver"`
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime"`
	AutoMigrate     bool   `yaml:"auto_migrate"`
}

// AuthConfig contains token settings. Lifetimes are in the unit named by the key.
type AuthConfig struct {
	SigningKey         string `yaml:"signing_key"`
	Issuer             string `yaml:"issuer"`
	Audience           string `yaml:"audience"`
	AccessTokenMinutes int    `yaml:"access_token_minutes"`
	RefreshTokenDays   int    `yaml:"refresh_token_days"`
	RefreshCookieDays  int    `yaml:"refresh_cookie_days"`
	CookieName         string `yaml:"cookie_name"`
	CookieSecure       bool   `yaml:"cookie_secure"`
	RotationMiss       string `yaml:"rotation_miss"`
	CascadeOnReuse     bool   `yaml:"cascade_on_reuse"`
	HashRefreshTokens  bool   `yaml:"hash_refresh_tokens"`
	TokenPepper        string `yaml:"token_pepper"`
	LeewaySeconds      int    `yaml:"leeway_seconds"`
}

// BootstrapConfig seeds an optional system administrator at startup.
type BootstrapConfig struct {
	AdminEmail    string `yaml:"admin_email"`
	AdminPassword string `yaml:"admin_password"`
	AdminName     string `yaml:"admin_name"`
}

// RateLimitConfig limits requests per client IP.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// RedisConfig enables a shared rate limiter when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AMQPConfig enables publishing audit records when URL is set.
type AMQPConfig struct {
	URL   string `yaml:"url"`
	Queue string `yaml:"queue"`
}

// Load reads path (optional) and envFile (optional), applies environment
// overrides and validates the result.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if envFile != "" {
		// Existing environment variables win over the file.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("loading env file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config with defaults for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:     ":8080",
			GRPCAddr:     ":9090",
			ReadTimeout:  15,
			WriteTimeout: 15,
			IdleTimeout:  60,
			MaxBodyBytes: 1 << 20,
		},
		Database: DatabaseConfig{
			Driver:          "memory",
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: 900,
			AutoMigrate:     true,
		},
		Auth: AuthConfig{
			Issuer:             "lidar",
			Audience:           "lidar-api",
			AccessTokenMinutes: 60,
			RefreshTokenDays:   30,
			RefreshCookieDays:  14,
			CookieName:         "refresh_token",
			CookieSecure:       true,
			RotationMiss:       "issue",
			HashRefreshTokens:  true,
			LeewaySeconds:      60,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 120,
			Burst:             20,
		},
		AMQP: AMQPConfig{Queue: "lidar.audit"},
	}
}

type envBinding struct {
	key   string
	apply func(string) error
}

func str(dst *string) func(string) error {
	return func(v string) error { *dst = v; return nil }
}

func integer(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func boolean(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
}

// applyEnvOverrides applies LIDAR_SECTION_KEY environment variables.
func applyEnvOverrides(cfg *Config) error {
	bindings := []envBinding{
		{"LIDAR_SERVER_HTTP_ADDR", str(&cfg.Server.HTTPAddr)},
		{"LIDAR_SERVER_GRPC_ADDR", str(&cfg.Server.GRPCAddr)},
		{"LIDAR_DATABASE_DRIVER", str(&cfg.Database.Driver)},
		{"LIDAR_DATABASE_DSN", str(&cfg.Database.DSN)},
		{"LIDAR_DATABASE_AUTO_MIGRATE", boolean(&cfg.Database.AutoMigrate)},
		{"LIDAR_AUTH_SIGNING_KEY", str(&cfg.Auth.SigningKey)},
		{"LIDAR_AUTH_ISSUER", str(&cfg.Auth.Issuer)},
		{"LIDAR_AUTH_AUDIENCE", str(&cfg.Auth.Audience)},
		{"LIDAR_AUTH_ACCESS_TOKEN_MINUTES", integer(&cfg.Auth.AccessTokenMinutes)},
		{"LIDAR_AUTH_REFRESH_TOKEN_DAYS", integer(&cfg.Auth.RefreshTokenDays)},
		{"LIDAR_AUTH_REFRESH_COOKIE_DAYS", integer(&cfg.Auth.RefreshCookieDays)},
		{"LIDAR_AUTH_COOKIE_SECURE", boolean(&cfg.Auth.CookieSecure)},
		{"LIDAR_AUTH_ROTATION_MISS", str(&cfg.Auth.RotationMiss)},
		{"LIDAR_AUTH_CASCADE_ON_REUSE", boolean(&cfg.Auth.CascadeOnReuse)},
		{"LIDAR_AUTH_HASH_REFRESH_TOKENS", boolean(&cfg.Auth.HashRefreshTokens)},
		{"LIDAR_AUTH_TOKEN_PEPPER", str(&cfg.Auth.TokenPepper)},
		{"LIDAR_BOOTSTRAP_ADMIN_EMAIL", str(&cfg.Bootstrap.AdminEmail)},
		{"LIDAR_BOOTSTRAP_ADMIN_PASSWORD", str(&cfg.Bootstrap.AdminPassword)},
		{"LIDAR_RATE_LIMIT_ENABLED", boolean(&cfg.RateLimit.Enabled)},
		{"LIDAR_RATE_LIMIT_REQUESTS_PER_MINUTE", integer(&cfg.RateLimit.RequestsPerMinute)},
		{"LIDAR_REDIS_ADDR", str(&cfg.Redis.Addr)},
		{"LIDAR_REDIS_PASSWORD", str(&cfg.Redis.Password)},
		{"LIDAR_AMQP_URL", str(&cfg.AMQP.URL)},
		{"LIDAR_AMQP_QUEUE", str(&cfg.AMQP.Queue)},
	}
	for _, b := range bindings {
		v, ok := os.LookupEnv(b.key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if err := b.apply(strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("parsing %s: %w", b.key, err)
		}
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	switch c.Database.Driver {
	case "memory":
	case "pgx", "sqlite3":
		if c.Database.DSN == "" {
			errs = append(errs, "database.dsn is required for driver "+c.Database.Driver)
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported (memory, pgx, sqlite3)", c.Database.Driver))
	}

	if c.Auth.SigningKey == "" {
		errs = append(errs, "auth.signing_key is required (set LIDAR_AUTH_SIGNING_KEY)")
	} else if len(c.Auth.SigningKey) < auth.MinSigningKeyLength {
		errs = append(errs, fmt.Sprintf("auth.signing_key must be at least %d characters", auth.MinSigningKeyLength))
	}
	if c.Auth.AccessTokenMinutes <= 0 {
		errs = append(errs, "auth.access_token_minutes must be positive")
	}
	if c.Auth.RefreshTokenDays <= 0 {
		errs = append(errs, "auth.refresh_token_days must be positive")
	}
	if c.Auth.RefreshCookieDays <= 0 {
		errs = append(errs, "auth.refresh_cookie_days must be positive")
	}
	if c.Auth.LeewaySeconds < 0 || c.Auth.LeewaySeconds > 60 {
		errs = append(errs, "auth.leeway_seconds must be between 0 and 60")
	}
	if _, err := auth.ParseRotationMissPolicy(c.Auth.RotationMiss); err != nil {
		errs = append(errs, "auth.rotation_miss must be issue or reject")
	}
	if c.Auth.CookieName == "" {
		errs = append(errs, "auth.cookie_name is required")
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, "rate_limit.requests_per_minute must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// IssuerOptions translates the auth section into issuer options.
func (c *Config) IssuerOptions() []auth.IssuerOption {
	policy, _ := auth.ParseRotationMissPolicy(c.Auth.RotationMiss)
	opts := []auth.IssuerOption{
		auth.WithIssuer(c.Auth.Issuer),
		auth.WithAudience(c.Auth.Audience),
		auth.WithAccessTTL(c.AccessTTL()),
		auth.WithRefreshTTL(c.RefreshTTL()),
		auth.WithLeeway(time.Duration(c.Auth.LeewaySeconds) * time.Second),
		auth.WithRotationMissPolicy(policy),
		auth.WithCascadeOnReuse(c.Auth.CascadeOnReuse),
	}
	if c.Auth.HashRefreshTokens {
		opts = append(opts, auth.WithHashedTokens(c.Auth.TokenPepper))
	} else {
		opts = append(opts, auth.WithPlaintextTokens())
	}
	return opts
}

// AccessTTL returns the access token lifetime.
func (c *Config) AccessTTL() time.Duration {
	return time.Duration(c.Auth.AccessTokenMinutes) * time.Minute
}

// RefreshTTL returns the persisted refresh token lifetime.
func (c *Config) RefreshTTL() time.Duration {
	return time.Duration(c.Auth.RefreshTokenDays) * 24 * time.Hour
}

// CookieTTL returns the refresh cookie lifetime.
func (c *Config) CookieTTL() time.Duration {
	return time.Duration(c.Auth.RefreshCookieDays) * 24 * time.Hour
}

// ReadTimeout returns the HTTP read timeout.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Server.ReadTimeout) * time.Second
}

// WriteTimeout returns the HTTP write timeout.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Server.WriteTimeout) * time.Second
}

// IdleTimeout returns the HTTP idle timeout.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Server.IdleTimeout) * time.Second
}

// ConnMaxLifetime returns the database connection lifetime.
func (c *Config) ConnMaxLifetime() time.Duration {
	return time.Duration(c.Database.ConnMaxLifetime) * time.Second
}
