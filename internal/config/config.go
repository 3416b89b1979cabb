// Package config loads the service configuration from the environment.
//
// Every component gets its own struct with named fields; defaults are applied
// by Load and the whole tree is checked once by Validate before anything starts.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

type Config struct {
	Env         string
	Port        string
	FrontendURL string
	SentryDSN   string
	CronSecret  string

	Token       TokenConfig
	Lockout     LockoutConfig
	RateLimit   RateLimitConfig
	Session     SessionConfig
	Cookie      CookieConfig
	OAuth       OAuthConfig
	Database    DatabaseConfig
	Maintenance MaintenanceConfig
	Admin       AdminConfig
	Mail        MailConfig

	TrustedProxies []string
	CloudinaryURL  string
}

// TokenConfig configures the signed token codec.
type TokenConfig struct {
	Secret     string
	Issuer     string        // default "tournament-api"
	Audience   string        // default "tournament-app"
	AccessTTL  time.Duration // default 15m
	RefreshTTL time.Duration // default 7d
}

// LockoutConfig configures brute-force account locking.
type LockoutConfig struct {
	MaxAttempts  int           // default 5
	LockDuration time.Duration // default 15m
}

type RateLimitConfig struct {
	Enabled               bool // default true
	RequestsPerMinute     int  // default 60
	AuthRequestsPerMinute int  // default 10
}

type SessionConfig struct {
	RevokedRetention time.Duration // default 30 days
}

type CookieConfig struct {
	Secure   bool
	Domain   string
	SameSite string // Lax, Strict or None
}

type OAuthConfig struct {
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
}

func (c OAuthConfig) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}

type DatabaseConfig struct {
	Driver          string // postgres or memory
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	RunMigrations   bool
}

type MaintenanceConfig struct {
	SweepInterval time.Duration // default 1h
	BatchSize     int
}

type AdminConfig struct {
	Email    string
	Password string
}

// MailConfig selects the outgoing mail transport. With no SMTP host the
// service logs messages instead of sending them.
type MailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	From         string
	Workers      int
	QueueSize    int
}

func (c MailConfig) SMTPEnabled() bool {
	return c.SMTPHost != ""
}

type LoadOptions struct {
	LoadDotEnv bool
}

func Load(options LoadOptions) Config {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	return Config{
		Env:         envOrDefault("APP_ENV", "development"),
		Port:        envOrDefault("PORT", "8080"),
		FrontendURL: strings.TrimRight(envOrDefault("FRONTEND_URL", "http://localhost:5173"), "/"),
		SentryDSN:   envOrDefault("SENTRY_DSN", ""),
		CronSecret:  envOrDefault("CRON_SECRET", ""),
		Token: TokenConfig{
			Secret:     envOrDefault("JWT_SECRET", ""),
			Issuer:     envOrDefault("JWT_ISSUER", "tournament-api"),
			Audience:   envOrDefault("JWT_AUDIENCE", "tournament-app"),
			AccessTTL:  envMinutesOrDefault("ACCESS_TOKEN_TTL_MINUTES", 15),
			RefreshTTL: envHoursOrDefault("REFRESH_TOKEN_TTL_HOURS", 168),
		},
		Lockout: LockoutConfig{
			MaxAttempts:  envIntOrDefault("LOGIN_MAX_ATTEMPTS", 5),
			LockDuration: envMinutesOrDefault("LOGIN_LOCK_MINUTES", 15),
		},
		RateLimit: RateLimitConfig{
			Enabled:               EnvBoolOrDefault("RATE_LIMIT_ENABLED", true),
			RequestsPerMinute:     envIntOrDefault("RATE_LIMIT_REQUESTS_PER_MINUTE", 60),
			AuthRequestsPerMinute: envIntOrDefault("RATE_LIMIT_AUTH_REQUESTS_PER_MINUTE", 10),
		},
		Session: SessionConfig{
			RevokedRetention: envDaysOrDefault("SESSION_REVOKED_RETENTION_DAYS", 30),
		},
		Cookie: CookieConfig{
			Secure:   EnvBoolOrDefault("COOKIE_SECURE", false),
			Domain:   envOrDefault("COOKIE_DOMAIN", ""),
			SameSite: envOrDefault("COOKIE_SAME_SITE", "Lax"),
		},
		OAuth: OAuthConfig{
			GoogleClientID:     envOrDefault("GOOGLE_CLIENT_ID", ""),
			GoogleClientSecret: envOrDefault("GOOGLE_CLIENT_SECRET", ""),
			GoogleRedirectURL:  envOrDefault("GOOGLE_REDIRECT_URL", ""),
		},
		Database: DatabaseConfig{
			Driver:          strings.ToLower(envOrDefault("STORAGE_DRIVER", StoragePostgres)),
			URL:             envOrDefault("DATABASE_URL", ""),
			MaxOpenConns:    envIntOrDefault("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    envIntOrDefault("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30),
			ConnMaxIdleTime: envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10),
			RunMigrations:   EnvBoolOrDefault("RUN_MIGRATIONS_ON_STARTUP", true),
		},
		Maintenance: MaintenanceConfig{
			SweepInterval: envMinutesOrDefault("SWEEP_INTERVAL_MINUTES", 60),
			BatchSize:     envIntOrDefault("AUTH_CLEANUP_BATCH_SIZE", 500),
		},
		Admin: AdminConfig{
			Email:    envOrDefault("ADMIN_EMAIL", ""),
			Password: envOrDefault("ADMIN_PASSWORD", ""),
		},
		Mail: MailConfig{
			SMTPHost:     envOrDefault("SMTP_HOST", ""),
			SMTPPort:     envIntOrDefault("SMTP_PORT", 587),
			SMTPUsername: envOrDefault("SMTP_USERNAME", ""),
			SMTPPassword: envOrDefault("SMTP_PASSWORD", ""),
			From:         envOrDefault("SMTP_FROM", "no-reply@tournament.local"),
			Workers:      envIntOrDefault("MAIL_WORKERS", 2),
			QueueSize:    envIntOrDefault("MAIL_QUEUE_SIZE", 100),
		},
		TrustedProxies: envList("TRUSTED_PROXIES", []string{"127.0.0.1", "::1"}),
		CloudinaryURL:  envOrDefault("CLOUDINARY_URL", ""),
	}
}

// Validate reports every misconfiguration at once. The signing key itself is
// checked again by the token codec, which refuses to start on a weak key.
func (c Config) Validate() error {
	var errs []error

	if c.Token.Secret == "" {
		errs = append(errs, errors.New("missing required env: JWT_SECRET"))
	}
	if c.Token.AccessTTL >= c.Token.RefreshTTL {
		errs = append(errs, errors.New("ACCESS_TOKEN_TTL_MINUTES must be shorter than REFRESH_TOKEN_TTL_HOURS"))
	}
	switch c.Database.Driver {
	case StoragePostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("missing required env: DATABASE_URL"))
		}
	case StorageMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_DRIVER %q", c.Database.Driver))
	}
	switch strings.ToLower(c.Cookie.SameSite) {
	case "lax", "strict":
	case "none":
		if !c.Cookie.Secure {
			errs = append(errs, errors.New("COOKIE_SAME_SITE=None requires COOKIE_SECURE=true"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid COOKIE_SAME_SITE %q", c.Cookie.SameSite))
	}
	if c.Mail.SMTPEnabled() && c.Mail.From == "" {
		errs = append(errs, errors.New("SMTP_FROM is required when SMTP_HOST is set"))
	}
	if (c.Admin.Email == "") != (c.Admin.Password == "") {
		errs = append(errs, errors.New("ADMIN_EMAIL and ADMIN_PASSWORD are required together"))
	}

	return errors.Join(errs...)
}
