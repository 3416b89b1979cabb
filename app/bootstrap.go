package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"tournament-api/internal/auth"
	"tournament-api/internal/config"
	"tournament-api/internal/db"
	"tournament-api/internal/mail"
	"tournament-api/internal/maintenance"
	"tournament-api/internal/media"
	"tournament-api/internal/oauth"
	"tournament-api/internal/observability"
)

type Options struct {
	LoadDotEnv bool
}

type Runtime struct {
	Config    config.Config
	Handler   http.Handler
	Scheduler *maintenance.Scheduler
	Close     func() error
}

func Build(options Options) (*Runtime, error) {
	cfg := config.Load(config.LoadOptions{LoadDotEnv: options.LoadDotEnv})
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return BuildWithConfig(context.Background(), cfg, observability.NewLogger())
}

// BuildWithConfig wires every component from an already validated config.
func BuildWithConfig(ctx context.Context, cfg config.Config, logger *observability.Logger) (*Runtime, error) {
	if err := observability.InitSentry(cfg.SentryDSN, cfg.Env); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	store, database, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	closers := []func() error{}
	if database != nil {
		closers = append(closers, database.Close)
	}
	fail := func(err error) (*Runtime, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, err
	}

	codec, err := auth.NewTokenCodec(auth.TokenConfig{
		Secret:     cfg.Token.Secret,
		Issuer:     cfg.Token.Issuer,
		Audience:   cfg.Token.Audience,
		AccessTTL:  cfg.Token.AccessTTL,
		RefreshTTL: cfg.Token.RefreshTTL,
	}, auth.SystemClock)
	if err != nil {
		return fail(fmt.Errorf("init token codec: %w", err))
	}
	hasher, err := auth.NewPasswordHasher(auth.DefaultArgon2Params())
	if err != nil {
		return fail(fmt.Errorf("init password hasher: %w", err))
	}
	guard := auth.NewLockGuard(auth.LockoutConfig{
		MaxAttempts:  cfg.Lockout.MaxAttempts,
		LockDuration: cfg.Lockout.LockDuration,
	}, auth.SystemClock)

	mailer := newMailer(cfg.Mail, logger)
	closers = append(closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return mailer.Close(shutdownCtx)
	})

	service := auth.NewService(store, codec, hasher, guard, mailer, logger, auth.ServiceConfig{
		FrontendURL:      cfg.FrontendURL,
		RevokedRetention: cfg.Session.RevokedRetention,
		Clock:            auth.SystemClock,
	})
	if cfg.Admin.Email != "" {
		if err := service.BootstrapAdmin(ctx, cfg.Admin.Email, cfg.Admin.Password); err != nil {
			return fail(fmt.Errorf("bootstrap admin: %w", err))
		}
	}

	limiter := auth.NewRateLimiter(auth.RateLimitConfig{
		Enabled:               cfg.RateLimit.Enabled,
		RequestsPerMinute:     cfg.RateLimit.RequestsPerMinute,
		AuthRequestsPerMinute: cfg.RateLimit.AuthRequestsPerMinute,
	}, auth.SystemClock)
	closers = append(closers, func() error {
		limiter.Close()
		return nil
	})

	ips := auth.NewIPResolver(cfg.TrustedProxies)
	cookies := auth.NewCookieWriter(auth.CookieConfig{
		Secure:   cfg.Cookie.Secure,
		Domain:   cfg.Cookie.Domain,
		SameSite: cfg.Cookie.SameSite,
	})
	authHandler := auth.NewHandler(service, cookies, ips, logger)
	cleanupHandler := maintenance.NewCleanupHandler(service, logger, cfg.CronSecret, cfg.Maintenance.BatchSize)
	scheduler := maintenance.NewScheduler(service, logger, cfg.Maintenance.SweepInterval, cfg.Maintenance.BatchSize)

	var uploader media.AvatarUploader
	if cfg.CloudinaryURL != "" {
		cloudinaryClient, err := media.NewCloudinary(cfg.CloudinaryURL)
		if err != nil {
			return fail(fmt.Errorf("init cloudinary: %w", err))
		}
		uploader = cloudinaryClient
	}
	avatarHandler := media.NewAvatarHandler(uploader, service, logger)

	authed := func(h http.HandlerFunc) http.Handler { return auth.Authenticate(codec, h) }
	adminOnly := func(h http.HandlerFunc) http.Handler {
		return auth.Authenticate(codec, auth.RequireRole(auth.RoleAdmin, h))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/v1/auth/login", authHandler.Login)
	mux.HandleFunc("POST /api/v1/auth/refresh", authHandler.Refresh)
	mux.HandleFunc("POST /api/v1/auth/logout", authHandler.Logout)
	mux.Handle("POST /api/v1/auth/logout-all", authed(authHandler.LogoutAll))
	mux.HandleFunc("POST /api/v1/auth/oauth2/exchange", authHandler.ExchangeOAuthCode)
	mux.HandleFunc("GET /api/v1/users/verify-email", authHandler.VerifyEmail)
	mux.HandleFunc("POST /api/v1/users/resend-verification", authHandler.ResendVerification)
	mux.HandleFunc("POST /api/v1/users/forgot-password", authHandler.ForgotPassword)
	mux.HandleFunc("POST /api/v1/users/reset-password", authHandler.ResetPassword)
	mux.Handle("GET /api/v1/users/me", authed(authHandler.Me))
	mux.Handle("POST /api/v1/users/me/change-password", authed(authHandler.ChangePassword))
	mux.Handle("POST /api/v1/users/me/avatar", authed(avatarHandler.Upload))
	mux.Handle("POST /api/v1/admin/users/{id}/logout-all", adminOnly(authHandler.AdminLogoutAll))
	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(database))

	if cfg.OAuth.GoogleEnabled() {
		google := oauth.NewGoogleProvider(oauth.GoogleConfig{
			ClientID:     cfg.OAuth.GoogleClientID,
			ClientSecret: cfg.OAuth.GoogleClientSecret,
			RedirectURL:  cfg.OAuth.GoogleRedirectURL,
		})
		oauthHandler := oauth.NewHandler(google, service, ips, logger, cfg.FrontendURL, cfg.Cookie.Secure)
		mux.HandleFunc("GET /api/v1/auth/oauth2/google", oauthHandler.Start)
		mux.HandleFunc("GET /api/v1/auth/oauth2/google/callback", oauthHandler.Callback)
	} else {
		logger.Info("oauth_google_disabled", nil)
	}

	handler := observability.RecoverMiddleware(logger,
		observability.RequestLoggingMiddleware(logger, ips.ClientIP,
			limiter.Middleware(ips.ClientIP, mux)))

	return &Runtime{
		Config:    cfg,
		Handler:   handler,
		Scheduler: scheduler,
		Close: func() error {
			scheduler.Stop()
			var errs []error
			for i := len(closers) - 1; i >= 0; i-- {
				errs = append(errs, closers[i]())
			}
			observability.FlushSentry()
			return errors.Join(errs...)
		},
	}, nil
}

// openStore returns the account store and, for postgres, the pool behind it.
func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *observability.Logger) (auth.Store, *sql.DB, error) {
	if cfg.Driver == config.StorageMemory {
		logger.Warn("memory_storage_enabled", map[string]any{"detail": "data is lost on restart"})
		return auth.NewMemoryStore(), nil, nil
	}

	database, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(cfg.MaxOpenConns)
	database.SetMaxIdleConns(cfg.MaxIdleConns)
	database.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	database.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := database.PingContext(pingCtx); err != nil {
		_ = database.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}

	if cfg.RunMigrations {
		applied, err := db.RunMigrations(ctx, database)
		if err != nil {
			_ = database.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		if len(applied) > 0 {
			logger.Info("migrations_applied", map[string]any{"versions": applied})
		}
	}

	return auth.NewRepository(database), database, nil
}

func newMailer(cfg config.MailConfig, logger *observability.Logger) *mail.AsyncSender {
	var next mail.Sender = mail.NewLogSender(logger)
	if cfg.SMTPEnabled() {
		next = mail.NewSMTPSender(mail.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.From,
		})
	}
	return mail.NewAsyncSender(next, logger, cfg.Workers, cfg.QueueSize)
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if database != nil {
			if err := database.PingContext(ctx); err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
