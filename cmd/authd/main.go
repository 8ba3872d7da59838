package main

import (
	"context"
	"fmt"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	auth "github.com/cvbuilder/go-auth"
	"github.com/cvbuilder/go-auth/activitymap"
	"github.com/cvbuilder/go-auth/config"
	"github.com/cvbuilder/go-auth/httpapi"
	"github.com/cvbuilder/go-auth/mail"
	"github.com/cvbuilder/go-auth/middleware/ratelimit"
	"github.com/cvbuilder/go-auth/revocation"
	"github.com/cvbuilder/go-auth/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		if fallback, lerr := newLogger(false); lerr == nil {
			fallback.Error("invalid configuration", zap.Error(err))
			_ = fallback.Sync()
		}
		os.Exit(1)
	}

	zl, err := newLogger(cfg.IsDevelopment())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = zl.Sync() }()
	zap.ReplaceGlobals(zl)

	var logger auth.Logger = newAuthLogger(zl)

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.Environment,
			AttachStacktrace: true,
		}); err != nil {
			logger.Error("init_sentry_failed", "error", err)
		}
	}
	defer sentry.Flush(2 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	if err := store.Migrate(ctx, db); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	tokens, err := auth.NewTokenService(cfg, auth.WithTokenLogger(logger))
	if err != nil {
		logger.Error("failed to build token service", "error", err)
		os.Exit(1)
	}

	backend, healthChecks, closeBackend, err := revocationBackend(cfg, db)
	if err != nil {
		logger.Error("failed to build revocation backend", "error", err)
		os.Exit(1)
	}

	registry := auth.NewRevocationRegistry(backend, tokens,
		auth.WithUndecodableTTL(cfg.UndecodableTokenTTL),
		auth.WithRevocationTimeout(cfg.StoreTimeout),
		auth.WithRevocationLogger(logger),
	)

	renderer, err := mail.NewRenderer()
	if err != nil {
		logger.Error("failed to load mail templates", "error", err)
		os.Exit(1)
	}

	var mailer auth.Mailer = mail.NewLogSender(logger)
	if cfg.MailHost != "" {
		smtp, err := mail.NewSMTPSender(mail.SMTPConfig{
			Host:     cfg.MailHost,
			Port:     cfg.MailPort,
			Username: cfg.MailUsername,
			Password: cfg.MailPassword,
			From:     cfg.MailFrom,
		})
		if err != nil {
			logger.Error("failed to build mail sender", "error", err)
			os.Exit(1)
		}
		mailer = smtp
	}

	service := auth.NewService(cfg, store.NewAccounts(db), tokens, registry,
		auth.WithPasswordAuthenticator(auth.NewBcryptHasher(cfg.BcryptCost)),
		auth.WithMailer(mailer),
		auth.WithMailComposer(renderer),
		auth.WithDeterministicIDs(cfg.DeterministicIDs),
		auth.WithServiceLogger(logger),
		auth.WithServiceActivitySink(activitymap.Sink(func(n activitymap.Normalized) error {
			logger.Info("activity", "verb", n.Verb, "actor", n.ActorID, "metadata", n.Metadata)
			return nil
		})),
	)

	limiter := ratelimit.NewRateLimiter(cfg.LoginRateLimit, cfg.LoginRateBurst)
	go limiter.StartCleanupWorker(ctx, time.Hour)

	if cfg.RevocationBackend != config.RevocationRedis {
		go sweepLoop(ctx, registry, cfg.SweepInterval, logger)
	}

	app := fiber.New(fiber.Config{
		AppName:      "cv-builder-auth",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	})
	app.Use(recover.New())

	httpapi.NewHandler(service, httpapi.Options{
		CookieSecure: cfg.CookieSecure,
		Development:  cfg.IsDevelopment(),
		CronSecret:   cfg.CronSecret,
		LoginLimiter: limiter,
		HealthChecks: healthChecks,
		Logger:       logger,
	}).Mount(app)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		logger.Info("auth service listening", "addr", addr, "revocation", cfg.RevocationBackend)
		if err := app.Listen(addr); err != nil {
			logger.Error("server stopped", "error", err)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"http": drainThenClose(cancel, app.ShutdownWithContext, closeBackend, db.Close),
		},
	)

	exitCode := <-wait
	logger.Info("auth service exited", "code", exitCode)
	_ = zl.Sync()
	os.Exit(exitCode)
}

func revocationBackend(cfg *config.Config, db *bun.DB) (auth.RevocationStore, map[string]httpapi.HealthCheck, func() error, error) {
	checks := map[string]httpapi.HealthCheck{
		"database": func(ctx context.Context) error { return store.Ping(ctx, db) },
	}
	noClose := func() error { return nil }

	switch cfg.RevocationBackend {
	case config.RevocationRedis:
		r, err := revocation.NewRedisFromURL(cfg.RedisURL, "")
		if err != nil {
			return nil, nil, nil, err
		}
		checks["redis"] = r.Ping
		return r, checks, r.Close, nil
	case config.RevocationSQL:
		return store.NewRevokedTokens(db), checks, noClose, nil
	default:
		return revocation.NewMemory(), checks, noClose, nil
	}
}

func sweepLoop(ctx context.Context, registry *auth.RevocationRegistry, interval time.Duration, logger auth.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := registry.Sweep(ctx); err != nil {
				logger.Warn("periodic revocation sweep failed", "error", err)
			}
		}
	}
}
