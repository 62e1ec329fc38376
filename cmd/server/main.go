package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/lektoria/auth-service/internal/app"
	"github.com/lektoria/auth-service/internal/challenge"
	"github.com/lektoria/auth-service/internal/config"
	"github.com/lektoria/auth-service/internal/health"
	"github.com/lektoria/auth-service/internal/http/handler"
	"github.com/lektoria/auth-service/internal/http/router"
	"github.com/lektoria/auth-service/internal/mail"
	"github.com/lektoria/auth-service/internal/observability"
	"github.com/lektoria/auth-service/internal/repository"
	"github.com/lektoria/auth-service/internal/security"
	"github.com/lektoria/auth-service/internal/service"
	"github.com/lektoria/auth-service/internal/tools/common"
	"github.com/lektoria/auth-service/internal/tools/loadgen"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:   "auth-service",
		Short: "Passwordless authentication service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return common.LoadEnvFile(envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	root.AddCommand(newServeCommand(), newMigrateCommand(), newLoadgenCommand())
	return root
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := assemble(ctx)
			if err != nil {
				return err
			}
			return a.Run(ctx)
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Context())
			if err != nil {
				return err
			}
			db, err := repository.Open(cfg)
			if err != nil {
				return err
			}
			return repository.Migrate(db)
		},
	}
}

func newLoadgenCommand() *cobra.Command {
	cfg := loadgen.Config{}
	cmd := &cobra.Command{
		Use:   "loadgen",
		Short: "Generate synthetic traffic against a running instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := loadgen.Run(cmd.Context(), cfg)
			if res != nil {
				fmt.Printf("requests=%d failures=%d classes=%v\n", res.TotalRequests, res.Failures, res.StatusClasses)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&cfg.BaseURL, "base-url", "http://localhost:8080", "API base URL")
	cmd.Flags().StringVar(&cfg.Profile, "profile", "mixed", "traffic profile: signin, health or mixed")
	cmd.Flags().DurationVar(&cfg.Duration, "duration", 10*time.Second, "how long to run")
	cmd.Flags().IntVar(&cfg.RPS, "rps", 20, "requests per second")
	cmd.Flags().IntVar(&cfg.Concurrency, "concurrency", 4, "worker count")
	cmd.Flags().Int64Var(&cfg.Seed, "seed", 42, "random seed")
	return cmd
}

func assemble(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, loggerProvider, err := observability.InitLogging(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	slog.SetDefault(logger)

	runtime, err := observability.InitRuntime(ctx, cfg, logger, loggerProvider)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	db, err := repository.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := repository.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	keys, err := security.DeriveKeys(cfg.SessionSecret)
	if err != nil {
		return nil, err
	}

	users := repository.NewUserRepository(db)
	sessions := repository.NewSessionRepository(db)
	tokens := repository.NewTokenRepository(db)

	sender := &mail.LogSender{Logger: logger}
	totp := security.NewTOTPManager(cfg.TOTPIssuer)
	registry := challenge.NewRegistry(db, tokens, users, cfg.TokenTTL,
		&challenge.EmailTokenHandler{
			Sender:          sender,
			FromAddress:     cfg.MailFromAddress,
			FrontendBaseURL: cfg.FrontendBaseURL,
		},
		&challenge.TOTPHandler{Manager: totp},
	)

	sessionSvc := service.NewSessionService(db, sessions, users, tokens, keys)

	autoLogin := service.AutoLoginConfig{Enabled: cfg.AutoLogin, Delay: cfg.AutoLoginDelay}
	if cfg.AutoLogin {
		autoLogin.Pattern, err = regexp.Compile(cfg.AutoLoginPattern)
		if err != nil {
			return nil, fmt.Errorf("compile auto login pattern: %w", err)
		}
	}
	authSvc := service.NewAuthService(db, users, sessions, tokens, registry, sessionSvc, logger,
		cfg.SessionTTL, cfg.TokenTTL, autoLogin)
	newsletter := &service.LogNewsletterMover{Logger: logger}
	accountSvc := service.NewAccountService(db, users, sessions, registry, sender, newsletter, logger,
		cfg.MailFromAddress, cfg.FrontendBaseURL)

	var rdb *redis.Client
	var guard service.AuthAbuseGuard = service.NoopAuthAbuseGuard{}
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		guard = service.NewRedisAuthAbuseGuard(rdb, "lektoria:auth:abuse", service.DefaultAuthAbusePolicy())
	}

	codec := security.NewSessionCookieCodec("lektoria-auth", keys.CookieSigning)

	readiness := health.NewProbeRunner(2*time.Second, time.Second)
	readiness.Register("database", func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	})
	if rdb != nil {
		readiness.Register("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}

	mux := router.NewRouter(router.Dependencies{
		AuthHandler: &handler.AuthHandler{
			Auth:         authSvc,
			Sessions:     sessionSvc,
			AbuseGuard:   guard,
			CookieCodec:  codec,
			SessionTTL:   cfg.SessionTTL,
			SecureCookie: cfg.IsProduction(),
			Logger:       logger,
		},
		SessionHandler:   &handler.SessionHandler{Sessions: sessionSvc, Logger: logger},
		AccountHandler:   &handler.AccountHandler{Accounts: accountSvc, Logger: logger},
		CookieCodec:      codec,
		Sessions:         sessions,
		Users:            users,
		APIRateLimitRPM:  cfg.APIRateLimitRPM,
		AuthRateLimitRPM: cfg.AuthRateLimitRPM,
		Readiness:        readiness,
		EnableOTelHTTP:   cfg.OTELTracingEnabled,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return app.New(cfg, logger, server, db, rdb, runtime, readiness, nil), nil
}
