package config

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppEnv   string
	HTTPAddr string

	DBDriver string // "postgres" or "sqlite"
	DBDSN    string

	SessionSecret string
	SessionTTL    time.Duration
	TokenTTL      time.Duration

	TOTPIssuer string

	MailFromAddress string
	FrontendBaseURL string

	// Auto login is a test environment escape hatch: addresses matching the
	// pattern authorize themselves after AutoLoginDelay without a mail round
	// trip. Disabled unless explicitly switched on.
	AutoLogin        bool
	AutoLoginPattern string
	AutoLoginDelay   time.Duration

	RedisAddr        string
	APIRateLimitRPM  int
	AuthRateLimitRPM int

	OTELServiceName           string
	OTELEnvironment           string
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELMetricsEnabled        bool
	OTELTracingEnabled        bool
	OTELLogsEnabled           bool
	OTELMetricsExportInterval time.Duration
}

func (c *Config) IsProduction() bool { return strings.EqualFold(c.AppEnv, "production") }

func Load(ctx context.Context) (*Config, error) {
	cfg := &Config{
		AppEnv:   getenv("APP_ENV", "development"),
		HTTPAddr: getenv("HTTP_ADDR", ":8080"),

		DBDriver: getenv("DB_DRIVER", "postgres"),
		DBDSN:    getenv("DB_DSN", ""),

		SessionSecret: getenv("SESSION_SECRET", ""),

		TOTPIssuer: getenv("TOTP_ISSUER", "Lektoria"),

		MailFromAddress: getenv("MAIL_FROM_ADDRESS", "no-reply@lektoria.example"),
		FrontendBaseURL: getenv("FRONTEND_BASE_URL", "http://localhost:3000"),

		AutoLoginPattern: getenv("AUTO_LOGIN_PATTERN", ""),

		RedisAddr: getenv("REDIS_ADDR", ""),

		OTELServiceName:          getenv("OTEL_SERVICE_NAME", "lektoria-auth-service"),
		OTELEnvironment:          getenv("OTEL_ENVIRONMENT", "development"),
		OTELExporterOTLPEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}

	var err error
	if cfg.SessionTTL, err = parseDuration("SESSION_TTL", "720h"); err != nil {
		return nil, fail(ctx, cfg, err)
	}
	if cfg.TokenTTL, err = parseDuration("TOKEN_TTL", "1h"); err != nil {
		return nil, fail(ctx, cfg, err)
	}
	if cfg.AutoLoginDelay, err = parseDuration("AUTO_LOGIN_DELAY", "2s"); err != nil {
		return nil, fail(ctx, cfg, err)
	}
	if cfg.AutoLogin, err = parseBool("AUTO_LOGIN", "false"); err != nil {
		return nil, fail(ctx, cfg, err)
	}
	if cfg.APIRateLimitRPM, err = parseInt("API_RATE_LIMIT_RPM", "600"); err != nil {
		return nil, fail(ctx, cfg, err)
	}
	if cfg.AuthRateLimitRPM, err = parseInt("AUTH_RATE_LIMIT_RPM", "60"); err != nil {
		return nil, fail(ctx, cfg, err)
	}
	if cfg.OTELExporterOTLPInsecure, err = parseBool("OTEL_EXPORTER_OTLP_INSECURE", "true"); err != nil {
		return nil, fail(ctx, cfg, err)
	}
	if cfg.OTELMetricsEnabled, err = parseBool("OTEL_METRICS_ENABLED", "false"); err != nil {
		return nil, fail(ctx, cfg, err)
	}
	if cfg.OTELTracingEnabled, err = parseBool("OTEL_TRACING_ENABLED", "false"); err != nil {
		return nil, fail(ctx, cfg, err)
	}
	if cfg.OTELLogsEnabled, err = parseBool("OTEL_LOGS_ENABLED", "false"); err != nil {
		return nil, fail(ctx, cfg, err)
	}
	if cfg.OTELMetricsExportInterval, err = parseDuration("OTEL_METRICS_EXPORT_INTERVAL", "30s"); err != nil {
		return nil, fail(ctx, cfg, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fail(ctx, cfg, err)
	}
	recordConfigLoad(ctx, cfg.AppEnv, "success", "none")
	return cfg, nil
}

func (c *Config) Validate() error {
	var problems []string
	if c.SessionSecret == "" {
		problems = append(problems, "SESSION_SECRET is required")
	}
	if c.DBDriver != "postgres" && c.DBDriver != "sqlite" {
		problems = append(problems, fmt.Sprintf("DB_DRIVER %q is not supported", c.DBDriver))
	}
	if c.DBDSN == "" && c.DBDriver == "postgres" {
		problems = append(problems, "DB_DSN is required for the postgres driver")
	}
	if c.AutoLogin {
		if c.IsProduction() {
			problems = append(problems, "AUTO_LOGIN must not be enabled in production")
		}
		if c.AutoLoginPattern == "" {
			problems = append(problems, "AUTO_LOGIN_PATTERN is required when AUTO_LOGIN is enabled")
		} else if _, err := regexp.Compile(c.AutoLoginPattern); err != nil {
			problems = append(problems, fmt.Sprintf("AUTO_LOGIN_PATTERN does not compile: %v", err))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("validate config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func fail(ctx context.Context, cfg *Config, err error) error {
	recordConfigLoad(ctx, cfg.AppEnv, "error", classifyConfigLoadError(err))
	return err
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func parseDuration(key, fallback string) (time.Duration, error) {
	raw := getenv(key, fallback)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s=%q: %w", key, raw, err)
	}
	return d, nil
}

func parseBool(key, fallback string) (bool, error) {
	raw := getenv(key, fallback)
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("parse %s=%q: %w", key, raw, err)
	}
	return b, nil
}

func parseInt(key, fallback string) (int, error) {
	raw := getenv(key, fallback)
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s=%q: %w", key, raw, err)
	}
	return n, nil
}
