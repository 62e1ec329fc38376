package config

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	loadCounterOnce sync.Once
	loadCounter     metric.Int64Counter
)

// recordConfigLoad counts every Load outcome so a misconfigured deployment
// shows up in metrics even when it crash-loops before serving.
func recordConfigLoad(ctx context.Context, env, status, reason string) {
	loadCounterOnce.Do(func() {
		if counter, err := otel.Meter("lektoria-auth-service").Int64Counter("auth.config.loads"); err == nil {
			loadCounter = counter
		}
	})
	if loadCounter == nil {
		return
	}
	loadCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("env", normalizeEnvName(env)),
		attribute.String("status", status),
		attribute.String("reason", reason),
	))
}

func normalizeEnvName(env string) string {
	v := strings.TrimSpace(strings.ToLower(env))
	if v == "" {
		return "unknown"
	}
	return v
}

func classifyConfigLoadError(err error) string {
	if err == nil {
		return "none"
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "validate config:"):
		return "validation"
	case strings.Contains(msg, "parse "):
		return "parse"
	default:
		return "load"
	}
}
