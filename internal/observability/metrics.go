package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lektoria/auth-service/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

type AppMetrics struct {
	signInCounter        metric.Int64Counter
	authorizationCounter metric.Int64Counter
	denialCounter        metric.Int64Counter
	repositoryCounter    metric.Int64Counter
	cookieCounter        metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.OTELServiceName),
			attribute.String("deployment.environment", cfg.OTELEnvironment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	meter := mp.Meter("lektoria-auth-service")
	signInCounter, err := meter.Int64Counter("auth.signin.attempts")
	if err != nil {
		return nil, err
	}
	authorizationCounter, err := meter.Int64Counter("auth.authorization.events")
	if err != nil {
		return nil, err
	}
	denialCounter, err := meter.Int64Counter("auth.denial.events")
	if err != nil {
		return nil, err
	}
	repositoryCounter, err := meter.Int64Counter("repository.operations")
	if err != nil {
		return nil, err
	}
	cookieCounter, err := meter.Int64Counter("auth.session_cookie.validations")
	if err != nil {
		return nil, err
	}

	metricsMu.Lock()
	appMetrics = &AppMetrics{
		signInCounter:        signInCounter,
		authorizationCounter: authorizationCounter,
		denialCounter:        denialCounter,
		repositoryCounter:    repositoryCounter,
		cookieCounter:        cookieCounter,
	}
	metricsMu.Unlock()

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

func current() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

func RecordSignIn(ctx context.Context, status string, tokenTypes int) {
	m := current()
	if m == nil {
		return
	}
	m.signInCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
		attribute.Int("token_types", tokenTypes),
	))
}

func RecordAuthorization(ctx context.Context, status string) {
	m := current()
	if m == nil {
		return
	}
	m.authorizationCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordDenial(ctx context.Context, status string) {
	m := current()
	if m == nil {
		return
	}
	m.denialCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordRepositoryOperation(ctx context.Context, entity, operation, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.repositoryCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

func RecordSessionCookieValidation(ctx context.Context, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.cookieCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
