package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestReadyAllHealthy(t *testing.T) {
	runner := NewProbeRunner(time.Second, 500*time.Millisecond)
	runner.Register("database", func(ctx context.Context) error { return nil })
	runner.Register("redis", func(ctx context.Context) error { return nil })

	ready, results := runner.Ready(context.Background())
	if !ready {
		t.Fatal("expected ready")
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, res := range results {
		if !res.Healthy || res.Error != "" {
			t.Fatalf("unexpected unhealthy result: %+v", res)
		}
	}
}

func TestReadyReportsFailingProbe(t *testing.T) {
	runner := NewProbeRunner(time.Second, 500*time.Millisecond)
	runner.Register("database", func(ctx context.Context) error { return nil })
	runner.Register("redis", func(ctx context.Context) error { return errors.New("connection refused") })

	ready, results := runner.Ready(context.Background())
	if ready {
		t.Fatal("expected not ready")
	}

	var failing *Result
	for i := range results {
		if results[i].Name == "redis" {
			failing = &results[i]
		}
	}
	if failing == nil {
		t.Fatal("missing redis result")
	}
	if failing.Healthy || failing.Error != "connection refused" {
		t.Fatalf("unexpected result: %+v", failing)
	}
}

func TestReadyCancelsSlowProbe(t *testing.T) {
	runner := NewProbeRunner(200*time.Millisecond, 50*time.Millisecond)
	runner.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	start := time.Now()
	ready, results := runner.Ready(context.Background())
	if ready {
		t.Fatal("expected not ready")
	}
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Fatalf("readiness check took too long: %v", elapsed)
	}
	if len(results) != 1 || results[0].Healthy {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestReadyWithoutProbes(t *testing.T) {
	runner := NewProbeRunner(time.Second, time.Second)
	ready, results := runner.Ready(context.Background())
	if !ready {
		t.Fatal("expected ready with no probes")
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
}
