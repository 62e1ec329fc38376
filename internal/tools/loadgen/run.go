// Package loadgen generates synthetic traffic against a running instance.
// It exists to light up the observability pipeline locally, not to benchmark.
package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type Config struct {
	BaseURL     string
	Profile     string // "signin", "health" or "mixed"
	Duration    time.Duration
	RPS         int
	Concurrency int
	Seed        int64
}

type Result struct {
	TotalRequests int
	Failures      int
	StatusClasses map[string]int
}

func Run(ctx context.Context, cfg Config) (*Result, error) {
	profile := normalizeProfile(cfg.Profile)
	if cfg.RPS <= 0 || cfg.Concurrency <= 0 {
		return nil, fmt.Errorf("loadgen: rps and concurrency must be positive")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	ticker := time.NewTicker(time.Second / time.Duration(cfg.RPS))
	defer ticker.Stop()

	var mu sync.Mutex
	res := &Result{StatusClasses: map[string]int{}}
	rng := rand.New(rand.NewSource(cfg.Seed))

	requests := make(chan *http.Request)
	g, gctx := errgroup.WithContext(ctx)
	client := &http.Client{Timeout: 5 * time.Second}
	for i := 0; i < cfg.Concurrency; i++ {
		g.Go(func() error {
			for req := range requests {
				status := 0
				resp, err := client.Do(req.WithContext(gctx))
				if err == nil {
					status = resp.StatusCode
					_ = resp.Body.Close()
				}
				mu.Lock()
				res.TotalRequests++
				if err != nil || status >= 500 {
					res.Failures++
				}
				res.StatusClasses[classifyStatusClass(status)]++
				mu.Unlock()
			}
			return nil
		})
	}

feed:
	for {
		select {
		case <-ctx.Done():
			break feed
		case <-ticker.C:
			req, err := buildRequest(base, profile, rng)
			if err != nil {
				continue
			}
			select {
			case requests <- req:
			case <-ctx.Done():
				break feed
			}
		}
	}
	close(requests)
	if err := g.Wait(); err != nil {
		return res, err
	}
	return res, nil
}

func buildRequest(base, profile string, rng *rand.Rand) (*http.Request, error) {
	kind := profile
	if profile == "mixed" {
		if rng.Intn(2) == 0 {
			kind = "signin"
		} else {
			kind = "health"
		}
	}
	switch kind {
	case "health":
		return http.NewRequest(http.MethodGet, base+"/health/ready", nil)
	default:
		body, err := json.Marshal(map[string]string{
			"email": fmt.Sprintf("loadgen-%d@lektoria.example", rng.Intn(10000)),
		})
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequest(http.MethodPost, base+"/v1/auth/signin", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}
}

func classifyStatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}

func normalizeProfile(raw string) string {
	p := strings.ToLower(strings.TrimSpace(raw))
	switch p {
	case "signin", "health", "mixed":
		return p
	case "":
		return "mixed"
	default:
		return "mixed"
	}
}
