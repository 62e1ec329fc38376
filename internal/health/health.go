// Package health runs named readiness probes with bounded timeouts.
package health

import (
	"context"
	"sync"
	"time"
)

type Probe func(ctx context.Context) error

type Result struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// ProbeRunner evaluates all registered probes concurrently. The overall
// timeout bounds the whole readiness check, the probe timeout each probe.
type ProbeRunner struct {
	overallTimeout time.Duration
	probeTimeout   time.Duration

	mu     sync.RWMutex
	probes map[string]Probe
}

func NewProbeRunner(overallTimeout, probeTimeout time.Duration) *ProbeRunner {
	return &ProbeRunner{
		overallTimeout: overallTimeout,
		probeTimeout:   probeTimeout,
		probes:         make(map[string]Probe),
	}
}

func (p *ProbeRunner) Register(name string, probe Probe) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probes[name] = probe
}

func (p *ProbeRunner) Ready(ctx context.Context) (bool, []Result) {
	p.mu.RLock()
	names := make([]string, 0, len(p.probes))
	probes := make([]Probe, 0, len(p.probes))
	for name, probe := range p.probes {
		names = append(names, name)
		probes = append(probes, probe)
	}
	p.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, p.overallTimeout)
	defer cancel()

	results := make([]Result, len(probes))
	var wg sync.WaitGroup
	for i := range probes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			probeCtx, probeCancel := context.WithTimeout(ctx, p.probeTimeout)
			defer probeCancel()
			err := probes[i](probeCtx)
			results[i] = Result{Name: names[i], Healthy: err == nil}
			if err != nil {
				results[i].Error = err.Error()
			}
		}(i)
	}
	wg.Wait()

	ready := true
	for _, res := range results {
		if !res.Healthy {
			ready = false
		}
	}
	return ready, results
}
