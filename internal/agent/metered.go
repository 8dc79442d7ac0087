package agent

import (
	"context"
	"sync"
	"time"
)

// Metered wraps an agent and tracks request, error and latency stats.
type Metered struct {
	inner Agent

	mu    sync.Mutex
	stats Stats
}

type meteredProber struct {
	*Metered
	prober Prober
}

func (m *meteredProber) Probe(ctx context.Context) error {
	return m.prober.Probe(ctx)
}

// Meter wraps a. The result implements Prober exactly when a does.
func Meter(a Agent) Agent {
	m := &Metered{inner: a}
	if p, ok := a.(Prober); ok {
		return &meteredProber{Metered: m, prober: p}
	}
	return m
}

// ID returns the wrapped agent's identifier.
func (m *Metered) ID() string { return m.inner.ID() }

// Unwrap returns the wrapped agent.
func (m *Metered) Unwrap() Agent { return m.inner }

// Invoke forwards to the wrapped agent and records the outcome.
func (m *Metered) Invoke(ctx context.Context, p Prompt) (string, error) {
	start := time.Now()
	out, err := m.inner.Invoke(ctx, p)
	elapsed := time.Since(start)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Requests++
	m.stats.TotalLatency += elapsed
	m.stats.AverageLatency = m.stats.TotalLatency / time.Duration(m.stats.Requests)
	if err != nil {
		m.stats.Errors++
		m.stats.LastError = err.Error()
	}
	return out, err
}

// Stats returns a copy of the current stats.
func (m *Metered) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}
