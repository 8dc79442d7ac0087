// Package agent defines the generative agent contract and its clients.
//
// Every agent, primary or specialist, is called through the same Invoke
// method; specialization lives entirely in the prompt.
package agent

import (
	"context"
	"time"
)

// Prompt is one request to an agent.
type Prompt struct {
	System string
	User   string
}

// Agent generates text for a prompt.
type Agent interface {
	// ID is the stable identifier used for health and memory bookkeeping.
	ID() string

	// Invoke blocks until the agent answers, fails or ctx is done.
	Invoke(ctx context.Context, p Prompt) (string, error)
}

// Prober is implemented by agents with a cheap liveness check.
type Prober interface {
	Probe(ctx context.Context) error
}

// Stats is the perf summary of an agent.
type Stats struct {
	Requests       int64         `json:"requests"`
	Errors         int64         `json:"errors"`
	TotalLatency   time.Duration `json:"total_latency_ns"`
	AverageLatency time.Duration `json:"average_latency_ns"`
	LastError      string        `json:"last_error,omitempty"`
}

// StatsReporter is implemented by agents that track their own stats.
type StatsReporter interface {
	Stats() Stats
}
