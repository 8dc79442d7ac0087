// Package health classifies generative agents from their recent latency and
// error history.
package health

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"eldritch/internal/logging"
	"eldritch/internal/narrative"
)

// State is the derived health classification of an agent.
type State string

const (
	StateHealthy      State = "HEALTHY"
	StateSlowResponse State = "SLOW_RESPONSE"
	StateError        State = "ERROR"
	StateTimeout      State = "TIMEOUT"
	StateUnavailable  State = "UNAVAILABLE"
)

// Degraded reports whether the state is anything but HEALTHY.
func (s State) Degraded() bool { return s != StateHealthy }

const (
	DefaultWindow        = 10
	DefaultSlowThreshold = 10 * time.Second

	// recentSpan is how many of the newest observations the error rules look at.
	recentSpan = 3
)

// ObservationKind distinguishes the three observation shapes.
type ObservationKind string

const (
	ObsSuccess ObservationKind = "success"
	ObsFailure ObservationKind = "failure"
	ObsTimeout ObservationKind = "timeout"
)

// Observation is one recorded agent call outcome.
type Observation struct {
	Kind    ObservationKind     `json:"kind"`
	Latency time.Duration       `json:"latency_ns,omitempty"`
	Error   narrative.ErrorKind `json:"error,omitempty"`
	At      time.Time           `json:"at"`
}

// Success builds a success observation.
func Success(latency time.Duration) Observation {
	return Observation{Kind: ObsSuccess, Latency: latency}
}

// Failure builds a failure observation.
func Failure(kind narrative.ErrorKind) Observation {
	if kind == "" {
		kind = narrative.KindUnknown
	}
	return Observation{Kind: ObsFailure, Error: kind}
}

// Timeout builds a timeout observation.
func Timeout() Observation {
	return Observation{Kind: ObsTimeout, Error: narrative.KindTimeout}
}

func (o Observation) failed() bool { return o.Kind != ObsSuccess }

// record is immutable once published.
type record struct {
	window            []Observation
	consecutiveErrors int
	lastErrorKind     narrative.ErrorKind
	state             State
	lastObserved      time.Time
}

// slot holds one agent's record. mu serializes writers; readers load rec.
type slot struct {
	mu  sync.Mutex
	rec atomic.Pointer[record]
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock overrides the monitor clock.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// Monitor tracks per-agent health. It is safe for concurrent use; no lock
// spans more than one agent.
type Monitor struct {
	window        int
	slowThreshold time.Duration
	now           func() time.Time

	mu    sync.Mutex
	slots map[string]*slot
}

// NewMonitor creates a monitor keeping window observations per agent.
func NewMonitor(window int, slowThreshold time.Duration, opts ...Option) *Monitor {
	if window < recentSpan {
		window = DefaultWindow
	}
	if slowThreshold <= 0 {
		slowThreshold = DefaultSlowThreshold
	}
	m := &Monitor{
		window:        window,
		slowThreshold: slowThreshold,
		now:           time.Now,
		slots:         make(map[string]*slot),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Monitor) slot(agentID string, create bool) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[agentID]
	if !ok && create {
		s = &slot{}
		m.slots[agentID] = s
	}
	return s
}

// RecordObservation appends obs to the agent's window and recomputes its
// state, which is returned.
func (m *Monitor) RecordObservation(agentID string, obs Observation) State {
	if obs.At.IsZero() {
		obs.At = m.now()
	}

	s := m.slot(agentID, true)
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.rec.Load()
	next := &record{state: StateHealthy, lastObserved: obs.At}

	var old []Observation
	if prev != nil {
		old = prev.window
		next.consecutiveErrors = prev.consecutiveErrors
		next.lastErrorKind = prev.lastErrorKind
	}
	start := 0
	if len(old)+1 > m.window {
		start = len(old) + 1 - m.window
	}
	next.window = make([]Observation, 0, m.window)
	next.window = append(next.window, old[start:]...)
	next.window = append(next.window, obs)

	if obs.failed() {
		next.consecutiveErrors++
		next.lastErrorKind = obs.Error
	} else {
		next.consecutiveErrors = 0
	}
	next.state = classify(next.window, m.slowThreshold)
	s.rec.Store(next)

	from := StateHealthy
	if prev != nil {
		from = prev.state
	}
	if from != next.state {
		m.logTransition(agentID, from, next.state, obs)
	} else {
		logging.HealthDebug("[%s] %s observation, state %s", agentID, obs.Kind, next.state)
	}
	return next.state
}

func (m *Monitor) logTransition(agentID string, from, to State, obs Observation) {
	if to.Degraded() {
		logging.HealthWarn("[%s] %s -> %s (last: %s %s)", agentID, from, to, obs.Kind, obs.Error)
	} else {
		logging.Health("[%s] %s -> %s", agentID, from, to)
	}
	logging.Audit().HealthChange(agentID, string(from), string(to))
}

// classify applies the rules in priority order over the window.
func classify(window []Observation, slowThreshold time.Duration) State {
	n := len(window)
	recent := window
	if n > recentSpan {
		recent = window[n-recentSpan:]
	}

	recentFailures := 0
	for _, o := range recent {
		if o.failed() {
			recentFailures++
		}
	}

	switch {
	case len(recent) == recentSpan && recentFailures == recentSpan:
		return StateUnavailable
	case window[n-1].Kind == ObsTimeout:
		return StateTimeout
	case recentFailures >= 2:
		return StateError
	case recentFailures == 0 && meanSuccessLatency(window) > slowThreshold:
		return StateSlowResponse
	default:
		return StateHealthy
	}
}

func meanSuccessLatency(window []Observation) time.Duration {
	var total time.Duration
	count := 0
	for _, o := range window {
		if o.Kind == ObsSuccess {
			total += o.Latency
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return total / time.Duration(count)
}

// ShouldAttempt is false only for UNAVAILABLE agents. Unknown agents are
// attempted.
func (m *Monitor) ShouldAttempt(agentID string) bool {
	return m.State(agentID) != StateUnavailable
}

// State returns the agent's current state, HEALTHY if unknown.
func (m *Monitor) State(agentID string) State {
	s := m.slot(agentID, false)
	if s == nil {
		return StateHealthy
	}
	if rec := s.rec.Load(); rec != nil {
		return rec.state
	}
	return StateHealthy
}

// Snapshot is a read-only view of an agent's health.
type Snapshot struct {
	AgentID           string              `json:"agent_id"`
	State             State               `json:"state"`
	MeanLatency       time.Duration       `json:"mean_latency_ns"`
	LastErrorKind     narrative.ErrorKind `json:"last_error_kind,omitempty"`
	ConsecutiveErrors int                 `json:"consecutive_errors"`
	Observations      int                 `json:"observations"`
	Successes         int                 `json:"successes"`
	Failures          int                 `json:"failures"`
	Timeouts          int                 `json:"timeouts"`
	LastObserved      time.Time           `json:"last_observed,omitempty"`
}

// Snapshot never fails; unknown agents report HEALTHY with no history.
func (m *Monitor) Snapshot(agentID string) Snapshot {
	snap := Snapshot{AgentID: agentID, State: StateHealthy}
	s := m.slot(agentID, false)
	if s == nil {
		return snap
	}
	rec := s.rec.Load()
	if rec == nil {
		return snap
	}

	snap.State = rec.state
	snap.MeanLatency = meanSuccessLatency(rec.window)
	snap.LastErrorKind = rec.lastErrorKind
	snap.ConsecutiveErrors = rec.consecutiveErrors
	snap.Observations = len(rec.window)
	snap.LastObserved = rec.lastObserved
	for _, o := range rec.window {
		switch o.Kind {
		case ObsSuccess:
			snap.Successes++
		case ObsFailure:
			snap.Failures++
		case ObsTimeout:
			snap.Timeouts++
		}
	}
	return snap
}

// Snapshots returns a snapshot for every known agent, sorted by agent.
func (m *Monitor) Snapshots() []Snapshot {
	ids := m.Agents()
	out := make([]Snapshot, len(ids))
	for i, id := range ids {
		out[i] = m.Snapshot(id)
	}
	return out
}

// Agents lists the agents with recorded history, sorted.
func (m *Monitor) Agents() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.slots))
	for id := range m.slots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Reset clears an agent's history, returning it to HEALTHY.
func (m *Monitor) Reset(agentID string) {
	s := m.slot(agentID, false)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.rec.Load()
	s.rec.Store(nil)
	if prev != nil {
		logging.Health("[%s] reset from %s", agentID, prev.state)
		logging.Audit().Log(logging.AuditEvent{
			EventType: logging.AuditHealthReset,
			Agent:     agentID,
			Success:   true,
			Message:   "health reset from " + string(prev.state),
		})
	}
}

// SinceLastObservation returns how long ago the agent was last observed,
// and false if it never was.
func (m *Monitor) SinceLastObservation(agentID string) (time.Duration, bool) {
	s := m.slot(agentID, false)
	if s == nil {
		return 0, false
	}
	rec := s.rec.Load()
	if rec == nil {
		return 0, false
	}
	return m.now().Sub(rec.lastObserved), true
}
