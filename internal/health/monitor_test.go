package health

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"eldritch/internal/narrative"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestMonitor_ThreeTimeoutsThenSuccess(t *testing.T) {
	m := NewMonitor(DefaultWindow, DefaultSlowThreshold)

	assert.Equal(t, StateTimeout, m.RecordObservation("primary", Timeout()))
	assert.Equal(t, StateTimeout, m.RecordObservation("primary", Timeout()))
	assert.Equal(t, StateUnavailable, m.RecordObservation("primary", Timeout()))
	assert.False(t, m.ShouldAttempt("primary"))

	state := m.RecordObservation("primary", Success(200*time.Millisecond))
	assert.NotEqual(t, StateUnavailable, state)
	assert.Equal(t, StateError, state)
	assert.True(t, m.ShouldAttempt("primary"))
}

func TestMonitor_Rules(t *testing.T) {
	fail := Failure(narrative.KindServer)
	ok := Success(time.Second)
	slow := Success(12 * time.Second)

	tests := []struct {
		name string
		obs  []Observation
		want State
	}{
		{"fresh success", []Observation{ok}, StateHealthy},
		{"single failure", []Observation{ok, ok, fail}, StateHealthy},
		{"two of three failed", []Observation{fail, ok, fail}, StateError},
		{"three failures", []Observation{ok, fail, fail, fail}, StateUnavailable},
		{"mixed failures and timeouts", []Observation{fail, Timeout(), fail}, StateUnavailable},
		{"last is timeout", []Observation{ok, ok, Timeout()}, StateTimeout},
		{"timeout beats error", []Observation{ok, fail, Timeout()}, StateTimeout},
		{"slow mean", []Observation{slow, slow, slow}, StateSlowResponse},
		{"slow mean but recent failure", []Observation{slow, slow, fail}, StateHealthy},
		{"fast enough mean", []Observation{slow, ok, ok, ok}, StateHealthy},
		{"recovered", []Observation{fail, fail, fail, ok, ok, ok}, StateHealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor(DefaultWindow, DefaultSlowThreshold)
			var got State
			for _, o := range tt.obs {
				got = m.RecordObservation("a", o)
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want, m.State("a"))
		})
	}
}

func TestMonitor_WindowTruncation(t *testing.T) {
	m := NewMonitor(4, DefaultSlowThreshold)
	for i := 0; i < 10; i++ {
		m.RecordObservation("a", Success(30*time.Second))
	}
	for i := 0; i < 4; i++ {
		m.RecordObservation("a", Success(time.Second))
	}
	snap := m.Snapshot("a")
	assert.Equal(t, 4, snap.Observations)
	assert.Equal(t, time.Second, snap.MeanLatency)
	assert.Equal(t, StateHealthy, snap.State)
}

func TestMonitor_SnapshotUnknownAgent(t *testing.T) {
	m := NewMonitor(DefaultWindow, DefaultSlowThreshold)
	snap := m.Snapshot("ghost")
	assert.Equal(t, StateHealthy, snap.State)
	assert.Zero(t, snap.Observations)
	assert.True(t, m.ShouldAttempt("ghost"))
	assert.Empty(t, m.Agents())
	_, seen := m.SinceLastObservation("ghost")
	assert.False(t, seen)
}

func TestMonitor_SnapshotCounters(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMonitor(DefaultWindow, DefaultSlowThreshold, WithClock(func() time.Time { return now }))

	m.RecordObservation("a", Success(2*time.Second))
	m.RecordObservation("a", Failure(narrative.KindRateLimited))
	m.RecordObservation("a", Timeout())

	snap := m.Snapshot("a")
	assert.Equal(t, 1, snap.Successes)
	assert.Equal(t, 1, snap.Failures)
	assert.Equal(t, 1, snap.Timeouts)
	assert.Equal(t, 2, snap.ConsecutiveErrors)
	assert.Equal(t, narrative.KindTimeout, snap.LastErrorKind)
	assert.Equal(t, 2*time.Second, snap.MeanLatency)
	assert.Equal(t, now, snap.LastObserved)

	m.RecordObservation("a", Success(time.Second))
	assert.Zero(t, m.Snapshot("a").ConsecutiveErrors)
}

func TestMonitor_Reset(t *testing.T) {
	m := NewMonitor(DefaultWindow, DefaultSlowThreshold)
	for i := 0; i < 3; i++ {
		m.RecordObservation("a", Failure(narrative.KindConnection))
	}
	require.Equal(t, StateUnavailable, m.State("a"))

	m.Reset("a")
	assert.Equal(t, StateHealthy, m.State("a"))
	assert.Zero(t, m.Snapshot("a").Observations)
	assert.True(t, m.ShouldAttempt("a"))

	// Reset of an unknown agent is a no-op.
	m.Reset("nobody")
}

func TestMonitor_AgentsIsolatedAndSorted(t *testing.T) {
	m := NewMonitor(DefaultWindow, DefaultSlowThreshold)
	for i := 0; i < 3; i++ {
		m.RecordObservation("rules", Timeout())
	}
	m.RecordObservation("narrative", Success(time.Millisecond))

	assert.Equal(t, []string{"narrative", "rules"}, m.Agents())
	assert.Equal(t, StateHealthy, m.State("narrative"))
	assert.Equal(t, StateUnavailable, m.State("rules"))

	snaps := m.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, "narrative", snaps[0].AgentID)
}

func TestMonitor_ConcurrentRecording(t *testing.T) {
	m := NewMonitor(DefaultWindow, DefaultSlowThreshold)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			id := fmt.Sprintf("agent-%d", w%3)
			for i := 0; i < 200; i++ {
				m.RecordObservation(id, Success(time.Millisecond))
				_ = m.Snapshot(id)
				_ = m.ShouldAttempt(id)
			}
		}(w)
	}
	wg.Wait()

	for _, snap := range m.Snapshots() {
		assert.Equal(t, DefaultWindow, snap.Observations)
		assert.Equal(t, StateHealthy, snap.State)
	}
}
