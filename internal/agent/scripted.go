package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Step is one scripted reply.
type Step struct {
	Response string
	Err      error
	Delay    time.Duration
}

// Scripted is a deterministic offline agent. Calls consume steps in order;
// once the script runs out the last step repeats. With no steps, the
// responder (OfflineReply by default) answers.
type Scripted struct {
	id        string
	mu        sync.Mutex
	steps     []Step
	calls     int
	responder func(Prompt) (string, error)
	delay     time.Duration
	probeErr  error
	probes    int
	prompts   []Prompt
}

// NewScripted creates a scripted agent.
func NewScripted(id string, steps ...Step) *Scripted {
	return &Scripted{
		id:        id,
		steps:     steps,
		responder: OfflineReply,
	}
}

// WithResponder replaces the reply function used when there are no steps.
func (s *Scripted) WithResponder(fn func(Prompt) (string, error)) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responder = fn
	return s
}

// WithDelay adds latency to every responder reply.
func (s *Scripted) WithDelay(d time.Duration) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
	return s
}

// SetProbeError sets what Probe returns.
func (s *Scripted) SetProbeError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probeErr = err
}

// ID returns the agent identifier.
func (s *Scripted) ID() string { return s.id }

// Invoke returns the next scripted reply, honoring ctx during the delay.
func (s *Scripted) Invoke(ctx context.Context, p Prompt) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, p)
	var step Step
	switch {
	case len(s.steps) == 0:
		resp, err := s.responder(p)
		step = Step{Response: resp, Err: err, Delay: s.delay}
	case s.calls < len(s.steps):
		step = s.steps[s.calls]
	default:
		step = s.steps[len(s.steps)-1]
	}
	s.calls++
	s.mu.Unlock()

	if step.Delay > 0 {
		timer := time.NewTimer(step.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if step.Err != nil {
		return "", step.Err
	}
	return step.Response, nil
}

// Probe returns the configured probe error.
func (s *Scripted) Probe(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probes++
	return s.probeErr
}

// Calls returns how many times Invoke ran.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Probes returns how many times Probe ran.
func (s *Scripted) Probes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.probes
}

// Prompts returns a copy of every prompt received.
func (s *Scripted) Prompts() []Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Prompt(nil), s.prompts...)
}

// OfflineReply answers in the structured reply format using the scene named
// in the prompt, so offline sessions exercise the same parser as live ones.
func OfflineReply(p Prompt) (string, error) {
	scene := "the area"
	for _, line := range strings.Split(p.User, "\n") {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(line), "Scene:"); ok {
			if name := strings.TrimSpace(strings.NewReplacer("_", " ", "-", " ").Replace(rest)); name != "" {
				scene = "the " + name
			}
			break
		}
	}

	var b strings.Builder
	b.WriteString("STORY_TEXT: Shadows lengthen across " + scene + ".\n")
	b.WriteString("INVESTIGATION_OPPORTUNITIES:\n")
	fmt.Fprintf(&b, "- Examine %s for anything out of place\n", scene)
	b.WriteString("- Listen for movement nearby\n")
	fmt.Fprintf(&b, "- Move carefully through %s\n", scene)
	b.WriteString("TENSION_CHANGE: uneasy\n")
	return b.String(), nil
}
