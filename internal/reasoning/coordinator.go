// Package reasoning fans a complex turn out to specialist agents and
// synthesizes their suggestions into one ranked choice list.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"eldritch/internal/agent"
	"eldritch/internal/choices"
	"eldritch/internal/health"
	"eldritch/internal/logging"
	"eldritch/internal/memory"
	"eldritch/internal/narrative"
	"eldritch/internal/prompt"

	"golang.org/x/sync/errgroup"
)

const (
	// narrativeBoost lifts the narrative specialist above the others.
	narrativeBoost = 0.5

	// memoryLimit is how many memories go into each specialist prompt.
	memoryLimit = 5

	exchangeImportance = 5
	exchangeType       = "exchange"
)

// Options tune the coordinator.
type Options struct {
	Timeout          time.Duration
	TensionThreshold narrative.TensionLevel
	ThreadThreshold  int
	Cap              int
}

// DefaultOptions returns the stock settings.
func DefaultOptions() Options {
	return Options{
		Timeout:          15 * time.Second,
		TensionThreshold: narrative.TensionTense,
		ThreadThreshold:  2,
		Cap:              choices.DefaultCap,
	}
}

type specialist struct {
	role  prompt.Role
	agent agent.Agent
}

// Coordinator runs the specialist fan-out. It keeps no per-call state, so
// concurrent Reason calls are independent.
type Coordinator struct {
	specialists []specialist
	monitor     *health.Monitor
	memories    *memory.Registry
	opts        Options
}

// New creates a coordinator. specialists is keyed by role name; known roles
// run in their fixed order, unknown ones after them by name.
func New(specialists map[string]agent.Agent, monitor *health.Monitor, memories *memory.Registry, opts Options) *Coordinator {
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if !opts.TensionThreshold.Valid() {
		opts.TensionThreshold = def.TensionThreshold
	}
	if opts.ThreadThreshold <= 0 {
		opts.ThreadThreshold = def.ThreadThreshold
	}
	if opts.Cap <= 0 {
		opts.Cap = def.Cap
	}

	c := &Coordinator{monitor: monitor, memories: memories, opts: opts}
	seen := make(map[string]bool)
	for _, role := range prompt.Specialists() {
		if a, ok := specialists[string(role)]; ok && a != nil {
			c.specialists = append(c.specialists, specialist{role: role, agent: a})
			seen[string(role)] = true
		}
	}
	var extra []string
	for name, a := range specialists {
		if !seen[name] && a != nil {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		c.specialists = append(c.specialists, specialist{role: prompt.Role(name), agent: specialists[name]})
	}
	return c
}

// Specialists returns the agent IDs in fan-out order.
func (c *Coordinator) Specialists() []string {
	ids := make([]string, len(c.specialists))
	for i, s := range c.specialists {
		ids[i] = s.agent.ID()
	}
	return ids
}

// IsComplex reports whether a turn warrants the fan-out.
func (c *Coordinator) IsComplex(nctx narrative.Context) bool {
	return nctx.Tension >= c.opts.TensionThreshold ||
		len(nctx.ActiveThreads()) >= c.opts.ThreadThreshold
}

// Report describes one fan-out.
type Report struct {
	Candidates []narrative.ChoiceCandidate
	Responded  []string
	Failed     []string
	Abandoned  []string
	Skipped    []string
	Elapsed    time.Duration
}

// Reason runs the fan-out and returns the synthesized choices.
func (c *Coordinator) Reason(ctx context.Context, nctx narrative.Context, cond narrative.CharacterCondition) ([]narrative.ChoiceCandidate, error) {
	rep, err := c.Run(ctx, nctx, cond)
	return rep.Candidates, err
}

type reply struct {
	spec    specialist
	output  string
	err     error
	latency time.Duration
}

// Run fans out to every attemptable specialist, waits for all of them or the
// deadline, records their health and memories and synthesizes the replies.
// Replies that arrive after the deadline are dropped.
func (c *Coordinator) Run(ctx context.Context, nctx narrative.Context, cond narrative.CharacterCondition) (Report, error) {
	timer := logging.StartTimer(logging.CategoryReasoning, "deep reasoning")
	defer timer.StopWithThreshold(c.opts.Timeout / 2)

	var rep Report
	start := time.Now()

	if len(c.specialists) == 0 {
		return rep, narrative.NewError(narrative.ClassTransport, narrative.KindUnknown, "", fmt.Errorf("no specialists configured"))
	}

	dctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		closed  bool
		replies []reply
		pending = make(map[string]specialist)
	)

	keywords := nctx.Keywords()
	var eg errgroup.Group
	for _, s := range c.specialists {
		id := s.agent.ID()
		if c.monitor != nil && !c.monitor.ShouldAttempt(id) {
			logging.ReasoningWarn("Skipping %s: unavailable", id)
			rep.Skipped = append(rep.Skipped, id)
			continue
		}

		var mems []memory.Scored
		if c.memories != nil {
			mems = c.memories.Store(id).Relevant(keywords, memoryLimit)
		}
		p := prompt.ForRole(s.role, nctx, cond, mems)
		logging.ReasoningDebug("Dispatching %s with %d memories", id, len(mems))

		pending[id] = s
		eg.Go(func() error {
			began := time.Now()
			out, err := s.agent.Invoke(dctx, p)
			elapsed := time.Since(began)

			mu.Lock()
			defer mu.Unlock()
			if closed {
				logging.Audit().Specialist(id, elapsed, true, "")
				return nil
			}
			delete(pending, id)
			replies = append(replies, reply{spec: s, output: out, err: err, latency: elapsed})
			return nil
		})
	}

	if len(pending) == 0 {
		return rep, narrative.NewError(narrative.ClassUnavailable, narrative.KindUnknown, "", fmt.Errorf("all specialists unavailable"))
	}

	done := make(chan struct{})
	go func() {
		_ = eg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-dctx.Done():
	}

	mu.Lock()
	closed = true
	got := replies
	outstanding := make([]string, 0, len(pending))
	for id := range pending {
		outstanding = append(outstanding, id)
	}
	mu.Unlock()
	sort.Strings(outstanding)

	// A cancelled caller says nothing about the specialists' health.
	cancelled := errors.Is(ctx.Err(), context.Canceled)
	for _, id := range outstanding {
		logging.ReasoningWarn("Abandoning %s at deadline", id)
		if !cancelled {
			c.record(id, health.Timeout())
		}
		rep.Abandoned = append(rep.Abandoned, id)
	}

	order := make(map[prompt.Role]int, len(c.specialists))
	for i, s := range c.specialists {
		order[s.role] = i
	}
	sort.SliceStable(got, func(i, j int) bool { return order[got[i].spec.role] < order[got[j].spec.role] })

	parsed := make([]specialistChoices, 0, len(got))
	failKind := narrative.KindUnknown
	for _, r := range got {
		id := r.spec.agent.ID()
		if r.err != nil {
			kind := agent.Classify(r.err)
			if len(rep.Failed) == 0 {
				failKind = kind
			}
			switch {
			case cancelled:
			case kind == narrative.KindTimeout:
				c.record(id, health.Timeout())
			default:
				c.record(id, health.Failure(kind))
			}
			logging.Audit().Specialist(id, r.latency, false, r.err.Error())
			logging.ReasoningWarn("%s failed after %v: %v", id, r.latency, r.err)
			rep.Failed = append(rep.Failed, id)
			continue
		}

		rep.Responded = append(rep.Responded, id)
		cands, err := choices.ParseCandidates(r.output, id)
		if err != nil {
			c.record(id, health.Failure(narrative.KindInvalidResponse))
			logging.Audit().Specialist(id, r.latency, false, err.Error())
			logging.ReasoningWarn("%s returned unusable output: %v", id, err)
			continue
		}

		c.record(id, health.Success(r.latency))
		logging.Audit().Specialist(id, r.latency, false, "")
		c.remember(id, nctx, cands)
		parsed = append(parsed, specialistChoices{role: r.spec.role, candidates: cands})
	}

	rep.Elapsed = time.Since(start)
	if len(rep.Responded) == 0 {
		if len(rep.Failed) == 0 {
			failKind = narrative.KindTimeout
		}
		return rep, narrative.NewError(narrative.ClassTransport, failKind, "",
			fmt.Errorf("no specialist responded (%d failed, %d abandoned)", len(rep.Failed), len(rep.Abandoned)))
	}

	rep.Candidates = synthesize(parsed, c.opts.Cap)
	if len(rep.Candidates) == 0 {
		return rep, narrative.NewError(narrative.ClassMalformed, narrative.KindInvalidResponse, "",
			fmt.Errorf("specialists produced no usable choices"))
	}

	logging.Reasoning("Synthesized %d choices from %d specialists (%d failed, %d abandoned, %d skipped)",
		len(rep.Candidates), len(parsed), len(rep.Failed), len(rep.Abandoned), len(rep.Skipped))
	return rep, nil
}

func (c *Coordinator) record(agentID string, obs health.Observation) {
	if c.monitor != nil {
		c.monitor.RecordObservation(agentID, obs)
	}
}

func (c *Coordinator) remember(agentID string, nctx narrative.Context, cands []narrative.ChoiceCandidate) {
	if c.memories == nil {
		return
	}
	content := fmt.Sprintf("Turn %d in %s (%s): suggested %s",
		nctx.TurnNumber, nctx.SceneID, nctx.Tension, strings.Join(narrative.Texts(cands), "; "))
	c.memories.Store(agentID).Remember(content, exchangeType, exchangeImportance)
}

type specialistChoices struct {
	role       prompt.Role
	candidates []narrative.ChoiceCandidate
}

// synthesize puts the narrative specialist first with a priority boost.
// Other specialists contribute at most one choice per category, and only
// for texts and categories the narrative specialist did not already cover.
func synthesize(parsed []specialistChoices, limit int) []narrative.ChoiceCandidate {
	var lead []narrative.ChoiceCandidate
	coveredText := make(map[string]bool)
	coveredCategory := make(map[string]bool)

	for _, sc := range parsed {
		if sc.role != prompt.RoleNarrative {
			continue
		}
		for _, c := range sc.candidates {
			c.Priority += narrativeBoost
			lead = append(lead, c)
			coveredText[narrative.DedupKey(c.Text)] = true
			coveredCategory[c.Category] = true
		}
	}

	lists := [][]narrative.ChoiceCandidate{lead}
	for _, sc := range parsed {
		if sc.role == prompt.RoleNarrative {
			continue
		}
		perCategory := make(map[string]bool)
		var kept []narrative.ChoiceCandidate
		for _, c := range sc.candidates {
			if coveredText[narrative.DedupKey(c.Text)] || coveredCategory[c.Category] || perCategory[c.Category] {
				continue
			}
			perCategory[c.Category] = true
			kept = append(kept, c)
		}
		lists = append(lists, kept)
	}
	return choices.Rank(limit, lists...)
}
