// Package fallback delivers player choices through the tier pipeline
// AI -> CACHE -> TEMPLATE -> EMERGENCY. GetChoices always returns a usable
// result; failures only show up as a degraded provenance.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"eldritch/internal/agent"
	"eldritch/internal/choices"
	"eldritch/internal/config"
	"eldritch/internal/health"
	"eldritch/internal/logging"
	"eldritch/internal/memory"
	"eldritch/internal/narrative"
	"eldritch/internal/prompt"
	"eldritch/internal/reasoning"

	"github.com/google/uuid"
)

const (
	memoryLimit  = 5
	exchangeType = "exchange"
)

// Settings are the reloadable knobs of the controller.
type Settings struct {
	Timeouts      config.TierTimeouts
	ProbeInterval time.Duration
	Disabled      []narrative.Tier
	Reasoning     bool
	Cap           int
}

// DefaultSettings returns the stock budgets with every tier enabled.
func DefaultSettings() Settings {
	return Settings{
		Timeouts:      config.DefaultTierTimeouts(),
		ProbeInterval: 30 * time.Second,
		Cap:           choices.DefaultCap,
	}
}

// SettingsFromConfig derives controller settings from a validated config.
func SettingsFromConfig(cfg *config.Config) Settings {
	s := Settings{
		Timeouts:      cfg.TierTimeouts(),
		ProbeInterval: cfg.GetProbeInterval(),
		Reasoning:     cfg.Reasoning.Enabled,
		Cap:           cfg.Choices.Cap,
	}
	for _, t := range config.ValidTiers {
		if cfg.IsTierDisabled(t) {
			s.Disabled = append(s.Disabled, narrative.Tier(t))
		}
	}
	return s
}

// IsDisabled reports whether tier is switched off. EMERGENCY never is.
func (s Settings) IsDisabled(tier narrative.Tier) bool {
	if tier == narrative.TierEmergency {
		return false
	}
	for _, t := range s.Disabled {
		if t == tier {
			return true
		}
	}
	return false
}

// Deps are the collaborators of a Controller. Only Primary may be nil, in
// which case the AI tier is skipped.
type Deps struct {
	Primary     agent.Agent
	Coordinator *reasoning.Coordinator
	Generator   *choices.Generator
	Monitor     *health.Monitor
	Memories    *memory.Registry
	Cache       *Cache
}

// Controller runs the tier pipeline.
type Controller struct {
	primary     agent.Agent
	coordinator *reasoning.Coordinator
	generator   *choices.Generator
	monitor     *health.Monitor
	memories    *memory.Registry
	cache       *Cache

	mu       sync.RWMutex
	settings Settings

	statsMu sync.Mutex
	counts  map[narrative.Tier]int
	last    narrative.Tier
	lastAt  time.Time
}

// New creates a controller. Missing collaborators get defaults.
func New(deps Deps, s Settings) *Controller {
	if deps.Generator == nil {
		deps.Generator = choices.NewGenerator(choices.DefaultOptions())
	}
	if deps.Monitor == nil {
		deps.Monitor = health.NewMonitor(health.DefaultWindow, health.DefaultSlowThreshold)
	}
	if deps.Memories == nil {
		deps.Memories = memory.NewRegistry(1000)
	}
	if deps.Cache == nil {
		deps.Cache = NewCache(DefaultCacheTTL, DefaultCacheCapacity, nil)
	}
	if s.Cap <= 0 {
		s.Cap = choices.DefaultCap
	}
	return &Controller{
		primary:     deps.Primary,
		coordinator: deps.Coordinator,
		generator:   deps.Generator,
		monitor:     deps.Monitor,
		memories:    deps.Memories,
		cache:       deps.Cache,
		settings:    s,
		counts:      make(map[narrative.Tier]int),
	}
}

// Settings returns the current settings.
func (c *Controller) Settings() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

// ApplyConfig swaps in settings from a reloaded config. Calls already in
// flight keep the settings they started with.
func (c *Controller) ApplyConfig(cfg *config.Config) {
	s := SettingsFromConfig(cfg)
	if s.Cap <= 0 {
		s.Cap = choices.DefaultCap
	}
	c.mu.Lock()
	c.settings = s
	c.mu.Unlock()
	logging.Fallback("Settings reloaded: ai=%v cache=%v disabled=%v reasoning=%v",
		s.Timeouts.AI, s.Timeouts.Cache, s.Disabled, s.Reasoning)
}

// Monitor returns the health monitor the controller records into.
func (c *Controller) Monitor() *health.Monitor { return c.monitor }

// Memories returns the per-agent memory registry.
func (c *Controller) Memories() *memory.Registry { return c.memories }

// PrimaryID returns the primary agent ID, or "" without one.
func (c *Controller) PrimaryID() string {
	if c.primary == nil {
		return ""
	}
	return c.primary.ID()
}

// Result is what the display collaborator receives for a turn.
type Result struct {
	RequestID  string                      `json:"request_id"`
	Candidates []narrative.ChoiceCandidate `json:"choices"`
	Provenance narrative.Provenance        `json:"provenance"`
	Health     health.Snapshot             `json:"health"`
	Trace      narrative.FallbackTrace     `json:"trace"`
	Message    string                      `json:"message,omitempty"`
}

// Texts returns the choice texts in display order.
func (r Result) Texts() []string {
	return narrative.Texts(r.Candidates)
}

// GetChoices returns between one and Cap unique choices for the turn. It
// never fails: each tier that cannot answer is traced and the next one is
// tried, ending at the fixed emergency choices.
func (c *Controller) GetChoices(ctx context.Context, nctx narrative.Context, cond narrative.CharacterCondition) Result {
	res := Result{RequestID: uuid.NewString()}
	log := logging.WithRequestID(logging.CategoryFallback, res.RequestID)
	audit := logging.AuditWithRequest(res.RequestID)
	audit.Log(logging.AuditEvent{
		EventType: logging.AuditChoicesRequest,
		Target:    nctx.SceneID,
		Success:   true,
		Message:   fmt.Sprintf("turn %d tension %s", nctx.TurnNumber, nctx.Tension),
	})

	s := c.Settings()
	start := time.Now()

	trace := func(tier narrative.Tier, outcome narrative.Outcome, elapsed time.Duration, detail string) {
		res.Trace = append(res.Trace, narrative.TraceEntry{Tier: tier, Outcome: outcome, Elapsed: elapsed, Detail: detail})
		audit.TierAttempt(string(tier), string(outcome), elapsed, detail)
		if outcome == narrative.OutcomeSuccess {
			log.Debug("tier %s answered in %v", tier, elapsed)
		} else {
			log.Warn("tier %s: %s (%s)", tier, outcome, detail)
		}
	}

	if err := nctx.Validate(); err != nil {
		for _, tier := range []narrative.Tier{narrative.TierAI, narrative.TierCache, narrative.TierTemplate} {
			trace(tier, narrative.OutcomeInvalid, 0, err.Error())
		}
		trace(narrative.TierEmergency, narrative.OutcomeSuccess, 0, "")
		return c.finish(res, narrative.TierEmergency, Emergency(), start)
	}

	for _, tier := range []narrative.Tier{narrative.TierAI, narrative.TierCache, narrative.TierTemplate} {
		if s.IsDisabled(tier) {
			trace(tier, narrative.OutcomeDisabled, 0, "disabled by config")
			continue
		}

		began := time.Now()
		var (
			cands   []narrative.ChoiceCandidate
			outcome narrative.Outcome
			detail  string
		)
		switch tier {
		case narrative.TierAI:
			cands, outcome, detail = c.tryAI(ctx, nctx, cond, s)
		case narrative.TierCache:
			cands, outcome, detail = c.tryCache(ctx, nctx, s)
		case narrative.TierTemplate:
			cands, outcome, detail = c.tryTemplate(nctx, cond)
		}
		trace(tier, outcome, time.Since(began), detail)
		if outcome == narrative.OutcomeSuccess && len(cands) > 0 {
			return c.finish(res, tier, cands, start)
		}
	}

	trace(narrative.TierEmergency, narrative.OutcomeSuccess, 0, "")
	return c.finish(res, narrative.TierEmergency, Emergency(), start)
}

func (c *Controller) finish(res Result, tier narrative.Tier, cands []narrative.ChoiceCandidate, start time.Time) Result {
	res.Candidates = cands
	res.Provenance = tier
	if id := c.PrimaryID(); id != "" {
		res.Health = c.monitor.Snapshot(id)
	} else {
		res.Health = health.Snapshot{State: health.StateUnavailable}
	}
	res.Message = FeedbackMessage(tier, res.Health.State)

	c.statsMu.Lock()
	c.counts[tier]++
	c.last = tier
	c.lastAt = time.Now()
	c.statsMu.Unlock()

	elapsed := time.Since(start)
	logging.AuditWithRequest(res.RequestID).Log(logging.AuditEvent{
		EventType:  logging.AuditChoicesResult,
		Target:     string(tier),
		Success:    tier == narrative.TierAI,
		DurationMs: elapsed.Milliseconds(),
		Message:    strings.Join(res.Texts(), " | "),
	})
	logging.Get(logging.CategoryFallback).StructuredLog(levelFor(tier), "turn served", map[string]interface{}{
		"request_id": res.RequestID,
		"provenance": string(tier),
		"choices":    len(cands),
		"attempts":   len(res.Trace),
		"health":     string(res.Health.State),
		"elapsed_ms": elapsed.Milliseconds(),
	})
	if tier == narrative.TierAI {
		logging.Fallback("[%s] %d choices from %s in %v", res.RequestID, len(cands), tier, elapsed)
	} else {
		logging.FallbackWarn("[%s] %d choices from %s in %v after %d tier attempts", res.RequestID, len(cands), tier, elapsed, len(res.Trace))
	}
	return res
}

func (c *Controller) tryAI(ctx context.Context, nctx narrative.Context, cond narrative.CharacterCondition, s Settings) ([]narrative.ChoiceCandidate, narrative.Outcome, string) {
	if c.primary == nil {
		return nil, narrative.OutcomeDisabled, "no primary agent configured"
	}

	id := c.primary.ID()
	if !c.monitor.ShouldAttempt(id) && !c.probe(ctx, id, s) {
		err := narrative.NewError(narrative.ClassUnavailable, c.monitor.Snapshot(id).LastErrorKind, id, errors.New("agent marked unavailable"))
		return nil, narrative.OutcomeUnavailable, err.Error()
	}

	actx, cancel := context.WithTimeout(ctx, s.Timeouts.AI)
	defer cancel()

	if s.Reasoning && c.coordinator != nil && c.coordinator.IsComplex(nctx) {
		return c.tryReasoning(ctx, actx, id, nctx, cond, s)
	}

	mems := c.memories.Store(id).Relevant(nctx.Keywords(), memoryLimit)
	inv := invoke(actx, c.primary, prompt.ForRole(prompt.RolePrimary, nctx, cond, mems))

	if inv.err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, narrative.OutcomeFailure, "request cancelled"
		}
		werr := agent.Wrap(id, inv.err)
		kind := narrative.KindOf(werr)
		if kind == narrative.KindTimeout {
			c.monitor.RecordObservation(id, health.Timeout())
			return nil, narrative.OutcomeTimeout, werr.Error()
		}
		c.monitor.RecordObservation(id, health.Failure(kind))
		return nil, outcomeOf(werr), werr.Error()
	}

	cands, err := choices.ParseCandidates(inv.out, id)
	if err != nil {
		c.monitor.RecordObservation(id, health.Failure(narrative.KindInvalidResponse))
		return nil, narrative.OutcomeMalformed, err.Error()
	}

	c.monitor.RecordObservation(id, health.Success(inv.latency))
	c.memories.Store(id).Remember(
		fmt.Sprintf("Turn %d in %s (%s): offered %s", nctx.TurnNumber, nctx.SceneID, nctx.Tension, strings.Join(narrative.Texts(cands), "; ")),
		exchangeType, -1)
	c.cache.Put(nctx, cands)
	return c.blend(nctx, cands, s), narrative.OutcomeSuccess, ""
}

// tryReasoning runs the specialist fan-out on behalf of the primary agent.
// Its outcome is recorded against the primary so the AI tier health reflects
// complex turns too.
func (c *Controller) tryReasoning(ctx, actx context.Context, id string, nctx narrative.Context, cond narrative.CharacterCondition, s Settings) ([]narrative.ChoiceCandidate, narrative.Outcome, string) {
	start := time.Now()
	cands, err := c.coordinator.Reason(actx, nctx, cond)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, narrative.OutcomeFailure, "request cancelled"
		}
		switch kind := narrative.KindOf(err); {
		case narrative.ClassOf(err) == narrative.ClassMalformed:
			c.monitor.RecordObservation(id, health.Failure(narrative.KindInvalidResponse))
		case kind == narrative.KindTimeout:
			c.monitor.RecordObservation(id, health.Timeout())
		default:
			c.monitor.RecordObservation(id, health.Failure(kind))
		}
		return nil, outcomeOf(err), err.Error()
	}

	c.monitor.RecordObservation(id, health.Success(time.Since(start)))
	c.cache.Put(nctx, cands)
	return c.blend(nctx, cands, s), narrative.OutcomeSuccess, "deep reasoning"
}

type invocation struct {
	out     string
	err     error
	latency time.Duration
}

// invoke runs the call in its own goroutine so a slow agent is abandoned at
// the deadline even if it ignores ctx. A late reply lands in the buffered
// channel and is dropped.
func invoke(ctx context.Context, a agent.Agent, p agent.Prompt) invocation {
	ch := make(chan invocation, 1)
	start := time.Now()
	go func() {
		out, err := a.Invoke(ctx, p)
		ch <- invocation{out: out, err: err, latency: time.Since(start)}
	}()

	select {
	case inv := <-ch:
		return inv
	case <-ctx.Done():
		return invocation{err: ctx.Err(), latency: time.Since(start)}
	}
}

// probe checks an UNAVAILABLE agent at most once per probe interval. A
// passing probe counts as a success so the agent gets another chance.
func (c *Controller) probe(ctx context.Context, id string, s Settings) bool {
	p, ok := c.primary.(agent.Prober)
	if !ok {
		return false
	}
	if since, seen := c.monitor.SinceLastObservation(id); seen && since < s.ProbeInterval {
		return false
	}

	pctx, cancel := context.WithTimeout(ctx, s.Timeouts.Probe)
	defer cancel()

	start := time.Now()
	if err := p.Probe(pctx); err != nil {
		if kind := agent.Classify(err); kind == narrative.KindTimeout {
			c.monitor.RecordObservation(id, health.Timeout())
		} else {
			c.monitor.RecordObservation(id, health.Failure(kind))
		}
		logging.FallbackWarn("Recovery probe of %s failed: %v", id, err)
		return false
	}
	c.monitor.RecordObservation(id, health.Success(time.Since(start)))
	logging.Fallback("Recovery probe of %s passed", id)
	return true
}

func (c *Controller) tryCache(ctx context.Context, nctx narrative.Context, s Settings) ([]narrative.ChoiceCandidate, narrative.Outcome, string) {
	cctx, cancel := context.WithTimeout(ctx, s.Timeouts.Cache)
	defer cancel()

	cands, err := c.cache.Get(cctx, nctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, narrative.OutcomeTimeout, err.Error()
		}
		logging.FallbackDebug("Cache miss for %s: %v", CacheKey(nctx), err)
		return nil, narrative.OutcomeMiss, err.Error()
	}
	logging.FallbackDebug("Cache hit for %s: %d choices", CacheKey(nctx), len(cands))
	return c.blend(nctx, cands, s), narrative.OutcomeSuccess, CacheKey(nctx)
}

func (c *Controller) tryTemplate(nctx narrative.Context, cond narrative.CharacterCondition) ([]narrative.ChoiceCandidate, narrative.Outcome, string) {
	cands := c.generator.Generate(nctx, cond)
	if len(cands) == 0 {
		return nil, narrative.OutcomeFailure, "no template matched"
	}
	return cands, narrative.OutcomeSuccess, choices.LocationOf(nctx.SceneID)
}

// blend merges agent choices with the story-thread templates.
func (c *Controller) blend(nctx narrative.Context, cands []narrative.ChoiceCandidate, s Settings) []narrative.ChoiceCandidate {
	return choices.Rank(s.Cap, cands, c.generator.StoryRelevant(nctx))
}

// levelFor logs degraded provenances at warn.
func levelFor(tier narrative.Tier) string {
	if tier == narrative.TierAI {
		return "info"
	}
	return "warn"
}

func outcomeOf(err error) narrative.Outcome {
	switch narrative.ClassOf(err) {
	case narrative.ClassMalformed:
		return narrative.OutcomeMalformed
	case narrative.ClassUnavailable:
		return narrative.OutcomeUnavailable
	}
	if narrative.KindOf(err) == narrative.KindTimeout {
		return narrative.OutcomeTimeout
	}
	return narrative.OutcomeFailure
}
