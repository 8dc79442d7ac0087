package fallback

import (
	"fmt"
	"strings"
	"time"

	"eldritch/internal/agent"
	"eldritch/internal/health"
	"eldritch/internal/narrative"
)

// FeedbackMessage is the player-facing notice for a degraded turn. A healthy
// AI answer needs no notice.
func FeedbackMessage(prov narrative.Provenance, state health.State) string {
	switch prov {
	case narrative.TierAI:
		if state == health.StateSlowResponse {
			return "The storyteller is slow to answer tonight."
		}
		return ""
	case narrative.TierCache:
		return "The storyteller is unreachable. Recent suggestions are being reused."
	case narrative.TierTemplate:
		return "The storyteller is unavailable. Standard investigation options are offered instead."
	default:
		return "The storyteller has fallen silent. Only basic options are available."
	}
}

// Status is the AI system status report.
type Status struct {
	Primary        string                 `json:"primary,omitempty"`
	Agents         []health.Snapshot      `json:"agents"`
	Perf           map[string]agent.Stats `json:"perf,omitempty"`
	LastProvenance narrative.Provenance   `json:"last_provenance,omitempty"`
	LastAt         time.Time              `json:"last_at,omitempty"`
	Counts         map[narrative.Tier]int `json:"counts"`
	CacheEntries   int                    `json:"cache_entries"`
	Reasoning      bool                   `json:"reasoning"`
	Disabled       []narrative.Tier       `json:"disabled_tiers,omitempty"`
}

// Total returns the number of turns served.
func (s Status) Total() int {
	n := 0
	for _, c := range s.Counts {
		n += c
	}
	return n
}

// Status reports agent health, provenance counts and the last provenance.
func (c *Controller) Status() Status {
	s := c.Settings()
	st := Status{
		Primary:      c.PrimaryID(),
		Agents:       c.monitor.Snapshots(),
		CacheEntries: c.cache.Len(),
		Reasoning:    s.Reasoning && c.coordinator != nil,
		Disabled:     append([]narrative.Tier(nil), s.Disabled...),
		Counts:       make(map[narrative.Tier]int),
	}
	if r, ok := c.primary.(agent.StatsReporter); ok {
		st.Perf = map[string]agent.Stats{c.primary.ID(): r.Stats()}
	}

	c.statsMu.Lock()
	for tier, n := range c.counts {
		st.Counts[tier] = n
	}
	st.LastProvenance = c.last
	st.LastAt = c.lastAt
	c.statsMu.Unlock()
	return st
}

// Markdown renders the report for terminal display.
func (s Status) Markdown() string {
	var b strings.Builder
	b.WriteString("# AI system status\n\n")
	if s.Primary != "" {
		fmt.Fprintf(&b, "Primary agent: **%s**\n\n", s.Primary)
	} else {
		b.WriteString("Primary agent: *none configured*\n\n")
	}

	if len(s.Agents) > 0 {
		b.WriteString("| Agent | State | Mean latency | Errors in a row | Last error |\n")
		b.WriteString("|---|---|---|---|---|\n")
		for _, a := range s.Agents {
			lastErr := string(a.LastErrorKind)
			if lastErr == "" {
				lastErr = "-"
			}
			fmt.Fprintf(&b, "| %s | %s | %v | %d | %s |\n",
				a.AgentID, a.State, a.MeanLatency.Round(time.Millisecond), a.ConsecutiveErrors, lastErr)
		}
		b.WriteString("\n")
	} else {
		b.WriteString("No agent has been called yet.\n\n")
	}

	for id, p := range s.Perf {
		fmt.Fprintf(&b, "- `%s`: %d requests, %d errors, avg %v\n", id, p.Requests, p.Errors, p.AverageLatency.Round(time.Millisecond))
	}

	b.WriteString("\n## Turns served\n\n")
	for _, tier := range []narrative.Tier{narrative.TierAI, narrative.TierCache, narrative.TierTemplate, narrative.TierEmergency} {
		fmt.Fprintf(&b, "- %s: %d\n", tier, s.Counts[tier])
	}
	if s.LastProvenance != "" {
		fmt.Fprintf(&b, "\nLast turn served by **%s** at %s.\n", s.LastProvenance, s.LastAt.Format(time.RFC3339))
	}
	if len(s.Disabled) > 0 {
		fmt.Fprintf(&b, "\nDisabled tiers: %v\n", s.Disabled)
	}
	fmt.Fprintf(&b, "\nCached scenes: %d. Deep reasoning: %v.\n", s.CacheEntries, s.Reasoning)
	return b.String()
}
