package config

import "time"

// TierTimeouts centralizes the per-tier budgets of the fallback pipeline.
//
// The shortest timeout in the chain wins: an agent HTTP client with a 60s
// ceiling wrapped in the 15s AI tier context fails after 15s.
type TierTimeouts struct {
	// AI is the budget for one primary agent call or one deep reasoning fan-out.
	AI time.Duration

	// Cache is the budget for the response cache lookup.
	Cache time.Duration

	// Reasoning is the per-specialist deadline inside a fan-out.
	Reasoning time.Duration

	// Probe bounds a recovery health probe against an UNAVAILABLE agent.
	Probe time.Duration
}

// DefaultTierTimeouts returns the documented defaults.
func DefaultTierTimeouts() TierTimeouts {
	return TierTimeouts{
		AI:        15 * time.Second,
		Cache:     1 * time.Second,
		Reasoning: 15 * time.Second,
		Probe:     2 * time.Second,
	}
}

// TierTimeouts derives tier budgets from the config, using defaults for
// missing or unparsable values.
func (c *Config) TierTimeouts() TierTimeouts {
	def := DefaultTierTimeouts()
	return TierTimeouts{
		AI:        parseDurationOr(c.Fallback.AITimeout, def.AI),
		Cache:     parseDurationOr(c.Fallback.CacheTimeout, def.Cache),
		Reasoning: parseDurationOr(c.Reasoning.Timeout, def.Reasoning),
		Probe:     def.Probe,
	}
}
