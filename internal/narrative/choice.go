package narrative

import (
	"strings"
	"time"
)

// Source identifies where a candidate came from.
type Source string

const (
	SourceAI        Source = "ai"
	SourceTemplate  Source = "template"
	SourceEmergency Source = "emergency"
)

// Choice categories. Agents may emit other tags; these are the ones the
// generators produce.
const (
	CategoryInvestigate = "investigate"
	CategoryMovement    = "movement"
	CategoryInteract    = "interact"
	CategoryDialogue    = "dialogue"
	CategoryCaution     = "caution"
	CategoryEscape      = "escape"
	CategoryCalm        = "calm"
	CategoryStabilize   = "stabilize"
	CategoryStory       = "story"
	CategoryGeneral     = "general"
)

// ChoiceCandidate is one proposed player action. Values are copied, never
// mutated after construction.
type ChoiceCandidate struct {
	Text         string   `json:"text"`
	Source       Source   `json:"source"`
	Category     string   `json:"category"`
	Priority     float64  `json:"priority"`
	Consequences []string `json:"consequences,omitempty"`
}

// NormalizeText trims and collapses internal whitespace, keeping case.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// DedupKey is the comparison form of a choice text.
func DedupKey(s string) string {
	return strings.ToLower(NormalizeText(s))
}

// Texts returns the display texts of cs in order.
func Texts(cs []ChoiceCandidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Text
	}
	return out
}

// Tier names the stages of the fallback pipeline.
type Tier string

const (
	TierAI        Tier = "ai"
	TierCache     Tier = "cache"
	TierTemplate  Tier = "template"
	TierEmergency Tier = "emergency"
)

// Provenance tags which tier produced a result.
type Provenance = Tier

// Outcome is the result of one tier attempt.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeFailure     Outcome = "failure"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeMalformed   Outcome = "malformed"
	OutcomeUnavailable Outcome = "unavailable"
	OutcomeInvalid     Outcome = "validation_failure"
	OutcomeMiss        Outcome = "miss"
	OutcomeDisabled    Outcome = "disabled"
)

// TraceEntry records one tier attempt.
type TraceEntry struct {
	Tier    Tier          `json:"tier"`
	Outcome Outcome       `json:"outcome"`
	Elapsed time.Duration `json:"elapsed_ns"`
	Detail  string        `json:"detail,omitempty"`
}

// FallbackTrace is the ordered list of tier attempts behind a result.
type FallbackTrace []TraceEntry

// Tiers returns the tier names in the order they were attempted.
func (t FallbackTrace) Tiers() []Tier {
	out := make([]Tier, len(t))
	for i, e := range t {
		out[i] = e.Tier
	}
	return out
}

// Last returns the final entry, if any.
func (t FallbackTrace) Last() (TraceEntry, bool) {
	if len(t) == 0 {
		return TraceEntry{}, false
	}
	return t[len(t)-1], true
}
