// Package narrative holds the domain types shared by every stage of the
// choice pipeline: the per-turn context, the character snapshot, candidate
// choices, the fallback trace and the error taxonomy.
package narrative

import (
	"fmt"
	"sort"
	"strings"
)

// TensionLevel is the ordered dread scale of a scene.
type TensionLevel int

const (
	TensionCalm TensionLevel = iota
	TensionUneasy
	TensionTense
	TensionTerrifying
	TensionCosmicHorror
)

var tensionNames = map[TensionLevel]string{
	TensionCalm:         "calm",
	TensionUneasy:       "uneasy",
	TensionTense:        "tense",
	TensionTerrifying:   "terrifying",
	TensionCosmicHorror: "cosmic_horror",
}

// String returns the wire name of the level.
func (t TensionLevel) String() string {
	if name, ok := tensionNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tension(%d)", int(t))
}

// Valid reports whether t is a known level.
func (t TensionLevel) Valid() bool {
	_, ok := tensionNames[t]
	return ok
}

// ParseTension converts a wire name ("tense", "TERRIFIED", "cosmic horror")
// into a TensionLevel.
func ParseTension(s string) (TensionLevel, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.ReplaceAll(key, " ", "_")
	if key == "terrified" {
		key = "terrifying"
	}
	for level, name := range tensionNames {
		if name == key {
			return level, nil
		}
	}
	return TensionCalm, fmt.Errorf("unknown tension level %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t TensionLevel) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid tension level %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *TensionLevel) UnmarshalText(b []byte) error {
	level, err := ParseTension(string(b))
	if err != nil {
		return err
	}
	*t = level
	return nil
}

// CharacterCondition is the sanity/health snapshot of the investigator.
type CharacterCondition struct {
	SanityCurrent    int `json:"sanity_current" yaml:"sanity_current"`
	SanityMaximum    int `json:"sanity_maximum,omitempty" yaml:"sanity_maximum,omitempty"`
	HitPointsCurrent int `json:"hit_points_current" yaml:"hit_points_current"`
	HitPointsMaximum int `json:"hit_points_maximum" yaml:"hit_points_maximum"`
}

// SanityRatio returns current/maximum sanity in [0,1]. A missing maximum is
// read as the 100-point scale.
func (c CharacterCondition) SanityRatio() float64 {
	maximum := c.SanityMaximum
	if maximum <= 0 {
		maximum = 100
	}
	return clampRatio(float64(c.SanityCurrent) / float64(maximum))
}

// HealthRatio returns current/maximum hit points in [0,1]. Without a maximum
// the character is treated as unhurt.
func (c CharacterCondition) HealthRatio() float64 {
	if c.HitPointsMaximum <= 0 {
		return 1
	}
	return clampRatio(float64(c.HitPointsCurrent) / float64(c.HitPointsMaximum))
}

func clampRatio(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Context is everything the pipeline knows about the current turn. Callers
// build a fresh value per call and must not mutate it afterwards.
type Context struct {
	SceneID        string             `json:"scene_id"`
	TurnNumber     int                `json:"turn_number"`
	Tension        TensionLevel       `json:"tension_level"`
	Condition      CharacterCondition `json:"character_condition"`
	StoryThreads   map[string]string  `json:"story_threads,omitempty"`
	NarrativeFlags map[string]bool    `json:"narrative_flags,omitempty"`
	ChoiceHistory  []string           `json:"choice_history,omitempty"`
}

// Validate checks the fields every tier relies on.
func (c Context) Validate() error {
	if strings.TrimSpace(c.SceneID) == "" {
		return NewError(ClassValidation, KindUnknown, "", fmt.Errorf("scene_id is required"))
	}
	if c.TurnNumber < 0 {
		return NewError(ClassValidation, KindUnknown, "", fmt.Errorf("turn_number must be >= 0, got %d", c.TurnNumber))
	}
	if !c.Tension.Valid() {
		return NewError(ClassValidation, KindUnknown, "", fmt.Errorf("invalid tension level %d", int(c.Tension)))
	}
	return nil
}

var resolvedStatuses = map[string]bool{
	"resolved":  true,
	"closed":    true,
	"completed": true,
	"done":      true,
	"abandoned": true,
}

// ActiveThreads returns the names of unresolved story threads, sorted.
func (c Context) ActiveThreads() []string {
	threads := make([]string, 0, len(c.StoryThreads))
	for name, status := range c.StoryThreads {
		if strings.TrimSpace(name) == "" {
			continue
		}
		if resolvedStatuses[strings.ToLower(strings.TrimSpace(status))] {
			continue
		}
		threads = append(threads, name)
	}
	sort.Strings(threads)
	return threads
}

// Keywords extracts lookup terms for memory relevance: scene id fragments,
// active thread words and the words of the most recent choice.
func (c Context) Keywords() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(raw string) {
		for _, w := range strings.FieldsFunc(strings.ToLower(raw), splitWord) {
			if len(w) < 3 || stopWords[w] || isNumeric(w) || seen[w] {
				continue
			}
			seen[w] = true
			out = append(out, w)
		}
	}

	add(c.SceneID)
	for _, t := range c.ActiveThreads() {
		add(t)
	}
	if n := len(c.ChoiceHistory); n > 0 {
		add(c.ChoiceHistory[n-1])
	}
	return out
}

func splitWord(r rune) bool {
	return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "scene": true,
	"into": true, "from": true, "that": true, "this": true, "your": true,
}
