// Package choices builds player choices without an agent: location and
// tension templates, story-thread hooks, the shared ranking pipeline and the
// parser for agent output.
package choices

import (
	"fmt"
	"strings"

	"eldritch/internal/logging"
	"eldritch/internal/narrative"
)

// Options tune the template generator.
type Options struct {
	Cap              int
	TensionThreshold narrative.TensionLevel
	LowSanityRatio   float64
	LowHealthRatio   float64
}

// DefaultOptions returns the stock thresholds.
func DefaultOptions() Options {
	return Options{
		Cap:              DefaultCap,
		TensionThreshold: narrative.TensionTense,
		LowSanityRatio:   0.4,
		LowHealthRatio:   0.4,
	}
}

// Generator produces template choices. It holds no mutable state, so one
// instance may be shared freely.
type Generator struct {
	opts Options
}

// NewGenerator creates a generator. A non-positive cap or ratio takes the
// default.
func NewGenerator(opts Options) *Generator {
	def := DefaultOptions()
	if opts.Cap <= 0 {
		opts.Cap = def.Cap
	}
	if !opts.TensionThreshold.Valid() {
		opts.TensionThreshold = def.TensionThreshold
	}
	if opts.LowSanityRatio <= 0 {
		opts.LowSanityRatio = def.LowSanityRatio
	}
	if opts.LowHealthRatio <= 0 {
		opts.LowHealthRatio = def.LowHealthRatio
	}
	return &Generator{opts: opts}
}

// Cap returns the configured result size.
func (g *Generator) Cap() int { return g.opts.Cap }

// Generate returns up to Cap ranked template choices for the turn. The
// result depends only on its inputs.
func (g *Generator) Generate(ctx narrative.Context, cond narrative.CharacterCondition) []narrative.ChoiceCandidate {
	location := LocationOf(ctx.SceneID)

	base := make([]narrative.ChoiceCandidate, 0, 4)
	for _, t := range locationTemplates[location] {
		base = append(base, t.candidate())
	}

	out := Rank(g.opts.Cap,
		base,
		g.tensionChoices(ctx.Tension),
		g.conditionChoices(cond),
		g.StoryRelevant(ctx),
	)
	logging.ChoicesDebug("Template choices for %s (location=%s tension=%s): %d", ctx.SceneID, location, ctx.Tension, len(out))
	return out
}

func (g *Generator) tensionChoices(level narrative.TensionLevel) []narrative.ChoiceCandidate {
	if level < g.opts.TensionThreshold {
		return nil
	}
	out := make([]narrative.ChoiceCandidate, 0, len(tensionTemplates))
	for _, t := range tensionTemplates {
		c := t.candidate()
		if c.Category == narrative.CategoryEscape && level >= narrative.TensionTerrifying {
			c.Priority = escapeUrgentPriority
		}
		out = append(out, c)
	}
	return out
}

func (g *Generator) conditionChoices(cond narrative.CharacterCondition) []narrative.ChoiceCandidate {
	var out []narrative.ChoiceCandidate
	if cond.SanityRatio() < g.opts.LowSanityRatio {
		out = append(out, stabilizeTemplates["sanity"].candidate())
	}
	if cond.HealthRatio() < g.opts.LowHealthRatio {
		out = append(out, stabilizeTemplates["health"].candidate())
	}
	return out
}

// StoryRelevant returns one choice per active story thread, ordered by
// thread name. These are blended into agent output.
func (g *Generator) StoryRelevant(ctx narrative.Context) []narrative.ChoiceCandidate {
	threads := ctx.ActiveThreads()
	out := make([]narrative.ChoiceCandidate, 0, len(threads))
	for _, name := range threads {
		status := strings.ToLower(strings.TrimSpace(ctx.StoryThreads[name]))
		label := humanize(name)
		if label == "" {
			continue
		}

		text := fmt.Sprintf("Follow up on the %s", label)
		if status == "new" || status == "discovered" {
			text = fmt.Sprintf("Look into the %s", label)
		}
		consequences := []string{"Story progress"}
		if status != "" {
			consequences = append(consequences, "Thread: "+status)
		}
		out = append(out, narrative.ChoiceCandidate{
			Text:         text,
			Source:       narrative.SourceTemplate,
			Category:     narrative.CategoryStory,
			Priority:     storyThreadPriority,
			Consequences: consequences,
		})
	}
	return out
}

func humanize(name string) string {
	return narrative.NormalizeText(strings.NewReplacer("_", " ", "-", " ").Replace(name))
}
