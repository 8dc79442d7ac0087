package prompt

import (
	"fmt"
	"sort"
	"strings"

	"eldritch/internal/agent"
	"eldritch/internal/memory"
	"eldritch/internal/narrative"
)

// Role selects the system instruction and the slice of context an agent sees.
type Role string

const (
	RolePrimary    Role = "primary"
	RoleNarrative  Role = "narrative"
	RolePsychology Role = "character_psychology"
	RoleContinuity Role = "continuity"
	RoleRules      Role = "rules"
)

// Specialists lists the deep reasoning roles in fan-out order.
func Specialists() []Role {
	return []Role{RoleNarrative, RolePsychology, RoleContinuity, RoleRules}
}

// historyWindow is how many past choices a prompt carries.
const historyWindow = 5

type slice struct {
	scene, tension, condition, threads, flags, history bool
}

var roleSlices = map[Role]slice{
	RolePrimary:    {scene: true, tension: true, condition: true, threads: true, flags: true, history: true},
	RoleNarrative:  {scene: true, tension: true, threads: true},
	RolePsychology: {condition: true, tension: true},
	RoleContinuity: {history: true, flags: true, threads: true},
	RoleRules:      {condition: true, flags: true},
}

var systemPrompts = map[Role]string{
	RolePrimary: "You are the narrator of a solo investigation into cosmic horror. " +
		"Propose short, concrete actions the investigator could take next.",
	RoleNarrative: "You shape the pacing of a horror story. Propose actions that " +
		"advance the open story threads and fit the current dread.",
	RolePsychology: "You model the investigator's state of mind. Propose actions " +
		"a person in this mental and physical condition would plausibly take.",
	RoleContinuity: "You keep the story consistent. Propose actions that follow " +
		"from what the investigator already did and discovered.",
	RoleRules: "You know what the investigator can and cannot do. Propose actions " +
		"that are possible given their condition and the known facts.",
}

const replyFormat = `STORY_TEXT: <one or two sentences of atmosphere>
INVESTIGATION_OPPORTUNITIES:
- <action>
- <action>
- <action>
TENSION_CHANGE: <calm|uneasy|tense|terrifying|cosmic_horror>`

// System returns the system instruction for role. Unknown roles get the
// primary instruction.
func System(role Role) string {
	if s, ok := systemPrompts[role]; ok {
		return s
	}
	return systemPrompts[RolePrimary]
}

// ForRole builds the prompt for one agent from the turn context and the
// memories retrieved from its store.
func ForRole(role Role, nctx narrative.Context, cond narrative.CharacterCondition, memories []memory.Scored) agent.Prompt {
	sl, ok := roleSlices[role]
	if !ok {
		sl = roleSlices[RolePrimary]
	}

	a := NewAssembler()
	if sl.scene {
		a.Add(SectionScene, "Scene: "+nctx.SceneID, fmt.Sprintf("Turn: %d", nctx.TurnNumber))
	}
	if sl.tension {
		a.Add(SectionScene, "Tension: "+nctx.Tension.String())
	}
	if sl.condition {
		a.Add(SectionCondition, conditionLines(cond)...)
	}
	if sl.threads {
		a.Add(SectionThreads, threadLines(nctx.StoryThreads)...)
	}
	if sl.flags {
		a.Add(SectionFlags, flagLines(nctx.NarrativeFlags)...)
	}
	if sl.history {
		a.Add(SectionHistory, historyLines(nctx.ChoiceHistory)...)
	}
	for _, m := range memories {
		a.Add(SectionMemory, "- "+narrative.NormalizeText(m.Content))
	}
	a.Add(SectionFormat, replyFormat)

	return agent.Prompt{System: System(role), User: a.Assemble()}
}

func conditionLines(c narrative.CharacterCondition) []string {
	lines := []string{fmt.Sprintf("Sanity: %d (%.0f%%)", c.SanityCurrent, c.SanityRatio()*100)}
	if c.HitPointsMaximum > 0 {
		lines = append(lines, fmt.Sprintf("Hit points: %d/%d", c.HitPointsCurrent, c.HitPointsMaximum))
	}
	return lines
}

func threadLines(threads map[string]string) []string {
	names := make([]string, 0, len(threads))
	for name := range threads {
		if strings.TrimSpace(name) != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	lines := make([]string, 0, len(names))
	for _, name := range names {
		lines = append(lines, fmt.Sprintf("- %s: %s", name, threads[name]))
	}
	return lines
}

func flagLines(flags map[string]bool) []string {
	names := make([]string, 0, len(flags))
	for name, set := range flags {
		if set {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	lines := make([]string, 0, len(names))
	for _, name := range names {
		lines = append(lines, "- "+name)
	}
	return lines
}

func historyLines(history []string) []string {
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	lines := make([]string, 0, len(history))
	for _, h := range history {
		lines = append(lines, "- "+h)
	}
	return lines
}
