// Package prompt assembles agent prompts from the narrative context, the
// agent's memories and its role.
package prompt

import (
	"strings"

	"eldritch/internal/logging"
)

// SectionKind orders prompt sections.
type SectionKind string

const (
	SectionScene     SectionKind = "scene"
	SectionCondition SectionKind = "condition"
	SectionThreads   SectionKind = "threads"
	SectionFlags     SectionKind = "flags"
	SectionHistory   SectionKind = "history"
	SectionMemory    SectionKind = "memory"
	SectionFormat    SectionKind = "format"
)

func defaultSectionOrder() []SectionKind {
	return []SectionKind{
		SectionScene,
		SectionCondition,
		SectionThreads,
		SectionFlags,
		SectionHistory,
		SectionMemory,
		SectionFormat,
	}
}

var sectionHeaders = map[SectionKind]string{
	SectionCondition: "Investigator condition",
	SectionThreads:   "Story threads",
	SectionFlags:     "Narrative flags",
	SectionHistory:   "Recent choices",
	SectionMemory:    "What you remember",
	SectionFormat:    "Reply format",
}

// DefaultMaxChars bounds an assembled user prompt.
const DefaultMaxChars = 6000

// Assembler collects sections and renders them in a fixed order.
type Assembler struct {
	sections         map[SectionKind][]string
	order            []SectionKind
	sectionSeparator string
	maxChars         int
}

// NewAssembler creates an assembler with the default order and limit.
func NewAssembler() *Assembler {
	return &Assembler{
		sections:         make(map[SectionKind][]string),
		order:            defaultSectionOrder(),
		sectionSeparator: "\n\n",
		maxChars:         DefaultMaxChars,
	}
}

// SetMaxChars overrides the length limit (0 disables it).
func (a *Assembler) SetMaxChars(n int) *Assembler {
	a.maxChars = n
	return a
}

// Add appends lines to a section. Blank lines are dropped.
func (a *Assembler) Add(kind SectionKind, lines ...string) *Assembler {
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			a.sections[kind] = append(a.sections[kind], l)
		}
	}
	return a
}

// Assemble renders the non-empty sections in order.
func (a *Assembler) Assemble() string {
	var parts []string
	for _, kind := range a.order {
		lines := a.sections[kind]
		if len(lines) == 0 {
			continue
		}
		body := strings.Join(lines, "\n")
		if header, ok := sectionHeaders[kind]; ok {
			body = header + ":\n" + body
		}
		parts = append(parts, body)
	}

	out := minifyWhitespace(strings.Join(parts, a.sectionSeparator))
	if a.maxChars > 0 {
		out = truncatePrompt(out, a.maxChars)
	}
	logging.Get(logging.CategoryAgent).Debug("Assembled prompt: %d sections, %d chars, ~%d tokens", len(parts), len(out), EstimateTokens(out))
	return out
}

// EstimateTokens is a rough 4-chars-per-token estimate.
func EstimateTokens(content string) int {
	return (len(content) + 3) / 4
}

// minifyWhitespace reduces excessive whitespace while preserving structure.
func minifyWhitespace(content string) string {
	for strings.Contains(content, "\n\n\n") {
		content = strings.ReplaceAll(content, "\n\n\n", "\n\n")
	}
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}

// truncatePrompt truncates content at a paragraph boundary when possible.
func truncatePrompt(content string, maxLen int) string {
	if len(content) <= maxLen {
		return content
	}
	truncated := content[:maxLen]
	if lastPara := strings.LastIndex(truncated, "\n\n"); lastPara > maxLen/2 {
		truncated = truncated[:lastPara]
	}
	return truncated + "\n\n[Context truncated]"
}
