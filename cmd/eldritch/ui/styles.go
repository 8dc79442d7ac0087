// Package ui renders pipeline results for the terminal.
package ui

import (
	"fmt"
	"strings"
	"time"

	"eldritch/internal/fallback"
	"eldritch/internal/health"
	"eldritch/internal/narrative"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

var (
	Bone      = lipgloss.Color("#e8e0cc")
	Ash       = lipgloss.Color("#7a7468")
	Verdigris = lipgloss.Color("#4f9a8b")
	Amber     = lipgloss.Color("#d4a017")
	Blood     = lipgloss.Color("#b3261e")
	Abyss     = lipgloss.Color("#6a4c93")
)

var (
	TitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(Bone)
	ChoiceStyle = lipgloss.NewStyle().Foreground(Bone).PaddingLeft(2)
	IndexStyle  = lipgloss.NewStyle().Foreground(Ash)
	MutedStyle  = lipgloss.NewStyle().Foreground(Ash).Italic(true)
	NoticeStyle = lipgloss.NewStyle().Foreground(Amber).Italic(true)
	BoxStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Ash).
			Padding(0, 1)
)

// TierColor is the badge color of a provenance.
func TierColor(tier narrative.Tier) lipgloss.Color {
	switch tier {
	case narrative.TierAI:
		return Verdigris
	case narrative.TierCache:
		return Abyss
	case narrative.TierTemplate:
		return Amber
	default:
		return Blood
	}
}

// StateColor is the color of a health state.
func StateColor(s health.State) lipgloss.Color {
	switch s {
	case health.StateHealthy:
		return Verdigris
	case health.StateSlowResponse:
		return Amber
	case health.StateUnavailable:
		return Blood
	default:
		return Abyss
	}
}

// Badge renders a provenance label.
func Badge(tier narrative.Tier) string {
	return lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#111111")).
		Background(TierColor(tier)).
		Padding(0, 1).
		Render(strings.ToUpper(string(tier)))
}

// RenderChoices renders a result as a numbered list with its provenance.
func RenderChoices(res fallback.Result) string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("What do you do?") + "  " + Badge(res.Provenance) + "\n\n")
	for i, c := range res.Candidates {
		b.WriteString(ChoiceStyle.Render(IndexStyle.Render(fmt.Sprintf("%d.", i+1)) + " " + c.Text))
		b.WriteString("\n")
	}
	if res.Message != "" {
		b.WriteString("\n" + NoticeStyle.Render(res.Message) + "\n")
	}
	return BoxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

// RenderTrace renders the tier attempts behind a result.
func RenderTrace(tr narrative.FallbackTrace) string {
	var b strings.Builder
	b.WriteString(MutedStyle.Render("fallback trace") + "\n")
	for _, e := range tr {
		outcome := lipgloss.NewStyle().Foreground(outcomeColor(e.Outcome)).Render(string(e.Outcome))
		line := fmt.Sprintf("  %-9s %s  %v", e.Tier, outcome, e.Elapsed.Round(time.Millisecond))
		if e.Detail != "" {
			line += "  " + MutedStyle.Render(e.Detail)
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func outcomeColor(o narrative.Outcome) lipgloss.Color {
	switch o {
	case narrative.OutcomeSuccess:
		return Verdigris
	case narrative.OutcomeMiss, narrative.OutcomeDisabled:
		return Ash
	default:
		return Blood
	}
}

// RenderHealth renders agent snapshots as a compact table.
func RenderHealth(snaps []health.Snapshot) string {
	if len(snaps) == 0 {
		return MutedStyle.Render("no agents observed")
	}
	var b strings.Builder
	for _, s := range snaps {
		state := lipgloss.NewStyle().Bold(true).Foreground(StateColor(s.State)).Render(fmt.Sprintf("%-14s", s.State))
		fmt.Fprintf(&b, "%-22s %s %8v  ok=%d fail=%d timeout=%d",
			s.AgentID, state, s.MeanLatency.Round(time.Millisecond), s.Successes, s.Failures, s.Timeouts)
		if s.LastErrorKind != "" {
			b.WriteString("  " + MutedStyle.Render(string(s.LastErrorKind)))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderMarkdown renders markdown with glamour, falling back to the raw text
// when the terminal renderer cannot be built.
func RenderMarkdown(md string, width int) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}
