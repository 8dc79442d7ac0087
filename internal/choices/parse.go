package choices

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"eldritch/internal/logging"
	"eldritch/internal/narrative"
)

// Section headers of the structured agent reply.
const (
	sectionStory    = "STORY_TEXT"
	sectionChoices  = "INVESTIGATION_OPPORTUNITIES"
	sectionTension  = "TENSION_CHANGE"
	sectionThreads  = "STORY_THREADS"
	aiBasePriority  = 1.0
	aiPriorityDecay = 0.05
)

var (
	bulletLine   = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s?(.*)$`)
	markdownBold = strings.NewReplacer("**", "", "__", "")
)

// Response is a parsed agent reply.
type Response struct {
	StoryText string
	Items     []string
	Tension   string
	Threads   map[string]string

	// Structured is true when the reply used the section headers.
	Structured bool
}

// TensionLevel returns the parsed tension change, if it names a known level.
func (r Response) TensionLevel() (narrative.TensionLevel, bool) {
	if r.Tension == "" {
		return narrative.TensionCalm, false
	}
	level, err := narrative.ParseTension(r.Tension)
	return level, err == nil
}

// ParseResponse splits an agent reply into its sections. Replies without
// headers are read as a JSON string array or as a numbered/bulleted list.
// Items are returned raw; Candidates validates them.
func ParseResponse(raw string) Response {
	resp := Response{Threads: make(map[string]string)}

	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "[") {
		var items []string
		if err := json.Unmarshal([]byte(trimmed), &items); err == nil {
			resp.Items = items
			return resp
		}
	}

	section := ""
	var story []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)

		if header, rest, ok := splitHeader(line); ok {
			resp.Structured = true
			section = header
			switch header {
			case sectionStory:
				if rest != "" {
					story = append(story, rest)
				}
			case sectionTension:
				resp.Tension = rest
			}
			continue
		}

		switch section {
		case sectionStory:
			if line != "" {
				story = append(story, line)
			}
		case sectionChoices:
			if m := bulletLine.FindStringSubmatch(line); m != nil {
				resp.Items = append(resp.Items, m[1])
			}
		case sectionThreads:
			if m := bulletLine.FindStringSubmatch(line); m != nil {
				if name, status, ok := strings.Cut(m[1], ":"); ok && strings.TrimSpace(name) != "" {
					resp.Threads[strings.TrimSpace(name)] = strings.TrimSpace(status)
				}
			}
		}
	}
	resp.StoryText = strings.Join(story, " ")

	if !resp.Structured {
		for _, line := range strings.Split(raw, "\n") {
			if m := bulletLine.FindStringSubmatch(line); m != nil {
				resp.Items = append(resp.Items, m[1])
			}
		}
	}
	return resp
}

func splitHeader(line string) (header, rest string, ok bool) {
	for _, h := range []string{sectionStory, sectionChoices, sectionTension, sectionThreads} {
		if strings.HasPrefix(line, h+":") {
			return h, strings.TrimSpace(strings.TrimPrefix(line, h+":")), true
		}
	}
	return "", "", false
}

// Candidates converts the parsed items into AI choices. An empty batch, or
// any item that normalizes to nothing, makes the whole reply malformed.
func (r Response) Candidates(agentID string) ([]narrative.ChoiceCandidate, error) {
	if len(r.Items) == 0 {
		return nil, narrative.NewError(narrative.ClassMalformed, narrative.KindInvalidResponse, agentID,
			fmt.Errorf("no choices in agent output"))
	}

	out := make([]narrative.ChoiceCandidate, 0, len(r.Items))
	for i, item := range r.Items {
		text := narrative.NormalizeText(markdownBold.Replace(item))
		if text == "" {
			return nil, narrative.NewError(narrative.ClassMalformed, narrative.KindInvalidResponse, agentID,
				fmt.Errorf("choice %d is empty", i+1))
		}
		out = append(out, narrative.ChoiceCandidate{
			Text:     text,
			Source:   narrative.SourceAI,
			Category: narrative.ClassifyAction(text),
			Priority: aiBasePriority - aiPriorityDecay*float64(i),
		})
	}
	return out, nil
}

// ParseCandidates parses raw agent output straight into choices.
func ParseCandidates(raw, agentID string) ([]narrative.ChoiceCandidate, error) {
	cands, err := ParseResponse(raw).Candidates(agentID)
	if err != nil {
		return nil, err
	}
	logging.Choices("Parsed %d choices from %s", len(cands), agentID)
	return cands, nil
}
