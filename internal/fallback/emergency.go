package fallback

import "eldritch/internal/narrative"

var emergencyTexts = [...]string{
	"Observe the surroundings carefully",
	"Proceed cautiously",
	"Look for useful clues",
}

// Emergency returns the fixed last-resort choices. It cannot fail and does
// not look at the turn.
func Emergency() []narrative.ChoiceCandidate {
	out := make([]narrative.ChoiceCandidate, len(emergencyTexts))
	for i, text := range emergencyTexts {
		out[i] = narrative.ChoiceCandidate{
			Text:     text,
			Source:   narrative.SourceEmergency,
			Category: narrative.ClassifyAction(text),
			Priority: 0.5 - 0.1*float64(i),
		}
	}
	return out
}
