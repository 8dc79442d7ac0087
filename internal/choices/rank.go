package choices

import (
	"sort"

	"eldritch/internal/narrative"
)

// DefaultCap is the maximum number of choices shown to the player.
const DefaultCap = 5

// Rank merges candidate lists into one ordered result. Texts are
// normalized, empty texts dropped and duplicates (case-insensitive) removed
// with the first occurrence winning. The survivors are stably sorted by
// priority descending and truncated to limit.
func Rank(limit int, lists ...[]narrative.ChoiceCandidate) []narrative.ChoiceCandidate {
	if limit <= 0 {
		limit = DefaultCap
	}

	seen := make(map[string]bool)
	var merged []narrative.ChoiceCandidate
	for _, list := range lists {
		for _, c := range list {
			c.Text = narrative.NormalizeText(c.Text)
			if c.Text == "" {
				continue
			}
			key := narrative.DedupKey(c.Text)
			if seen[key] {
				continue
			}
			seen[key] = true
			if c.Category == "" {
				c.Category = narrative.ClassifyAction(c.Text)
			}
			merged = append(merged, c)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Priority > merged[j].Priority
	})

	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}
