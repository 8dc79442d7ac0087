package narrative

import (
	"regexp"
	"strings"
)

type actionPattern struct {
	category string
	patterns []*regexp.Regexp
}

// Checked in order; on equal match counts the earlier category wins.
var actionPatterns = []actionPattern{
	{CategoryInvestigate, compileAll(
		`\binvestigat\w*`, `\bexamin\w*`, `\bsearch\w*`, `\blook\w*`, `\binspect\w*`,
		`\bstud(y|ies|ied)\b`, `\banaly[sz]\w*`, `\bobserv\w*`, `\bcheck\w*`, `\bexplor\w*`,
		`조사`, `살펴`, `확인`, `찾`, `관찰`,
	)},
	{CategoryMovement, compileAll(
		`\bgo\b`, `\bgoes\b`, `\bmove\w*`, `\benter\w*`, `\bexit\w*`, `\bclimb\w*`,
		`\bdescend\w*`, `\bapproach\w*`, `\breturn\w*`, `\bfollow\w*`, `\bhead\b`, `\bproceed\w*`,
		`이동`, `들어`, `올라`, `내려`, `접근`,
	)},
	{CategoryInteract, compileAll(
		`\btalk\w*`, `\bspeak\w*`, `\bask\w*`, `\btell\w*`, `\bcommunicat\w*`,
		`\bquestion\w*`, `\brequest\w*`, `\bdiscuss\w*`, `\bconvers\w*`,
		`대화`, `질문`, `부탁`,
	)},
	{CategoryDialogue, compileAll(
		`"[^"]+"`, `\bsay\w*`, `\bshout\w*`, `\bwhisper\w*`,
	)},
}

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

// ClassifyAction maps a free-text action onto one of the investigate,
// movement, interact or dialogue categories, or general when nothing matches.
func ClassifyAction(text string) string {
	lower := strings.ToLower(text)
	best, bestScore := CategoryGeneral, 0
	for _, ap := range actionPatterns {
		score := 0
		for _, re := range ap.patterns {
			if re.MatchString(lower) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = ap.category, score
		}
	}
	return best
}
