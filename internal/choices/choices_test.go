package choices

import (
	"testing"

	"eldritch/internal/narrative"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthy() narrative.CharacterCondition {
	return narrative.CharacterCondition{SanityCurrent: 80, SanityMaximum: 100, HitPointsCurrent: 12, HitPointsMaximum: 12}
}

func TestRank_DedupCollapsesWhitespaceAndCase(t *testing.T) {
	got := Rank(5, []narrative.ChoiceCandidate{
		{Text: "search the room", Priority: 0.5},
		{Text: "Search the room  ", Priority: 0.9},
		{Text: "  ", Priority: 1},
	})
	require.Len(t, got, 1)
	assert.Equal(t, "search the room", got[0].Text)
	assert.Equal(t, 0.5, got[0].Priority, "first occurrence wins")
	assert.Equal(t, narrative.CategoryInvestigate, got[0].Category)
}

func TestRank_StableSortAndCap(t *testing.T) {
	in := []narrative.ChoiceCandidate{
		{Text: "a", Priority: 0.5},
		{Text: "b", Priority: 0.9},
		{Text: "c", Priority: 0.5},
		{Text: "d", Priority: 0.7},
		{Text: "e", Priority: 0.5},
		{Text: "f", Priority: 0.1},
	}
	got := Rank(4, in)
	assert.Equal(t, []string{"b", "d", "a", "c"}, narrative.Texts(got))
	assert.Len(t, Rank(0, in), DefaultCap)
}

func TestLocationOf(t *testing.T) {
	tests := map[string]string{
		"library_entrance":   LocationEntrance,
		"Living_Room":        LocationLivingRoom,
		"manor_kitchen":      LocationKitchen,
		"professor_study":    LocationStudy,
		"upstairs_corridor":  LocationUpstairs,
		"wet_cellar":         LocationBasement,
		"reading_room":       LocationIndoor,
		"miskatonic_library": LocationIndoor,
		"arkham_street":      LocationOutdoor,
		"dark_forest_path":   LocationOutdoor,
		"the_void":           LocationGeneral,
	}
	for scene, want := range tests {
		assert.Equal(t, want, LocationOf(scene), scene)
	}
}

func TestGenerate_CalmBaseline(t *testing.T) {
	g := NewGenerator(DefaultOptions())
	ctx := narrative.Context{SceneID: "professor_study", Tension: narrative.TensionCalm}

	got := g.Generate(ctx, healthy())
	require.Len(t, got, 4)
	assert.Equal(t, "Study the papers scattered on the desk", got[0].Text)
	for _, c := range got {
		assert.Equal(t, narrative.SourceTemplate, c.Source)
		assert.NotEqual(t, narrative.CategoryEscape, c.Category)
	}
}

func TestGenerate_TensionAdditions(t *testing.T) {
	g := NewGenerator(DefaultOptions())

	tense := g.Generate(narrative.Context{SceneID: "wet_cellar", Tension: narrative.TensionTense}, healthy())
	require.Len(t, tense, DefaultCap)
	assert.Equal(t, narrative.CategoryCaution, tense[0].Category)

	terrified := g.Generate(narrative.Context{SceneID: "wet_cellar", Tension: narrative.TensionTerrifying}, healthy())
	assert.Equal(t, narrative.CategoryEscape, terrified[0].Category)
	assert.Equal(t, escapeUrgentPriority, terrified[0].Priority)

	uneasy := g.Generate(narrative.Context{SceneID: "wet_cellar", Tension: narrative.TensionUneasy}, healthy())
	for _, c := range uneasy {
		assert.NotEqual(t, narrative.CategoryCaution, c.Category)
	}
}

func TestGenerate_LowConditionInjectsStabilize(t *testing.T) {
	g := NewGenerator(DefaultOptions())
	cond := narrative.CharacterCondition{SanityCurrent: 20, SanityMaximum: 100, HitPointsCurrent: 3, HitPointsMaximum: 12}

	got := g.Generate(narrative.Context{SceneID: "arkham_street", Tension: narrative.TensionCalm}, cond)
	require.GreaterOrEqual(t, len(got), 2)
	assert.Equal(t, narrative.CategoryStabilize, got[0].Category)
	assert.Equal(t, narrative.CategoryStabilize, got[1].Category)

	// Zero maximum means no HP data, so only the sanity choice applies.
	noHP := narrative.CharacterCondition{SanityCurrent: 30}
	got = g.Generate(narrative.Context{SceneID: "arkham_street"}, noHP)
	stabilize := 0
	for _, c := range got {
		if c.Category == narrative.CategoryStabilize {
			stabilize++
		}
	}
	assert.Equal(t, 1, stabilize)
}

func TestGenerate_StoryThreads(t *testing.T) {
	g := NewGenerator(DefaultOptions())
	ctx := narrative.Context{
		SceneID: "miskatonic_library",
		StoryThreads: map[string]string{
			"missing_professor": "active",
			"strange_symbols":   "new",
			"old_debt":          "resolved",
		},
	}

	story := g.StoryRelevant(ctx)
	assert.Equal(t, []string{"Follow up on the missing professor", "Look into the strange symbols"}, narrative.Texts(story))

	got := g.Generate(ctx, healthy())
	assert.Equal(t, narrative.CategoryStory, got[0].Category)
	assert.Equal(t, narrative.CategoryStory, got[1].Category)
	assert.Equal(t, narrative.CategoryInvestigate, got[2].Category)
}

func TestGenerate_Deterministic(t *testing.T) {
	g := NewGenerator(DefaultOptions())
	ctx := narrative.Context{
		SceneID:      "library_entrance",
		Tension:      narrative.TensionCosmicHorror,
		StoryThreads: map[string]string{"b": "active", "a": "active", "c": "active"},
	}
	cond := narrative.CharacterCondition{SanityCurrent: 10, SanityMaximum: 100}

	first := g.Generate(ctx, cond)
	for i := 0; i < 20; i++ {
		if diff := cmp.Diff(first, g.Generate(ctx, cond)); diff != "" {
			t.Fatalf("Generate is not deterministic (-first +again):\n%s", diff)
		}
	}
}

func TestGenerate_AllOutputsValid(t *testing.T) {
	g := NewGenerator(Options{Cap: 3})
	for scene := range map[string]bool{"library_entrance": true, "kitchen": true, "void": true, "garden": true} {
		for level := narrative.TensionCalm; level <= narrative.TensionCosmicHorror; level++ {
			got := g.Generate(narrative.Context{SceneID: scene, Tension: level}, healthy())
			require.NotEmpty(t, got)
			assert.LessOrEqual(t, len(got), 3)
			seen := map[string]bool{}
			for _, c := range got {
				assert.Equal(t, narrative.NormalizeText(c.Text), c.Text)
				assert.False(t, seen[narrative.DedupKey(c.Text)])
				seen[narrative.DedupKey(c.Text)] = true
			}
		}
	}
}

func TestParseResponse_Structured(t *testing.T) {
	raw := `STORY_TEXT: The lamp flickers.
Something moves between the shelves.
INVESTIGATION_OPPORTUNITIES:
- Examine the torn page
- Follow the sound toward the stacks
- Ask the librarian about the visitor
TENSION_CHANGE: terrified
STORY_THREADS:
- missing_professor: developing
- cult_symbols: new`

	resp := ParseResponse(raw)
	assert.True(t, resp.Structured)
	assert.Equal(t, "The lamp flickers. Something moves between the shelves.", resp.StoryText)
	assert.Equal(t, []string{"Examine the torn page", "Follow the sound toward the stacks", "Ask the librarian about the visitor"}, resp.Items)
	assert.Equal(t, map[string]string{"missing_professor": "developing", "cult_symbols": "new"}, resp.Threads)

	level, ok := resp.TensionLevel()
	assert.True(t, ok)
	assert.Equal(t, narrative.TensionTerrifying, level)

	cands, err := resp.Candidates("narrative")
	require.NoError(t, err)
	require.Len(t, cands, 3)
	assert.Equal(t, narrative.CategoryInvestigate, cands[0].Category)
	assert.Equal(t, narrative.CategoryMovement, cands[1].Category)
	assert.Equal(t, narrative.CategoryInteract, cands[2].Category)
	assert.Greater(t, cands[0].Priority, cands[2].Priority)
	assert.Equal(t, narrative.SourceAI, cands[0].Source)
}

func TestParseResponse_Lists(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"numbered", "Here are your options:\n1. Open the door\n2) **Light** a match\n", []string{"Open the door", "Light a match"}},
		{"bulleted", "* Run\n• Hide under the desk", []string{"Run", "Hide under the desk"}},
		{"json array", `["Pray", "Scream  into the void"]`, []string{"Pray", "Scream into the void"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cands, err := ParseCandidates(tt.raw, "primary")
			require.NoError(t, err)
			assert.Equal(t, tt.want, narrative.Texts(cands))
		})
	}
}

func TestParseResponse_Malformed(t *testing.T) {
	tests := map[string]string{
		"prose only":        "The night is dark and full of terrors.",
		"empty":             "",
		"headers no items":  "STORY_TEXT: hello\nTENSION_CHANGE: calm",
		"blank bullet":      "1. Open the door\n2.   \n",
		"empty json string": `["ok", "   "]`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCandidates(raw, "primary")
			require.Error(t, err)
			assert.Equal(t, narrative.ClassMalformed, narrative.ClassOf(err))
			assert.Equal(t, narrative.KindInvalidResponse, narrative.KindOf(err))
		})
	}
}
