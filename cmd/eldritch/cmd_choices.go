package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"eldritch/cmd/eldritch/ui"
	"eldritch/internal/narrative"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var (
	sceneID     string
	turnNumber  int
	tensionFlag string
	sanity      int
	sanityMax   int
	hitPoints   int
	hitPointMax int
	threads     map[string]string
	flags       []string
	history     []string
	contextFile string
	jsonOutput  bool
	showTrace   bool
)

var choicesCmd = &cobra.Command{
	Use:   "choices",
	Short: "Propose choices for the current turn",
	Long: `Runs one turn through the fallback pipeline and prints the proposed choices.

The turn is described either by flags or by a YAML/JSON context file:

  eldritch choices --scene library --turn 4 --tension tense --sanity 35 \
      --thread "missing_professor=active" --history "Read the diary"

  eldritch choices --context-file turn.yaml --trace`,
	RunE: runChoices,
}

func init() {
	choicesCmd.Flags().StringVar(&sceneID, "scene", "", "Scene identifier")
	choicesCmd.Flags().IntVar(&turnNumber, "turn", 0, "Turn number")
	choicesCmd.Flags().StringVar(&tensionFlag, "tension", "calm", "Tension level (calm, uneasy, tense, terrifying, cosmic_horror)")
	choicesCmd.Flags().IntVar(&sanity, "sanity", 50, "Current sanity")
	choicesCmd.Flags().IntVar(&sanityMax, "sanity-max", 0, "Maximum sanity (0 = 100-point scale)")
	choicesCmd.Flags().IntVar(&hitPoints, "hp", 10, "Current hit points")
	choicesCmd.Flags().IntVar(&hitPointMax, "hp-max", 10, "Maximum hit points")
	choicesCmd.Flags().StringToStringVar(&threads, "thread", nil, "Story thread as name=status (repeatable)")
	choicesCmd.Flags().StringSliceVar(&flags, "flag", nil, "Narrative flag that is set (repeatable)")
	choicesCmd.Flags().StringArrayVar(&history, "history", nil, "Previous choice, oldest first (repeatable)")
	choicesCmd.Flags().StringVarP(&contextFile, "context-file", "f", "", "Read the turn context from a YAML or JSON file")
	choicesCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the result as JSON")
	choicesCmd.Flags().BoolVar(&showTrace, "trace", false, "Print the tier trace")
}

func runChoices(cmd *cobra.Command, args []string) error {
	nctx, err := turnContext()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	rt, err := newRuntime(ctx, cfg, offline, true)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(context.Background()); err != nil {
			logger.Warn("Memories not archived", zap.Error(err))
		}
	}()

	res := rt.controller.GetChoices(ctx, nctx, nctx.Condition)
	logger.Info("Choices ready",
		zap.String("request_id", res.RequestID),
		zap.String("provenance", string(res.Provenance)),
		zap.Int("count", len(res.Candidates)))

	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprintln(out, ui.RenderChoices(res))
	if showTrace {
		fmt.Fprintln(out, ui.RenderTrace(res.Trace))
	}
	return nil
}

// turnContext builds the narrative context from --context-file or the flags.
func turnContext() (narrative.Context, error) {
	if contextFile != "" {
		return loadContextFile(contextFile)
	}

	tension, err := narrative.ParseTension(tensionFlag)
	if err != nil {
		return narrative.Context{}, err
	}
	nctx := narrative.Context{
		SceneID:    sceneID,
		TurnNumber: turnNumber,
		Tension:    tension,
		Condition: narrative.CharacterCondition{
			SanityCurrent:    sanity,
			SanityMaximum:    sanityMax,
			HitPointsCurrent: hitPoints,
			HitPointsMaximum: hitPointMax,
		},
		StoryThreads:  threads,
		ChoiceHistory: history,
	}
	if len(flags) > 0 {
		nctx.NarrativeFlags = make(map[string]bool, len(flags))
		for _, f := range flags {
			nctx.NarrativeFlags[f] = true
		}
	}
	return nctx, nil
}

// loadContextFile reads a context written as YAML (a JSON file parses too).
// Keys follow the JSON field names.
func loadContextFile(path string) (narrative.Context, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return narrative.Context{}, fmt.Errorf("read context: %w", err)
	}

	var generic map[string]any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return narrative.Context{}, fmt.Errorf("parse context %s: %w", path, err)
	}
	// Round-trip through JSON so the tension level and the field names use
	// the same decoding as the HTTP surface.
	raw, err := json.Marshal(generic)
	if err != nil {
		return narrative.Context{}, fmt.Errorf("parse context %s: %w", path, err)
	}
	var nctx narrative.Context
	if err := json.Unmarshal(raw, &nctx); err != nil {
		return narrative.Context{}, fmt.Errorf("parse context %s: %w", path, err)
	}
	return nctx, nil
}
