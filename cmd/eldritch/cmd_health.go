package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"eldritch/cmd/eldritch/ui"
	"eldritch/internal/agent"
	"eldritch/internal/health"
	"eldritch/internal/narrative"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe the configured agents and show their health",
	Long: `Probes the primary agent and, when deep reasoning is enabled, every
specialist. Each probe is recorded as an observation, so the report shows the
state the pipeline would see on its next turn.`,
	RunE: runHealth,
}

func init() {
	healthCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the status as JSON")
}

func runHealth(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	rt, err := newRuntime(ctx, cfg, offline, false)
	if err != nil {
		return err
	}

	probeAll(ctx, rt.monitor, rt.agents(), cfg.TierTimeouts().Probe)

	status := rt.controller.Status()
	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}
	fmt.Fprintln(out, ui.RenderHealth(rt.monitor.Snapshots()))
	fmt.Fprintln(out, ui.RenderMarkdown(status.Markdown(), 80))
	return nil
}

// probeAll probes every agent concurrently and records the outcome.
func probeAll(ctx context.Context, monitor *health.Monitor, agents []agent.Agent, budget time.Duration) {
	var g errgroup.Group
	for _, a := range agents {
		p, ok := a.(agent.Prober)
		if !ok {
			logger.Debug("Agent has no probe", zap.String("agent", a.ID()))
			continue
		}
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, budget)
			defer cancel()

			start := time.Now()
			err := p.Probe(pctx)
			switch {
			case err == nil:
				monitor.RecordObservation(a.ID(), health.Success(time.Since(start)))
			case agent.Classify(err) == narrative.KindTimeout:
				monitor.RecordObservation(a.ID(), health.Timeout())
			default:
				monitor.RecordObservation(a.ID(), health.Failure(agent.Classify(err)))
			}
			if err != nil {
				logger.Warn("Probe failed", zap.String("agent", a.ID()), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}
