package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"eldritch/internal/memory"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and move the archived agent memories",
}

var memoryStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show record counts per agent in the archive",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withArchive(cmd, func(ctx context.Context, archive *memory.Archive, reg *memory.Registry) error {
			if _, err := archive.LoadRegistry(ctx, reg); err != nil {
				return err
			}
			writeStats(cmd.OutOrStdout(), reg.Stats())
			return nil
		})
	},
}

var memoryExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Write the archived memories as JSON (stdout when no file is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withArchive(cmd, func(ctx context.Context, archive *memory.Archive, reg *memory.Registry) error {
			if _, err := archive.LoadRegistry(ctx, reg); err != nil {
				return err
			}
			dump := make(map[string][]memory.Record)
			for _, id := range reg.Agents() {
				dump[id] = reg.Store(id).Export()
			}

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				f, err := os.Create(args[0])
				if err != nil {
					return fmt.Errorf("create export: %w", err)
				}
				defer f.Close()
				out = f
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(dump)
		})
	},
}

var memoryImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Merge memories from a JSON export into the archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read import: %w", err)
		}
		var dump map[string][]memory.Record
		if err := json.Unmarshal(data, &dump); err != nil {
			return fmt.Errorf("parse import %s: %w", args[0], err)
		}

		return withArchive(cmd, func(ctx context.Context, archive *memory.Archive, reg *memory.Registry) error {
			if _, err := archive.LoadRegistry(ctx, reg); err != nil {
				return err
			}
			for id, recs := range dump {
				reg.Store(id).Import(recs)
			}
			if err := archive.SaveRegistry(ctx, reg); err != nil {
				return err
			}
			logger.Info("Memories imported", zap.Int("agents", len(dump)), zap.String("archive", archive.Path()))
			writeStats(cmd.OutOrStdout(), reg.Stats())
			return nil
		})
	},
}

func init() {
	memoryCmd.AddCommand(memoryStatsCmd)
	memoryCmd.AddCommand(memoryExportCmd)
	memoryCmd.AddCommand(memoryImportCmd)
}

// withArchive opens the configured archive and an empty registry sized like
// the pipeline's.
func withArchive(cmd *cobra.Command, fn func(context.Context, *memory.Archive, *memory.Registry) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	archive, err := memory.OpenArchive(cfg.Memory.DatabasePath, cfg.Memory.Driver)
	if err != nil {
		return fmt.Errorf("open memory archive: %w", err)
	}
	defer archive.Close()

	reg := memory.NewRegistry(cfg.Memory.Capacity, memory.WithDefaultImportance(cfg.Memory.DefaultImportance))
	return fn(ctx, archive, reg)
}

func writeStats(w io.Writer, stats []memory.Stats) {
	if len(stats) == 0 {
		fmt.Fprintln(w, "No memories archived.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AGENT\tRECORDS\tCAPACITY")
	for _, s := range stats {
		fmt.Fprintf(tw, "%s\t%d\t%d\n", s.AgentID, s.Count, s.Capacity)
	}
	tw.Flush()
}
