package main

import (
	"fmt"
	"os"
	"time"

	"eldritch/internal/config"
	"eldritch/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	configPath string
	verbose    bool
	timeout    time.Duration
	offline    bool

	logger *zap.Logger
	cfg    *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "eldritch",
	Short: "eldritch - resilient choice generation for solo horror investigations",
	Long: `eldritch proposes the investigator's next actions for a turn-based
horror narrative.

Choices come from a generative agent when it is healthy, from recent agent
answers or scene templates when it is not, and from a fixed emergency list
as a last resort. A turn always gets something to choose from.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zc := zap.NewProductionConfig()
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config %s: %w", configPath, err)
		}

		if err := logging.Initialize(cfg.Logging.Directory, loggingOptions(cfg)); err != nil {
			logger.Warn("Category logging disabled", zap.Error(err))
		}
		if err := logging.InitAudit(); err != nil {
			logger.Warn("Audit log disabled", zap.Error(err))
		}
		logging.Boot("eldritch %s starting (config=%s offline=%v)", cmd.Name(), configPath, offline)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAudit()
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func loggingOptions(c *config.Config) logging.Options {
	return logging.Options{
		DebugMode:  c.Logging.DebugMode,
		Level:      c.Logging.Level,
		JSONFormat: c.Logging.JSONFormat(),
		Categories: c.Logging.Categories,
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "eldritch.yaml", "Config file (defaults apply when missing)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "Operation timeout")
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "Use the built-in scripted agent instead of configured endpoints")

	rootCmd.AddCommand(choicesCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
