package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"eldritch/internal/api"
	"eldritch/internal/config"
	"eldritch/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the choice pipeline over HTTP",
	Long: `Starts the HTTP surface:

  POST /v1/choices               propose choices for a turn
  GET  /v1/health                agent health and provenance counts
  GET  /v1/health/{agent}        one agent's snapshot
  POST /v1/health/{agent}/reset  clear an agent's observation window
  GET  /v1/memory                per-agent memory counts

Edits to the config file are applied without a restart. Memories are restored
from the archive on start and written back on shutdown.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "addr", "", "Listen address (overrides api.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	rt, err := newRuntime(ctx, cfg, offline, true)
	if err != nil {
		return err
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), cfg.GetShutdownTimeout())
		defer scancel()
		if err := rt.Close(sctx); err != nil {
			logger.Error("Memories not archived", zap.Error(err))
		}
	}()

	if _, err := os.Stat(configPath); err == nil {
		watcher, err := config.NewWatcher(configPath)
		if err != nil {
			logger.Warn("Config reload disabled", zap.Error(err))
		} else {
			watcher.OnChange(func(next *config.Config) {
				rt.controller.ApplyConfig(next)
				logging.Reconfigure(loggingOptions(next))
				logger.Info("Config reloaded", zap.String("path", configPath))
			})
			if err := watcher.Start(ctx); err != nil {
				logger.Warn("Config reload disabled", zap.Error(err))
			}
			defer watcher.Stop()
		}
	}

	addr := cfg.API.Addr
	if listenAddr != "" {
		addr = listenAddr
	}
	srv := api.NewServer(addr, api.NewRouter(rt.controller, logger), cfg.GetReadTimeout())

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Listening", zap.String("addr", addr), zap.Bool("offline", offline))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	case err, ok := <-errCh:
		if ok {
			return err
		}
	case <-ctx.Done():
	}

	sctx, scancel := context.WithTimeout(context.Background(), cfg.GetShutdownTimeout())
	defer scancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	return nil
}
