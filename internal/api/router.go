// Package api exposes the choice pipeline and the agent health report over
// HTTP for the display collaborator.
package api

import (
	"net/http"
	"time"

	"eldritch/internal/fallback"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// NewRouter wires the routes and middleware.
func NewRouter(ctrl *fallback.Controller, logger *zap.Logger) *chi.Mux {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recovery(logger))

	choicesH := &ChoicesHandler{ctrl: ctrl}
	healthH := &HealthHandler{ctrl: ctrl}

	r.Get("/healthz", healthH.Liveness)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/choices", choicesH.Get)

		r.Route("/health", func(r chi.Router) {
			r.Get("/", healthH.Report)
			r.Get("/{agent}", healthH.Agent)
			r.Post("/{agent}/reset", healthH.Reset)
		})

		r.Get("/memory", healthH.Memory)
	})

	return r
}

// NewServer builds the HTTP server for addr.
func NewServer(addr string, handler http.Handler, readTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
	}
}
