package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"eldritch/internal/fallback"
	"eldritch/internal/logging"
	"eldritch/internal/narrative"

	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

// ChoicesRequest is the body of POST /v1/choices. Without an explicit
// condition the one inside the context is used.
type ChoicesRequest struct {
	Context   narrative.Context             `json:"context"`
	Condition *narrative.CharacterCondition `json:"condition,omitempty"`
}

type ChoicesHandler struct {
	ctrl *fallback.Controller
}

// Get handles POST /v1/choices. The pipeline never fails, so every
// well-formed request gets a 200 with at least one choice.
func (h *ChoicesHandler) Get(w http.ResponseWriter, r *http.Request) {
	var req ChoicesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cond := req.Context.Condition
	if req.Condition != nil {
		cond = *req.Condition
	}

	res := h.ctrl.GetChoices(r.Context(), req.Context, cond)
	logging.API("[%s] choices for %s: %s (%d)", RequestIDFrom(r.Context()), req.Context.SceneID, res.Provenance, len(res.Candidates))
	writeJSON(w, http.StatusOK, res)
}

type HealthHandler struct {
	ctrl *fallback.Controller
}

// Liveness handles GET /healthz.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Report handles GET /v1/health.
func (h *HealthHandler) Report(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Status())
}

// Agent handles GET /v1/health/{agent}. Unknown agents report HEALTHY.
func (h *HealthHandler) Agent(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Monitor().Snapshot(chi.URLParam(r, "agent")))
}

// Reset handles POST /v1/health/{agent}/reset.
func (h *HealthHandler) Reset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "agent")
	h.ctrl.Monitor().Reset(id)
	logging.API("[%s] health reset for %s", RequestIDFrom(r.Context()), id)
	writeJSON(w, http.StatusOK, h.ctrl.Monitor().Snapshot(id))
}

// Memory handles GET /v1/memory.
func (h *HealthHandler) Memory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Memories().Stats())
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.APIError("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
