package handler

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"banknet/internal/domain"
	"banknet/pkg/errors"
)

// RunFinder reads archived run summaries.
type RunFinder interface {
	FindByID(ctx context.Context, runID string) (*domain.RunSummary, error)
	List(ctx context.Context, limit int) ([]*domain.RunSummary, error)
}

// RunEventFinder reads an archived run's event log.
type RunEventFinder interface {
	FindByRun(ctx context.Context, runID string) ([]*domain.Event, error)
}

// RunHandler serves finished runs out of the archive. Registered only when a
// database is configured.
type RunHandler struct {
	runs   RunFinder
	events RunEventFinder
	logger Logger
}

func NewRunHandler(runs RunFinder, events RunEventFinder, log Logger) *RunHandler {
	return &RunHandler{runs: runs, events: events, logger: log}
}

// RegisterRoutes wires the archive endpoints onto the router.
func (h *RunHandler) RegisterRoutes(api *mux.Router) {
	api.HandleFunc("/runs", h.ListRuns).Methods("GET")
	api.HandleFunc("/runs/{id}", h.GetRun).Methods("GET")
	api.HandleFunc("/runs/{id}/events", h.GetRunEvents).Methods("GET")
}

// ListRuns returns the most recent archived runs.
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	runs, err := h.runs.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list runs", map[string]interface{}{"error": err.Error()})
		h.respondError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

// GetRun returns one archived run summary.
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	run, err := h.runs.FindByID(r.Context(), id)
	if err != nil {
		if stderrors.Is(err, errors.ErrSessionNotFound) {
			h.respondError(w, http.StatusNotFound, "run not found")
			return
		}
		h.logger.Error("failed to load run", map[string]interface{}{"run": id, "error": err.Error()})
		h.respondError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	h.respondJSON(w, http.StatusOK, run)
}

// GetRunEvents returns an archived run's event log in step order.
func (h *RunHandler) GetRunEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if _, err := h.runs.FindByID(r.Context(), id); err != nil {
		if stderrors.Is(err, errors.ErrSessionNotFound) {
			h.respondError(w, http.StatusNotFound, "run not found")
			return
		}
		h.logger.Error("failed to load run", map[string]interface{}{"run": id, "error": err.Error()})
		h.respondError(w, http.StatusInternalServerError, "failed to load run")
		return
	}

	events, err := h.events.FindByRun(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to load run events", map[string]interface{}{"run": id, "error": err.Error()})
		h.respondError(w, http.StatusInternalServerError, "failed to load run events")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"run_id": id, "events": events})
}

func (h *RunHandler) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func (h *RunHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
