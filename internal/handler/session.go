package handler

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"banknet/internal/domain"
	"banknet/internal/sim"
	"banknet/pkg/errors"
	"banknet/pkg/validator"
)

// Logger is the subset of pkg/logger the handlers need.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// SnapshotCache reads the latest step summary without touching a session.
type SnapshotCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
}

// SessionHandler exposes the simulation control API.
type SessionHandler struct {
	manager   *sim.Manager
	validator *validator.Validator
	cache     SnapshotCache
	logger    Logger
}

func NewSessionHandler(manager *sim.Manager, val *validator.Validator, cache SnapshotCache, log Logger) *SessionHandler {
	return &SessionHandler{manager: manager, validator: val, cache: cache, logger: log}
}

// InitSessionRequest carries the world definition for one run.
type InitSessionRequest struct {
	Config  *domain.SimulationConfig `json:"config"`
	Banks   []domain.BankSpec        `json:"banks" validate:"required,min=1,dive"`
	Markets []domain.MarketSpec      `json:"markets" validate:"dive"`
}

// RunRequest starts a synchronous batch run.
type RunRequest struct {
	Steps int `json:"steps" validate:"omitempty,gt=0"`
}

// CommandRequest is the control-command payload.
type CommandRequest struct {
	Command string          `json:"command" validate:"required,oneof=pause resume stop add_capital delete_bank trigger_default"`
	BankID  string          `json:"bank_id,omitempty"`
	Amount  decimal.Decimal `json:"amount,omitempty"`
}

// RegisterRoutes wires the session endpoints onto the router.
func (h *SessionHandler) RegisterRoutes(api *mux.Router) {
	api.HandleFunc("/sessions", h.CreateSession).Methods("POST")
	api.HandleFunc("/sessions", h.ListSessions).Methods("GET")
	api.HandleFunc("/sessions/{id}", h.GetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", h.DeleteSession).Methods("DELETE")
	api.HandleFunc("/sessions/{id}/init", h.InitSession).Methods("POST")
	api.HandleFunc("/sessions/{id}/run", h.RunSession).Methods("POST")
	api.HandleFunc("/sessions/{id}/start", h.StartSession).Methods("POST")
	api.HandleFunc("/sessions/{id}/command", h.Command).Methods("POST")
	api.HandleFunc("/sessions/{id}/events", h.GetEvents).Methods("GET")
	api.HandleFunc("/sessions/{id}/cascades", h.GetCascades).Methods("GET")
	api.HandleFunc("/sessions/{id}/history", h.GetHistory).Methods("GET")
	api.HandleFunc("/sessions/{id}/snapshot", h.GetSnapshot).Methods("GET")
}

// CreateSession registers a fresh uninitialized session.
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	session := h.manager.Create()
	h.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"session_id": session.ID,
		"state":      session.State(),
	})
}

// ListSessions returns all registered session ids.
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": h.manager.IDs(),
	})
}

// GetSession returns the session's state and aggregate summary so far.
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":   session.ID,
		"state":        session.State(),
		"current_step": session.CurrentStep(),
		"summary":      session.Summary(),
	})
}

// DeleteSession discards a session, stopping its loop if needed.
func (h *SessionHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.manager.Delete(id); err != nil {
		h.respondError(w, http.StatusNotFound, "session not found")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"session_id": id, "status": "deleted"})
}

// InitSession builds the banks and markets for a run.
func (h *SessionHandler) InitSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var req InitSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if errs := h.validator.ValidateStructured(&req); errs != nil {
		h.respondValidationErrors(w, errs)
		return
	}

	cfg := domain.DefaultConfig()
	if req.Config != nil {
		cfg = *req.Config
		if errs := h.validator.ValidateStructured(&cfg); errs != nil {
			h.respondValidationErrors(w, errs)
			return
		}
	}

	if err := session.Init(cfg, req.Banks, req.Markets); err != nil {
		h.respondDomainError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": session.ID,
		"state":      session.State(),
		"config":     cfg,
	})
}

// RunSession executes a batch run synchronously and returns the summary.
func (h *SessionHandler) RunSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var req RunRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	steps := req.Steps
	if steps <= 0 {
		steps = session.Config().Steps
	}

	summary, err := session.Run(steps)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, summary)
}

// StartSession launches the interactive loop.
func (h *SessionHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := session.Start(); err != nil {
		h.respondDomainError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": session.ID,
		"state":      session.State(),
	})
}

// Command queues a control command; it returns once the command has been
// applied at a step boundary.
func (h *SessionHandler) Command(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if errs := h.validator.ValidateStructured(&req); errs != nil {
		h.respondValidationErrors(w, errs)
		return
	}

	err := session.Execute(sim.Command{Name: req.Command, BankID: req.BankID, Amount: req.Amount})
	if err != nil {
		h.logger.Error("command rejected", map[string]interface{}{
			"session": session.ID,
			"command": req.Command,
			"error":   err.Error(),
		})
		h.respondDomainError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": session.ID,
		"command":    req.Command,
		"state":      session.State(),
	})
}

// GetEvents returns the event log from the given offset.
func (h *SessionHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	events := session.Events(offset)
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"offset": offset,
		"next":   offset + len(events),
	})
}

// GetCascades returns the cascade log.
func (h *SessionHandler) GetCascades(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"cascades": session.Cascades(),
	})
}

// GetHistory returns every step snapshot.
func (h *SessionHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"history": session.History(),
	})
}

// GetSnapshot returns the latest world state, preferring the cache so
// dashboard polling never contends with a running step.
func (h *SessionHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	if h.cache != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 200*time.Millisecond)
		defer cancel()
		var cached domain.StepSummary
		if err := h.cache.Get(ctx, SnapshotKey(session.ID), &cached); err == nil {
			h.respondJSON(w, http.StatusOK, &cached)
			return
		}
	}
	h.respondJSON(w, http.StatusOK, session.Snapshot())
}

// SnapshotKey is the cache key for a session's latest step summary.
func SnapshotKey(sessionID string) string {
	return "snapshot:" + sessionID
}

func (h *SessionHandler) session(w http.ResponseWriter, r *http.Request) (*sim.Session, bool) {
	id := mux.Vars(r)["id"]
	session, err := h.manager.Get(id)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return session, true
}

func (h *SessionHandler) respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case stderrors.Is(err, errors.ErrSessionNotFound), stderrors.Is(err, errors.ErrBankNotFound):
		h.respondError(w, http.StatusNotFound, err.Error())
	case stderrors.Is(err, errors.ErrAlreadyInitialized),
		stderrors.Is(err, errors.ErrInvalidSessionState),
		stderrors.Is(err, errors.ErrCommandNotAllowed),
		stderrors.Is(err, errors.ErrSessionStopped),
		stderrors.Is(err, errors.ErrBankDefaulted):
		h.respondError(w, http.StatusConflict, err.Error())
	default:
		h.respondError(w, http.StatusBadRequest, err.Error())
	}
}

func (h *SessionHandler) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func (h *SessionHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

func (h *SessionHandler) respondValidationErrors(w http.ResponseWriter, errs map[string]string) {
	h.respondJSON(w, http.StatusBadRequest, map[string]interface{}{"errors": errs})
}
