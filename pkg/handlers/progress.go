package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/qaforge/qagen-engine/pkg/apperrors"
	"github.com/qaforge/qagen-engine/pkg/auth"
	"github.com/qaforge/qagen-engine/pkg/progress"
	"github.com/qaforge/qagen-engine/pkg/services"
)

// StartRunRequest represents the request body for starting a progress run.
type StartRunRequest struct {
	SessionID string `json:"session_id"`
	Total     *int64 `json:"total,omitempty"`
}

// TickRequest represents the request body for a progress tick. The delta is
// the number of units completed since the previous tick.
type TickRequest struct {
	UnitsDoneDelta int64 `json:"units_done_delta"`
}

// SetTotalRequest represents the request body for declaring a run's size.
type SetTotalRequest struct {
	Total int64 `json:"total"`
}

// FailRunRequest represents the request body for failing a run.
type FailRunRequest struct {
	Reason string `json:"reason"`
}

// ProgressHandler handles live-progress HTTP requests: run lifecycle
// mutations, snapshot reads, and the SSE stream.
type ProgressHandler struct {
	tracker        *progress.Tracker
	sessionService services.SessionService
	logger         *zap.Logger
}

// NewProgressHandler creates a new progress handler.
func NewProgressHandler(tracker *progress.Tracker, sessionService services.SessionService, logger *zap.Logger) *ProgressHandler {
	return &ProgressHandler{
		tracker:        tracker,
		sessionService: sessionService,
		logger:         logger,
	}
}

// RegisterRoutes registers the progress handler's routes on the given mux.
func (h *ProgressHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("POST /api/runs", authMiddleware.RequireAuth(h.StartRun))
	mux.HandleFunc("POST /api/runs/{rid}/tick", authMiddleware.RequireAuth(h.Tick))
	mux.HandleFunc("POST /api/runs/{rid}/total", authMiddleware.RequireAuth(h.SetTotal))
	mux.HandleFunc("POST /api/runs/{rid}/complete", authMiddleware.RequireAuth(h.Complete))
	mux.HandleFunc("POST /api/runs/{rid}/fail", authMiddleware.RequireAuth(h.Fail))
	mux.HandleFunc("POST /api/runs/{rid}/cancel", authMiddleware.RequireAuth(h.Cancel))
	mux.HandleFunc("GET /api/runs/{rid}", authMiddleware.RequireAuth(h.Snapshot))
	mux.HandleFunc("GET /api/runs/{rid}/progress", authMiddleware.RequireAuth(h.Stream))
}

// StartRun handles POST /api/runs.
func (h *ProgressHandler) StartRun(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.RequireUserIDFromContext(r.Context())
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	var req StartRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	sessionID, err := parseSessionIDString(req.SessionID)
	if err != nil {
		if err := FieldErrorResponse(w, "invalid_session_id", "session_id must be a UUID", "session_id"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	// The run must belong to a real session owned by the caller.
	session, err := h.sessionService.Get(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "session_not_found", "Session not found")
			return
		}
		h.logger.Error("Failed to load session for run", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to start run")
		return
	}
	if session.UserID != userID {
		h.writeError(w, http.StatusNotFound, "session_not_found", "Session not found")
		return
	}

	runID := h.tracker.StartRun(sessionID)
	if req.Total != nil {
		if err := h.tracker.SetTotal(runID, *req.Total); err != nil {
			h.logger.Error("Failed to set initial total", zap.Error(err))
		}
	}

	snap, err := h.tracker.Snapshot(runID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to start run")
		return
	}
	if err := WriteJSON(w, http.StatusCreated, snap); err != nil {
		h.logger.Error("Failed to encode run response", zap.Error(err))
	}
}

// Tick handles POST /api/runs/{rid}/tick.
func (h *ProgressHandler) Tick(w http.ResponseWriter, r *http.Request) {
	runID, ok := h.requireOwnedRun(w, r)
	if !ok {
		return
	}

	var req TickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.UnitsDoneDelta < 0 {
		if err := FieldErrorResponse(w, "invalid_units_done_delta", "units_done_delta must be non-negative", "units_done_delta"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := h.tracker.Tick(runID, req.UnitsDoneDelta); err != nil {
		h.writeRunError(w, err)
		return
	}
	h.writeSnapshot(w, runID)
}

// SetTotal handles POST /api/runs/{rid}/total.
func (h *ProgressHandler) SetTotal(w http.ResponseWriter, r *http.Request) {
	runID, ok := h.requireOwnedRun(w, r)
	if !ok {
		return
	}

	var req SetTotalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.Total < 0 {
		if err := FieldErrorResponse(w, "invalid_total", "total must be non-negative", "total"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := h.tracker.SetTotal(runID, req.Total); err != nil {
		h.writeRunError(w, err)
		return
	}
	h.writeSnapshot(w, runID)
}

// Complete handles POST /api/runs/{rid}/complete.
func (h *ProgressHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.finish(w, r, h.tracker.Complete)
}

// Cancel handles POST /api/runs/{rid}/cancel.
func (h *ProgressHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.finish(w, r, h.tracker.Cancel)
}

// Fail handles POST /api/runs/{rid}/fail.
func (h *ProgressHandler) Fail(w http.ResponseWriter, r *http.Request) {
	runID, ok := h.requireOwnedRun(w, r)
	if !ok {
		return
	}

	var req FailRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	if err := h.tracker.Fail(runID, req.Reason); err != nil {
		h.writeRunError(w, err)
		return
	}
	h.writeSnapshot(w, runID)
}

// Snapshot handles GET /api/runs/{rid}.
func (h *ProgressHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	runID, ok := h.requireOwnedRun(w, r)
	if !ok {
		return
	}
	h.writeSnapshot(w, runID)
}

// Stream handles GET /api/runs/{rid}/progress. Emits snapshots as
// server-sent events until the client disconnects or the run is removed.
func (h *ProgressHandler) Stream(w http.ResponseWriter, r *http.Request) {
	runID, ok := h.requireOwnedRun(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "streaming_unsupported", "Streaming is not supported")
		return
	}

	ch, cancel, err := h.tracker.Subscribe(runID)
	if err != nil {
		h.writeRunError(w, err)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case snap, open := <-ch:
			if !open {
				return
			}
			payload, err := json.Marshal(snap)
			if err != nil {
				h.logger.Error("Failed to encode progress event", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: progress\ndata: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
			if snap.Status.Terminal() {
				return
			}
		}
	}
}

func (h *ProgressHandler) finish(w http.ResponseWriter, r *http.Request, op func(runID uuid.UUID) error) {
	runID, ok := h.requireOwnedRun(w, r)
	if !ok {
		return
	}
	if err := op(runID); err != nil {
		h.writeRunError(w, err)
		return
	}
	h.writeSnapshot(w, runID)
}

// requireOwnedRun parses the path run id and confirms the caller owns the
// session the run tracks. Runs of other users answer 404 so their existence
// is not disclosed.
func (h *ProgressHandler) requireOwnedRun(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	runID, ok := ParseRunID(w, r, h.logger)
	if !ok {
		return uuid.Nil, false
	}

	userID, err := auth.RequireUserIDFromContext(r.Context())
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return uuid.Nil, false
	}

	snap, err := h.tracker.Snapshot(runID)
	if err != nil {
		h.writeRunError(w, err)
		return uuid.Nil, false
	}

	session, err := h.sessionService.Get(r.Context(), snap.SessionID)
	if err != nil || session.UserID != userID {
		h.writeError(w, http.StatusNotFound, "run_not_found", "Run not found")
		return uuid.Nil, false
	}
	return runID, true
}

func (h *ProgressHandler) writeSnapshot(w http.ResponseWriter, runID uuid.UUID) {
	snap, err := h.tracker.Snapshot(runID)
	if err != nil {
		h.writeRunError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, snap); err != nil {
		h.logger.Error("Failed to encode snapshot response", zap.Error(err))
	}
}

func (h *ProgressHandler) writeRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "run_not_found", "Run not found")
	case errors.Is(err, apperrors.ErrInvalidRunState):
		h.writeError(w, http.StatusConflict, "run_finished", "Run has already finished")
	default:
		h.logger.Error("Run operation failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Run operation failed")
	}
}

func (h *ProgressHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	if err := ErrorResponse(w, status, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

func parseSessionIDString(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}
