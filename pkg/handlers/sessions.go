package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/qaforge/qagen-engine/pkg/apperrors"
	"github.com/qaforge/qagen-engine/pkg/auth"
	"github.com/qaforge/qagen-engine/pkg/models"
	"github.com/qaforge/qagen-engine/pkg/services"
)

// CreateSessionRequest represents the request body for session creation.
type CreateSessionRequest struct {
	Name             string `json:"name"`
	Kind             string `json:"type"`
	Timestamp        string `json:"timestamp"`
	Model            string `json:"model"`
	QuestionProvider string `json:"question_provider"`
	QuestionModel    string `json:"question_model"`
	AnswerProvider   string `json:"answer_provider"`
	AnswerModel      string `json:"answer_model"`
	BlogContent      string `json:"blog_content"`
	BlogURL          string `json:"blog_url"`
}

// IngestQARequest represents the request body for appending a QA record.
type IngestQARequest struct {
	Question      string `json:"question"`
	Answer        string `json:"answer"`
	Accuracy      string `json:"accuracy"`
	Sentiment     string `json:"sentiment"`
	InputTokens   int64  `json:"input_tokens"`
	OutputTokens  int64  `json:"output_tokens"`
	TotalTokens   int64  `json:"total_tokens"`
	Cost          string `json:"cost"`
	QuestionOrder int    `json:"question_order"`
}

// SessionHandler handles generation session HTTP requests: CRUD, record
// ingest, statistics and QA listing.
type SessionHandler struct {
	sessionService services.SessionService
	ingestService  services.IngestService
	logger         *zap.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(sessionService services.SessionService, ingestService services.IngestService, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		ingestService:  ingestService,
		logger:         logger,
	}
}

// RegisterRoutes registers the session handler's routes on the given mux.
func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("POST /api/sessions", authMiddleware.RequireAuth(h.Create))
	mux.HandleFunc("GET /api/sessions", authMiddleware.RequireAuth(h.List))
	mux.HandleFunc("GET /api/sessions/{sid}", authMiddleware.RequireAuth(h.Get))
	mux.HandleFunc("DELETE /api/sessions/{sid}", authMiddleware.RequireAuth(h.Delete))
	mux.HandleFunc("POST /api/sessions/{sid}/qa", authMiddleware.RequireAuth(h.IngestQA))
	mux.HandleFunc("GET /api/sessions/{sid}/qa", authMiddleware.RequireAuth(h.ListQA))
	mux.HandleFunc("GET /api/sessions/{sid}/statistics", authMiddleware.RequireAuth(h.GetStatistics))
}

// Create handles POST /api/sessions.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.RequireUserIDFromContext(r.Context())
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	session := &models.Session{
		UserID:           userID,
		Name:             req.Name,
		Kind:             models.SessionKind(req.Kind),
		Timestamp:        req.Timestamp,
		Model:            req.Model,
		QuestionProvider: req.QuestionProvider,
		QuestionModel:    req.QuestionModel,
		AnswerProvider:   req.AnswerProvider,
		AnswerModel:      req.AnswerModel,
		BlogContent:      req.BlogContent,
		BlogURL:          req.BlogURL,
	}

	if err := h.sessionService.Create(r.Context(), session); err != nil {
		if errors.Is(err, apperrors.ErrInvalidKind) {
			if err := FieldErrorResponse(w, "invalid_session_type", "Session type must be 'question' or 'answer'", "type"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		h.logger.Warn("Session creation rejected", zap.Error(err))
		h.writeError(w, http.StatusBadRequest, "invalid_session", err.Error())
		return
	}

	if err := WriteJSON(w, http.StatusCreated, session); err != nil {
		h.logger.Error("Failed to encode session response", zap.Error(err))
	}
}

// List handles GET /api/sessions. Returns the caller's sessions, newest
// first.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.RequireUserIDFromContext(r.Context())
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	sessions, err := h.sessionService.ListByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to list sessions", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "list_failed", "Failed to list sessions")
		return
	}

	if err := WriteJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions}); err != nil {
		h.logger.Error("Failed to encode sessions response", zap.Error(err))
	}
}

// Get handles GET /api/sessions/{sid}.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	session, ok := h.requireOwnedSession(w, r)
	if !ok {
		return
	}

	if err := WriteJSON(w, http.StatusOK, session); err != nil {
		h.logger.Error("Failed to encode session response", zap.Error(err))
	}
}

// Delete handles DELETE /api/sessions/{sid}. Removing a session cascades to
// its QA records and statistics, and drops any cached ingest state.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	session, ok := h.requireOwnedSession(w, r)
	if !ok {
		return
	}

	if err := h.sessionService.Delete(r.Context(), session.ID); err != nil {
		h.writeSessionError(w, err, "Failed to delete session")
		return
	}
	h.ingestService.Forget(session.ID)

	w.WriteHeader(http.StatusNoContent)
}

// IngestQA handles POST /api/sessions/{sid}/qa.
func (h *SessionHandler) IngestQA(w http.ResponseWriter, r *http.Request) {
	session, ok := h.requireOwnedSession(w, r)
	if !ok {
		return
	}
	sessionID := session.ID

	var req IngestQARequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.QuestionOrder < 1 {
		if err := FieldErrorResponse(w, "invalid_question_order", "question_order must be a positive integer", "question_order"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	cost := decimal.Zero
	if strings.TrimSpace(req.Cost) != "" {
		parsed, err := decimal.NewFromString(strings.TrimSpace(req.Cost))
		if err != nil {
			if err := FieldErrorResponse(w, "invalid_cost", "cost must be a decimal string", "cost"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		cost = parsed
	}

	record := &models.QARecord{
		Question:      req.Question,
		Answer:        req.Answer,
		Accuracy:      req.Accuracy,
		Sentiment:     req.Sentiment,
		InputTokens:   req.InputTokens,
		OutputTokens:  req.OutputTokens,
		TotalTokens:   req.TotalTokens,
		Cost:          cost,
		QuestionOrder: req.QuestionOrder,
	}

	if err := h.ingestService.Ingest(r.Context(), sessionID, record); err != nil {
		h.writeIngestError(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusCreated, record); err != nil {
		h.logger.Error("Failed to encode QA record response", zap.Error(err))
	}
}

// ListQA handles GET /api/sessions/{sid}/qa. Records come back in
// question_order.
func (h *SessionHandler) ListQA(w http.ResponseWriter, r *http.Request) {
	session, ok := h.requireOwnedSession(w, r)
	if !ok {
		return
	}

	records, err := h.sessionService.ListQA(r.Context(), session.ID)
	if err != nil {
		h.writeSessionError(w, err, "Failed to list QA records")
		return
	}

	if err := WriteJSON(w, http.StatusOK, map[string]interface{}{"qa_records": records}); err != nil {
		h.logger.Error("Failed to encode QA records response", zap.Error(err))
	}
}

// GetStatistics handles GET /api/sessions/{sid}/statistics.
func (h *SessionHandler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	session, ok := h.requireOwnedSession(w, r)
	if !ok {
		return
	}

	stats, err := h.sessionService.GetStatistics(r.Context(), session.ID)
	if err != nil {
		h.writeSessionError(w, err, "Failed to load statistics")
		return
	}

	if err := WriteJSON(w, http.StatusOK, stats); err != nil {
		h.logger.Error("Failed to encode statistics response", zap.Error(err))
	}
}

// requireOwnedSession parses the path session id, loads the session and
// confirms the caller owns it. Sessions belonging to other users answer 404
// so their existence is not disclosed.
func (h *SessionHandler) requireOwnedSession(w http.ResponseWriter, r *http.Request) (*models.Session, bool) {
	sessionID, ok := ParseSessionID(w, r, h.logger)
	if !ok {
		return nil, false
	}

	userID, err := auth.RequireUserIDFromContext(r.Context())
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return nil, false
	}

	session, err := h.sessionService.Get(r.Context(), sessionID)
	if err != nil {
		h.writeSessionError(w, err, "Failed to load session")
		return nil, false
	}
	if session.UserID != userID {
		h.writeError(w, http.StatusNotFound, "session_not_found", "Session not found")
		return nil, false
	}
	return session, true
}

func (h *SessionHandler) writeIngestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "session_not_found", "Session not found")
	case errors.Is(err, apperrors.ErrDuplicateOrder):
		h.writeError(w, http.StatusConflict, "duplicate_question_order", "A record with this question_order already exists")
	case errors.Is(err, apperrors.ErrTokenMismatch):
		if err := FieldErrorResponse(w, "token_mismatch", err.Error(), "total_tokens"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
	default:
		// Storage internals stay in the server log; the client gets a generic
		// message plus the correlation id for support escalation.
		message := "Temporary storage failure, please retry"
		var failure *apperrors.PersistenceFailure
		if errors.As(err, &failure) {
			message = fmt.Sprintf("%s (correlation id %s)", message, failure.CorrelationID)
		} else {
			h.logger.Error("QA ingest failed", zap.Error(err))
		}
		h.writeError(w, http.StatusServiceUnavailable, "persistence_failure", message)
	}
}

func (h *SessionHandler) writeSessionError(w http.ResponseWriter, err error, logMsg string) {
	if errors.Is(err, apperrors.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "session_not_found", "Session not found")
		return
	}
	h.logger.Error(logMsg, zap.Error(err))
	h.writeError(w, http.StatusInternalServerError, "internal_error", logMsg)
}

func (h *SessionHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	if err := ErrorResponse(w, status, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
