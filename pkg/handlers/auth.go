package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/qaforge/qagen-engine/pkg/apperrors"
	"github.com/qaforge/qagen-engine/pkg/models"
	"github.com/qaforge/qagen-engine/pkg/services"
)

// RegisterRequest represents the request body for account registration.
type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

// LoginRequest represents the request body for login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest represents the request body for token refresh and logout.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// TokenResponse represents the response for login and refresh.
type TokenResponse struct {
	AccessToken     string       `json:"access_token"`
	AccessExpiresAt string       `json:"access_expires_at"`
	RefreshToken    string       `json:"refresh_token"`
	User            *models.User `json:"user,omitempty"`
}

// AuthHandler handles authentication-related HTTP requests.
type AuthHandler struct {
	authService services.AuthService
	logger      *zap.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(authService services.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		logger:      logger,
	}
}

// RegisterRoutes registers the auth handler's routes on the given mux.
// All auth routes are unauthenticated by design.
func (h *AuthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/register", h.Register)
	mux.HandleFunc("POST /api/auth/login", h.Login)
	mux.HandleFunc("POST /api/auth/refresh", h.Refresh)
	mux.HandleFunc("POST /api/auth/logout", h.Logout)
}

// Register handles POST /api/auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Invalid request body", zap.Error(err))
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	user, err := h.authService.Register(r.Context(), req.Email, req.Password, req.Name, req.DisplayName)
	if err != nil {
		if errors.Is(err, apperrors.ErrEmailTaken) {
			h.writeError(w, http.StatusConflict, "email_taken", "An account with this email already exists")
			return
		}
		h.logger.Warn("Registration rejected", zap.Error(err))
		h.writeError(w, http.StatusBadRequest, "invalid_registration", err.Error())
		return
	}

	if err := WriteJSON(w, http.StatusCreated, user); err != nil {
		h.logger.Error("Failed to encode register response", zap.Error(err))
	}
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Invalid request body", zap.Error(err))
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	pair, err := h.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, tokenResponse(pair)); err != nil {
		h.logger.Error("Failed to encode login response", zap.Error(err))
	}
}

// Refresh handles POST /api/auth/refresh.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing refresh_token")
		return
	}

	pair, err := h.authService.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, tokenResponse(pair)); err != nil {
		h.logger.Error("Failed to encode refresh response", zap.Error(err))
	}
}

// Logout handles POST /api/auth/logout. Always succeeds for a well-formed
// request: revoking an already-revoked token is not an error.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing refresh_token")
		return
	}

	if err := h.authService.Logout(r.Context(), req.RefreshToken); err != nil {
		h.logger.Error("Logout failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "logout_failed", "Failed to revoke token")
		return
	}

	if err := WriteJSON(w, http.StatusOK, map[string]bool{"success": true}); err != nil {
		h.logger.Error("Failed to encode logout response", zap.Error(err))
	}
}

func tokenResponse(pair *services.TokenPair) TokenResponse {
	return TokenResponse{
		AccessToken:     pair.AccessToken,
		AccessExpiresAt: pair.AccessExpiresAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		RefreshToken:    pair.RefreshToken,
		User:            pair.User,
	}
}

// writeAuthError maps credential and session failures to responses without
// leaking which part of the check failed.
func (h *AuthHandler) writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperrors.ErrInvalidCredentials),
		errors.Is(err, apperrors.ErrNotFound),
		errors.Is(err, apperrors.ErrSessionExpired):
		h.writeError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid credentials")
	case errors.Is(err, apperrors.ErrUserInactive):
		h.writeError(w, http.StatusForbidden, "account_disabled", "Account is disabled")
	default:
		h.logger.Error("Authentication failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "auth_failed", "Authentication failed")
	}
}

func (h *AuthHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	if err := ErrorResponse(w, status, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
