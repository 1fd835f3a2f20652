package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/qaforge/qagen-engine/pkg/apperrors"
	"github.com/qaforge/qagen-engine/pkg/auth"
	"github.com/qaforge/qagen-engine/pkg/repositories"
	"github.com/qaforge/qagen-engine/pkg/services"
)

// UsersHandler handles account-related HTTP requests for the authenticated
// user.
type UsersHandler struct {
	userRepo    repositories.UserRepository
	authService services.AuthService
	logger      *zap.Logger
}

// NewUsersHandler creates a new users handler.
func NewUsersHandler(userRepo repositories.UserRepository, authService services.AuthService, logger *zap.Logger) *UsersHandler {
	return &UsersHandler{
		userRepo:    userRepo,
		authService: authService,
		logger:      logger,
	}
}

// RegisterRoutes registers the users handler's routes on the given mux.
func (h *UsersHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("GET /api/users/me", authMiddleware.RequireAuth(h.Me))
	mux.HandleFunc("POST /api/users/me/deactivate", authMiddleware.RequireAuth(h.Deactivate))
	mux.HandleFunc("DELETE /api/users/me", authMiddleware.RequireAuth(h.Delete))
}

// Me handles GET /api/users/me.
func (h *UsersHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.RequireUserIDFromContext(r.Context())
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	user, err := h.userRepo.GetByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "user_not_found", "User not found")
			return
		}
		h.logger.Error("Failed to load user", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to load user")
		return
	}

	if err := WriteJSON(w, http.StatusOK, user); err != nil {
		h.logger.Error("Failed to encode user response", zap.Error(err))
	}
}

// Deactivate handles POST /api/users/me/deactivate. The account is disabled
// and its refresh tokens revoked; generation history stays queryable.
func (h *UsersHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.RequireUserIDFromContext(r.Context())
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	if err := h.authService.Deactivate(r.Context(), userID); err != nil {
		h.logger.Error("Failed to deactivate user", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to deactivate account")
		return
	}

	if err := WriteJSON(w, http.StatusOK, map[string]bool{"success": true}); err != nil {
		h.logger.Error("Failed to encode deactivate response", zap.Error(err))
	}
}

// Delete handles DELETE /api/users/me. Hard delete: sessions, QA records,
// statistics and auth sessions cascade.
func (h *UsersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.RequireUserIDFromContext(r.Context())
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	if err := h.authService.DeleteUser(r.Context(), userID); err != nil {
		h.logger.Error("Failed to delete user", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to delete account")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *UsersHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	if err := ErrorResponse(w, status, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
