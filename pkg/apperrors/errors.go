// Package apperrors defines the sentinel errors shared across services,
// repositories and handlers.
package apperrors

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrDuplicateOrder     = errors.New("question_order already exists for session")
	ErrTokenMismatch      = errors.New("total_tokens does not equal input_tokens + output_tokens")
	ErrInvalidKind        = errors.New("session type must be 'question' or 'answer'")
	ErrInvalidRunState    = errors.New("run is not accepting ticks")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserInactive       = errors.New("user is deactivated")
	ErrSessionExpired     = errors.New("refresh token expired")
	ErrEmailTaken         = errors.New("email already registered")
)

// PersistenceFailure is returned when a storage operation still fails after
// exhausting its retries. Error() deliberately omits the underlying cause so
// the message is safe to hand to clients; CorrelationID links the response to
// the server log line that carries the details.
type PersistenceFailure struct {
	CorrelationID uuid.UUID
	Err           error
}

func (e *PersistenceFailure) Error() string {
	return fmt.Sprintf("persistence failure (correlation id %s)", e.CorrelationID)
}

func (e *PersistenceFailure) Unwrap() error { return e.Err }
