package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/qaforge/qagen-engine/pkg/apperrors"
	"github.com/qaforge/qagen-engine/pkg/database"
	"github.com/qaforge/qagen-engine/pkg/models"
)

// AuthSessionRepository defines the interface for refresh-token session access.
type AuthSessionRepository interface {
	Create(ctx context.Context, session *models.AuthSession) error
	GetByRefreshToken(ctx context.Context, token string) (*models.AuthSession, error)
	// DeleteByRefreshToken removes a session. Deleting an already-removed
	// token is not an error (logout is idempotent).
	DeleteByRefreshToken(ctx context.Context, token string) error
	DeleteByUser(ctx context.Context, userID uuid.UUID) error
	// DeleteExpired sweeps sessions whose expiry is before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// authSessionRepository implements AuthSessionRepository using PostgreSQL.
type authSessionRepository struct {
	db *database.DB
}

// NewAuthSessionRepository creates a new auth session repository.
func NewAuthSessionRepository(db *database.DB) AuthSessionRepository {
	return &authSessionRepository{db: db}
}

// Create inserts a new refresh-token session.
func (r *authSessionRepository) Create(ctx context.Context, session *models.AuthSession) error {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	session.CreatedAt = time.Now()

	query := `
		INSERT INTO user_sessions (id, user_id, refresh_token, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.Exec(ctx, query,
		session.ID,
		session.UserID,
		session.RefreshToken,
		session.ExpiresAt,
		session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create auth session: %w", err)
	}
	return nil
}

// GetByRefreshToken looks up a session by its refresh token value.
func (r *authSessionRepository) GetByRefreshToken(ctx context.Context, token string) (*models.AuthSession, error) {
	query := `
		SELECT id, user_id, refresh_token, expires_at, created_at
		FROM user_sessions
		WHERE refresh_token = $1`

	var session models.AuthSession
	err := r.db.QueryRow(ctx, query, token).Scan(
		&session.ID,
		&session.UserID,
		&session.RefreshToken,
		&session.ExpiresAt,
		&session.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get auth session: %w", err)
	}
	return &session, nil
}

// DeleteByRefreshToken removes a session by token value.
func (r *authSessionRepository) DeleteByRefreshToken(ctx context.Context, token string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM user_sessions WHERE refresh_token = $1`, token)
	if err != nil {
		return fmt.Errorf("failed to delete auth session: %w", err)
	}
	return nil
}

// DeleteByUser removes all sessions for a user.
func (r *authSessionRepository) DeleteByUser(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM user_sessions WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete user auth sessions: %w", err)
	}
	return nil
}

// DeleteExpired sweeps expired sessions and returns how many were removed.
func (r *authSessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM user_sessions WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired auth sessions: %w", err)
	}
	return result.RowsAffected(), nil
}

// Ensure authSessionRepository implements AuthSessionRepository at compile time.
var _ AuthSessionRepository = (*authSessionRepository)(nil)
