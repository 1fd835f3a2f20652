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

// SessionRepository defines the interface for generation session access.
// Session kind is immutable: there is deliberately no update operation for it,
// and the only mutation of an existing row is the token-total bump performed
// inside the ingest transaction (see QARepository.Ingest).
type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Session, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// sessionRepository implements SessionRepository using PostgreSQL.
type sessionRepository struct {
	db *database.DB
}

// NewSessionRepository creates a new session repository.
func NewSessionRepository(db *database.DB) SessionRepository {
	return &sessionRepository{db: db}
}

const sessionColumns = `id, user_id, name, type, timestamp, model,
	question_provider, question_model, answer_provider, answer_model,
	blog_content, blog_url, total_input_tokens, total_output_tokens,
	created_at, updated_at`

// Create inserts a new generation session.
func (r *sessionRepository) Create(ctx context.Context, session *models.Session) error {
	if !models.IsValidSessionKind(session.Kind) {
		return apperrors.ErrInvalidKind
	}
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now

	query := `
		INSERT INTO sessions (id, user_id, name, type, timestamp, model,
			question_provider, question_model, answer_provider, answer_model,
			blog_content, blog_url, total_input_tokens, total_output_tokens,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := r.db.Exec(ctx, query,
		session.ID,
		session.UserID,
		session.Name,
		session.Kind,
		session.Timestamp,
		session.Model,
		session.QuestionProvider,
		session.QuestionModel,
		session.AnswerProvider,
		session.AnswerModel,
		session.BlogContent,
		session.BlogURL,
		session.TotalInputTokens,
		session.TotalOutputTokens,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetByID retrieves a session by id.
func (r *sessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`

	var session models.Session
	err := r.db.QueryRow(ctx, query, id).Scan(
		&session.ID,
		&session.UserID,
		&session.Name,
		&session.Kind,
		&session.Timestamp,
		&session.Model,
		&session.QuestionProvider,
		&session.QuestionModel,
		&session.AnswerProvider,
		&session.AnswerModel,
		&session.BlogContent,
		&session.BlogURL,
		&session.TotalInputTokens,
		&session.TotalOutputTokens,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

// ListByUser retrieves all sessions for a user, newest first.
func (r *sessionRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		var session models.Session
		err := rows.Scan(
			&session.ID,
			&session.UserID,
			&session.Name,
			&session.Kind,
			&session.Timestamp,
			&session.Model,
			&session.QuestionProvider,
			&session.QuestionModel,
			&session.AnswerProvider,
			&session.AnswerModel,
			&session.BlogContent,
			&session.BlogURL,
			&session.TotalInputTokens,
			&session.TotalOutputTokens,
			&session.CreatedAt,
			&session.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, &session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, nil
}

// Delete removes a session; statistics and QA records cascade.
func (r *sessionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// Ensure sessionRepository implements SessionRepository at compile time.
var _ SessionRepository = (*sessionRepository)(nil)
