package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/qaforge/qagen-engine/pkg/apperrors"
	"github.com/qaforge/qagen-engine/pkg/database"
	"github.com/qaforge/qagen-engine/pkg/models"
)

// QARepository defines the interface for QA record access and the atomic
// ingest transaction.
type QARepository interface {
	// Ingest appends one QA record as a single transaction: insert into
	// qa_data, write the precomputed rollup into session_statistics, and bump
	// the owning session's running token totals. A crash can therefore never
	// leave the rollup and the raw records inconsistent beyond what full
	// replay repairs.
	//
	// Returns ErrNotFound if the session does not exist and ErrDuplicateOrder
	// if the record's question_order is already taken for the session; in
	// both cases nothing is written.
	Ingest(ctx context.Context, record *models.QARecord, stats *models.SessionStatistics) error

	// ListBySession returns a session's records in question_order.
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.QARecord, error)

	CountBySession(ctx context.Context, sessionID uuid.UUID) (int, error)

	// GetStatistics returns the persisted rollup. ErrNotFound means no record
	// has ever been ingested for the session (the row is created lazily).
	GetStatistics(ctx context.Context, sessionID uuid.UUID) (*models.SessionStatistics, error)
}

// qaRepository implements QARepository using PostgreSQL.
type qaRepository struct {
	db *database.DB
}

// NewQARepository creates a new QA record repository.
func NewQARepository(db *database.DB) QARepository {
	return &qaRepository{db: db}
}

func (r *qaRepository) Ingest(ctx context.Context, record *models.QARecord, stats *models.SessionStatistics) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin ingest transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	// Bump session token totals first: RowsAffected doubles as the
	// existence check for the session.
	result, err := tx.Exec(ctx, `
		UPDATE sessions
		SET total_input_tokens = total_input_tokens + $1,
		    total_output_tokens = total_output_tokens + $2,
		    updated_at = $3
		WHERE id = $4`,
		record.InputTokens, record.OutputTokens, time.Now(), record.SessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session token totals: %w", err)
	}
	if result.RowsAffected() == 0 {
		err = apperrors.ErrNotFound
		return err
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO qa_data (session_id, question, answer, accuracy, sentiment,
			input_tokens, output_tokens, total_tokens, cost, question_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		record.SessionID,
		record.Question,
		record.Answer,
		record.Accuracy,
		record.Sentiment,
		record.InputTokens,
		record.OutputTokens,
		record.TotalTokens,
		record.Cost,
		record.QuestionOrder,
	).Scan(&record.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			err = apperrors.ErrDuplicateOrder
			return err
		}
		return fmt.Errorf("failed to insert qa record: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO session_statistics (session_id, total_questions, avg_accuracy, total_cost)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id) DO UPDATE
		SET total_questions = EXCLUDED.total_questions,
		    avg_accuracy = EXCLUDED.avg_accuracy,
		    total_cost = EXCLUDED.total_cost`,
		stats.SessionID,
		stats.TotalQuestions,
		stats.AvgAccuracy,
		stats.TotalCost,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session statistics: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit ingest transaction: %w", err)
	}
	return nil
}

func (r *qaRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.QARecord, error) {
	query := `
		SELECT id, session_id, question, answer, accuracy, sentiment,
			input_tokens, output_tokens, total_tokens, cost, question_order
		FROM qa_data
		WHERE session_id = $1
		ORDER BY question_order`

	rows, err := r.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list qa records: %w", err)
	}
	defer rows.Close()

	var records []*models.QARecord
	for rows.Next() {
		var record models.QARecord
		err := rows.Scan(
			&record.ID,
			&record.SessionID,
			&record.Question,
			&record.Answer,
			&record.Accuracy,
			&record.Sentiment,
			&record.InputTokens,
			&record.OutputTokens,
			&record.TotalTokens,
			&record.Cost,
			&record.QuestionOrder,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan qa record: %w", err)
		}
		records = append(records, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating qa records: %w", err)
	}

	return records, nil
}

func (r *qaRepository) CountBySession(ctx context.Context, sessionID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM qa_data WHERE session_id = $1`, sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count qa records: %w", err)
	}
	return count, nil
}

func (r *qaRepository) GetStatistics(ctx context.Context, sessionID uuid.UUID) (*models.SessionStatistics, error) {
	query := `
		SELECT session_id, total_questions, avg_accuracy, total_cost
		FROM session_statistics
		WHERE session_id = $1`

	var stats models.SessionStatistics
	err := r.db.QueryRow(ctx, query, sessionID).Scan(
		&stats.SessionID,
		&stats.TotalQuestions,
		&stats.AvgAccuracy,
		&stats.TotalCost,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session statistics: %w", err)
	}
	return &stats, nil
}

// Ensure qaRepository implements QARepository at compile time.
var _ QARepository = (*qaRepository)(nil)
