package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/qaforge/qagen-engine/pkg/apperrors"
	"github.com/qaforge/qagen-engine/pkg/config"
	"github.com/qaforge/qagen-engine/pkg/models"
	"github.com/qaforge/qagen-engine/pkg/repositories"
	"github.com/qaforge/qagen-engine/pkg/retry"
)

// IngestService validates and appends QA records to sessions, keeping the
// per-session rollup consistent with every insert.
type IngestService interface {
	// Ingest appends record to the session. Records may arrive in any order;
	// only question_order uniqueness is enforced. Ingests for one session are
	// serialized; different sessions proceed concurrently.
	Ingest(ctx context.Context, sessionID uuid.UUID, record *models.QARecord) error

	// Forget drops the cached rollup and lock for a session, reclaiming the
	// per-session state once the session is deleted. A later ingest reseeds
	// from the database.
	Forget(sessionID uuid.UUID)
}

// StatsInvalidator is notified after a successful ingest so cached statistics
// reads don't serve stale rollups.
type StatsInvalidator interface {
	InvalidateStatistics(ctx context.Context, sessionID uuid.UUID)
}

// ingestService implements IngestService.
type ingestService struct {
	qaRepo      repositories.QARepository
	invalidator StatsInvalidator
	retryCfg    *retry.Config
	logger      *zap.Logger

	mu      sync.Mutex
	locks   map[uuid.UUID]*sync.Mutex
	rollups map[uuid.UUID]*rollup
}

// NewIngestService creates a new ingest service. invalidator may be nil.
func NewIngestService(qaRepo repositories.QARepository, invalidator StatsInvalidator, cfg *config.IngestConfig, logger *zap.Logger) IngestService {
	retryCfg := retry.DefaultConfig()
	if cfg != nil {
		retryCfg.MaxRetries = cfg.MaxRetries
		retryCfg.InitialDelay = time.Duration(cfg.RetryInitialDelayMs) * time.Millisecond
		retryCfg.MaxDelay = time.Duration(cfg.RetryMaxDelayMs) * time.Millisecond
	}
	return &ingestService{
		qaRepo:      qaRepo,
		invalidator: invalidator,
		retryCfg:    retryCfg,
		logger:      logger,
		locks:       make(map[uuid.UUID]*sync.Mutex),
		rollups:     make(map[uuid.UUID]*rollup),
	}
}

func (s *ingestService) Ingest(ctx context.Context, sessionID uuid.UUID, record *models.QARecord) error {
	record.SessionID = sessionID

	// Token policy: a supplied total must agree; an omitted total is derived.
	derived := record.InputTokens + record.OutputTokens
	if record.TotalTokens == 0 {
		record.TotalTokens = derived
	} else if record.TotalTokens != derived {
		return fmt.Errorf("%w: got %d, input %d + output %d = %d",
			apperrors.ErrTokenMismatch, record.TotalTokens, record.InputTokens, record.OutputTokens, derived)
	}

	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	current, err := s.sessionRollup(ctx, sessionID)
	if err != nil {
		return err
	}

	// Stage the updated rollup; it only becomes the in-memory state once the
	// transaction commits.
	staged := current.clone()
	staged.apply(record)
	stats := staged.snapshot(sessionID)

	err = retry.DoIfRetryable(ctx, s.retryCfg, func() error {
		return s.qaRepo.Ingest(ctx, record, stats)
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) || errors.Is(err, apperrors.ErrDuplicateOrder) {
			return err
		}
		// Transient failure survived all retries. Drop the cached rollup so
		// the next ingest reseeds from the database, and hand the caller a
		// correlation id instead of storage internals.
		s.mu.Lock()
		delete(s.rollups, sessionID)
		s.mu.Unlock()
		correlationID := uuid.New()
		s.logger.Error("ingest transaction failed after retries",
			zap.String("session_id", sessionID.String()),
			zap.String("correlation_id", correlationID.String()),
			zap.Int("question_order", record.QuestionOrder),
			zap.Error(err))
		return &apperrors.PersistenceFailure{CorrelationID: correlationID, Err: err}
	}

	s.mu.Lock()
	s.rollups[sessionID] = staged
	s.mu.Unlock()

	if s.invalidator != nil {
		s.invalidator.InvalidateStatistics(ctx, sessionID)
	}

	return nil
}

func (s *ingestService) Forget(sessionID uuid.UUID) {
	s.mu.Lock()
	delete(s.rollups, sessionID)
	delete(s.locks, sessionID)
	s.mu.Unlock()
}

// sessionLock returns the mutex serializing ingests for one session.
func (s *ingestService) sessionLock(sessionID uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[sessionID] = lock
	}
	return lock
}

// sessionRollup returns the in-memory rollup for a session, seeding it by
// replaying the session's records on first touch (or after a failure dropped
// it). Must be called with the session lock held.
func (s *ingestService) sessionRollup(ctx context.Context, sessionID uuid.UUID) (*rollup, error) {
	s.mu.Lock()
	cached, ok := s.rollups[sessionID]
	s.mu.Unlock()
	if ok {
		return cached, nil
	}

	records, err := s.qaRepo.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to replay session rollup: %w", err)
	}
	seeded := replayRollup(records)

	s.mu.Lock()
	s.rollups[sessionID] = seeded
	s.mu.Unlock()
	return seeded, nil
}
