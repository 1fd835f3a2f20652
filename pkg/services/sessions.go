package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/qaforge/qagen-engine/pkg/apperrors"
	"github.com/qaforge/qagen-engine/pkg/config"
	"github.com/qaforge/qagen-engine/pkg/models"
	"github.com/qaforge/qagen-engine/pkg/repositories"
)

// SessionService defines the interface for generation session operations and
// statistics reads.
type SessionService interface {
	Create(ctx context.Context, session *models.Session) error
	Get(ctx context.Context, id uuid.UUID) (*models.Session, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Session, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// GetStatistics returns the session's rollup. A session with no ingested
	// records yet reports an all-zero rollup, not an error.
	GetStatistics(ctx context.Context, sessionID uuid.UUID) (*models.SessionStatistics, error)

	ListQA(ctx context.Context, sessionID uuid.UUID) ([]*models.QARecord, error)

	// InvalidateStatistics drops the cached rollup for a session.
	InvalidateStatistics(ctx context.Context, sessionID uuid.UUID)
}

// sessionService implements SessionService with an optional Redis read cache
// for statistics.
type sessionService struct {
	sessionRepo repositories.SessionRepository
	qaRepo      repositories.QARepository
	cache       *redis.Client // nil disables caching
	cacheCfg    *config.RedisConfig
	logger      *zap.Logger
}

// NewSessionService creates a new session service. cache may be nil.
func NewSessionService(sessionRepo repositories.SessionRepository, qaRepo repositories.QARepository, cache *redis.Client, cacheCfg *config.RedisConfig, logger *zap.Logger) SessionService {
	return &sessionService{
		sessionRepo: sessionRepo,
		qaRepo:      qaRepo,
		cache:       cache,
		cacheCfg:    cacheCfg,
		logger:      logger,
	}
}

func (s *sessionService) Create(ctx context.Context, session *models.Session) error {
	if !models.IsValidSessionKind(session.Kind) {
		return apperrors.ErrInvalidKind
	}
	if session.Name == "" {
		return fmt.Errorf("session name is required")
	}
	return s.sessionRepo.Create(ctx, session)
}

func (s *sessionService) Get(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	return s.sessionRepo.GetByID(ctx, id)
}

func (s *sessionService) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Session, error) {
	return s.sessionRepo.ListByUser(ctx, userID)
}

func (s *sessionService) Delete(ctx context.Context, id uuid.UUID) error {
	s.InvalidateStatistics(ctx, id)
	return s.sessionRepo.Delete(ctx, id)
}

func (s *sessionService) GetStatistics(ctx context.Context, sessionID uuid.UUID) (*models.SessionStatistics, error) {
	if cached := s.cachedStatistics(ctx, sessionID); cached != nil {
		return cached, nil
	}

	// Verify the session exists so a missing stats row can be distinguished
	// from a missing session.
	if _, err := s.sessionRepo.GetByID(ctx, sessionID); err != nil {
		return nil, err
	}

	stats, err := s.qaRepo.GetStatistics(ctx, sessionID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			// The stats row is created lazily on first ingest.
			stats = &models.SessionStatistics{SessionID: sessionID}
		} else {
			return nil, err
		}
	}

	s.storeStatistics(ctx, stats)
	return stats, nil
}

func (s *sessionService) ListQA(ctx context.Context, sessionID uuid.UUID) ([]*models.QARecord, error) {
	if _, err := s.sessionRepo.GetByID(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.qaRepo.ListBySession(ctx, sessionID)
}

func (s *sessionService) InvalidateStatistics(ctx context.Context, sessionID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, statsCacheKey(sessionID)).Err(); err != nil {
		// Cache misses are acceptable; the TTL bounds staleness either way.
		s.logger.Warn("failed to invalidate statistics cache",
			zap.String("session_id", sessionID.String()),
			zap.Error(err))
	}
}

func (s *sessionService) cachedStatistics(ctx context.Context, sessionID uuid.UUID) *models.SessionStatistics {
	if s.cache == nil {
		return nil
	}
	payload, err := s.cache.Get(ctx, statsCacheKey(sessionID)).Bytes()
	if err != nil {
		return nil
	}
	var stats models.SessionStatistics
	if err := json.Unmarshal(payload, &stats); err != nil {
		return nil
	}
	return &stats
}

func (s *sessionService) storeStatistics(ctx context.Context, stats *models.SessionStatistics) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(stats)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, statsCacheKey(stats.SessionID), payload, s.cacheCfg.StatsTTL()).Err(); err != nil {
		s.logger.Warn("failed to cache statistics",
			zap.String("session_id", stats.SessionID.String()),
			zap.Error(err))
	}
}

func statsCacheKey(sessionID uuid.UUID) string {
	return "session:stats:" + sessionID.String()
}

// Ensure sessionService implements SessionService at compile time.
var _ SessionService = (*sessionService)(nil)
