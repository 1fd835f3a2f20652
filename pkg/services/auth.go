package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/qaforge/qagen-engine/pkg/apperrors"
	"github.com/qaforge/qagen-engine/pkg/auth"
	"github.com/qaforge/qagen-engine/pkg/config"
	"github.com/qaforge/qagen-engine/pkg/logging"
	"github.com/qaforge/qagen-engine/pkg/models"
	"github.com/qaforge/qagen-engine/pkg/repositories"
)

// TokenPair is the result of a successful login or refresh.
type TokenPair struct {
	AccessToken     string    `json:"access_token"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
	RefreshToken    string    `json:"refresh_token"`
	User            *models.User
}

// AuthService defines the interface for account and session operations.
type AuthService interface {
	Register(ctx context.Context, email, password, name, displayName string) (*models.User, error)
	Login(ctx context.Context, email, password string) (*TokenPair, error)
	// Refresh rotates the refresh token: the presented token is invalidated
	// and a new one is issued alongside a fresh access token.
	Refresh(ctx context.Context, refreshToken string) (*TokenPair, error)
	// Logout invalidates a refresh token. Idempotent.
	Logout(ctx context.Context, refreshToken string) error
	// SweepExpired removes expired refresh-token sessions.
	SweepExpired(ctx context.Context) (int64, error)
	// Deactivate soft-disables the account and revokes its refresh tokens.
	// Historical sessions stay intact and queryable.
	Deactivate(ctx context.Context, userID uuid.UUID) error
	// DeleteUser hard-deletes the account; generation sessions, statistics,
	// QA records and auth sessions cascade.
	DeleteUser(ctx context.Context, userID uuid.UUID) error
}

// authService implements AuthService.
type authService struct {
	userRepo repositories.UserRepository
	authRepo repositories.AuthSessionRepository
	issuer   *auth.TokenIssuer
	cfg      *config.AuthConfig
	logger   *zap.Logger
}

// NewAuthService creates a new auth service with dependencies.
func NewAuthService(userRepo repositories.UserRepository, authRepo repositories.AuthSessionRepository, issuer *auth.TokenIssuer, cfg *config.AuthConfig, logger *zap.Logger) AuthService {
	return &authService{
		userRepo: userRepo,
		authRepo: authRepo,
		issuer:   issuer,
		cfg:      cfg,
		logger:   logger,
	}
}

func (s *authService) Register(ctx context.Context, email, password, name, displayName string) (*models.User, error) {
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	hashStr := string(hash)

	user := &models.User{
		Email:       email,
		Name:        name,
		DisplayName: displayName,
		Password:    &hashStr,
		Roles:       models.DefaultRoles,
		IsActive:    true,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("user registered", zap.String("user_id", user.ID.String()))
	return user, nil
}

func (s *authService) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.ErrInvalidCredentials
		}
		return nil, err
	}

	if !user.IsActive {
		return nil, apperrors.ErrUserInactive
	}
	if user.Password == nil {
		return nil, apperrors.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*user.Password), []byte(password)); err != nil {
		return nil, apperrors.ErrInvalidCredentials
	}

	now := time.Now()
	if err := s.userRepo.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, err
	}
	user.LastLoginAt = &now

	return s.issueTokens(ctx, user)
}

func (s *authService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	session, err := s.authRepo.GetByRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	if session.Expired(time.Now()) {
		_ = s.authRepo.DeleteByRefreshToken(ctx, refreshToken)
		return nil, apperrors.ErrSessionExpired
	}

	user, err := s.userRepo.GetByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, apperrors.ErrUserInactive
	}

	// Rotation: the presented token is single-use.
	if err := s.authRepo.DeleteByRefreshToken(ctx, refreshToken); err != nil {
		return nil, err
	}

	return s.issueTokens(ctx, user)
}

func (s *authService) Logout(ctx context.Context, refreshToken string) error {
	return s.authRepo.DeleteByRefreshToken(ctx, refreshToken)
}

func (s *authService) SweepExpired(ctx context.Context) (int64, error) {
	removed, err := s.authRepo.DeleteExpired(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Info("swept expired auth sessions", zap.Int64("removed", removed))
	}
	return removed, nil
}

func (s *authService) Deactivate(ctx context.Context, userID uuid.UUID) error {
	if err := s.userRepo.SetActive(ctx, userID, false); err != nil {
		return err
	}
	if err := s.authRepo.DeleteByUser(ctx, userID); err != nil {
		return err
	}
	s.logger.Info("user deactivated", zap.String("user_id", userID.String()))
	return nil
}

func (s *authService) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	return s.userRepo.Delete(ctx, userID)
}

func (s *authService) issueTokens(ctx context.Context, user *models.User) (*TokenPair, error) {
	refreshToken, err := newRefreshToken()
	if err != nil {
		return nil, err
	}

	session := &models.AuthSession{
		UserID:       user.ID,
		RefreshToken: refreshToken,
		ExpiresAt:    time.Now().Add(s.cfg.RefreshTokenTTL()),
	}
	if err := s.authRepo.Create(ctx, session); err != nil {
		return nil, err
	}

	accessToken, expiresAt, err := s.issuer.Issue(user)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("issued tokens",
		zap.String("user_id", user.ID.String()),
		zap.String("refresh_token", logging.SanitizeToken(refreshToken)))

	return &TokenPair{
		AccessToken:     accessToken,
		AccessExpiresAt: expiresAt,
		RefreshToken:    refreshToken,
		User:            user,
	}, nil
}

// newRefreshToken returns 32 bytes of entropy, URL-safe base64 encoded.
func newRefreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Ensure authService implements AuthService at compile time.
var _ AuthService = (*authService)(nil)
