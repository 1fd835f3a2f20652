package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/qaforge/qagen-engine/pkg/apperrors"
	"github.com/qaforge/qagen-engine/pkg/auth"
	"github.com/qaforge/qagen-engine/pkg/config"
	"github.com/qaforge/qagen-engine/pkg/models"
)

// fakeUserRepo is an in-memory UserRepository double.
type fakeUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*models.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[uuid.UUID]*models.User)}
}

func (f *fakeUserRepo) Create(ctx context.Context, user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if existing.Email == user.Email {
			return apperrors.ErrEmailTaken
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	f.users[user.ID] = user
	return nil
}

func (f *fakeUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return user, nil
}

func (f *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Email == email {
			return user, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (f *fakeUserRepo) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	user.LastLoginAt = &at
	return nil
}

func (f *fakeUserRepo) UpdateRoles(ctx context.Context, id uuid.UUID, roles []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	user.Roles = roles
	return nil
}

func (f *fakeUserRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	user.IsActive = active
	return nil
}

func (f *fakeUserRepo) Delete(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(f.users, id)
	return nil
}

// fakeAuthSessionRepo is an in-memory AuthSessionRepository double.
type fakeAuthSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*models.AuthSession
}

func newFakeAuthSessionRepo() *fakeAuthSessionRepo {
	return &fakeAuthSessionRepo{sessions: make(map[string]*models.AuthSession)}
}

func (f *fakeAuthSessionRepo) Create(ctx context.Context, session *models.AuthSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	f.sessions[session.RefreshToken] = session
	return nil
}

func (f *fakeAuthSessionRepo) GetByRefreshToken(ctx context.Context, token string) (*models.AuthSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[token]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return session, nil
}

func (f *fakeAuthSessionRepo) DeleteByRefreshToken(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, token)
	return nil
}

func (f *fakeAuthSessionRepo) DeleteByUser(ctx context.Context, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for token, session := range f.sessions {
		if session.UserID == userID {
			delete(f.sessions, token)
		}
	}
	return nil
}

func (f *fakeAuthSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for token, session := range f.sessions {
		if session.Expired(now) {
			delete(f.sessions, token)
			removed++
		}
	}
	return removed, nil
}

func newTestAuthService(users *fakeUserRepo, sessions *fakeAuthSessionRepo) AuthService {
	cfg := &config.AuthConfig{
		JWTSecret:             "test-secret",
		AccessTokenTTLMinutes: 15,
		RefreshTokenTTLHours:  168,
	}
	issuer := auth.NewTokenIssuer(cfg.JWTSecret, cfg.AccessTokenTTL())
	return NewAuthService(users, sessions, issuer, cfg, zap.NewNop())
}

func TestRegisterAndLogin(t *testing.T) {
	users := newFakeUserRepo()
	sessions := newFakeAuthSessionRepo()
	svc := newTestAuthService(users, sessions)
	ctx := context.Background()

	user, err := svc.Register(ctx, "dev@example.com", "hunter2password", "Dev", "dev")
	require.NoError(t, err)
	assert.True(t, user.IsActive)
	assert.Equal(t, models.DefaultRoles, user.Roles)
	require.NotNil(t, user.Password)
	assert.True(t, strings.HasPrefix(*user.Password, "$2"), "password is stored as a bcrypt hash")

	pair, err := svc.Login(ctx, "dev@example.com", "hunter2password")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.NotNil(t, pair.User.LastLoginAt)
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	svc := newTestAuthService(newFakeUserRepo(), newFakeAuthSessionRepo())
	ctx := context.Background()

	_, err := svc.Register(ctx, "dev@example.com", "hunter2password", "Dev", "dev")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "dev@example.com", "otherpassword1", "Dev2", "dev2")
	assert.ErrorIs(t, err, apperrors.ErrEmailTaken)
}

func TestRegisterRejectsShortPassword(t *testing.T) {
	svc := newTestAuthService(newFakeUserRepo(), newFakeAuthSessionRepo())
	_, err := svc.Register(context.Background(), "dev@example.com", "short", "Dev", "dev")
	assert.Error(t, err)
}

func TestLoginWrongPassword(t *testing.T) {
	svc := newTestAuthService(newFakeUserRepo(), newFakeAuthSessionRepo())
	ctx := context.Background()

	_, err := svc.Register(ctx, "dev@example.com", "hunter2password", "Dev", "dev")
	require.NoError(t, err)

	_, err = svc.Login(ctx, "dev@example.com", "wrongpassword")
	assert.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
}

func TestLoginUnknownEmail(t *testing.T) {
	svc := newTestAuthService(newFakeUserRepo(), newFakeAuthSessionRepo())
	_, err := svc.Login(context.Background(), "nobody@example.com", "whatever123")
	assert.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
}

func TestLoginInactiveUser(t *testing.T) {
	users := newFakeUserRepo()
	sessions := newFakeAuthSessionRepo()
	svc := newTestAuthService(users, sessions)
	ctx := context.Background()

	user, err := svc.Register(ctx, "dev@example.com", "hunter2password", "Dev", "dev")
	require.NoError(t, err)
	require.NoError(t, users.SetActive(ctx, user.ID, false))

	_, err = svc.Login(ctx, "dev@example.com", "hunter2password")
	assert.ErrorIs(t, err, apperrors.ErrUserInactive)
}

func TestRefreshRotatesToken(t *testing.T) {
	users := newFakeUserRepo()
	sessions := newFakeAuthSessionRepo()
	svc := newTestAuthService(users, sessions)
	ctx := context.Background()

	_, err := svc.Register(ctx, "dev@example.com", "hunter2password", "Dev", "dev")
	require.NoError(t, err)
	pair, err := svc.Login(ctx, "dev@example.com", "hunter2password")
	require.NoError(t, err)

	rotated, err := svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	// The presented token is single-use.
	_, err = svc.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRefreshExpiredSession(t *testing.T) {
	users := newFakeUserRepo()
	sessions := newFakeAuthSessionRepo()
	svc := newTestAuthService(users, sessions)
	ctx := context.Background()

	user, err := svc.Register(ctx, "dev@example.com", "hunter2password", "Dev", "dev")
	require.NoError(t, err)

	stale := &models.AuthSession{
		UserID:       user.ID,
		RefreshToken: "stale-token-0123456789abcdef",
		ExpiresAt:    time.Now().Add(-time.Hour),
	}
	require.NoError(t, sessions.Create(ctx, stale))

	_, err = svc.Refresh(ctx, stale.RefreshToken)
	assert.ErrorIs(t, err, apperrors.ErrSessionExpired)

	// Expired session is removed on the way out.
	_, err = sessions.GetByRefreshToken(ctx, stale.RefreshToken)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestLogoutIsIdempotent(t *testing.T) {
	users := newFakeUserRepo()
	sessions := newFakeAuthSessionRepo()
	svc := newTestAuthService(users, sessions)
	ctx := context.Background()

	_, err := svc.Register(ctx, "dev@example.com", "hunter2password", "Dev", "dev")
	require.NoError(t, err)
	pair, err := svc.Login(ctx, "dev@example.com", "hunter2password")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, pair.RefreshToken))
	require.NoError(t, svc.Logout(ctx, pair.RefreshToken))
}

func TestDeactivateRevokesSessions(t *testing.T) {
	users := newFakeUserRepo()
	sessions := newFakeAuthSessionRepo()
	svc := newTestAuthService(users, sessions)
	ctx := context.Background()

	user, err := svc.Register(ctx, "dev@example.com", "hunter2password", "Dev", "dev")
	require.NoError(t, err)
	pair, err := svc.Login(ctx, "dev@example.com", "hunter2password")
	require.NoError(t, err)

	require.NoError(t, svc.Deactivate(ctx, user.ID))

	_, err = svc.Refresh(ctx, pair.RefreshToken)
	assert.Error(t, err)

	_, err = svc.Login(ctx, "dev@example.com", "hunter2password")
	assert.ErrorIs(t, err, apperrors.ErrUserInactive)
}

func TestSweepExpired(t *testing.T) {
	users := newFakeUserRepo()
	sessions := newFakeAuthSessionRepo()
	svc := newTestAuthService(users, sessions)
	ctx := context.Background()

	require.NoError(t, sessions.Create(ctx, &models.AuthSession{
		UserID:       uuid.New(),
		RefreshToken: "expired-token-0123456789abcdef",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}))
	require.NoError(t, sessions.Create(ctx, &models.AuthSession{
		UserID:       uuid.New(),
		RefreshToken: "live-token-0123456789abcdef",
		ExpiresAt:    time.Now().Add(time.Hour),
	}))

	removed, err := svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}
