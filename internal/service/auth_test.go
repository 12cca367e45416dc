package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Pranjalshukla1602/task-manager/internal/auth"
	"github.com/Pranjalshukla1602/task-manager/internal/domain"
	"github.com/Pranjalshukla1602/task-manager/internal/repository"
	apperrors "github.com/Pranjalshukla1602/task-manager/pkg/errors"
)

// --- In-memory user repository ---

type memUserRepository struct {
	mu        sync.Mutex
	users     map[string]*domain.User
	createErr error
	saves     int
}

func newMemUserRepository() *memUserRepository {
	return &memUserRepository{users: make(map[string]*domain.User)}
}

func (r *memUserRepository) Create(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.users[u.ID] = u
	return nil
}

func (r *memUserRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		return u, nil
	}
	return nil, apperrors.NotFound("user", id)
}

func (r *memUserRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, apperrors.NotFound("user", email)
}

func (r *memUserRepository) Save(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	r.users[u.ID] = u
	return nil
}

func (r *memUserRepository) PurgeExpiredSessions(context.Context, time.Time) (repository.PurgeResult, error) {
	return repository.PurgeResult{}, nil
}

// --- Mock event publisher ---

type mockEvents struct {
	mock.Mock
}

func (m *mockEvents) PublishUserRegistered(ctx context.Context, user *domain.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *mockEvents) PublishLoginFailed(ctx context.Context, user *domain.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *mockEvents) PublishUserLocked(ctx context.Context, user *domain.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *mockEvents) PublishSessionsRevoked(ctx context.Context, userID string, sessionIDs []string, reason string) error {
	return m.Called(ctx, userID, sessionIDs, reason).Error(0)
}

func permissiveEvents() *mockEvents {
	m := &mockEvents{}
	m.On("PublishUserRegistered", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("PublishLoginFailed", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("PublishUserLocked", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("PublishSessionsRevoked", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	return m
}

type stubBreach struct {
	breached bool
	err      error
}

func (b stubBreach) Breached(context.Context, string) (bool, error) {
	return b.breached, b.err
}

// --- Fixture ---

const testPassword = "Secret123"

var testDevice = domain.DeviceInfo{UserAgent: "go-test", IP: "127.0.0.1", DeviceType: "Desktop"}

type fixture struct {
	svc    *AuthService
	repo   *memUserRepository
	events *mockEvents
}

func newFixture(t *testing.T, opts ...func(*Config)) *fixture {
	t.Helper()
	cfg := Config{
		BcryptCost:       bcrypt.MinCost,
		MaxSessions:      5,
		MaxLoginAttempts: 5,
		LockDuration:     2 * time.Hour,
	}
	for _, o := range opts {
		o(&cfg)
	}

	codec := auth.NewCodec(auth.Config{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		Issuer:        "task-manager",
		Audience:      "task-manager-users",
		AccessExpiry:  time.Hour,
		RefreshExpiry: 24 * time.Hour,
	})
	repo := newMemUserRepository()
	events := permissiveEvents()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc, err := NewAuthService(repo, codec, events, nil, cfg, logger)
	require.NoError(t, err)
	return &fixture{svc: svc, repo: repo, events: events}
}

func (f *fixture) register(t *testing.T, email string) *AuthResult {
	t.Helper()
	res, err := f.svc.Register(context.Background(), RegisterInput{
		Name:     "Test User",
		Email:    email,
		Password: testPassword,
		Device:   testDevice,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) login(email, password string) (*AuthResult, error) {
	return f.svc.Login(context.Background(), LoginInput{Email: email, Password: password, Device: testDevice})
}

func appError(t *testing.T, err error) *apperrors.AppError {
	t.Helper()
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %v", err)
	return appErr
}

// ---------------------------------------------------------------------------
// Register
// ---------------------------------------------------------------------------

func TestRegister_Success(t *testing.T) {
	f := newFixture(t)

	res := f.register(t, "  Alice@Example.COM ")

	assert.Equal(t, "alice@example.com", res.User.Email)
	assert.True(t, res.User.IsActive)
	assert.NotEqual(t, testPassword, res.User.PasswordHash)
	assert.NotEmpty(t, res.AccessToken.Value)
	assert.NotEmpty(t, res.RefreshToken.Value)
	assert.True(t, res.RefreshToken.ExpiresAt.After(res.AccessToken.ExpiresAt))

	stored, err := f.repo.GetByID(context.Background(), res.User.ID)
	require.NoError(t, err)
	require.Equal(t, 1, stored.Ledger().Len())
	sess := stored.Ledger().Find(res.AccessToken.Value, time.Now())
	require.NotNil(t, sess)
	assert.Equal(t, testDevice, sess.Device)
	assert.Equal(t, res.SessionID, sess.ID)

	f.events.AssertCalled(t, "PublishUserRegistered", mock.Anything, res.User)
}

func TestRegister_DuplicateEmailIsCaseInsensitive(t *testing.T) {
	f := newFixture(t)
	f.register(t, "bob@example.com")

	_, err := f.svc.Register(context.Background(), RegisterInput{Name: "Bob", Email: "BOB@example.com", Password: testPassword})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDuplicateEmail))
	assert.Equal(t, http.StatusBadRequest, appError(t, err).Status)
	assert.Equal(t, "DUPLICATE_EMAIL", appError(t, err).Code)
}

func TestRegister_UniqueViolationOnCreate(t *testing.T) {
	f := newFixture(t)
	f.repo.createErr = apperrors.AlreadyExists("user", "email", "carol@example.com")

	_, err := f.svc.Register(context.Background(), RegisterInput{Name: "Carol", Email: "carol@example.com", Password: testPassword})
	assert.True(t, errors.Is(err, domain.ErrDuplicateEmail))
}

func TestRegister_BreachedPasswordRejected(t *testing.T) {
	f := newFixture(t)
	f.svc.breach = stubBreach{breached: true}

	_, err := f.svc.Register(context.Background(), RegisterInput{Name: "Dan", Email: "dan@example.com", Password: testPassword})
	require.Error(t, err)
	appErr := appError(t, err)
	assert.Equal(t, domain.CodeValidation, appErr.Code)
	assert.Equal(t, http.StatusBadRequest, appErr.Status)
	assert.Empty(t, f.repo.users)
}

func TestRegister_BreachCheckFailsOpen(t *testing.T) {
	f := newFixture(t)
	f.svc.breach = stubBreach{err: errors.New("range api down")}

	res, err := f.svc.Register(context.Background(), RegisterInput{Name: "Eve", Email: "eve@example.com", Password: testPassword})
	require.NoError(t, err)
	assert.NotNil(t, res.User)
}

// ---------------------------------------------------------------------------
// Login
// ---------------------------------------------------------------------------

func TestLogin_Success(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "alice@example.com")

	res, err := f.login("ALICE@example.com", testPassword)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, res.User.ID)
	assert.NotNil(t, res.User.LastLogin)
	assert.Equal(t, 2, res.User.Ledger().Len())
	assert.NotEqual(t, reg.AccessToken.Value, res.AccessToken.Value)
}

func TestLogin_UnknownAndWrongPasswordLookAlike(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice@example.com")

	_, unknownErr := f.login("nobody@example.com", testPassword)
	_, wrongErr := f.login("alice@example.com", "Wrong1234")

	for _, err := range []error{unknownErr, wrongErr} {
		require.Error(t, err)
		appErr := appError(t, err)
		assert.Equal(t, "INVALID_CREDENTIALS", appErr.Code)
		assert.Equal(t, "Invalid credentials", appErr.Message)
		assert.Equal(t, http.StatusUnauthorized, appErr.Status)
	}
}

func TestLogin_InactiveUser(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "alice@example.com")
	require.NoError(t, f.svc.SetActive(context.Background(), reg.User.ID, false))

	_, err := f.login("alice@example.com", testPassword)
	assert.True(t, errors.Is(err, domain.ErrInvalidCredentials))
}

func TestLogin_LocksAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "alice@example.com")

	for i := 0; i < 5; i++ {
		_, err := f.login("alice@example.com", "Wrong1234")
		assert.True(t, errors.Is(err, domain.ErrInvalidCredentials), "attempt %d", i+1)
	}

	user, _ := f.repo.GetByID(context.Background(), reg.User.ID)
	require.NotNil(t, user.LockUntil)
	f.events.AssertCalled(t, "PublishUserLocked", mock.Anything, mock.Anything)

	_, err := f.login("alice@example.com", testPassword)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrAccountLocked))
	assert.Equal(t, http.StatusLocked, appError(t, err).Status)
}

func TestLogin_LockElapses(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.MaxLoginAttempts = 2 })
	f.register(t, "alice@example.com")

	for i := 0; i < 2; i++ {
		_, _ = f.login("alice@example.com", "Wrong1234")
	}
	_, err := f.login("alice@example.com", testPassword)
	require.True(t, errors.Is(err, domain.ErrAccountLocked))

	later := time.Now().Add(3 * time.Hour)
	f.svc.now = func() time.Time { return later }

	res, err := f.login("alice@example.com", testPassword)
	require.NoError(t, err)
	assert.Nil(t, res.User.LockUntil)
	assert.Zero(t, res.User.LoginAttempts)
}

// ---------------------------------------------------------------------------
// Refresh
// ---------------------------------------------------------------------------

func TestRefresh_RotatesSingleUse(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "alice@example.com")
	ctx := context.Background()

	rotated, err := f.svc.Refresh(ctx, reg.RefreshToken.Value, testDevice)
	require.NoError(t, err)
	assert.NotEqual(t, reg.RefreshToken.Value, rotated.RefreshToken.Value)
	assert.Equal(t, 1, rotated.User.Ledger().Len())

	_, err = f.svc.Refresh(ctx, reg.RefreshToken.Value, testDevice)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRefreshTokenNotFound))

	_, err = f.svc.Authenticate(ctx, reg.AccessToken.Value)
	assert.Error(t, err, "old access token must die with its session")

	user, err := f.svc.Authenticate(ctx, rotated.AccessToken.Value)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, user.ID)
}

func TestRefresh_InvalidToken(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "alice@example.com")

	for _, token := range []string{"garbage", reg.AccessToken.Value} {
		_, err := f.svc.Refresh(context.Background(), token, testDevice)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrInvalidRefreshToken))
		assert.Equal(t, "Invalid refresh token", appError(t, err).Message)
	}
}

func TestRefresh_ExpiredRecordRemoved(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "alice@example.com")

	user, _ := f.repo.GetByID(context.Background(), reg.User.ID)
	sess := user.Ledger().Find(reg.RefreshToken.Value, time.Now())
	require.NotNil(t, sess)
	sess.RefreshExpiresAt = time.Now().Add(-time.Minute)

	_, err := f.svc.Refresh(context.Background(), reg.RefreshToken.Value, testDevice)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRefreshTokenExpired))
	assert.Equal(t, 0, user.Ledger().Len())
}

func TestRefresh_InactiveUser(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "alice@example.com")
	require.NoError(t, f.svc.SetActive(context.Background(), reg.User.ID, false))

	_, err := f.svc.Refresh(context.Background(), reg.RefreshToken.Value, testDevice)
	assert.True(t, errors.Is(err, domain.ErrInvalidRefreshToken))
}

// ---------------------------------------------------------------------------
// Authenticate
// ---------------------------------------------------------------------------

func TestAuthenticate_Messages(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "alice@example.com")
	ctx := context.Background()

	_, err := f.svc.Authenticate(ctx, "not-a-jwt")
	assert.Equal(t, "Invalid token", appError(t, err).Message)

	require.NoError(t, f.svc.Logout(ctx, reg.User.ID, reg.AccessToken.Value))
	_, err = f.svc.Authenticate(ctx, reg.AccessToken.Value)
	assert.Equal(t, "Token has been revoked or expired", appError(t, err).Message)
	assert.True(t, errors.Is(err, apperrors.ErrUnauthorized))
}

func TestAuthenticate_InactiveUser(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "alice@example.com")
	f.repo.users[reg.User.ID].IsActive = false

	_, err := f.svc.Authenticate(context.Background(), reg.AccessToken.Value)
	assert.Equal(t, "Invalid token or user not found", appError(t, err).Message)
}

func TestAuthenticate_DropsDeadSession(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "alice@example.com")
	user := f.repo.users[reg.User.ID]
	user.Ledger().All()[0].Active = false

	_, err := f.svc.Authenticate(context.Background(), reg.AccessToken.Value)
	require.Error(t, err)
	assert.Equal(t, 0, user.Ledger().Len())
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

func TestLogout_RemovesOnlyPresentedSession(t *testing.T) {
	f := newFixture(t)
	first := f.register(t, "alice@example.com")
	second, err := f.login("alice@example.com", testPassword)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, f.svc.Logout(ctx, first.User.ID, first.AccessToken.Value))

	sessions, err := f.svc.ListSessions(ctx, first.User.ID, second.AccessToken.Value)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, second.SessionID, sessions[0].ID)
	assert.True(t, sessions[0].Current)

	f.events.AssertCalled(t, "PublishSessionsRevoked", mock.Anything, first.User.ID, []string{first.SessionID}, "logout")
}

func TestSave_StampsServiceClock(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "alice@example.com")
	ctx := context.Background()

	later := time.Now().Add(10 * time.Minute)
	f.svc.now = func() time.Time { return later }

	n, err := f.svc.LogoutAll(ctx, reg.User.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, later.UTC(), f.repo.users[reg.User.ID].UpdatedAt)
}

func TestLogoutAll_InvalidatesEverySession(t *testing.T) {
	f := newFixture(t)
	first := f.register(t, "alice@example.com")
	second, err := f.login("alice@example.com", testPassword)
	require.NoError(t, err)
	ctx := context.Background()

	n, err := f.svc.LogoutAll(ctx, first.User.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, token := range []string{first.AccessToken.Value, second.AccessToken.Value} {
		_, err := f.svc.Authenticate(ctx, token)
		assert.Error(t, err)
	}
	sessions, err := f.svc.ListSessions(ctx, first.User.ID, "")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestLogin_EvictsOldestSession(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.MaxSessions = 3 })
	ctx := context.Background()

	base := time.Now()
	tick := 0
	f.svc.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	results := []*AuthResult{f.register(t, "alice@example.com")}
	for i := 0; i < 3; i++ {
		res, err := f.login("alice@example.com", testPassword)
		require.NoError(t, err)
		results = append(results, res)
	}

	sessions, err := f.svc.ListSessions(ctx, results[0].User.ID, "")
	require.NoError(t, err)
	ids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{results[1].SessionID, results[2].SessionID, results[3].SessionID}, ids)
	f.events.AssertCalled(t, "PublishSessionsRevoked", mock.Anything, mock.Anything, []string{results[0].SessionID}, "evicted")

	_, err = f.svc.Authenticate(ctx, results[0].AccessToken.Value)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrUnauthorized))
	assert.Equal(t, "Token has been revoked or expired", appError(t, err).Message)

	_, err = f.svc.Refresh(ctx, results[0].RefreshToken.Value, domain.DeviceInfo{})
	assert.True(t, errors.Is(err, apperrors.ErrUnauthorized))

	for _, res := range results[1:] {
		_, err := f.svc.Authenticate(ctx, res.AccessToken.Value)
		assert.NoError(t, err)
	}
}

func TestRevokeSession(t *testing.T) {
	f := newFixture(t)
	first := f.register(t, "alice@example.com")
	second, err := f.login("alice@example.com", testPassword)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, f.svc.RevokeSession(ctx, first.User.ID, second.SessionID))
	_, err = f.svc.Authenticate(ctx, second.AccessToken.Value)
	assert.Error(t, err)

	err = f.svc.RevokeSession(ctx, first.User.ID, "no-such-session")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrSessionNotFound))
	assert.Equal(t, http.StatusNotFound, appError(t, err).Status)
}

func TestMe_TouchesSession(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "alice@example.com")

	user, err := f.svc.Me(context.Background(), reg.User.ID, reg.AccessToken.Value)
	require.NoError(t, err)
	sess := user.Ledger().Find(reg.AccessToken.Value, time.Now())
	require.NotNil(t, sess)
	assert.NotNil(t, sess.LastUsed)
}

func TestSetActive(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "alice@example.com")
	ctx := context.Background()

	require.NoError(t, f.svc.SetActive(ctx, reg.User.ID, false))
	user := f.repo.users[reg.User.ID]
	assert.False(t, user.IsActive)
	assert.Equal(t, 0, user.Ledger().Len())
	f.events.AssertCalled(t, "PublishSessionsRevoked", mock.Anything, reg.User.ID, []string{reg.SessionID}, "deactivated")

	require.NoError(t, f.svc.SetActive(ctx, reg.User.ID, true))
	_, err := f.login("alice@example.com", testPassword)
	assert.NoError(t, err)

	err = f.svc.SetActive(ctx, "missing", false)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}
