package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Pranjalshukla1602/task-manager/internal/auth"
	"github.com/Pranjalshukla1602/task-manager/internal/domain"
	"github.com/Pranjalshukla1602/task-manager/internal/event"
	"github.com/Pranjalshukla1602/task-manager/internal/repository"
	"github.com/Pranjalshukla1602/task-manager/internal/service"
	apperrors "github.com/Pranjalshukla1602/task-manager/pkg/errors"
	"github.com/Pranjalshukla1602/task-manager/pkg/health"
)

// ============================================================================
// In-memory repository
// ============================================================================

type memUserRepo struct {
	mu     sync.Mutex
	users  map[string]*domain.User
	getErr error
}

func (r *memUserRepo) Create(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == u.Email {
			return apperrors.AlreadyExists("user", "email", u.Email)
		}
	}
	r.users[u.ID] = u
	return nil
}

func (r *memUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	if u, ok := r.users[id]; ok {
		return u, nil
	}
	return nil, apperrors.NotFound("user", id)
}

func (r *memUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, apperrors.NotFound("user", email)
}

func (r *memUserRepo) Save(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = u
	return nil
}

func (r *memUserRepo) PurgeExpiredSessions(context.Context, time.Time) (repository.PurgeResult, error) {
	return repository.PurgeResult{}, nil
}

// ============================================================================
// Helpers
// ============================================================================

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	return newTestRouterWithRepo(t, &memUserRepo{users: make(map[string]*domain.User)})
}

func newTestRouterWithRepo(t *testing.T, repo *memUserRepo) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	codec := auth.NewCodec(auth.Config{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		Issuer:        "task-manager",
		Audience:      "task-manager-users",
		AccessExpiry:  time.Hour,
		RefreshExpiry: 24 * time.Hour,
	})
	svc, err := service.NewAuthService(
		repo,
		codec,
		event.NewProducer(nil, logger),
		nil,
		service.Config{BcryptCost: bcrypt.MinCost, MaxSessions: 5, MaxLoginAttempts: 5, LockDuration: 2 * time.Hour},
		logger,
	)
	require.NoError(t, err)

	return NewRouter(svc, health.NewHandler(), RouterConfig{
		ServiceName: "task-manager",
		Version:     "test",
		Environment: "test",
		CORSOrigins: []string{"http://localhost:3000"},
	}, logger)
}

func do(t *testing.T, h http.Handler, method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (iPhone) Mobile/15E148")
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func registerUser(t *testing.T, h http.Handler, prefix, email string) authResponse {
	t.Helper()
	rec, env := do(t, h, http.MethodPost, prefix+"/register", "", map[string]string{
		"name": "Alice", "email": email, "password": "Secret123",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res authResponse
	require.NoError(t, json.Unmarshal(env.Data, &res))
	return res
}

// ============================================================================
// Tests
// ============================================================================

func TestRegister_Created(t *testing.T) {
	h := newTestRouter(t)

	rec, env := do(t, h, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Alice", "email": "alice@example.com", "password": "Secret123",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	var res authResponse
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.NotEmpty(t, res.Token)
	assert.NotEmpty(t, res.RefreshToken)
	assert.Equal(t, "alice@example.com", res.User.Email)
	assert.True(t, res.User.IsActive)
	assert.NotContains(t, string(env.Data), "password")
}

func TestRegister_ValidationErrors(t *testing.T) {
	h := newTestRouter(t)

	rec, env := do(t, h, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "A", "email": "not-an-email", "password": "weakpass",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	assert.Contains(t, env.Error.Fields, "name")
	assert.Contains(t, env.Error.Fields, "email")
	assert.Contains(t, env.Error.Fields, "password")
}

func TestRegister_DuplicateEmail(t *testing.T) {
	h := newTestRouter(t)
	registerUser(t, h, "/api/auth", "alice@example.com")

	rec, env := do(t, h, http.MethodPost, "/auth/register", "", map[string]string{
		"name": "Alice", "email": "alice@example.com", "password": "Secret123",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "DUPLICATE_EMAIL", env.Error.Code)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	h := newTestRouter(t)
	registerUser(t, h, "/api/auth", "alice@example.com")

	rec, env := do(t, h, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "Wrong123",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", env.Error.Code)
}

func TestLogin_RejectsNonJSON(t *testing.T) {
	h := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBufferString("email=a"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestMe_RequiresToken(t *testing.T) {
	h := newTestRouter(t)

	rec, env := do(t, h, http.MethodGet, "/api/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Access token required", env.Error.Message)

	rec, env = do(t, h, http.MethodGet, "/api/auth/me", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid token", env.Error.Message)
}

func TestMe_StoreOutageIsInternalError(t *testing.T) {
	repo := &memUserRepo{users: make(map[string]*domain.User)}
	h := newTestRouterWithRepo(t, repo)
	reg := registerUser(t, h, "/api/auth", "alice@example.com")

	repo.mu.Lock()
	repo.getErr = errors.New("connection refused")
	repo.mu.Unlock()

	rec, env := do(t, h, http.MethodGet, "/api/auth/me", reg.Token, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INTERNAL_ERROR", env.Error.Code)
}

func TestMe_ReturnsUser(t *testing.T) {
	h := newTestRouter(t)
	reg := registerUser(t, h, "/api/auth", "alice@example.com")

	rec, env := do(t, h, http.MethodGet, "/auth/me", reg.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var u userResponse
	require.NoError(t, json.Unmarshal(env.Data, &u))
	assert.Equal(t, reg.User.ID, u.ID)
}

func TestSessions_ListAndRevoke(t *testing.T) {
	h := newTestRouter(t)
	reg := registerUser(t, h, "/api/auth", "alice@example.com")

	rec, env := do(t, h, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "Secret123",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var second authResponse
	require.NoError(t, json.Unmarshal(env.Data, &second))

	rec, env = do(t, h, http.MethodGet, "/api/auth/sessions", reg.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, string(env.Data), reg.Token)
	assert.NotContains(t, string(env.Data), reg.RefreshToken)

	var list sessionListResponse
	require.NoError(t, json.Unmarshal(env.Data, &list))
	sessions := list.Sessions
	require.Len(t, sessions, 2)
	assert.Equal(t, 2, list.Total)
	assert.Equal(t, sessions[1].CreatedAt, sessions[1].LastUsed)
	assert.False(t, sessions[1].LastUsed.IsZero())
	assert.True(t, sessions[0].IsCurrent)
	assert.False(t, sessions[1].IsCurrent)
	assert.Equal(t, "203.0.113.7", sessions[0].DeviceInfo.IP)
	assert.Equal(t, "Mobile", sessions[0].DeviceInfo.DeviceType)

	rec, _ = do(t, h, http.MethodDelete, "/api/auth/sessions/"+sessions[1].ID, reg.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env = do(t, h, http.MethodGet, "/api/auth/me", second.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Token has been revoked or expired", env.Error.Message)

	rec, env = do(t, h, http.MethodDelete, "/api/auth/sessions/unknown", reg.Token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Session not found", env.Error.Message)
}

func TestRefresh_RotatesOnce(t *testing.T) {
	h := newTestRouter(t)
	reg := registerUser(t, h, "/api/auth", "alice@example.com")
	body := map[string]string{"refreshToken": reg.RefreshToken}

	rec, env := do(t, h, http.MethodPost, "/api/auth/refresh", "", body)
	require.Equal(t, http.StatusOK, rec.Code)
	var rotated authResponse
	require.NoError(t, json.Unmarshal(env.Data, &rotated))
	assert.NotEqual(t, reg.RefreshToken, rotated.RefreshToken)

	rec, env = do(t, h, http.MethodPost, "/api/auth/refresh", "", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "REFRESH_TOKEN_NOT_FOUND", env.Error.Code)
}

func TestLogoutAll_KillsEverySession(t *testing.T) {
	h := newTestRouter(t)
	reg := registerUser(t, h, "/api/auth", "alice@example.com")

	rec, env := do(t, h, http.MethodPost, "/api/auth/logout-all", reg.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var msg messageResponse
	require.NoError(t, json.Unmarshal(env.Data, &msg))
	require.NotNil(t, msg.SessionsRevoked)
	assert.Equal(t, 1, *msg.SessionsRevoked)

	rec, _ = do(t, h, http.MethodGet, "/api/auth/me", reg.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogout(t *testing.T) {
	h := newTestRouter(t)
	reg := registerUser(t, h, "/auth", "alice@example.com")

	rec, _ := do(t, h, http.MethodPost, "/auth/logout", reg.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/auth/me", reg.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestInfoHealthAndNotFound(t *testing.T) {
	h := newTestRouter(t)

	rec, env := do(t, h, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info infoResponse
	require.NoError(t, json.Unmarshal(env.Data, &info))
	assert.Equal(t, "task-manager", info.Name)

	rec, _ = do(t, h, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env = do(t, h, http.MethodGet, "/api/tasks", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Route /api/tasks not found", env.Error.Message)
}
