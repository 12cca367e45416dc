package redis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Pranjalshukla1602/task-manager/internal/domain"
	"github.com/Pranjalshukla1602/task-manager/internal/repository"
	apperrors "github.com/Pranjalshukla1602/task-manager/pkg/errors"
)

type fakeStore struct {
	users   map[string]*domain.User
	gets    int
	purged  repository.PurgeResult
	saveErr error
	// afterRead runs between the backing read and its return.
	afterRead func()
}

func newFakeStore(users ...*domain.User) *fakeStore {
	s := &fakeStore{users: make(map[string]*domain.User)}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *fakeStore) Create(_ context.Context, u *domain.User) error {
	s.users[u.ID] = u
	return nil
}

func (s *fakeStore) GetByID(_ context.Context, id string) (*domain.User, error) {
	s.gets++
	u, ok := s.users[id]
	if !ok {
		return nil, apperrors.NotFound("user", id)
	}
	if hook := s.afterRead; hook != nil {
		s.afterRead = nil
		hook()
	}
	return u, nil
}

func (s *fakeStore) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	s.gets++
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, apperrors.NotFound("user", email)
}

func (s *fakeStore) Save(_ context.Context, u *domain.User) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.users[u.ID] = u
	return nil
}

func (s *fakeStore) PurgeExpiredSessions(context.Context, time.Time) (repository.PurgeResult, error) {
	return s.purged, nil
}

func setupCache(t *testing.T, store *fakeStore) (*CachedUserRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCachedUserRepository(store, client, 5*time.Minute, logger), mr
}

func sampleUser() *domain.User {
	now := time.Now().UTC().Truncate(time.Millisecond)
	s := domain.NewSession("sess-1", "access-1", "refresh-1",
		domain.DeviceInfo{UserAgent: "curl/8", IP: "10.0.0.1", DeviceType: "Desktop"},
		now.Add(time.Hour), now.Add(24*time.Hour), now)
	return &domain.User{
		ID:           "user-1",
		Name:         "Alice",
		Email:        "alice@example.com",
		PasswordHash: "$2a$12$hash",
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
		Sessions:     domain.NewLedger(s),
	}
}

func TestCachedUserRepository_GetByID_ReadThrough(t *testing.T) {
	store := newFakeStore(sampleUser())
	repo, mr := setupCache(t, store)
	ctx := context.Background()

	first, err := repo.GetByID(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, mr.Exists(userKeyPrefix+"user-1"))
	assert.True(t, mr.Exists(emailKeyPrefix+"alice@example.com"))

	second, err := repo.GetByID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, store.gets)

	assert.Equal(t, first.PasswordHash, second.PasswordHash)
	require.Equal(t, 1, second.Ledger().Len())
	found := second.Ledger().Find("access-1", time.Now())
	require.NotNil(t, found)
	assert.Equal(t, "sess-1", found.ID)
	assert.Equal(t, "10.0.0.1", found.Device.IP)
	assert.NotNil(t, second.Ledger().Find("refresh-1", time.Now()))
}

func TestCachedUserRepository_GetByEmail_UsesEmailIndex(t *testing.T) {
	store := newFakeStore(sampleUser())
	repo, mr := setupCache(t, store)
	ctx := context.Background()

	_, err := repo.GetByEmail(ctx, "  Alice@Example.com ")
	require.NoError(t, err)
	assert.True(t, mr.Exists(emailKeyPrefix+"alice@example.com"))
	assert.False(t, mr.Exists(userKeyPrefix+"user-1"))

	_, err = repo.GetByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, mr.Exists(userKeyPrefix+"user-1"))

	got, err := repo.GetByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.ID)
	assert.Equal(t, 2, store.gets)
}

func TestCachedUserRepository_WriteDuringFillIsNotCached(t *testing.T) {
	stale := sampleUser()
	store := newFakeStore(stale)
	repo, mr := setupCache(t, store)
	ctx := context.Background()

	store.afterRead = func() {
		fresh := sampleUser()
		fresh.Ledger().RemoveAll()
		require.NoError(t, repo.Save(ctx, fresh))
	}

	got, err := repo.GetByID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Ledger().Len())
	assert.False(t, mr.Exists(userKeyPrefix+"user-1"))

	got, err = repo.GetByID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Ledger().Len())
	assert.Nil(t, got.Ledger().Find("access-1", time.Now()))

	cached, err := repo.GetByID(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, cached.Ledger().Find("access-1", time.Now()))
	assert.Equal(t, 2, store.gets)
}

func TestCachedUserRepository_PurgeDuringFillIsNotCached(t *testing.T) {
	store := newFakeStore(sampleUser())
	store.purged = repository.PurgeResult{Removed: 1, UserIDs: []string{"user-1"}}
	repo, mr := setupCache(t, store)
	ctx := context.Background()

	store.afterRead = func() {
		_, err := repo.PurgeExpiredSessions(ctx, time.Now())
		require.NoError(t, err)
	}

	_, err := repo.GetByID(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, mr.Exists(userKeyPrefix+"user-1"))
}

func TestCachedUserRepository_NotFoundIsNotCached(t *testing.T) {
	store := newFakeStore()
	repo, mr := setupCache(t, store)

	_, err := repo.GetByID(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.False(t, mr.Exists(userKeyPrefix+"missing"))
}

func TestCachedUserRepository_SaveInvalidates(t *testing.T) {
	u := sampleUser()
	store := newFakeStore(u)
	repo, mr := setupCache(t, store)
	ctx := context.Background()

	_, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, mr.Exists(userKeyPrefix+u.ID))

	require.NoError(t, repo.Save(ctx, u))
	assert.False(t, mr.Exists(userKeyPrefix+u.ID))
	assert.False(t, mr.Exists(emailKeyPrefix+u.Email))
}

func TestCachedUserRepository_FailedSaveKeepsCache(t *testing.T) {
	u := sampleUser()
	store := newFakeStore(u)
	repo, mr := setupCache(t, store)
	ctx := context.Background()

	_, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)

	store.saveErr = errors.New("db down")
	require.Error(t, repo.Save(ctx, u))
	assert.True(t, mr.Exists(userKeyPrefix+u.ID))
}

func TestCachedUserRepository_PurgeInvalidatesAffectedUsers(t *testing.T) {
	u := sampleUser()
	store := newFakeStore(u)
	store.purged = repository.PurgeResult{Removed: 3, UserIDs: []string{u.ID}}
	repo, mr := setupCache(t, store)
	ctx := context.Background()

	_, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)

	res, err := repo.PurgeExpiredSessions(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Removed)
	assert.False(t, mr.Exists(userKeyPrefix+u.ID))
}

func TestCachedUserRepository_CorruptEntryFallsThrough(t *testing.T) {
	store := newFakeStore(sampleUser())
	repo, mr := setupCache(t, store)
	require.NoError(t, mr.Set(userKeyPrefix+"user-1", "{not json"))

	got, err := repo.GetByID(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Name)
	assert.Equal(t, 1, store.gets)
}

func TestCachedUserRepository_RedisDownFallsThrough(t *testing.T) {
	store := newFakeStore(sampleUser())
	repo, mr := setupCache(t, store)
	mr.Close()

	got, err := repo.GetByID(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.ID)
}
