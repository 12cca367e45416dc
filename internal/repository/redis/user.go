package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"github.com/Pranjalshukla1602/task-manager/internal/domain"
	"github.com/Pranjalshukla1602/task-manager/internal/repository"
)

const (
	userKeyPrefix    = "user:id:"
	emailKeyPrefix   = "user:email:"
	versionKeyPrefix = "user:ver:"
)

// errStaleFill aborts a cache fill whose source read raced a write.
var errStaleFill = errors.New("user changed while loading")

var cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "user_cache_lookups_total",
	Help: "User cache lookups by result (hit, miss, error).",
}, []string{"result"})

// CachedUserRepository is a read-through cache in front of another
// UserRepository. Writes go to the backing store first, then bump the user's
// version key and drop the cached entry. A fill only lands if the version is
// unchanged since before its backing read. Redis failures are logged and
// never fail the call.
type CachedUserRepository struct {
	next   repository.UserRepository
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

var _ repository.UserRepository = (*CachedUserRepository)(nil)

func NewCachedUserRepository(next repository.UserRepository, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedUserRepository {
	return &CachedUserRepository{next: next, client: client, ttl: ttl, logger: logger}
}

// cachedSession mirrors domain.Session; the domain type has no JSON shape
// because it must never reach an API response.
type cachedSession struct {
	ID               string            `json:"id"`
	AccessDigest     string            `json:"access_digest"`
	RefreshDigest    string            `json:"refresh_digest"`
	Device           domain.DeviceInfo `json:"device"`
	Active           bool              `json:"active"`
	ExpiresAt        time.Time         `json:"expires_at"`
	RefreshExpiresAt time.Time         `json:"refresh_expires_at"`
	CreatedAt        time.Time         `json:"created_at"`
	LastUsed         *time.Time        `json:"last_used,omitempty"`
}

type cachedUser struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Email         string          `json:"email"`
	PasswordHash  string          `json:"password_hash"`
	IsActive      bool            `json:"is_active"`
	LastLogin     *time.Time      `json:"last_login,omitempty"`
	LoginAttempts int             `json:"login_attempts"`
	LockUntil     *time.Time      `json:"lock_until,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Sessions      []cachedSession `json:"sessions"`
}

func toCached(u *domain.User) cachedUser {
	c := cachedUser{
		ID:            u.ID,
		Name:          u.Name,
		Email:         u.Email,
		PasswordHash:  u.PasswordHash,
		IsActive:      u.IsActive,
		LastLogin:     u.LastLogin,
		LoginAttempts: u.LoginAttempts,
		LockUntil:     u.LockUntil,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
	for _, s := range u.Ledger().All() {
		c.Sessions = append(c.Sessions, cachedSession(*s))
	}
	return c
}

func (c cachedUser) toDomain() *domain.User {
	sessions := make([]*domain.Session, 0, len(c.Sessions))
	for _, s := range c.Sessions {
		ds := domain.Session(s)
		sessions = append(sessions, &ds)
	}
	return &domain.User{
		ID:            c.ID,
		Name:          c.Name,
		Email:         c.Email,
		PasswordHash:  c.PasswordHash,
		IsActive:      c.IsActive,
		LastLogin:     c.LastLogin,
		LoginAttempts: c.LoginAttempts,
		LockUntil:     c.LockUntil,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
		Sessions:      domain.NewLedger(sessions...),
	}
}

func (r *CachedUserRepository) Create(ctx context.Context, u *domain.User) error {
	if err := r.next.Create(ctx, u); err != nil {
		return err
	}
	r.invalidate(ctx, u.ID, u.Email)
	return nil
}

func (r *CachedUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	if u := r.fromCache(ctx, userKeyPrefix+id); u != nil {
		return u, nil
	}

	version, versionOK := r.version(ctx, id)
	u, err := r.next.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if versionOK {
		r.store(ctx, u, version)
	}
	return u, nil
}

// GetByEmail only caches the email to id mapping on a miss; the user entry
// itself is filled through GetByID, which knows the id before it reads.
func (r *CachedUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	email = domain.NormalizeEmail(email)

	id, err := r.client.Get(ctx, emailKeyPrefix+email).Result()
	switch {
	case err == nil:
		return r.GetByID(ctx, id)
	case !errors.Is(err, redis.Nil):
		cacheLookups.WithLabelValues("error").Inc()
		r.logger.WarnContext(ctx, "user cache read failed", slog.String("error", err.Error()))
	}

	u, err := r.next.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if err := r.client.Set(ctx, emailKeyPrefix+u.Email, u.ID, r.ttl).Err(); err != nil {
		r.logger.WarnContext(ctx, "user cache write failed", slog.String("error", err.Error()))
	}
	return u, nil
}

func (r *CachedUserRepository) Save(ctx context.Context, u *domain.User) error {
	if err := r.next.Save(ctx, u); err != nil {
		return err
	}
	r.invalidate(ctx, u.ID, u.Email)
	return nil
}

func (r *CachedUserRepository) PurgeExpiredSessions(ctx context.Context, now time.Time) (repository.PurgeResult, error) {
	res, err := r.next.PurgeExpiredSessions(ctx, now)
	if err != nil {
		return res, err
	}
	if len(res.UserIDs) > 0 {
		_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
			for _, id := range res.UserIDs {
				p.Incr(ctx, versionKeyPrefix+id)
				p.Expire(ctx, versionKeyPrefix+id, r.ttl)
				p.Del(ctx, userKeyPrefix+id)
			}
			return nil
		})
		if err != nil {
			r.logger.WarnContext(ctx, "user cache invalidation failed", slog.String("error", err.Error()))
		}
	}
	return res, nil
}

func (r *CachedUserRepository) fromCache(ctx context.Context, key string) *domain.User {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			cacheLookups.WithLabelValues("miss").Inc()
		} else {
			cacheLookups.WithLabelValues("error").Inc()
			r.logger.WarnContext(ctx, "user cache read failed", slog.String("error", err.Error()))
		}
		return nil
	}

	var c cachedUser
	if err := json.Unmarshal(data, &c); err != nil {
		cacheLookups.WithLabelValues("error").Inc()
		r.logger.WarnContext(ctx, "discarding corrupt user cache entry", slog.String("key", key))
		_ = r.client.Del(ctx, key).Err()
		return nil
	}
	cacheLookups.WithLabelValues("hit").Inc()
	return c.toDomain()
}

// version returns the user's current cache version; ok is false when Redis
// cannot answer and the caller must not fill.
func (r *CachedUserRepository) version(ctx context.Context, id string) (string, bool) {
	v, err := r.client.Get(ctx, versionKeyPrefix+id).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		r.logger.WarnContext(ctx, "user cache version read failed", slog.String("error", err.Error()))
		return "", false
	}
	return v, true
}

func (r *CachedUserRepository) store(ctx context.Context, u *domain.User, version string) {
	data, err := json.Marshal(toCached(u))
	if err != nil {
		r.logger.WarnContext(ctx, "marshal user for cache", slog.String("error", err.Error()))
		return
	}

	verKey := versionKeyPrefix + u.ID
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, verKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, userKeyPrefix+u.ID, data, r.ttl)
			p.Set(ctx, emailKeyPrefix+u.Email, u.ID, r.ttl)
			return nil
		})
		return err
	}, verKey)

	switch {
	case err == nil:
	case errors.Is(err, errStaleFill), errors.Is(err, redis.TxFailedErr):
		r.logger.DebugContext(ctx, "skipped stale user cache fill", slog.String("user_id", u.ID))
	default:
		r.logger.WarnContext(ctx, "user cache write failed", slog.String("error", err.Error()))
	}
}

// invalidate bumps the version before deleting so that fills started before
// the write are refused.
func (r *CachedUserRepository) invalidate(ctx context.Context, id, email string) {
	verKey := versionKeyPrefix + id
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, verKey)
		p.Expire(ctx, verKey, r.ttl)
		p.Del(ctx, userKeyPrefix+id, emailKeyPrefix+domain.NormalizeEmail(email))
		return nil
	})
	if err != nil {
		r.logger.WarnContext(ctx, "user cache invalidation failed",
			slog.String("user_id", id),
			slog.String("error", err.Error()),
		)
	}
}
