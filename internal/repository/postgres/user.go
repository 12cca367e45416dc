package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Pranjalshukla1602/task-manager/internal/domain"
	"github.com/Pranjalshukla1602/task-manager/internal/repository"
	"github.com/Pranjalshukla1602/task-manager/pkg/database"
	apperrors "github.com/Pranjalshukla1602/task-manager/pkg/errors"
)

const (
	userColumns = `id, name, email, password_hash, is_active, last_login, login_attempts, lock_until, created_at, updated_at`

	sessionColumns = `id, access_digest, refresh_digest, user_agent, ip, device_type, is_active, expires_at, refresh_expires_at, created_at, last_used`

	insertSessionSQL = `
		INSERT INTO user_sessions (id, user_id, access_digest, refresh_digest, user_agent, ip, device_type, is_active, expires_at, refresh_expires_at, created_at, last_used)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
)

// UserRepository implements repository.UserRepository using PostgreSQL.
type UserRepository struct {
	db database.DBTX
}

var _ repository.UserRepository = (*UserRepository)(nil)

func NewUserRepository(db database.DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts the user row and its sessions in one transaction.
func (r *UserRepository) Create(ctx context.Context, u *domain.User) (err error) {
	ctx, end := database.TraceQuery(ctx, "CreateUser", "INSERT INTO users")
	defer func() { end(err) }()

	return r.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO users (`+userColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			u.ID, u.Name, u.Email, u.PasswordHash, u.IsActive,
			u.LastLogin, u.LoginAttempts, u.LockUntil, u.CreatedAt, u.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return apperrors.AlreadyExists("user", "email", u.Email)
			}
			return fmt.Errorf("insert user: %w", err)
		}
		return insertSessions(ctx, tx, u)
	})
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (u *domain.User, err error) {
	ctx, end := database.TraceQuery(ctx, "GetUserByID", "SELECT FROM users WHERE id")
	defer func() { end(err) }()

	return r.load(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (u *domain.User, err error) {
	ctx, end := database.TraceQuery(ctx, "GetUserByEmail", "SELECT FROM users WHERE email")
	defer func() { end(err) }()

	return r.load(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, domain.NormalizeEmail(email))
}

// Save updates the user row, then replaces the stored sessions with the
// ledger contents.
func (r *UserRepository) Save(ctx context.Context, u *domain.User) (err error) {
	ctx, end := database.TraceQuery(ctx, "SaveUser", "UPDATE users; DELETE/INSERT user_sessions")
	defer func() { end(err) }()

	return r.inTx(ctx, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx, `
			UPDATE users
			SET name = $1, email = $2, password_hash = $3, is_active = $4, last_login = $5,
			    login_attempts = $6, lock_until = $7, updated_at = $8
			WHERE id = $9`,
			u.Name, u.Email, u.PasswordHash, u.IsActive, u.LastLogin,
			u.LoginAttempts, u.LockUntil, u.UpdatedAt, u.ID,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return apperrors.AlreadyExists("user", "email", u.Email)
			}
			return fmt.Errorf("update user: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return apperrors.NotFound("user", u.ID)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM user_sessions WHERE user_id = $1`, u.ID); err != nil {
			return fmt.Errorf("clear sessions: %w", err)
		}
		return insertSessions(ctx, tx, u)
	})
}

func (r *UserRepository) PurgeExpiredSessions(ctx context.Context, now time.Time) (res repository.PurgeResult, err error) {
	ctx, end := database.TraceQuery(ctx, "PurgeExpiredSessions", "DELETE FROM user_sessions")
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, `
		DELETE FROM user_sessions
		WHERE is_active = FALSE OR expires_at <= $1
		RETURNING user_id`, now)
	if err != nil {
		return res, fmt.Errorf("purge sessions: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return res, fmt.Errorf("scan purged session: %w", err)
		}
		res.Removed++
		if _, ok := seen[userID]; !ok {
			seen[userID] = struct{}{}
			res.UserIDs = append(res.UserIDs, userID)
		}
	}
	if err := rows.Err(); err != nil {
		return res, fmt.Errorf("iterate purged sessions: %w", err)
	}
	return res, nil
}

func (r *UserRepository) load(ctx context.Context, query string, arg any) (*domain.User, error) {
	var u domain.User
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.PasswordHash,
		&u.IsActive,
		&u.LastLogin,
		&u.LoginAttempts,
		&u.LockUntil,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM user_sessions
		WHERE user_id = $1
		ORDER BY created_at, id`, u.ID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		var s domain.Session
		if err := rows.Scan(
			&s.ID,
			&s.AccessDigest,
			&s.RefreshDigest,
			&s.Device.UserAgent,
			&s.Device.IP,
			&s.Device.DeviceType,
			&s.Active,
			&s.ExpiresAt,
			&s.RefreshExpiresAt,
			&s.CreatedAt,
			&s.LastUsed,
		); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	u.Sessions = domain.NewLedger(sessions...)
	return &u, nil
}

func (r *UserRepository) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func insertSessions(ctx context.Context, tx pgx.Tx, u *domain.User) error {
	if u.Sessions == nil {
		return nil
	}
	for _, s := range u.Sessions.All() {
		if _, err := tx.Exec(ctx, insertSessionSQL,
			s.ID, u.ID, s.AccessDigest, s.RefreshDigest,
			s.Device.UserAgent, s.Device.IP, s.Device.DeviceType,
			s.Active, s.ExpiresAt, s.RefreshExpiresAt, s.CreatedAt, s.LastUsed,
		); err != nil {
			return fmt.Errorf("insert session %s: %w", s.ID, err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "23505")
}
