package repository

import (
	"context"
	"time"

	"github.com/Pranjalshukla1602/task-manager/internal/domain"
)

// UserRepository persists the user aggregate together with its session
// ledger. Writes are whole-aggregate and last-write-wins.
type UserRepository interface {
	// Create inserts a new user and any sessions already on its ledger.
	// A taken email yields apperrors.ErrAlreadyExists.
	Create(ctx context.Context, user *domain.User) error

	// GetByID loads a user and its ledger. A missing user yields apperrors.ErrNotFound.
	GetByID(ctx context.Context, id string) (*domain.User, error)

	// GetByEmail loads a user by normalized email.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// Save overwrites the user row and replaces its stored sessions with
	// the ledger's current contents.
	Save(ctx context.Context, user *domain.User) error

	// PurgeExpiredSessions deletes inactive and access-expired sessions of
	// every user.
	PurgeExpiredSessions(ctx context.Context, now time.Time) (PurgeResult, error)
}

// PurgeResult reports what a purge removed.
type PurgeResult struct {
	Removed int
	// UserIDs lists each affected user once.
	UserIDs []string
}
