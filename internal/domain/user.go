package domain

import (
	"strings"
	"time"
)

// User is the credential aggregate. It owns its session ledger.
type User struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Email         string     `json:"email"`
	PasswordHash  string     `json:"-"`
	IsActive      bool       `json:"isActive"`
	LastLogin     *time.Time `json:"lastLogin,omitempty"`
	LoginAttempts int        `json:"-"`
	LockUntil     *time.Time `json:"-"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	Sessions      *Ledger    `json:"-"`
}

// NormalizeEmail trims and lowercases an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsLocked reports whether a lock is in force at now.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockUntil != nil && u.LockUntil.After(now)
}

// RegisterFailedLogin counts a bad password. A lock that has already
// elapsed is cleared and counting restarts at 1. Reaching maxAttempts while
// unlocked sets LockUntil; the return value reports whether that happened.
func (u *User) RegisterFailedLogin(maxAttempts int, lockFor time.Duration, now time.Time) bool {
	if u.LockUntil != nil && !u.LockUntil.After(now) {
		u.LockUntil = nil
		u.LoginAttempts = 1
		return false
	}

	u.LoginAttempts++
	if u.LoginAttempts >= maxAttempts && !u.IsLocked(now) {
		until := now.Add(lockFor)
		u.LockUntil = &until
		return true
	}
	return false
}

// RecordLogin clears lockout state and stamps the login time.
func (u *User) RecordLogin(now time.Time) {
	u.LoginAttempts = 0
	u.LockUntil = nil
	u.LastLogin = &now
}

// Ledger returns the session ledger, creating an empty one on first use.
func (u *User) Ledger() *Ledger {
	if u.Sessions == nil {
		u.Sessions = NewLedger()
	}
	return u.Sessions
}
