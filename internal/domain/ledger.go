package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// DeviceInfo describes the client a session was issued to.
type DeviceInfo struct {
	UserAgent  string `json:"userAgent"`
	IP         string `json:"ip"`
	DeviceType string `json:"deviceType"`
}

// Session is one issued access/refresh pair. Token values are kept only as
// SHA-256 digests; the raw strings leave the process once, at issuance.
type Session struct {
	ID               string
	AccessDigest     string
	RefreshDigest    string
	Device           DeviceInfo
	Active           bool
	ExpiresAt        time.Time
	RefreshExpiresAt time.Time
	CreatedAt        time.Time
	LastUsed         *time.Time
}

// TokenDigest is the lookup key stored for a raw token value.
func TokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// NewSession builds an active record for a freshly minted token pair.
func NewSession(id, accessToken, refreshToken string, device DeviceInfo, expiresAt, refreshExpiresAt, now time.Time) *Session {
	return &Session{
		ID:               id,
		AccessDigest:     TokenDigest(accessToken),
		RefreshDigest:    TokenDigest(refreshToken),
		Device:           device,
		Active:           true,
		ExpiresAt:        expiresAt,
		RefreshExpiresAt: refreshExpiresAt,
		CreatedAt:        now,
	}
}

// Live reports whether the session is active and its access leg unexpired.
func (s *Session) Live(now time.Time) bool {
	return s.Active && s.ExpiresAt.After(now)
}

// Ledger is a user's sessions in creation order, indexed by access and by
// refresh digest. Both indices point at the same records and are updated
// together. A Ledger belongs to one loaded aggregate and is not safe for
// concurrent use.
type Ledger struct {
	sessions  []*Session
	byAccess  map[string]*Session
	byRefresh map[string]*Session
}

// NewLedger indexes sessions, which must already be in creation order.
func NewLedger(sessions ...*Session) *Ledger {
	l := &Ledger{
		sessions:  make([]*Session, 0, len(sessions)),
		byAccess:  make(map[string]*Session, len(sessions)),
		byRefresh: make(map[string]*Session, len(sessions)),
	}
	for _, s := range sessions {
		l.push(s)
	}
	return l
}

func (l *Ledger) push(s *Session) {
	l.sessions = append(l.sessions, s)
	l.byAccess[s.AccessDigest] = s
	l.byRefresh[s.RefreshDigest] = s
}

// retain keeps the sessions keep returns true for and rebuilds the indices.
// It returns the dropped sessions.
func (l *Ledger) retain(keep func(*Session) bool) []*Session {
	var dropped []*Session
	kept := l.sessions[:0]
	for _, s := range l.sessions {
		if keep(s) {
			kept = append(kept, s)
			continue
		}
		dropped = append(dropped, s)
		delete(l.byAccess, s.AccessDigest)
		delete(l.byRefresh, s.RefreshDigest)
	}
	for i := len(kept); i < len(l.sessions); i++ {
		l.sessions[i] = nil
	}
	l.sessions = kept
	return dropped
}

// Add prunes dead sessions, evicts the oldest-created one if the ledger is
// still at max, then appends s. It returns the evicted session, if any.
func (l *Ledger) Add(s *Session, max int, now time.Time) *Session {
	l.CleanExpired(now)

	var evicted *Session
	if max > 0 && len(l.sessions) >= max {
		oldest := l.sessions[0]
		for _, c := range l.sessions[1:] {
			if c.CreatedAt.Before(oldest.CreatedAt) {
				oldest = c
			}
		}
		l.retain(func(c *Session) bool { return c != oldest })
		evicted = oldest
	}

	l.push(s)
	return evicted
}

// Remove drops the session whose access or refresh token is token.
func (l *Ledger) Remove(token string) *Session {
	d := TokenDigest(token)
	target, ok := l.byAccess[d]
	if !ok {
		target, ok = l.byRefresh[d]
	}
	if !ok {
		return nil
	}
	l.retain(func(c *Session) bool { return c != target })
	return target
}

// RemoveByID drops the session with the given id.
func (l *Ledger) RemoveByID(id string) *Session {
	var target *Session
	for _, s := range l.sessions {
		if s.ID == id {
			target = s
			break
		}
	}
	if target == nil {
		return nil
	}
	l.retain(func(c *Session) bool { return c != target })
	return target
}

// RemoveAll clears the ledger and returns how many sessions it held.
func (l *Ledger) RemoveAll() int {
	n := len(l.sessions)
	l.sessions = nil
	l.byAccess = make(map[string]*Session)
	l.byRefresh = make(map[string]*Session)
	return n
}

// Find returns the live session whose access or refresh token is token.
func (l *Ledger) Find(token string, now time.Time) *Session {
	d := TokenDigest(token)
	s, ok := l.byAccess[d]
	if !ok {
		s, ok = l.byRefresh[d]
	}
	if !ok || !s.Live(now) {
		return nil
	}
	return s
}

// Touch stamps LastUsed on the live session matching token. It reports
// whether one was found.
func (l *Ledger) Touch(token string, now time.Time) bool {
	s := l.Find(token, now)
	if s == nil {
		return false
	}
	s.LastUsed = &now
	return true
}

// CleanExpired drops inactive and access-expired sessions and returns the
// number removed.
func (l *Ledger) CleanExpired(now time.Time) int {
	return len(l.retain(func(s *Session) bool { return s.Live(now) }))
}

// Active returns live sessions in creation order.
func (l *Ledger) Active(now time.Time) []*Session {
	out := make([]*Session, 0, len(l.sessions))
	for _, s := range l.sessions {
		if s.Live(now) {
			out = append(out, s)
		}
	}
	return out
}

// All returns every stored session in creation order, live or not.
func (l *Ledger) All() []*Session {
	return append([]*Session(nil), l.sessions...)
}

func (l *Ledger) Len() int {
	return len(l.sessions)
}
