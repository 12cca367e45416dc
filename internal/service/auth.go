package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/Pranjalshukla1602/task-manager/internal/auth"
	"github.com/Pranjalshukla1602/task-manager/internal/domain"
	"github.com/Pranjalshukla1602/task-manager/internal/event"
	"github.com/Pranjalshukla1602/task-manager/internal/repository"
	apperrors "github.com/Pranjalshukla1602/task-manager/pkg/errors"
)

// EventPublisher receives auth domain events. Publishing is best effort.
type EventPublisher interface {
	PublishUserRegistered(ctx context.Context, user *domain.User) error
	PublishLoginFailed(ctx context.Context, user *domain.User) error
	PublishUserLocked(ctx context.Context, user *domain.User) error
	PublishSessionsRevoked(ctx context.Context, userID string, sessionIDs []string, reason string) error
}

// Config is the authentication policy.
type Config struct {
	BcryptCost       int
	MaxSessions      int
	MaxLoginAttempts int
	LockDuration     time.Duration
}

// RegisterInput holds the parameters for registering a new user.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Device   domain.DeviceInfo
}

// LoginInput holds the parameters for user login.
type LoginInput struct {
	Email    string
	Password string
	Device   domain.DeviceInfo
}

// AuthResult is a freshly issued session and its owner.
type AuthResult struct {
	User         *domain.User
	SessionID    string
	AccessToken  auth.Token
	RefreshToken auth.Token
}

// SessionInfo is the public view of a session. It never carries token values.
type SessionInfo struct {
	ID        string
	Device    domain.DeviceInfo
	CreatedAt time.Time
	LastUsed  *time.Time
	ExpiresAt time.Time
	Current   bool
}

// AuthService implements registration, login, token rotation and session
// management over the user aggregate.
type AuthService struct {
	users     repository.UserRepository
	codec     *auth.Codec
	events    EventPublisher
	breach    BreachChecker
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
	dummyHash []byte
}

// NewAuthService creates the service. breach may be nil to skip the
// password breach check.
func NewAuthService(
	users repository.UserRepository,
	codec *auth.Codec,
	events EventPublisher,
	breach BreachChecker,
	cfg Config,
	logger *slog.Logger,
) (*AuthService, error) {
	// Compared against when the user is unknown so both login failure paths
	// pay for one bcrypt comparison at the configured cost.
	dummy, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}

	return &AuthService{
		users:     users,
		codec:     codec,
		events:    events,
		breach:    breach,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		dummyHash: dummy,
	}, nil
}

// Register creates an account and its first session.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*AuthResult, error) {
	email := domain.NormalizeEmail(input.Email)

	_, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		authOperations.WithLabelValues("register", outcomeFailure).Inc()
		return nil, domain.DuplicateEmail()
	case !errors.Is(err, apperrors.ErrNotFound):
		return nil, fmt.Errorf("check existing user: %w", err)
	}

	if err := s.checkBreached(ctx, input.Password); err != nil {
		authOperations.WithLabelValues("register", outcomeFailure).Inc()
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), s.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	user := &domain.User{
		ID:           uuid.NewString(),
		Name:         input.Name,
		Email:        email,
		PasswordHash: string(hash),
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	result, err := s.issueSession(ctx, user, input.Device, now)
	if err != nil {
		return nil, err
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, apperrors.ErrAlreadyExists) {
			authOperations.WithLabelValues("register", outcomeFailure).Inc()
			return nil, domain.DuplicateEmail()
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	if err := s.events.PublishUserRegistered(ctx, user); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.registered event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	authOperations.WithLabelValues("register", outcomeSuccess).Inc()
	s.logger.InfoContext(ctx, "user registered",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
	)
	return result, nil
}

// checkBreached rejects breached passwords. Checker failures are logged and
// the registration proceeds.
func (s *AuthService) checkBreached(ctx context.Context, password string) error {
	if s.breach == nil {
		return nil
	}
	breached, err := s.breach.Breached(ctx, password)
	if err != nil {
		s.logger.WarnContext(ctx, "password breach check unavailable", slog.String("error", err.Error()))
		return nil
	}
	if breached {
		return apperrors.New(domain.CodeValidation,
			"This password has appeared in a data breach, please choose a different one",
			http.StatusBadRequest, apperrors.ErrInvalidInput)
	}
	return nil
}

// Login verifies credentials and opens a new session. Unknown, inactive and
// wrong-password attempts all return InvalidCredentials after one bcrypt
// comparison. A locked account returns AccountLocked before the password is
// checked.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*AuthResult, error) {
	now := s.now().UTC()

	user, err := s.users.GetByEmail(ctx, domain.NormalizeEmail(input.Email))
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("load user: %w", err)
		}
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(input.Password))
		authOperations.WithLabelValues("login", outcomeFailure).Inc()
		return nil, domain.InvalidCredentials()
	}

	if !user.IsActive {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(input.Password))
		authOperations.WithLabelValues("login", outcomeFailure).Inc()
		return nil, domain.InvalidCredentials()
	}

	if user.IsLocked(now) {
		authOperations.WithLabelValues("login", outcomeLocked).Inc()
		return nil, domain.AccountLocked()
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		return nil, s.failLogin(ctx, user, now)
	}

	user.RecordLogin(now)
	result, err := s.issueSession(ctx, user, input.Device, now)
	if err != nil {
		return nil, err
	}
	if err := s.save(ctx, user); err != nil {
		return nil, fmt.Errorf("save user: %w", err)
	}

	authOperations.WithLabelValues("login", outcomeSuccess).Inc()
	s.logger.InfoContext(ctx, "user logged in",
		slog.String("user_id", user.ID),
		slog.String("session_id", result.SessionID),
	)
	return result, nil
}

func (s *AuthService) failLogin(ctx context.Context, user *domain.User, now time.Time) error {
	locked := user.RegisterFailedLogin(s.cfg.MaxLoginAttempts, s.cfg.LockDuration, now)
	if err := s.save(ctx, user); err != nil {
		return fmt.Errorf("record failed login: %w", err)
	}
	authOperations.WithLabelValues("login", outcomeFailure).Inc()

	if err := s.events.PublishLoginFailed(ctx, user); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.login_failed event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	if locked {
		accountLockouts.Inc()
		s.logger.WarnContext(ctx, "account locked after failed logins",
			slog.String("user_id", user.ID),
			slog.Int("attempts", user.LoginAttempts),
		)
		if err := s.events.PublishUserLocked(ctx, user); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish user.locked event",
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return domain.InvalidCredentials()
}

// Refresh exchanges a refresh token for a new pair. The presented session is
// removed, so each refresh token works exactly once.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, device domain.DeviceInfo) (*AuthResult, error) {
	now := s.now().UTC()

	claims, err := s.codec.VerifyRefresh(refreshToken)
	if err != nil {
		authOperations.WithLabelValues("refresh", outcomeFailure).Inc()
		return nil, domain.InvalidRefreshToken()
	}

	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			authOperations.WithLabelValues("refresh", outcomeFailure).Inc()
			return nil, domain.InvalidRefreshToken()
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive {
		authOperations.WithLabelValues("refresh", outcomeFailure).Inc()
		return nil, domain.InvalidRefreshToken()
	}

	ledger := user.Ledger()
	current := ledger.Find(refreshToken, now)
	if current == nil || current.RefreshDigest != domain.TokenDigest(refreshToken) {
		authOperations.WithLabelValues("refresh", outcomeFailure).Inc()
		return nil, domain.RefreshTokenNotFound()
	}

	if !current.RefreshExpiresAt.After(now) {
		ledger.Remove(refreshToken)
		if err := s.save(ctx, user); err != nil {
			return nil, fmt.Errorf("save user: %w", err)
		}
		authOperations.WithLabelValues("refresh", outcomeFailure).Inc()
		return nil, domain.RefreshTokenExpired()
	}

	ledger.Remove(refreshToken)
	result, err := s.issueSession(ctx, user, device, now)
	if err != nil {
		return nil, err
	}
	if err := s.save(ctx, user); err != nil {
		return nil, fmt.Errorf("save user: %w", err)
	}

	authOperations.WithLabelValues("refresh", outcomeSuccess).Inc()
	s.logger.InfoContext(ctx, "session rotated",
		slog.String("user_id", user.ID),
		slog.String("old_session_id", current.ID),
		slog.String("session_id", result.SessionID),
	)
	return result, nil
}

// Authenticate resolves an access token to its active owner. A token with
// no live session is rejected even when its signature is valid.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*domain.User, error) {
	now := s.now().UTC()

	claims, err := s.codec.VerifyAccess(accessToken)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			return nil, domain.Unauthorized("Token expired")
		}
		return nil, domain.Unauthorized("Invalid token")
	}

	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, domain.Unauthorized("Invalid token or user not found")
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive {
		return nil, domain.Unauthorized("Invalid token or user not found")
	}

	ledger := user.Ledger()
	if ledger.Find(accessToken, now) == nil {
		if ledger.Remove(accessToken) != nil {
			if err := s.save(ctx, user); err != nil {
				s.logger.WarnContext(ctx, "failed to drop expired session",
					slog.String("user_id", user.ID),
					slog.String("error", err.Error()),
				)
			}
		}
		return nil, domain.Unauthorized("Token has been revoked or expired")
	}
	return user, nil
}

// Me returns the caller and stamps last-used on the presented session.
func (s *AuthService) Me(ctx context.Context, userID, accessToken string) (*domain.User, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if user.Ledger().Touch(accessToken, s.now().UTC()) {
		if err := s.save(ctx, user); err != nil {
			return nil, fmt.Errorf("save user: %w", err)
		}
	}
	return user, nil
}

// Logout removes the session the access token belongs to.
func (s *AuthService) Logout(ctx context.Context, userID, accessToken string) error {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}

	removed := user.Ledger().Remove(accessToken)
	if err := s.save(ctx, user); err != nil {
		return fmt.Errorf("save user: %w", err)
	}

	if removed != nil {
		s.publishRevoked(ctx, user.ID, []*domain.Session{removed}, event.ReasonLogout)
	}
	authOperations.WithLabelValues("logout", outcomeSuccess).Inc()
	s.logger.InfoContext(ctx, "user logged out", slog.String("user_id", user.ID))
	return nil
}

// LogoutAll removes every session of the user and returns how many there were.
func (s *AuthService) LogoutAll(ctx context.Context, userID string) (int, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return 0, err
	}

	sessions := user.Ledger().All()
	user.Ledger().RemoveAll()
	if err := s.save(ctx, user); err != nil {
		return 0, fmt.Errorf("save user: %w", err)
	}

	s.publishRevoked(ctx, user.ID, sessions, event.ReasonLogoutAll)
	authOperations.WithLabelValues("logout_all", outcomeSuccess).Inc()
	s.logger.InfoContext(ctx, "user logged out everywhere",
		slog.String("user_id", user.ID),
		slog.Int("sessions", len(sessions)),
	)
	return len(sessions), nil
}

// ListSessions returns the user's live sessions in creation order, marking
// the one the access token belongs to.
func (s *AuthService) ListSessions(ctx context.Context, userID, accessToken string) ([]SessionInfo, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	digest := domain.TokenDigest(accessToken)
	active := user.Ledger().Active(s.now().UTC())
	out := make([]SessionInfo, 0, len(active))
	for _, sess := range active {
		out = append(out, SessionInfo{
			ID:        sess.ID,
			Device:    sess.Device,
			CreatedAt: sess.CreatedAt,
			LastUsed:  sess.LastUsed,
			ExpiresAt: sess.ExpiresAt,
			Current:   sess.AccessDigest == digest,
		})
	}
	return out, nil
}

// RevokeSession removes one session by id, current or not.
func (s *AuthService) RevokeSession(ctx context.Context, userID, sessionID string) error {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}

	removed := user.Ledger().RemoveByID(sessionID)
	if removed == nil {
		return domain.SessionNotFound()
	}
	if err := s.save(ctx, user); err != nil {
		return fmt.Errorf("save user: %w", err)
	}

	s.publishRevoked(ctx, user.ID, []*domain.Session{removed}, event.ReasonRevoked)
	authOperations.WithLabelValues("revoke_session", outcomeSuccess).Inc()
	s.logger.InfoContext(ctx, "session revoked",
		slog.String("user_id", user.ID),
		slog.String("session_id", sessionID),
	)
	return nil
}

// SetActive enables or disables an account. Disabling clears every session.
func (s *AuthService) SetActive(ctx context.Context, userID string, active bool) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	var revoked []*domain.Session
	if !active {
		revoked = user.Ledger().All()
		user.Ledger().RemoveAll()
	}
	user.IsActive = active
	if err := s.save(ctx, user); err != nil {
		return fmt.Errorf("save user: %w", err)
	}

	s.publishRevoked(ctx, user.ID, revoked, event.ReasonDeactivated)
	return nil
}

// issueSession mints a token pair and records it on the user's ledger. The
// caller persists the user.
func (s *AuthService) issueSession(ctx context.Context, user *domain.User, device domain.DeviceInfo, now time.Time) (*AuthResult, error) {
	access, err := s.codec.IssueAccess(user.ID)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := s.codec.IssueRefresh(user.ID)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}

	sess := domain.NewSession(uuid.NewString(), access.Value, refresh.Value, device, access.ExpiresAt, refresh.ExpiresAt, now)
	if evicted := user.Ledger().Add(sess, s.cfg.MaxSessions, now); evicted != nil {
		sessionsEvicted.Inc()
		s.publishRevoked(ctx, user.ID, []*domain.Session{evicted}, event.ReasonEvicted)
	}

	return &AuthResult{
		User:         user,
		SessionID:    sess.ID,
		AccessToken:  access,
		RefreshToken: refresh,
	}, nil
}

// loadUser fetches the authenticated caller. A caller that vanished between
// authentication and now is treated as unauthorized.
func (s *AuthService) loadUser(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, domain.Unauthorized("Invalid token or user not found")
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

func (s *AuthService) publishRevoked(ctx context.Context, userID string, sessions []*domain.Session, reason string) {
	if len(sessions) == 0 {
		return
	}
	ids := make([]string, 0, len(sessions))
	for _, sess := range sessions {
		ids = append(ids, sess.ID)
	}
	if err := s.events.PublishSessionsRevoked(ctx, userID, ids, reason); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish session.revoked event",
			slog.String("user_id", userID),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
	}
}

// save stamps the aggregate with the service clock before writing it.
func (s *AuthService) save(ctx context.Context, user *domain.User) error {
	user.UpdatedAt = s.now().UTC()
	return s.users.Save(ctx, user)
}
