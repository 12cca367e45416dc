package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Pranjalshukla1602/task-manager/internal/domain"
	pkgkafka "github.com/Pranjalshukla1602/task-manager/pkg/kafka"
	"github.com/Pranjalshukla1602/task-manager/pkg/logger"
)

// Kafka topics for auth domain events.
var (
	TopicUserRegistered  = pkgkafka.Topic("user", "registered")
	TopicUserLoginFailed = pkgkafka.Topic("user", "login_failed")
	TopicUserLocked      = pkgkafka.Topic("user", "locked")
	TopicSessionRevoked  = pkgkafka.Topic("session", "revoked")
)

const (
	AggregateTypeUser = "user"
	SourceAuthService = "task-manager-auth"
)

// Revocation reasons carried on session.revoked.
const (
	ReasonLogout      = "logout"
	ReasonLogoutAll   = "logout_all"
	ReasonRevoked     = "revoked"
	ReasonEvicted     = "evicted"
	ReasonDeactivated = "deactivated"
)

type UserRegisteredData struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type UserLoginFailedData struct {
	UserID   string `json:"user_id"`
	Attempts int    `json:"attempts"`
}

type UserLockedData struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	LockUntil string `json:"lock_until"`
}

// SessionRevokedData never carries token material, only session ids.
type SessionRevokedData struct {
	UserID     string   `json:"user_id"`
	SessionIDs []string `json:"session_ids"`
	Reason     string   `json:"reason"`
}

// Producer publishes auth events. A Producer built with a nil publisher
// drops every event, which is how the service runs with Kafka disabled.
type Producer struct {
	kafka  pkgkafka.Publisher
	logger *slog.Logger
}

func NewProducer(kafka pkgkafka.Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

func (p *Producer) PublishUserRegistered(ctx context.Context, user *domain.User) error {
	data := UserRegisteredData{
		ID:    user.ID,
		Name:  user.Name,
		Email: user.Email,
	}
	return p.publish(ctx, TopicUserRegistered, user.ID, data)
}

func (p *Producer) PublishLoginFailed(ctx context.Context, user *domain.User) error {
	data := UserLoginFailedData{
		UserID:   user.ID,
		Attempts: user.LoginAttempts,
	}
	return p.publish(ctx, TopicUserLoginFailed, user.ID, data)
}

func (p *Producer) PublishUserLocked(ctx context.Context, user *domain.User) error {
	data := UserLockedData{
		UserID: user.ID,
		Email:  user.Email,
	}
	if user.LockUntil != nil {
		data.LockUntil = user.LockUntil.UTC().Format(time.RFC3339)
	}
	return p.publish(ctx, TopicUserLocked, user.ID, data)
}

func (p *Producer) PublishSessionsRevoked(ctx context.Context, userID string, sessionIDs []string, reason string) error {
	if len(sessionIDs) == 0 {
		return nil
	}
	data := SessionRevokedData{
		UserID:     userID,
		SessionIDs: sessionIDs,
		Reason:     reason,
	}
	return p.publish(ctx, TopicSessionRevoked, userID, data)
}

func (p *Producer) publish(ctx context.Context, topic, userID string, data any) error {
	if p.kafka == nil {
		return nil
	}

	evt, err := pkgkafka.NewEvent(topic, userID, AggregateTypeUser, SourceAuthService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		evt.WithCorrelationID(id)
	}

	if err := p.kafka.Publish(ctx, topic, evt); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published event",
		slog.String("topic", topic),
		slog.String("user_id", userID),
	)
	return nil
}
