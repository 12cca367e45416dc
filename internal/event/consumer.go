package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	apperrors "github.com/Pranjalshukla1602/task-manager/pkg/errors"
	pkgkafka "github.com/Pranjalshukla1602/task-manager/pkg/kafka"
)

// TopicAccountStatusChanged is published by account administration when a
// user is disabled or re-enabled.
var TopicAccountStatusChanged = pkgkafka.Topic("account", "status_changed")

type AccountStatusChangedData struct {
	UserID string `json:"user_id"`
	Active bool   `json:"active"`
	Reason string `json:"reason,omitempty"`
}

// StatusUpdater applies an account status change.
type StatusUpdater interface {
	SetActive(ctx context.Context, userID string, active bool) error
}

// AccountStatusHandler returns a consumer handler for account.status_changed.
// Events for unknown users are logged and acknowledged; malformed payloads
// are returned as errors so the consumer dead-letters them.
func AccountStatusHandler(updater StatusUpdater, logger *slog.Logger) pkgkafka.Handler {
	return func(ctx context.Context, evt *pkgkafka.Event) error {
		if evt.EventType != TopicAccountStatusChanged {
			logger.DebugContext(ctx, "ignoring event",
				slog.String("event_type", evt.EventType),
				slog.String("event_id", evt.EventID),
			)
			return nil
		}

		var data AccountStatusChangedData
		if err := evt.UnmarshalData(&data); err != nil {
			return fmt.Errorf("decode %s payload: %w", evt.EventType, err)
		}
		if data.UserID == "" {
			return fmt.Errorf("decode %s payload: missing user_id", evt.EventType)
		}

		err := updater.SetActive(ctx, data.UserID, data.Active)
		if errors.Is(err, apperrors.ErrNotFound) {
			logger.WarnContext(ctx, "account status change for unknown user",
				slog.String("user_id", data.UserID),
				slog.String("event_id", evt.EventID),
			)
			return nil
		}
		if err != nil {
			return fmt.Errorf("apply account status: %w", err)
		}

		logger.InfoContext(ctx, "account status applied",
			slog.String("user_id", data.UserID),
			slog.Bool("active", data.Active),
			slog.String("reason", data.Reason),
		)
		return nil
	}
}
