package kafka

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	defaultMaxRetries   = 3
	defaultRetryBackoff = 100 * time.Millisecond
)

// Handler processes one decoded event.
type Handler func(ctx context.Context, event *Event) error

// messageReader is satisfied by *kafka.Reader.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type deadLetterPublisher interface {
	Publish(ctx context.Context, original kafka.Message, lastErr error, consumerGroup string) error
	Close() error
}

// ConsumerConfig holds Kafka consumer settings.
type ConsumerConfig struct {
	Brokers      []string
	GroupID      string
	Topic        string
	MinBytes     int
	MaxBytes     int
	MaxRetries   int
	RetryBackoff time.Duration
	// EnableDLQ forwards messages that exhaust their retries, or cannot be
	// decoded, to DLQTopic(Topic) before committing them.
	EnableDLQ bool
}

// Consumer reads a topic as part of a consumer group, retries failed
// handlers with linear backoff and commits every message it finishes with.
type Consumer struct {
	reader     messageReader
	dlq        deadLetterPublisher
	handler    Handler
	logger     *slog.Logger
	topic      string
	group      string
	maxRetries int
	backoff    time.Duration
	closeOnce  sync.Once
}

func NewConsumer(cfg ConsumerConfig, handler Handler, logger *slog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: cfg.MinBytes,
		MaxBytes: cfg.MaxBytes,
	})

	var dlq deadLetterPublisher
	if cfg.EnableDLQ {
		dlq = NewDLQProducer(cfg.Brokers, logger)
	}
	return newConsumer(cfg, r, dlq, handler, logger)
}

func newConsumer(cfg ConsumerConfig, r messageReader, dlq deadLetterPublisher, handler Handler, logger *slog.Logger) *Consumer {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}
	return &Consumer{
		reader:     r,
		dlq:        dlq,
		handler:    handler,
		logger:     logger,
		topic:      cfg.Topic,
		group:      cfg.GroupID,
		maxRetries: maxRetries,
		backoff:    backoff,
	}
}

// Start consumes until ctx is canceled, then closes the reader.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started", slog.String("topic", c.topic), slog.String("group", c.group))
	defer func() {
		c.logger.Info("consumer stopping", slog.String("topic", c.topic))
		_ = c.Close()
	}()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			c.logger.Error("failed to fetch message", slog.String("error", err.Error()))
			if sleepErr := sleep(ctx, c.backoff); sleepErr != nil {
				return nil
			}
			continue
		}
		if err := c.process(ctx, msg); err != nil {
			return nil
		}
	}
}

// process handles a single message. It only returns an error when ctx was
// canceled mid-retry; the message is then left uncommitted for redelivery.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	ConsumerMessagesReceived.WithLabelValues(c.topic, c.group).Inc()
	ctx = extractTraceContext(ctx, &msg)

	event, err := UnmarshalEvent(msg.Value)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to decode event",
			slog.String("topic", msg.Topic),
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)
		c.deadLetter(ctx, msg, err)
		c.commit(ctx, msg)
		return nil
	}

	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		lastErr = c.handler(ctx, event)
		if lastErr == nil {
			break
		}
		c.logger.WarnContext(ctx, "handler failed, will retry",
			slog.String("event_type", event.EventType),
			slog.String("aggregate_id", event.AggregateID),
			slog.Int("attempt", attempt),
			slog.Int("max_retries", c.maxRetries),
			slog.String("error", lastErr.Error()),
		)
		if attempt < c.maxRetries {
			if err := sleep(ctx, time.Duration(attempt)*c.backoff); err != nil {
				return err
			}
		}
	}
	ConsumerProcessingDuration.WithLabelValues(c.topic, c.group).Observe(time.Since(start).Seconds())

	if lastErr != nil {
		ConsumerMessagesFailed.WithLabelValues(c.topic, c.group).Inc()
		c.logger.ErrorContext(ctx, "handler failed after all retries",
			slog.String("event_type", event.EventType),
			slog.String("aggregate_id", event.AggregateID),
			slog.Int64("offset", msg.Offset),
			slog.String("error", lastErr.Error()),
		)
		c.deadLetter(ctx, msg, lastErr)
	} else {
		ConsumerMessagesProcessed.WithLabelValues(c.topic, c.group).Inc()
	}

	c.commit(ctx, msg)
	return nil
}

func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message, cause error) {
	if c.dlq == nil {
		return
	}
	if err := c.dlq.Publish(ctx, msg, cause, c.group); err != nil {
		c.logger.ErrorContext(ctx, "failed to publish to DLQ", slog.String("error", err.Error()))
		return
	}
	ConsumerDLQPublished.WithLabelValues(c.topic, c.group).Inc()
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.logger.ErrorContext(ctx, "failed to commit message",
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)
	}
}

// Close closes the reader and the DLQ writer. Safe to call more than once.
func (c *Consumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.reader.Close()
		if c.dlq != nil {
			err = errors.Join(err, c.dlq.Close())
		}
	})
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
