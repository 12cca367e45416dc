// Package sweeper periodically deletes dead sessions from storage so
// expired records never accumulate between logins.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Pranjalshukla1602/task-manager/internal/repository"
)

var (
	sweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_sweep_runs_total",
		Help: "Session sweep runs by result.",
	}, []string{"result"})

	sessionsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_sweep_removed_total",
		Help: "Sessions removed by the scheduled sweep.",
	})
)

// Purger deletes inactive and access-expired sessions.
type Purger interface {
	PurgeExpiredSessions(ctx context.Context, now time.Time) (repository.PurgeResult, error)
}

type Sweeper struct {
	purger   Purger
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func New(purger Purger, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		purger:   purger,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Run sweeps once immediately and then every interval until ctx is done.
// Failures are logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "session sweeper started", slog.Duration("interval", s.interval))
	s.SweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("session sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single purge and returns the number of sessions removed.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	res, err := s.purger.PurgeExpiredSessions(ctx, s.now().UTC())
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		sweepRuns.WithLabelValues("error").Inc()
		s.logger.ErrorContext(ctx, "session sweep failed", slog.String("error", err.Error()))
		return 0
	}

	sweepRuns.WithLabelValues("success").Inc()
	sessionsSwept.Add(float64(res.Removed))
	if res.Removed > 0 {
		s.logger.InfoContext(ctx, "expired sessions swept",
			slog.Int("removed", res.Removed),
			slog.Int("users", len(res.UserIDs)),
		)
	}
	return res.Removed
}
