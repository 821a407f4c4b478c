package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/kinbay/kinbay/internal/jobs"
)

// ExpiredTokenPruner deletes refresh tokens that expired before a cutoff.
type ExpiredTokenPruner interface {
	DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error)
}

// RefreshTokenCleanupJob removes expired refresh tokens. Revoked tokens stay
// until they expire so reuse can still be detected.
type RefreshTokenCleanupJob struct {
	Store   ExpiredTokenPruner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics

	clock func() time.Time
}

// NewRefreshTokenCleanupJob wires dependencies for the cleanup handler.
func NewRefreshTokenCleanupJob(store ExpiredTokenPruner, logger *slog.Logger, metrics *jobmetrics.Metrics) *RefreshTokenCleanupJob {
	return &RefreshTokenCleanupJob{Store: store, Logger: logger, Metrics: metrics, clock: time.Now}
}

// Handle processes refresh token cleanup tasks.
func (j *RefreshTokenCleanupJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("refresh token cleanup: handler not configured")
	}
	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	tracker := metrics.Track(TaskRefreshTokenCleanup)

	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("job", TaskRefreshTokenCleanup))

	now := time.Now
	if j.clock != nil {
		now = j.clock
	}
	removed, err := j.Store.DeleteExpiredRefreshTokens(ctx, now().UTC())
	if err != nil {
		logger.Error("delete expired refresh tokens", slog.Any("error", err))
		return tracker.End(err)
	}
	logger.Info("pruned refresh tokens", slog.Int64("removed", removed))
	return tracker.End(nil)
}
