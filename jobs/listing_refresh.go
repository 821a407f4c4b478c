package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/kinbay/kinbay/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ListingRefresher rebuilds the cached product listing.
type ListingRefresher interface {
	RefreshListing(ctx context.Context) (int, error)
}

// ListingRefreshJob invalidates and re-warms the public listing.
type ListingRefreshJob struct {
	Listing ListingRefresher
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewListingRefreshJob wires dependencies for the refresh handler.
func NewListingRefreshJob(listing ListingRefresher, logger *slog.Logger, metrics *jobmetrics.Metrics) *ListingRefreshJob {
	return &ListingRefreshJob{Listing: listing, Logger: logger, Metrics: metrics}
}

// Handle processes listing refresh tasks.
func (j *ListingRefreshJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Listing == nil {
		return errors.New("listing refresh: handler not configured")
	}
	var payload ListingRefreshPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.Reason == "" {
		payload.Reason = "schedule"
	}

	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	tracker := metrics.Track(TaskListingRefresh)
	logger := j.logger().With(slog.String("reason", payload.Reason))

	start := time.Now()
	count, err := j.Listing.RefreshListing(ctx)
	if err != nil {
		logger.Error("refresh listing", slog.Any("error", err))
		return tracker.End(err)
	}
	metrics.SetListed(count)
	logger.Info("refreshed listing", slog.Int("products", count), slog.Duration("duration", time.Since(start)))
	return tracker.End(nil)
}

func (j *ListingRefreshJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskListingRefresh))
	}
	return slog.Default().With(slog.String("job", TaskListingRefresh))
}
