package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskListingRefresh recomputes and re-caches the public product listing.
	TaskListingRefresh = "listing:refresh"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
	// TaskRefreshTokenCleanup deletes expired refresh tokens.
	TaskRefreshTokenCleanup = "auth:refresh-token-cleanup"
)

// ListingRefreshPayload describes why a refresh was requested.
type ListingRefreshPayload struct {
	Reason string `json:"reason"`
}

// IdempotencyCleanupPayload carries the key retention window.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// Retention returns the retention window, defaulting to one week.
func (p IdempotencyCleanupPayload) Retention() time.Duration {
	if p.RetentionHours <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(p.RetentionHours) * time.Hour
}

// NewListingRefreshTask constructs a listing refresh task.
func NewListingRefreshTask(reason string) (*asynq.Task, error) {
	data, err := json.Marshal(ListingRefreshPayload{Reason: reason})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskListingRefresh, data, asynq.Queue(QueueDefault)), nil
}

// NewIdempotencyCleanupTask constructs a cleanup task.
func NewIdempotencyCleanupTask(retentionHours int) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: retentionHours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data, asynq.Queue(QueueDefault)), nil
}

// NewRefreshTokenCleanupTask constructs a refresh token cleanup task.
func NewRefreshTokenCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskRefreshTokenCleanup, nil, asynq.Queue(QueueDefault))
}
