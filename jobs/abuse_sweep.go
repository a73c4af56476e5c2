package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	jobmetrics "github.com/armada-fleet/armada/internal/jobs"
)

const defaultSweepPattern = "abuse:lock:*"

// AbuseSweepJob repairs lockout records left without a TTL (for example
// after a partial write) so abandoned state cannot accumulate forever.
// Healthy records expire on their own via retention TTLs.
type AbuseSweepJob struct {
	client    *redis.Client
	retention time.Duration
	logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewAbuseSweepJob constructs the job.
func NewAbuseSweepJob(client *redis.Client, retention time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *AbuseSweepJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &AbuseSweepJob{client: client, retention: retention, logger: logger, Metrics: metrics}
}

func (j *AbuseSweepJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

// Handle processes TaskAbuseSweep tasks.
func (j *AbuseSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload AbuseSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.metrics().Track(TaskAbuseSweep)
	pattern := payload.Pattern
	if pattern == "" {
		pattern = defaultSweepPattern
	}

	var repaired int
	iter := j.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		ttl, err := j.client.TTL(ctx, key).Result()
		if err != nil {
			return tracker.End(err)
		}
		if ttl == -1 {
			if err := j.client.Expire(ctx, key, j.retention).Err(); err != nil {
				return tracker.End(err)
			}
			repaired++
		}
	}
	if err := iter.Err(); err != nil {
		return tracker.End(err)
	}
	if repaired > 0 {
		j.logger.Info("abuse sweep: re-applied retention", slog.Int("count", repaired))
	}
	return tracker.End(nil)
}
