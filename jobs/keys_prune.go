package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/armada-fleet/armada/internal/jobs"
	"github.com/armada-fleet/armada/internal/policy"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// KeysPruneJob revokes ROTATING_OUT keys whose rotation grace window has
// elapsed, so superseded keys stop verifying eventually.
type KeysPruneJob struct {
	keyring *policy.KeyRing
	grace   time.Duration
	logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewKeysPruneJob constructs the job.
func NewKeysPruneJob(keyring *policy.KeyRing, grace time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *KeysPruneJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &KeysPruneJob{keyring: keyring, grace: grace, logger: logger, Metrics: metrics}
}

func (j *KeysPruneJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

// Handle processes TaskKeysPruneRotated tasks.
func (j *KeysPruneJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload KeysPrunePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.metrics().Track(TaskKeysPruneRotated)
	grace := j.grace
	if payload.GraceSeconds > 0 {
		grace = time.Duration(payload.GraceSeconds) * time.Second
	}

	if err := j.keyring.Reload(ctx); err != nil {
		j.logger.Error("keys prune: reload keyring", slog.Any("error", err))
		return tracker.End(err)
	}
	pruned, err := j.keyring.PruneRotated(ctx, grace)
	if err != nil {
		j.logger.Error("keys prune: prune", slog.Any("error", err))
		return tracker.End(err)
	}
	if pruned > 0 {
		j.logger.Info("keys prune: revoked rotated keys", slog.Int("count", pruned))
	}
	return tracker.End(nil)
}
