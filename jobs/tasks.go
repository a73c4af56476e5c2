// Package jobs defines the background tasks run by the armada worker.
package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskKeysPruneRotated revokes rotated-out signing keys past grace.
	TaskKeysPruneRotated = "keys:prune_rotated"
	// TaskAbuseSweep removes stale lockout records past retention.
	TaskAbuseSweep = "abuse:sweep"
)

// KeysPrunePayload configures a key-pruning run. GraceSeconds overrides
// the worker default when positive.
type KeysPrunePayload struct {
	GraceSeconds int64 `json:"grace_seconds,omitempty"`
}

// NewKeysPruneTask constructs the prune task.
func NewKeysPruneTask(payload KeysPrunePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskKeysPruneRotated, data), nil
}

// AbuseSweepPayload configures a lockout sweep run.
type AbuseSweepPayload struct {
	Pattern string `json:"pattern,omitempty"`
}

// NewAbuseSweepTask constructs the sweep task.
func NewAbuseSweepTask(payload AbuseSweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAbuseSweep, data), nil
}
