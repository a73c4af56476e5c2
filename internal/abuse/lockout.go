package abuse

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/armada-fleet/armada/internal/clock"
)

// LockoutConfig tunes the progressive lockout policy.
type LockoutConfig struct {
	Threshold int           // consecutive failures before locking
	BaseLock  time.Duration // first-stage lock duration
	MaxLock   time.Duration // backoff cap
	Retention time.Duration // how long state outlives the last failure
}

// DefaultLockoutConfig returns the stock policy: five failures, 1 minute
// doubling per stage, capped at one hour.
func DefaultLockoutConfig() LockoutConfig {
	return LockoutConfig{
		Threshold: 5,
		BaseLock:  time.Minute,
		MaxLock:   time.Hour,
		Retention: 24 * time.Hour,
	}
}

// lockoutState is the persisted per-identity lock record. It exists only
// once an identity has been locked; the consecutive-failure count below
// the threshold lives in a separate atomic counter.
type lockoutState struct {
	Stage       int       `json:"stage"`
	LockedUntil time.Time `json:"locked_until"`
}

// LockoutTracker counts consecutive credential failures per identity and
// locks with exponential backoff. A correct credential always ends a
// lockout, even mid-window.
type LockoutTracker struct {
	store  Store
	config LockoutConfig
	clock  clock.Clock
	logger *slog.Logger
}

// NewLockoutTracker constructs a tracker.
func NewLockoutTracker(store Store, config LockoutConfig, clk clock.Clock, logger *slog.Logger) *LockoutTracker {
	if config.Threshold <= 0 {
		config.Threshold = 5
	}
	if config.BaseLock <= 0 {
		config.BaseLock = time.Minute
	}
	if config.MaxLock <= 0 {
		config.MaxLock = time.Hour
	}
	if config.Retention <= 0 {
		config.Retention = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LockoutTracker{store: store, config: config, clock: clk, logger: logger}
}

func lockKey(identity string) string {
	return "abuse:lock:" + identity
}

func failKey(identity string) string {
	return "abuse:lock:count:" + identity
}

func (t *LockoutTracker) load(ctx context.Context, identity string) (lockoutState, error) {
	payload, err := t.store.Get(ctx, lockKey(identity))
	if err != nil {
		if errors.Is(err, ErrNoRecord) {
			return lockoutState{}, nil
		}
		return lockoutState{}, err
	}
	var state lockoutState
	if err := json.Unmarshal(payload, &state); err != nil {
		return lockoutState{}, err
	}
	return state, nil
}

func (t *LockoutTracker) save(ctx context.Context, identity string, state lockoutState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return t.store.Set(ctx, lockKey(identity), payload, t.config.Retention)
}

// lockDuration computes base * 2^stage capped at MaxLock.
func (t *LockoutTracker) lockDuration(stage int) time.Duration {
	d := t.config.BaseLock
	for i := 0; i < stage; i++ {
		d *= 2
		if d >= t.config.MaxLock {
			return t.config.MaxLock
		}
	}
	return d
}

// RecordFailure registers a failed verification attempt. The failure count
// is an atomic post-increment on the store, so concurrent failures for one
// identity all land and the threshold comparison never reads a stale count.
// Reaching the threshold locks the identity; a failure arriving after a
// lockout has fully expired is a repeat offense and relocks at the next
// stage.
func (t *LockoutTracker) RecordFailure(ctx context.Context, identity string) error {
	now := t.clock.Now()
	state, err := t.load(ctx, identity)
	if err != nil {
		return err
	}

	switch {
	case !state.LockedUntil.IsZero() && now.Before(state.LockedUntil):
		// Attempt during an active lockout; the window stands.
		_, _, err := t.store.Incr(ctx, failKey(identity), t.config.Retention)
		return err
	case !state.LockedUntil.IsZero():
		// Lockout expired and the next attempt failed again: escalate.
		state.Stage++
		state.LockedUntil = now.Add(t.lockDuration(state.Stage))
		return t.save(ctx, identity, state)
	default:
		count, _, err := t.store.Incr(ctx, failKey(identity), t.config.Retention)
		if err != nil {
			return err
		}
		if count >= int64(t.config.Threshold) {
			state.LockedUntil = now.Add(t.lockDuration(state.Stage))
			return t.save(ctx, identity, state)
		}
		return nil
	}
}

// RecordSuccess clears the failure count and unlocks immediately.
func (t *LockoutTracker) RecordSuccess(ctx context.Context, identity string) error {
	if err := t.store.Delete(ctx, failKey(identity)); err != nil {
		return err
	}
	return t.store.Delete(ctx, lockKey(identity))
}

// IsLocked reports whether the identity is currently locked and, if so,
// for how much longer. Pure read: safe to call speculatively before a
// verification attempt.
func (t *LockoutTracker) IsLocked(ctx context.Context, identity string) (bool, time.Duration, error) {
	state, err := t.load(ctx, identity)
	if err != nil {
		return false, 0, err
	}
	now := t.clock.Now()
	if state.LockedUntil.IsZero() || !now.Before(state.LockedUntil) {
		return false, 0, nil
	}
	return true, state.LockedUntil.Sub(now), nil
}
