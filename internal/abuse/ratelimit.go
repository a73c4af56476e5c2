package abuse

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Purpose identifies a rate-limited endpoint class. Distinct purposes have
// independent counters so exhausting one never blocks another.
type Purpose string

const (
	PurposeCredentialLogin    Purpose = "credential-login"
	PurposePINVerify          Purpose = "pin-verify"
	PurposePrivilegedOverride Purpose = "privileged-override"
	PurposeBulkIngest         Purpose = "bulk-ingest"
)

// IdentityKind distinguishes the counter dimensions checked per request.
type IdentityKind string

const (
	IdentityUser   IdentityKind = "user"
	IdentityDevice IdentityKind = "device"
	IdentityOrigin IdentityKind = "origin"
)

// Denial reasons carried on Result. StoreUnavailable is deliberately
// distinct from RateLimited so operators are not misled by fail-closed
// denials during a store outage.
const (
	ReasonRateLimited      = "RATE_LIMITED"
	ReasonLockedOut        = "LOCKED_OUT"
	ReasonStoreUnavailable = "STORE_UNAVAILABLE"
)

// Limit configures one fixed window.
type Limit struct {
	Max    int64
	Window time.Duration
}

// Config holds per-purpose limits plus the optional global per-origin
// ceiling shared across all purposes (0 disables it).
type Config struct {
	Purposes     map[Purpose]Limit
	GlobalOrigin Limit
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		Purposes: map[Purpose]Limit{
			PurposeCredentialLogin:    {Max: 10, Window: time.Minute},
			PurposePINVerify:          {Max: 10, Window: time.Minute},
			PurposePrivilegedOverride: {Max: 3, Window: time.Minute},
			PurposeBulkIngest:         {Max: 120, Window: time.Minute},
		},
	}
}

// Result is the structured limiter decision. RetryAfter carries the
// remaining window time on denial.
type Result struct {
	Allowed    bool          `json:"allowed"`
	Reason     string        `json:"reason,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// RateLimiter applies fixed-window counters keyed by
// (purpose, identity-kind, identity-value).
type RateLimiter struct {
	store  Store
	config Config
	logger *slog.Logger
}

// NewRateLimiter constructs a RateLimiter.
func NewRateLimiter(store Store, config Config, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{store: store, config: config, logger: logger}
}

func windowKey(purpose Purpose, kind IdentityKind, identity string) string {
	return fmt.Sprintf("abuse:rl:%s:%s:%s", purpose, kind, identity)
}

// Check increments the window counter for the identity and reports whether
// the request is within the configured limit. The increment and the limit
// comparison happen against the atomic post-increment count.
func (l *RateLimiter) Check(ctx context.Context, purpose Purpose, kind IdentityKind, identity string) Result {
	limit, ok := l.config.Purposes[purpose]
	if !ok || limit.Max <= 0 {
		return Result{Allowed: true}
	}
	return l.check(ctx, windowKey(purpose, kind, identity), limit)
}

// CheckGlobalOrigin applies the cross-purpose per-origin ceiling when
// configured, stopping multi-endpoint credential stuffing from one address.
func (l *RateLimiter) CheckGlobalOrigin(ctx context.Context, origin string) Result {
	if l.config.GlobalOrigin.Max <= 0 {
		return Result{Allowed: true}
	}
	return l.check(ctx, "abuse:rl:global:origin:"+origin, l.config.GlobalOrigin)
}

func (l *RateLimiter) check(ctx context.Context, key string, limit Limit) Result {
	count, remaining, err := l.store.Incr(ctx, key, limit.Window)
	if err != nil {
		l.logger.Error("abuse: counter store unreachable", slog.String("key", key), slog.Any("error", err))
		return Result{Allowed: false, Reason: ReasonStoreUnavailable, RetryAfter: limit.Window}
	}
	if count > limit.Max {
		return Result{Allowed: false, Reason: ReasonRateLimited, RetryAfter: remaining}
	}
	return Result{Allowed: true}
}
