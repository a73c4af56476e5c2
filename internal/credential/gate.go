// Package credential runs the verification pipeline for password and PIN
// attempts: lockout check, rate windows, hash comparison, then failure or
// success recording.
package credential

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/armada-fleet/armada/internal/abuse"
)

// Outcome reasons. BadCredential covers every mismatch so callers cannot
// distinguish wrong secrets from unknown identities.
const (
	ReasonBadCredential = "BAD_CREDENTIAL"
)

// Verifier compares a presented secret with its stored hash.
type Verifier interface {
	Verify(secret, hash string) bool
}

// BcryptVerifier implements Verifier with bcrypt.
type BcryptVerifier struct{}

// Verify reports whether secret matches the bcrypt hash.
func (BcryptVerifier) Verify(secret, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// AttemptInput describes one credential-verification attempt.
type AttemptInput struct {
	Purpose      abuse.Purpose
	IdentityKind abuse.IdentityKind
	Identity     string
	Origin       string
	Secret       string
	Hash         string
}

// Outcome is the structured gate decision. RetryAfter is set on every
// abuse-control denial.
type Outcome struct {
	OK         bool          `json:"ok"`
	Reason     string        `json:"reason,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Gate chains the abuse controls around the actual hash check.
type Gate struct {
	limiter  *abuse.RateLimiter
	lockouts *abuse.LockoutTracker
	verifier Verifier
	logger   *slog.Logger
}

// NewGate constructs a Gate.
func NewGate(limiter *abuse.RateLimiter, lockouts *abuse.LockoutTracker, verifier Verifier, logger *slog.Logger) *Gate {
	if verifier == nil {
		verifier = BcryptVerifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{limiter: limiter, lockouts: lockouts, verifier: verifier, logger: logger}
}

// Attempt runs the pipeline. Checks fail fast in order: active lockout,
// identity window, origin window, optional global origin ceiling, then the
// hash comparison. Login/PIN purposes fail closed when the counter store
// is unreachable.
func (g *Gate) Attempt(ctx context.Context, in AttemptInput) (Outcome, error) {
	if in.Identity == "" {
		return Outcome{}, errors.New("credential: identity required")
	}

	locked, remaining, err := g.lockouts.IsLocked(ctx, in.Identity)
	if err != nil {
		g.logger.Error("credential: lockout store unreachable", slog.Any("error", err))
		return Outcome{OK: false, Reason: abuse.ReasonStoreUnavailable, RetryAfter: time.Minute}, nil
	}
	if locked {
		return Outcome{OK: false, Reason: abuse.ReasonLockedOut, RetryAfter: remaining}, nil
	}

	if res := g.limiter.Check(ctx, in.Purpose, in.IdentityKind, in.Identity); !res.Allowed {
		return Outcome{OK: false, Reason: res.Reason, RetryAfter: res.RetryAfter}, nil
	}
	if in.Origin != "" {
		if res := g.limiter.Check(ctx, in.Purpose, abuse.IdentityOrigin, in.Origin); !res.Allowed {
			return Outcome{OK: false, Reason: res.Reason, RetryAfter: res.RetryAfter}, nil
		}
		if res := g.limiter.CheckGlobalOrigin(ctx, in.Origin); !res.Allowed {
			return Outcome{OK: false, Reason: res.Reason, RetryAfter: res.RetryAfter}, nil
		}
	}

	if !g.verifier.Verify(in.Secret, in.Hash) {
		if err := g.lockouts.RecordFailure(ctx, in.Identity); err != nil {
			g.logger.Error("credential: record failure", slog.Any("error", err))
		}
		return Outcome{OK: false, Reason: ReasonBadCredential}, nil
	}

	if err := g.lockouts.RecordSuccess(ctx, in.Identity); err != nil {
		g.logger.Error("credential: record success", slog.Any("error", err))
	}
	return Outcome{OK: true}, nil
}
