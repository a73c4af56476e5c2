package credential

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/armada-fleet/armada/internal/abuse"
	"github.com/armada-fleet/armada/internal/clock"
)

// plainVerifier sidesteps bcrypt cost in pipeline tests.
type plainVerifier struct{}

func (plainVerifier) Verify(secret, hash string) bool { return secret == hash }

type gateFixture struct {
	gate *Gate
	clk  *clock.Manual
	mr   *miniredis.Miniredis
}

func newGateFixture(t *testing.T, limits abuse.Config) gateFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := abuse.NewRedisStore(client)
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	limiter := abuse.NewRateLimiter(store, limits, nil)
	lockouts := abuse.NewLockoutTracker(store, abuse.DefaultLockoutConfig(), clk, nil)
	return gateFixture{
		gate: NewGate(limiter, lockouts, plainVerifier{}, nil),
		clk:  clk,
		mr:   mr,
	}
}

func wideOpenLimits() abuse.Config {
	return abuse.Config{
		Purposes: map[abuse.Purpose]abuse.Limit{
			abuse.PurposeCredentialLogin: {Max: 1000, Window: time.Minute},
		},
	}
}

func loginAttempt(secret string) AttemptInput {
	return AttemptInput{
		Purpose:      abuse.PurposeCredentialLogin,
		IdentityKind: abuse.IdentityUser,
		Identity:     "alice",
		Origin:       "10.0.0.1",
		Secret:       secret,
		Hash:         "correct-horse",
	}
}

func TestAttemptSuccess(t *testing.T) {
	fx := newGateFixture(t, wideOpenLimits())

	out, err := fx.gate.Attempt(context.Background(), loginAttempt("correct-horse"))
	require.NoError(t, err)
	require.True(t, out.OK)
	require.Empty(t, out.Reason)
}

func TestAttemptRequiresIdentity(t *testing.T) {
	fx := newGateFixture(t, wideOpenLimits())

	in := loginAttempt("correct-horse")
	in.Identity = ""
	_, err := fx.gate.Attempt(context.Background(), in)
	require.Error(t, err)
}

func TestAttemptBadCredentialLeadsToLockout(t *testing.T) {
	fx := newGateFixture(t, wideOpenLimits())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		out, err := fx.gate.Attempt(ctx, loginAttempt("wrong"))
		require.NoError(t, err)
		require.False(t, out.OK)
		require.Equal(t, ReasonBadCredential, out.Reason)
	}

	// Sixth attempt is rejected before the hash is even consulted, correct
	// secret or not.
	out, err := fx.gate.Attempt(ctx, loginAttempt("correct-horse"))
	require.NoError(t, err)
	require.False(t, out.OK)
	require.Equal(t, abuse.ReasonLockedOut, out.Reason)
	require.Greater(t, out.RetryAfter, time.Duration(0))
}

func TestAttemptSuccessResetsFailureCount(t *testing.T) {
	fx := newGateFixture(t, wideOpenLimits())
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		out, err := fx.gate.Attempt(ctx, loginAttempt("wrong"))
		require.NoError(t, err)
		require.False(t, out.OK)
	}
	out, err := fx.gate.Attempt(ctx, loginAttempt("correct-horse"))
	require.NoError(t, err)
	require.True(t, out.OK)

	for i := 0; i < 4; i++ {
		out, err = fx.gate.Attempt(ctx, loginAttempt("wrong"))
		require.NoError(t, err)
		require.Equal(t, ReasonBadCredential, out.Reason)
	}
	out, err = fx.gate.Attempt(ctx, loginAttempt("correct-horse"))
	require.NoError(t, err)
	require.True(t, out.OK, "the counter restarted after the earlier success")
}

func TestAttemptRateLimited(t *testing.T) {
	fx := newGateFixture(t, abuse.Config{
		Purposes: map[abuse.Purpose]abuse.Limit{
			abuse.PurposeCredentialLogin: {Max: 2, Window: time.Minute},
		},
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		out, err := fx.gate.Attempt(ctx, loginAttempt("correct-horse"))
		require.NoError(t, err)
		require.True(t, out.OK)
	}

	out, err := fx.gate.Attempt(ctx, loginAttempt("correct-horse"))
	require.NoError(t, err)
	require.False(t, out.OK)
	require.Equal(t, abuse.ReasonRateLimited, out.Reason)
	require.Greater(t, out.RetryAfter, time.Duration(0))
}

func TestAttemptFailsClosedOnStoreOutage(t *testing.T) {
	fx := newGateFixture(t, wideOpenLimits())
	fx.mr.Close()

	out, err := fx.gate.Attempt(context.Background(), loginAttempt("correct-horse"))
	require.NoError(t, err)
	require.False(t, out.OK)
	require.Equal(t, abuse.ReasonStoreUnavailable, out.Reason)
}

func TestBcryptVerifier(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	require.NoError(t, err)

	var v BcryptVerifier
	require.True(t, v.Verify("correct-horse", string(hash)))
	require.False(t, v.Verify("battery-staple", string(hash)))
	require.False(t, v.Verify("correct-horse", "not-a-hash"))
}
