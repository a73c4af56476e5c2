package policy

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/armada-fleet/armada/internal/clock"
)

func testClock() *clock.Manual {
	return clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
}

func TestSigningKeyEmptyRing(t *testing.T) {
	ring := NewKeyRing(testClock())
	_, err := ring.SigningKey()
	require.ErrorIs(t, err, ErrNoSigningKey)
}

func TestGenerateDemotesPreviousActive(t *testing.T) {
	ctx := context.Background()
	clk := testClock()
	ring := NewKeyRing(clk)

	first, err := ring.Generate(ctx)
	require.NoError(t, err)

	clk.Advance(time.Hour)
	second, err := ring.Generate(ctx)
	require.NoError(t, err)

	signing, err := ring.SigningKey()
	require.NoError(t, err)
	require.Equal(t, second.ID, signing.ID)

	records := ring.Records()
	require.Len(t, records, 2)
	require.Equal(t, StatusRotatingOut, records[0].Status)
	require.Equal(t, first.ID, records[0].ID)
	require.Equal(t, clk.Now(), records[0].RotatedAt)
	require.Nil(t, records[0].Private, "records elide private keys")
}

func TestVerificationKeysExcludeRevoked(t *testing.T) {
	ctx := context.Background()
	ring := NewKeyRing(testClock())

	first, err := ring.Generate(ctx)
	require.NoError(t, err)
	second, err := ring.Generate(ctx)
	require.NoError(t, err)

	keys := ring.VerificationKeys()
	require.Len(t, keys, 2)
	require.Equal(t, second.ID, keys[0].ID, "newest first")

	require.NoError(t, ring.Revoke(ctx, first.ID))
	keys = ring.VerificationKeys()
	require.Len(t, keys, 1)
	require.Equal(t, second.ID, keys[0].ID)
}

func TestRevokeUnknownKey(t *testing.T) {
	ring := NewKeyRing(testClock())
	require.Error(t, ring.Revoke(context.Background(), "nope"))
}

func TestAddRejectsDuplicatesAndBadKeys(t *testing.T) {
	ctx := context.Background()
	ring := NewKeyRing(testClock())

	record, err := ring.Generate(ctx)
	require.NoError(t, err)

	err = ring.Add(ctx, KeyRecord{ID: record.ID, Public: record.Public, Status: StatusActive})
	require.ErrorContains(t, err, "duplicate key id")

	err = ring.Add(ctx, KeyRecord{ID: "short", Public: []byte{1, 2, 3}, Status: StatusActive})
	require.ErrorContains(t, err, "invalid public key")
}

func TestPruneRotatedHonorsGrace(t *testing.T) {
	ctx := context.Background()
	clk := testClock()
	ring := NewKeyRing(clk)

	first, err := ring.Generate(ctx)
	require.NoError(t, err)
	clk.Advance(time.Hour)
	_, err = ring.Generate(ctx) // first becomes ROTATING_OUT now
	require.NoError(t, err)

	grace := 72 * time.Hour

	clk.Advance(71 * time.Hour)
	pruned, err := ring.PruneRotated(ctx, grace)
	require.NoError(t, err)
	require.Zero(t, pruned, "still inside the grace window")

	clk.Advance(2 * time.Hour)
	pruned, err = ring.PruneRotated(ctx, grace)
	require.NoError(t, err)
	require.Equal(t, 1, pruned)

	for _, record := range ring.Records() {
		if record.ID == first.ID {
			require.Equal(t, StatusRevoked, record.Status)
		}
	}
}

func TestPersistentKeyRingSharesState(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	store := NewRedisKeyStore(client)
	clk := testClock()

	api, err := NewPersistentKeyRing(ctx, clk, store)
	require.NoError(t, err)
	generated, err := api.Generate(ctx)
	require.NoError(t, err)

	// A second ring over the same store sees the key, private half included.
	worker, err := NewPersistentKeyRing(ctx, clk, store)
	require.NoError(t, err)
	signing, err := worker.SigningKey()
	require.NoError(t, err)
	require.Equal(t, generated.ID, signing.ID)
	require.NotNil(t, signing.Private)

	// Rotation on one side becomes visible on the other after Reload.
	rotated, err := api.Generate(ctx)
	require.NoError(t, err)
	require.NoError(t, worker.Reload(ctx))
	signing, err = worker.SigningKey()
	require.NoError(t, err)
	require.Equal(t, rotated.ID, signing.ID)

	keys := worker.VerificationKeys()
	require.Len(t, keys, 2)
}

func TestRedisKeyStoreEmptyLoad(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	keys, err := NewRedisKeyStore(client).Load(context.Background())
	require.NoError(t, err)
	require.Empty(t, keys)
}
