package jobs

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/armada-fleet/armada/internal/clock"
	"github.com/armada-fleet/armada/internal/policy"
)

func testRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestKeysPruneJobRevokesRotatedKeys(t *testing.T) {
	_, client := testRedis(t)
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := policy.NewRedisKeyStore(client)

	// The API side rotates; the worker holds its own ring over the same
	// store, stale until Reload.
	api, err := policy.NewPersistentKeyRing(ctx, clk, store)
	require.NoError(t, err)
	old, err := api.Generate(ctx)
	require.NoError(t, err)
	clk.Advance(time.Hour)
	_, err = api.Generate(ctx)
	require.NoError(t, err)

	workerRing, err := policy.NewPersistentKeyRing(ctx, clk, store)
	require.NoError(t, err)
	job := NewKeysPruneJob(workerRing, 72*time.Hour, discardLogger(), nil)

	task, err := NewKeysPruneTask(KeysPrunePayload{})
	require.NoError(t, err)

	// Inside the grace window nothing changes.
	require.NoError(t, job.Handle(ctx, task))
	fresh, err := policy.NewPersistentKeyRing(ctx, clk, store)
	require.NoError(t, err)
	require.Len(t, fresh.VerificationKeys(), 2)

	clk.Advance(73 * time.Hour)
	require.NoError(t, job.Handle(ctx, task))

	fresh, err = policy.NewPersistentKeyRing(ctx, clk, store)
	require.NoError(t, err)
	keys := fresh.VerificationKeys()
	require.Len(t, keys, 1)
	require.NotEqual(t, old.ID, keys[0].ID)
}

func TestKeysPruneJobPayloadOverridesGrace(t *testing.T) {
	_, client := testRedis(t)
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := policy.NewRedisKeyStore(client)

	ring, err := policy.NewPersistentKeyRing(ctx, clk, store)
	require.NoError(t, err)
	_, err = ring.Generate(ctx)
	require.NoError(t, err)
	clk.Advance(time.Minute)
	_, err = ring.Generate(ctx)
	require.NoError(t, err)

	job := NewKeysPruneJob(ring, 72*time.Hour, discardLogger(), nil)
	task, err := NewKeysPruneTask(KeysPrunePayload{GraceSeconds: 30})
	require.NoError(t, err)

	clk.Advance(time.Minute)
	require.NoError(t, job.Handle(ctx, task))
	require.Len(t, ring.VerificationKeys(), 1)
}

func TestKeysPruneJobSkipsRetryOnBadPayload(t *testing.T) {
	_, client := testRedis(t)
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	ring, err := policy.NewPersistentKeyRing(context.Background(), clk, policy.NewRedisKeyStore(client))
	require.NoError(t, err)

	job := NewKeysPruneJob(ring, time.Hour, discardLogger(), nil)
	err = job.Handle(context.Background(), asynq.NewTask(TaskKeysPruneRotated, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestAbuseSweepJobRepairsMissingTTL(t *testing.T) {
	mr, client := testRedis(t)
	ctx := context.Background()

	// A healthy record carries its retention TTL; a repaired write may not.
	require.NoError(t, client.Set(ctx, "abuse:lock:alice", `{"failures":5}`, 0).Err())
	require.NoError(t, client.Set(ctx, "abuse:lock:bob", `{"failures":2}`, time.Hour).Err())

	job := NewAbuseSweepJob(client, 24*time.Hour, discardLogger(), nil)
	task, err := NewAbuseSweepTask(AbuseSweepPayload{})
	require.NoError(t, err)
	require.NoError(t, job.Handle(ctx, task))

	require.Equal(t, 24*time.Hour, mr.TTL("abuse:lock:alice"))
	require.Equal(t, time.Hour, mr.TTL("abuse:lock:bob"))
}
