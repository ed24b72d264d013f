package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySubstrateEnqueueIdempotent(t *testing.T) {
	ctx := context.Background()
	sub := NewMemorySubstrate()

	require.NoError(t, sub.Enqueue(ctx, "t1", StageExtract, "job-1", 100))
	require.NoError(t, sub.Enqueue(ctx, "t1", StageExtract, "job-1", 200))

	n, err := sub.Len(ctx, "t1", StageExtract)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Re-enqueue updated the score: not due at t=150, due at t=250.
	_, ok, err := sub.PopMin(ctx, "t1", StageExtract, time.Unix(150, 0))
	require.NoError(t, err)
	assert.False(t, ok)

	jobID, ok, err := sub.PopMin(ctx, "t1", StageExtract, time.Unix(250, 0))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "job-1", jobID)
}

func TestMemorySubstrateFIFOAmongEqualScores(t *testing.T) {
	ctx := context.Background()
	sub := NewMemorySubstrate()

	for _, id := range []string{"first", "second", "third"} {
		require.NoError(t, sub.Enqueue(ctx, "t1", StageChunk, id, 100))
	}

	var order []string
	for i := 0; i < 3; i++ {
		jobID, ok, err := sub.PopMin(ctx, "t1", StageChunk, time.Unix(200, 0))
		require.NoError(t, err)
		require.True(t, ok)
		order = append(order, jobID)
	}
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestMemorySubstrateActiveTenantsTracksDrain(t *testing.T) {
	ctx := context.Background()
	sub := NewMemorySubstrate()

	require.NoError(t, sub.Enqueue(ctx, "t1", StageEmbed, "j1", 100))
	require.NoError(t, sub.Enqueue(ctx, "t2", StageEmbed, "j2", 100))

	tenants, err := sub.ActiveTenants(ctx, StageEmbed)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"t1", "t2"}, tenants)

	_, ok, err := sub.PopMin(ctx, "t1", StageEmbed, time.Unix(200, 0))
	require.NoError(t, err)
	require.True(t, ok)

	tenants, err = sub.ActiveTenants(ctx, StageEmbed)
	require.NoError(t, err)
	assert.Equal(t, []string{"t2"}, tenants)
}

func TestMemorySubstrateRemove(t *testing.T) {
	ctx := context.Background()
	sub := NewMemorySubstrate()

	require.NoError(t, sub.Enqueue(ctx, "t1", StageExtract, "j1", 100))
	require.NoError(t, sub.Remove(ctx, "t1", StageExtract, "j1"))
	require.NoError(t, sub.Remove(ctx, "t1", StageExtract, "missing"))

	n, err := sub.Len(ctx, "t1", StageExtract)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestMemorySubstrateDeleteQueueDropsDeferredWork(t *testing.T) {
	ctx := context.Background()
	sub := NewMemorySubstrate()

	require.NoError(t, sub.Enqueue(ctx, "t1", StageExtract, "due", 100))
	require.NoError(t, sub.Enqueue(ctx, "t1", StageExtract, "deferred", 1e12))
	require.NoError(t, sub.Enqueue(ctx, "t2", StageExtract, "other", 100))

	require.NoError(t, sub.DeleteQueue(ctx, "t1", StageExtract))

	n, err := sub.Len(ctx, "t1", StageExtract)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	tenants, err := sub.ActiveTenants(ctx, StageExtract)
	require.NoError(t, err)
	assert.Equal(t, []string{"t2"}, tenants)

	// Idempotent on an already-empty queue.
	require.NoError(t, sub.DeleteQueue(ctx, "t1", StageExtract))
}

func TestMemorySubstrateInFlightCounters(t *testing.T) {
	ctx := context.Background()
	sub := NewMemorySubstrate()

	n, err := sub.IncrInFlight(ctx, "t1", StageEmbed)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = sub.IncrInFlight(ctx, "t1", StageEmbed)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, sub.DecrInFlight(ctx, "t1", StageEmbed))
	n, err = sub.InFlight(ctx, "t1", StageEmbed)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, sub.DecrInFlight(ctx, "t1", StageEmbed))
	require.NoError(t, sub.DecrInFlight(ctx, "t1", StageEmbed)) // no underflow
	n, err = sub.InFlight(ctx, "t1", StageEmbed)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
