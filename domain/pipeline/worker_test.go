package pipeline

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagemill/pagemill/internal/config"
	"github.com/pagemill/pagemill/internal/storage"
)

func TestRetryDelayDoublesPerAttempt(t *testing.T) {
	assert.Equal(t, 2*time.Second, retryDelay(1))
	assert.Equal(t, 4*time.Second, retryDelay(2))
	assert.Equal(t, 8*time.Second, retryDelay(3))
}

func TestStaleThresholdUsesLongestStageBudget(t *testing.T) {
	cfg := &config.Config{}
	cfg.Pipeline.ExtractTimeout = 5 * time.Minute
	cfg.Pipeline.ChunkTimeout = 2 * time.Minute
	cfg.Pipeline.EmbedTimeout = 10 * time.Minute

	r := &Runtime{cfg: cfg}
	assert.Equal(t, 20*time.Minute, r.staleThreshold())
}

func testEmbedProcessor(blobs storage.BlobStore) *EmbedProcessor {
	return &EmbedProcessor{
		blobs: blobs,
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestLoadSnapshotMissing(t *testing.T) {
	p := testEmbedProcessor(storage.NewMemoryStore())

	vectors, err := p.loadSnapshot(context.Background(), "embeddings/nope.snapshot", []string{"c1"})
	require.NoError(t, err)
	assert.Nil(t, vectors)
}

func TestLoadSnapshotReplaysVectorsInChunkOrder(t *testing.T) {
	blobs := storage.NewMemoryStore()
	p := testEmbedProcessor(blobs)

	encoded, err := EncodeSnapshot(
		[]string{"c2", "c1"},
		[][]float32{{0.2}, {0.1}},
	)
	require.NoError(t, err)
	require.NoError(t, blobs.Put(context.Background(), "embeddings/j1.snapshot",
		bytes.NewReader(encoded), int64(len(encoded)), "application/json"))

	vectors, err := p.loadSnapshot(context.Background(), "embeddings/j1.snapshot", []string{"c1", "c2"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{0.1}, vectors[0])
	assert.Equal(t, []float32{0.2}, vectors[1])
}

func TestLoadSnapshotDiscardsStaleChunkSet(t *testing.T) {
	blobs := storage.NewMemoryStore()
	p := testEmbedProcessor(blobs)

	encoded, err := EncodeSnapshot([]string{"old"}, [][]float32{{0.9}})
	require.NoError(t, err)
	require.NoError(t, blobs.Put(context.Background(), "embeddings/j2.snapshot",
		bytes.NewReader(encoded), int64(len(encoded)), "application/json"))

	vectors, err := p.loadSnapshot(context.Background(), "embeddings/j2.snapshot", []string{"c1"})
	require.NoError(t, err)
	assert.Nil(t, vectors)
}

func TestLoadSnapshotDiscardsMalformedBlob(t *testing.T) {
	blobs := storage.NewMemoryStore()
	p := testEmbedProcessor(blobs)

	data := []byte("corrupt")
	require.NoError(t, blobs.Put(context.Background(), "embeddings/j3.snapshot",
		bytes.NewReader(data), int64(len(data)), "application/json"))

	vectors, err := p.loadSnapshot(context.Background(), "embeddings/j3.snapshot", []string{"c1"})
	require.NoError(t, err)
	assert.Nil(t, vectors)
}
