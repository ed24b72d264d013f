package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRoundtrip(t *testing.T) {
	ids := []string{"c1", "c2"}
	vectors := [][]float32{{0.1, 0.2}, {0.3, 0.4}}

	encoded, err := EncodeSnapshot(ids, vectors)
	require.NoError(t, err)

	snap, err := DecodeSnapshot(encoded)
	require.NoError(t, err)
	assert.Equal(t, ids, snap.ChunkIDs)
	assert.Equal(t, vectors, snap.Vectors)
}

func TestEncodeSnapshotRejectsArityMismatch(t *testing.T) {
	_, err := EncodeSnapshot([]string{"c1", "c2"}, [][]float32{{0.1}})
	require.Error(t, err)
}

func TestDecodeSnapshotRejectsArityMismatch(t *testing.T) {
	_, err := DecodeSnapshot([]byte(`{"chunk_ids":["a","b"],"vectors":[[0.1]]}`))
	require.Error(t, err)
}

func TestDecodeSnapshotRejectsGarbage(t *testing.T) {
	_, err := DecodeSnapshot([]byte("not json"))
	require.Error(t, err)
}
