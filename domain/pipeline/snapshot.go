package pipeline

import (
	"encoding/json"
	"fmt"
)

// Snapshot is the embed stage's checkpoint: the vectors of one chunk batch,
// written to the blob store before the index upsert. A retried embed job that
// finds its snapshot skips the embedding call and replays the upsert, so
// retries never re-bill the embedding provider.
type Snapshot struct {
	ChunkIDs []string    `json:"chunk_ids"`
	Vectors  [][]float32 `json:"vectors"`
}

// EncodeSnapshot serializes a snapshot for the blob store.
func EncodeSnapshot(chunkIDs []string, vectors [][]float32) ([]byte, error) {
	if len(chunkIDs) != len(vectors) {
		return nil, fmt.Errorf("snapshot arity mismatch: %d chunk ids, %d vectors", len(chunkIDs), len(vectors))
	}
	b, err := json.Marshal(&Snapshot{ChunkIDs: chunkIDs, Vectors: vectors})
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return b, nil
}

// DecodeSnapshot deserializes a snapshot blob and validates its shape.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if len(snap.ChunkIDs) != len(snap.Vectors) {
		return nil, fmt.Errorf("snapshot arity mismatch: %d chunk ids, %d vectors", len(snap.ChunkIDs), len(snap.Vectors))
	}
	return &snap, nil
}
