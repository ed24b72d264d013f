package vectorindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryIndex is an in-process Index with brute-force cosine scoring, used by
// tests and local runs without Qdrant.
type MemoryIndex struct {
	mu        sync.RWMutex
	dimension int
	points    map[string]Point
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{points: make(map[string]Point)}
}

func (m *MemoryIndex) EnsureCollection(_ context.Context, dimension int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dimension != 0 && m.dimension != dimension {
		return fmt.Errorf("collection has dimension %d, configured dimension is %d", m.dimension, dimension)
	}
	m.dimension = dimension
	return nil
}

func (m *MemoryIndex) Upsert(_ context.Context, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range points {
		if m.dimension != 0 && len(p.Vector) != m.dimension {
			return fmt.Errorf("point %s has dimension %d, collection is %d", p.ID, len(p.Vector), m.dimension)
		}
		m.points[p.ID] = p
	}
	return nil
}

func (m *MemoryIndex) Search(_ context.Context, tenantID string, vector []float32, limit int, threshold float32) ([]Match, error) {
	return m.search(func(p Point) bool { return p.TenantID == tenantID }, vector, limit, threshold)
}

func (m *MemoryIndex) SearchAll(_ context.Context, vector []float32, limit int, threshold float32) ([]Match, error) {
	return m.search(func(Point) bool { return true }, vector, limit, threshold)
}

func (m *MemoryIndex) search(keep func(Point) bool, vector []float32, limit int, threshold float32) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := make([]Match, 0)
	for _, p := range m.points {
		if !keep(p) {
			continue
		}
		score := cosine(vector, p.Vector)
		if threshold > 0 && score < threshold {
			continue
		}
		matches = append(matches, Match{
			ChunkID:    p.ID,
			TenantID:   p.TenantID,
			DocumentID: p.DocumentID,
			ChunkIndex: p.ChunkIndex,
			Score:      score,
			Filename:   p.Filename,
			Metadata:   p.Metadata,
		})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (m *MemoryIndex) DeleteByDocument(_ context.Context, tenantID, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.points {
		if p.TenantID == tenantID && p.DocumentID == documentID {
			delete(m.points, id)
		}
	}
	return nil
}

func (m *MemoryIndex) DeleteByTenant(_ context.Context, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.points {
		if p.TenantID == tenantID {
			delete(m.points, id)
		}
	}
	return nil
}

func (m *MemoryIndex) CountByTenant(_ context.Context, tenantID string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n uint64
	for _, p := range m.points {
		if p.TenantID == tenantID {
			n++
		}
	}
	return n, nil
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
