package queue

import (
	"context"
	"sync"
	"time"
)

// MemorySubstrate is an in-process Substrate used by tests and by local runs
// without Redis. Ordering matches the Redis implementation: score ascending,
// insertion order among equal scores.
type MemorySubstrate struct {
	mu         sync.Mutex
	queues     map[Stage]map[string][]memberEntry
	lastServed map[Stage]string
	inFlight   map[Stage]map[string]int64
	seq        int64
}

type memberEntry struct {
	jobID string
	score float64
	seq   int64
}

func NewMemorySubstrate() *MemorySubstrate {
	return &MemorySubstrate{
		queues:     make(map[Stage]map[string][]memberEntry),
		lastServed: make(map[Stage]string),
		inFlight:   make(map[Stage]map[string]int64),
	}
}

func (m *MemorySubstrate) Enqueue(_ context.Context, tenantID string, stage Stage, jobID string, score float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.queues[stage] == nil {
		m.queues[stage] = make(map[string][]memberEntry)
	}
	q := m.queues[stage][tenantID]
	for i := range q {
		if q[i].jobID == jobID {
			q[i].score = score
			return nil
		}
	}
	m.seq++
	m.queues[stage][tenantID] = append(q, memberEntry{jobID: jobID, score: score, seq: m.seq})
	return nil
}

func (m *MemorySubstrate) PopMin(_ context.Context, tenantID string, stage Stage, now time.Time) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queues[stage][tenantID]
	cutoff := Score(now)
	best := -1
	for i := range q {
		if q[i].score > cutoff {
			continue
		}
		if best == -1 || q[i].score < q[best].score ||
			(q[i].score == q[best].score && q[i].seq < q[best].seq) {
			best = i
		}
	}
	if best == -1 {
		return "", false, nil
	}
	jobID := q[best].jobID
	m.queues[stage][tenantID] = append(q[:best], q[best+1:]...)
	if len(m.queues[stage][tenantID]) == 0 {
		delete(m.queues[stage], tenantID)
	}
	return jobID, true, nil
}

func (m *MemorySubstrate) Remove(_ context.Context, tenantID string, stage Stage, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queues[stage][tenantID]
	for i := range q {
		if q[i].jobID == jobID {
			m.queues[stage][tenantID] = append(q[:i], q[i+1:]...)
			break
		}
	}
	if len(m.queues[stage][tenantID]) == 0 {
		delete(m.queues[stage], tenantID)
	}
	return nil
}

func (m *MemorySubstrate) DeleteQueue(_ context.Context, tenantID string, stage Stage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.queues[stage], tenantID)
	return nil
}

func (m *MemorySubstrate) Len(_ context.Context, tenantID string, stage Stage) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.queues[stage][tenantID])), nil
}

func (m *MemorySubstrate) ActiveTenants(_ context.Context, stage Stage) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tenants := make([]string, 0, len(m.queues[stage]))
	for tenantID := range m.queues[stage] {
		tenants = append(tenants, tenantID)
	}
	return tenants, nil
}

func (m *MemorySubstrate) LastServed(_ context.Context, stage Stage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastServed[stage], nil
}

func (m *MemorySubstrate) SetLastServed(_ context.Context, stage Stage, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastServed[stage] = tenantID
	return nil
}

func (m *MemorySubstrate) IncrInFlight(_ context.Context, tenantID string, stage Stage) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inFlight[stage] == nil {
		m.inFlight[stage] = make(map[string]int64)
	}
	m.inFlight[stage][tenantID]++
	return m.inFlight[stage][tenantID], nil
}

func (m *MemorySubstrate) DecrInFlight(_ context.Context, tenantID string, stage Stage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inFlight[stage] != nil && m.inFlight[stage][tenantID] > 0 {
		m.inFlight[stage][tenantID]--
		if m.inFlight[stage][tenantID] == 0 {
			delete(m.inFlight[stage], tenantID)
		}
	}
	return nil
}

func (m *MemorySubstrate) InFlight(_ context.Context, tenantID string, stage Stage) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight[stage][tenantID], nil
}
