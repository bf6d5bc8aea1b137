package vectorindex

import (
	"context"
	"sort"
	"sync"
)

// Memory is a brute-force in-process index for tests and small corpora.
type Memory struct {
	mu        sync.RWMutex
	dimension int
	points    map[string]Point
}

func NewMemory() *Memory {
	return &Memory{points: make(map[string]Point)}
}

func (m *Memory) EnsureCollection(_ context.Context, dimension int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dimension == 0 {
		m.dimension = dimension
	}
	if m.dimension != dimension {
		return ErrDimensionMismatch
	}
	return nil
}

func (m *Memory) Upsert(_ context.Context, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dimension == 0 && len(points) > 0 {
		m.dimension = len(points[0].Vector)
	}
	if err := validatePoints(points, m.dimension); err != nil {
		return err
	}
	for _, p := range points {
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		p.Vector = vec
		m.points[p.ChunkID] = p
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, chunkIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range chunkIDs {
		delete(m.points, id)
	}
	return nil
}

func (m *Memory) Search(_ context.Context, vector []float32, k int, filter Filter) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.dimension > 0 && len(vector) != m.dimension {
		return nil, ErrDimensionMismatch
	}

	hits := make([]Hit, 0, len(m.points))
	for id, p := range m.points {
		if !filter.Match(p.Metadata) {
			continue
		}
		hits = append(hits, Hit{ChunkID: id, Score: cosine(vector, p.Vector), Metadata: p.Metadata})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.points)
}
