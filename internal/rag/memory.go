package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryIndex is a brute-force cosine-similarity VectorIndex held entirely
// in memory. It backs unit tests and local development where running a
// Qdrant instance is not worth the setup; nothing persists across restarts.
type MemoryIndex struct {
	mu sync.RWMutex

	// dimension is fixed by the first upserted vector.
	dimension int

	// entries preserves insertion order, which doubles as the
	// deterministic tie-break for equal scores.
	entries []memoryEntry

	// byID maps chunk ID to its position in entries for upsert-replace.
	byID map[string]int
}

// memoryEntry pairs a stored chunk with its embedding.
type memoryEntry struct {
	chunk  Chunk
	vector []float32
}

// NewMemoryIndex constructs an empty MemoryIndex.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{byID: make(map[string]int)}
}

// Target describes where this index persists its data.
func (m *MemoryIndex) Target() string { return "memory" }

// Upsert stores or replaces chunks by ID. The first upsert fixes the
// vector dimension; later vectors must match it.
func (m *MemoryIndex) Upsert(_ context.Context, chunks []Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("memory index: %d chunks but %d vectors", len(chunks), len(vectors))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i, c := range chunks {
		v := vectors[i]
		if m.dimension == 0 {
			m.dimension = len(v)
		}
		if len(v) != m.dimension {
			return fmt.Errorf("memory index: vector dimension %d, want %d", len(v), m.dimension)
		}

		if pos, ok := m.byID[c.ID]; ok {
			m.entries[pos] = memoryEntry{chunk: c, vector: v}
			continue
		}
		m.byID[c.ID] = len(m.entries)
		m.entries = append(m.entries, memoryEntry{chunk: c, vector: v})
	}

	return nil
}

// Search scores every stored chunk against the query embedding and returns
// the top-k matches in descending score order. Ties keep insertion order.
func (m *MemoryIndex) Search(_ context.Context, queryEmbedding []float32, k int, filter *Filter) ([]Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type scored struct {
		chunk Chunk
		score float32
		order int
	}

	var candidates []scored
	for i, e := range m.entries {
		if !matches(&e.chunk, filter) {
			continue
		}
		candidates = append(candidates, scored{
			chunk: e.chunk,
			score: cosine(e.vector, queryEmbedding),
			order: i,
		})
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		if candidates[a].score != candidates[b].score {
			return candidates[a].score > candidates[b].score
		}
		return candidates[a].order < candidates[b].order
	})

	if k > len(candidates) {
		k = len(candidates)
	}
	results := make([]Chunk, 0, k)
	for _, c := range candidates[:k] {
		chunk := c.chunk
		chunk.Score = c.score
		results = append(results, chunk)
	}

	return results, nil
}

// Get returns all chunks matching the filter, in insertion order.
func (m *MemoryIndex) Get(_ context.Context, filter *Filter) ([]Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Chunk
	for _, e := range m.entries {
		if matches(&e.chunk, filter) {
			out = append(out, e.chunk)
		}
	}
	return out, nil
}

// Delete removes chunks by ID. Unknown IDs are ignored.
func (m *MemoryIndex) Delete(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	kept := m.entries[:0]
	for _, e := range m.entries {
		if !drop[e.chunk.ID] {
			kept = append(kept, e)
		}
	}
	m.entries = kept

	m.byID = make(map[string]int, len(m.entries))
	for i, e := range m.entries {
		m.byID[e.chunk.ID] = i
	}

	return nil
}

// Count returns the number of stored chunks.
func (m *MemoryIndex) Count(_ context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.entries)), nil
}

// Close is a no-op for the in-memory index.
func (m *MemoryIndex) Close() error { return nil }

// matches reports whether the chunk satisfies the exact-match filter.
func matches(c *Chunk, f *Filter) bool {
	if f.Empty() {
		return true
	}
	if f.DocumentID != "" && c.DocumentID != f.DocumentID {
		return false
	}
	for k, v := range f.Extra {
		if c.Extra[k] != v {
			return false
		}
	}
	return true
}

// cosine returns the cosine similarity of a and b. Mismatched lengths
// compare over the shorter prefix; zero vectors score 0.
func cosine(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
