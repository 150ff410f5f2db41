package vectorindex

import (
	"context"
	"math"
	"sort"
	"sync"
)

// memoryIndex is an in-process brute-force cosine index, used on sqlite
// (no native vector type) and in tests. It never outperforms pgvector at
// scale; for a catalog small enough to plan trips over, an O(n) scan per
// query is the simplest thing that works.
type memoryIndex struct {
	mu      sync.RWMutex
	vectors map[string][]float32
}

// NewMemoryIndex constructs an empty in-process Index.
func NewMemoryIndex() Index {
	return &memoryIndex{vectors: make(map[string][]float32)}
}

func (m *memoryIndex) Upsert(_ context.Context, placeID string, vector []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vectors[placeID] = vector
	return nil
}

func (m *memoryIndex) Search(_ context.Context, queryVector []float32, k int, filter *Filter) ([]Result, error) {
	if k <= 0 {
		k = 10
	}

	var allowed map[string]struct{}
	if filter != nil && len(filter.PlaceIDs) > 0 {
		allowed = make(map[string]struct{}, len(filter.PlaceIDs))
		for _, id := range filter.PlaceIDs {
			allowed[id] = struct{}{}
		}
	}

	m.mu.RLock()
	results := make([]Result, 0, len(m.vectors))
	for id, v := range m.vectors {
		if allowed != nil {
			if _, ok := allowed[id]; !ok {
				continue
			}
		}
		results = append(results, Result{PlaceID: id, Similarity: cosineSimilarity(queryVector, v)})
	}
	m.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// cosineSimilarity computes cosine similarity between two equal-length
// vectors, 0 for mismatched lengths or a zero vector.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
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
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
