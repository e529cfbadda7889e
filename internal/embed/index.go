package embed

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"ckg/internal/entity"
)

// Hit is one search result.
type Hit struct {
	EntityID string  `json:"entityId"`
	Score    float64 `json:"score"`
}

type indexEntry struct {
	vec  []float32
	kind entity.Kind
}

// Index holds vectors in memory for cosine search. Writers are the indexer
// workers; readers are search queries, which take only the read lock, so
// search latency never depends on how far behind indexing is. All vectors
// carry the same model tag and dimension, enforced at insert.
type Index struct {
	mu      sync.RWMutex
	model   string
	dim     int
	entries map[string]indexEntry
}

func NewIndex(model string, dim int) *Index {
	return &Index{
		model:   model,
		dim:     dim,
		entries: make(map[string]indexEntry),
	}
}

func (ix *Index) Model() string {
	return ix.model
}

// Upsert inserts or replaces an entity's vector. Vectors from another
// model or with the wrong dimension are rejected: stale rows from a
// superseded model must never rank in results.
func (ix *Index) Upsert(id string, kind entity.Kind, model string, vec []float32) error {
	if model != ix.model {
		return fmt.Errorf("vector model %q does not match index model %q", model, ix.model)
	}
	if len(vec) != ix.dim {
		return fmt.Errorf("vector dim %d does not match index dim %d", len(vec), ix.dim)
	}
	ix.mu.Lock()
	ix.entries[id] = indexEntry{vec: vec, kind: kind}
	ix.mu.Unlock()
	return nil
}

// Delete removes entities from the index. Unknown ids are ignored.
func (ix *Index) Delete(ids ...string) {
	ix.mu.Lock()
	for _, id := range ids {
		delete(ix.entries, id)
	}
	ix.mu.Unlock()
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Search returns the topK entries most similar to the query vector,
// best first. An empty kinds list matches every kind.
func (ix *Index) Search(vec []float32, topK int, kinds ...entity.Kind) []Hit {
	if len(vec) != ix.dim || topK <= 0 {
		return nil
	}
	kindSet := make(map[entity.Kind]bool, len(kinds))
	for _, k := range kinds {
		kindSet[k] = true
	}

	ix.mu.RLock()
	hits := make([]Hit, 0, len(ix.entries))
	for id, entry := range ix.entries {
		if len(kindSet) > 0 && !kindSet[entry.kind] {
			continue
		}
		hits = append(hits, Hit{EntityID: id, Score: Cosine(vec, entry.vec)})
	}
	ix.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].EntityID < hits[j].EntityID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// Cosine computes cosine similarity between two vectors of equal length,
// in [-1, 1]. Mismatched or zero vectors score 0.
func Cosine(a, b []float32) float64 {
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
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
