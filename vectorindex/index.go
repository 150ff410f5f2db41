package vectorindex

import "context"

// Result is one hit from a vector search: a place id and its cosine
// similarity to the query vector, in [-1,1]; negative values are not
// clamped to 0.
type Result struct {
	PlaceID    string
	Similarity float64
}

// Filter narrows a search to a subset of indexed places, e.g. the same
// bounding set the structured branch already resolved. A nil filter
// means search the whole index.
type Filter struct {
	PlaceIDs []string
}

// Index is the semantic retrieval branch's contract: `search(query_vector,
// k, filter?) -> (place_id, similarity)[]`.
type Index interface {
	Search(ctx context.Context, queryVector []float32, k int, filter *Filter) ([]Result, error)
	// Upsert indexes or reindexes a place's embedding.
	Upsert(ctx context.Context, placeID string, vector []float32) error
}
