// Package docstore provides a generic keyed document store with secondary
// indexes and hybrid ranked retrieval. It knows nothing about memory
// semantics — callers own record meaning, the store owns persistence and
// ranking.
package docstore

import (
	"context"
	"time"
)

// Document is a generic stored record. Key is the collection-specific
// uniqueness key within an owner; collections that append rather than
// upsert leave it empty.
type Document struct {
	ID         string                 `json:"id"`
	Collection string                 `json:"collection"`
	OwnerID    string                 `json:"owner_id"`
	Key        string                 `json:"key,omitempty"`
	Body       map[string]interface{} `json:"body"`
	Text       string                 `json:"text,omitempty"`
	Embedding  []float32              `json:"embedding,omitempty"`
	Revision   int64                  `json:"revision"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
	ExpiresAt  *time.Time             `json:"expires_at,omitempty"`
}

// Filter selects documents. Zero-valued fields are ignored.
type Filter struct {
	Collection string
	OwnerID    string
	Key        string
	IDs        []string
	// Equals matches top-level body fields by equality.
	Equals map[string]interface{}
	// After/Before bound created_at.
	After  *time.Time
	Before *time.Time
	// ExpiresBefore matches documents whose expires_at has passed.
	ExpiresBefore *time.Time
}

// Sort orders Find results by created_at.
type Sort struct {
	CreatedDesc bool
}

// Store is the durable-store contract shared by the Postgres/Qdrant
// implementation and the in-process one.
type Store interface {
	// Insert stores a new document. ID is assigned when empty.
	Insert(ctx context.Context, doc *Document) error

	// Upsert inserts or replaces the document with the same
	// (collection, owner, key). The test-and-set is atomic: two racing
	// upserts for one key never both insert. Returns the stored document.
	Upsert(ctx context.Context, doc *Document) (*Document, error)

	// Update replaces the mutable fields of the document identified by
	// doc.ID, but only if doc.Revision still matches the stored revision.
	// A lost race returns fault.ErrConflict.
	Update(ctx context.Context, doc *Document) error

	// Get returns the document with the given (collection, owner, key),
	// or fault.ErrNotFound.
	Get(ctx context.Context, collection, owner, key string) (*Document, error)

	// Find returns documents matching the filter.
	Find(ctx context.Context, f Filter, sort Sort, limit int) ([]*Document, error)

	// Delete removes matching documents and reports how many.
	Delete(ctx context.Context, f Filter) (int, error)

	// HybridSearch runs lexical and vector retrieval and returns the
	// fused ranking. With a nil query embedding it degrades to
	// lexical-only ranking.
	HybridSearch(ctx context.Context, q SearchQuery) ([]SearchHit, error)
}

// SearchQuery describes one hybrid retrieval.
type SearchQuery struct {
	Collection string
	OwnerID    string
	Text       string
	Embedding  []float32
	// Weights for score fusion; zero values take the defaults.
	VectorWeight  float64
	LexicalWeight float64
	Limit         int
}

// SearchHit is one fused result.
type SearchHit struct {
	Doc   *Document
	Score float64
}

// Default fusion weights: the vector list dominates, lexical match breaks
// it open for vector-less records.
const (
	DefaultVectorWeight  = 0.6
	DefaultLexicalWeight = 0.4
)

func (q *SearchQuery) weights() (float64, float64) {
	v, l := q.VectorWeight, q.LexicalWeight
	if v == 0 && l == 0 {
		return DefaultVectorWeight, DefaultLexicalWeight
	}
	return v, l
}
