// Package memory turns interaction text into retrievable semantic memory,
// scoped per owner.
//
// Architecture:
//   - Index: vector storage backend (embedded chromem for local use)
//   - RecentCache: fast recency list for the cheap short-circuit path
//   - Embedder: text-to-vector conversion, served through the model cache
//   - Service: orchestrates storing, blended-score retrieval, and erasure
//
// Owners are opaque identifiers; they are hashed before reaching any
// backend so raw user identifiers never land in the index or cache.
package memory

import (
	"context"
	"time"
)

// Index is the vector storage backend. Implementations must scope every
// operation to the given (already hashed) owner.
type Index interface {
	// Add saves a record with its embedding.
	Add(ctx context.Context, rec *Record) error

	// Query retrieves up to limit nearest neighbors for the owner,
	// highest similarity first. An owner with no records yields an empty
	// slice, not an error.
	Query(ctx context.Context, owner string, embedding []float32, limit int) ([]Scored, error)

	// EraseOwner removes every record belonging to the owner.
	EraseOwner(ctx context.Context, owner string) error

	// PruneBefore removes records created before the cutoff, across all
	// owners, and reports how many were removed.
	PruneBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Count returns the total number of stored records.
	Count(ctx context.Context) (int, error)

	// Ping reports whether the index is reachable.
	Ping(ctx context.Context) error
}

// Scored pairs a retrieved record with its raw cosine similarity.
type Scored struct {
	Record     Record
	Similarity float64
}

// RecentCache is the fast key/value side of the store: a bounded,
// newest-first list of an owner's latest records.
type RecentCache interface {
	Push(ctx context.Context, owner string, rec *Record) error
	Recent(ctx context.Context, owner string, limit int) ([]Record, error)
	EraseOwner(ctx context.Context, owner string) error
	Ping(ctx context.Context) error
}

// Embedder converts text to vector embeddings. The production embedder is
// a model-cache resource; the handle's Resource implements this interface.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}
