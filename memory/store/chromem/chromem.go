// Package chromem implements the memory index on chromem-go, a pure Go
// embedded vector database. No external service is required; everything
// lives in process memory.
package chromem

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/ariabot/aria-core/memory"
)

// Index stores records in per-owner collections so one owner's vectors
// never appear in another owner's queries.
type Index struct {
	db          *chromem.DB
	log         *zap.SugaredLogger
	mu          sync.RWMutex
	collections map[string]*chromem.Collection
	// createdAt mirrors document timestamps per owner. chromem metadata
	// filters are exact-match only, so range pruning needs its own view.
	createdAt map[string]map[string]time.Time
}

// New creates an empty in-process index.
func New(log *zap.SugaredLogger) *Index {
	return &Index{
		db:          chromem.NewDB(),
		log:         log,
		collections: make(map[string]*chromem.Collection),
		createdAt:   make(map[string]map[string]time.Time),
	}
}

func collectionName(owner string) string {
	return "owner_" + owner
}

func (ix *Index) collection(owner string) (*chromem.Collection, error) {
	ix.mu.RLock()
	col, ok := ix.collections[owner]
	ix.mu.RUnlock()
	if ok {
		return col, nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if col, ok := ix.collections[owner]; ok {
		return col, nil
	}

	col, err := ix.db.CreateCollection(collectionName(owner), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	ix.collections[owner] = col
	return col, nil
}

// Add saves a record with its precomputed embedding.
func (ix *Index) Add(ctx context.Context, rec *memory.Record) error {
	col, err := ix.collection(rec.Owner)
	if err != nil {
		return err
	}

	doc := chromem.Document{
		ID:        rec.ID,
		Content:   rec.Text,
		Embedding: rec.Embedding,
		Metadata: map[string]string{
			"kind":       string(rec.Kind),
			"importance": strconv.FormatFloat(rec.Importance, 'f', -1, 64),
			"created_at": rec.CreatedAt.Format(time.RFC3339Nano),
		},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}

	ix.mu.Lock()
	if ix.createdAt[rec.Owner] == nil {
		ix.createdAt[rec.Owner] = make(map[string]time.Time)
	}
	ix.createdAt[rec.Owner][rec.ID] = rec.CreatedAt
	ix.mu.Unlock()
	return nil
}

// Query retrieves up to limit nearest neighbors for the owner, highest
// cosine similarity first. An empty collection yields an empty result.
func (ix *Index) Query(ctx context.Context, owner string, embedding []float32, limit int) ([]memory.Scored, error) {
	ix.mu.RLock()
	col, ok := ix.collections[owner]
	ix.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	// chromem rejects nResults larger than the collection, so walk the
	// limit down until the query fits.
	var results []chromem.Result
	for n := limit; n >= 1; n-- {
		var err error
		results, err = col.QueryEmbedding(ctx, embedding, n, nil, nil)
		if err == nil {
			break
		}
		if isTooFewDocsError(err) {
			if n == 1 {
				return nil, nil
			}
			continue
		}
		return nil, fmt.Errorf("query embedding: %w", err)
	}

	scored := make([]memory.Scored, 0, len(results))
	for _, res := range results {
		rec, err := recordFromResult(owner, res)
		if err != nil {
			ix.log.Warnw("skipping undecodable index entry", "id", res.ID, "error", err)
			continue
		}
		scored = append(scored, memory.Scored{
			Record:     rec,
			Similarity: float64(res.Similarity),
		})
	}
	return scored, nil
}

// EraseOwner drops the owner's entire collection.
func (ix *Index) EraseOwner(ctx context.Context, owner string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, ok := ix.collections[owner]; !ok {
		return nil
	}
	if err := ix.db.DeleteCollection(collectionName(owner)); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	delete(ix.collections, owner)
	delete(ix.createdAt, owner)
	return nil
}

// PruneBefore removes records created before the cutoff across every
// owner and reports how many were removed.
func (ix *Index) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	removed := 0
	for owner, stamps := range ix.createdAt {
		var ids []string
		for id, at := range stamps {
			if at.Before(cutoff) {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			continue
		}
		col := ix.collections[owner]
		if col == nil {
			continue
		}
		if err := col.Delete(ctx, nil, nil, ids...); err != nil {
			return removed, fmt.Errorf("delete documents: %w", err)
		}
		for _, id := range ids {
			delete(stamps, id)
		}
		removed += len(ids)
	}
	return removed, nil
}

// Count returns the total number of records across all owners.
func (ix *Index) Count(ctx context.Context) (int, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	total := 0
	for _, col := range ix.collections {
		total += col.Count()
	}
	return total, nil
}

// Ping always succeeds; the index is in process.
func (ix *Index) Ping(ctx context.Context) error {
	return nil
}

func recordFromResult(owner string, res chromem.Result) (memory.Record, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, res.Metadata["created_at"])
	if err != nil {
		return memory.Record{}, fmt.Errorf("parse created_at: %w", err)
	}
	importance, err := strconv.ParseFloat(res.Metadata["importance"], 64)
	if err != nil {
		return memory.Record{}, fmt.Errorf("parse importance: %w", err)
	}
	return memory.Record{
		ID:         res.ID,
		Owner:      owner,
		Text:       res.Content,
		Kind:       memory.InteractionKind(res.Metadata["kind"]),
		Importance: importance,
		Embedding:  res.Embedding,
		CreatedAt:  createdAt,
	}, nil
}

func isTooFewDocsError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}
