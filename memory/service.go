package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ariabot/aria-core/core"
	"github.com/ariabot/aria-core/metrics"
	"github.com/ariabot/aria-core/modelcache"
)

// Config tunes retrieval ranking.
type Config struct {
	// DecayLambda is the exponential recency-decay rate per hour.
	// Default 0.01 (half-life of roughly three days).
	DecayLambda float64
}

// DefaultConfig returns reasonable ranking defaults.
func DefaultConfig() Config {
	return Config{DecayLambda: 0.01}
}

// Service is the memory store: it embeds interaction text through the
// model cache, persists records to the vector index and the recent-context
// cache, and serves blended-score retrieval.
type Service struct {
	cache  *modelcache.Cache
	index  Index
	recent RecentCache
	cfg    Config
	log    *zap.SugaredLogger

	mu          sync.Mutex
	owners      map[string]*sync.RWMutex
	lastCreated time.Time
	dims        int
}

// NewService creates a memory service on the given backends.
func NewService(cache *modelcache.Cache, index Index, recent RecentCache, cfg Config, log *zap.SugaredLogger) *Service {
	if cfg.DecayLambda <= 0 {
		cfg.DecayLambda = DefaultConfig().DecayLambda
	}
	return &Service{
		cache:  cache,
		index:  index,
		recent: recent,
		cfg:    cfg,
		log:    log,
		owners: make(map[string]*sync.RWMutex),
	}
}

// embedder acquires the cached embedding model. Load failures surface as
// ModelUnavailable so callers can decide to degrade.
func (s *Service) embedder(ctx context.Context) (Embedder, error) {
	h, err := s.cache.Acquire(ctx, core.ResourceEmbedding)
	if err != nil {
		return nil, err
	}
	emb, ok := h.Resource.(Embedder)
	if !ok {
		return nil, &core.ModelUnavailableError{
			Kind:  core.ResourceEmbedding,
			Cause: fmt.Errorf("cached resource does not implement Embedder"),
		}
	}
	return emb, nil
}

// Store persists one interaction as a new record. Every call creates a new
// record; callers are responsible for not double-submitting. Writes for a
// single owner are applied in submission order.
func (s *Service) Store(ctx context.Context, owner, text string, kind InteractionKind, importance float64) (*Record, error) {
	emb, err := s.embedder(ctx)
	if err != nil {
		return nil, err
	}
	vec, err := emb.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed text: %w", err)
	}
	if err := s.checkDimensions(vec, emb); err != nil {
		return nil, err
	}

	hashed := HashOwner(owner)
	lock := s.ownerLock(hashed)
	lock.Lock()
	defer lock.Unlock()

	rec := newRecord(hashed, text, kind, importance)
	rec.Embedding = vec
	rec.CreatedAt = s.nextTimestamp()

	if err := s.index.Add(ctx, rec); err != nil {
		return nil, &core.DependencyUnreachableError{Dependency: "vector index", Cause: err}
	}

	// The cache is an acceleration layer; a failed push degrades the
	// cheap path but never fails the write.
	if err := s.recent.Push(ctx, hashed, rec); err != nil {
		s.log.Warnw("recent-context cache push failed", "owner", hashed, "error", err)
	}

	return rec, nil
}

// Search returns up to limit records for the owner, most relevant first.
// Relevance blends similarity, recency decay, and importance; ties go to
// the more recent record. An owner with no records yields an empty slice.
func (s *Service) Search(ctx context.Context, owner, query string, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	start := time.Now()

	emb, err := s.embedder(ctx)
	if err != nil {
		return nil, err
	}
	vec, err := emb.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hashed := HashOwner(owner)
	lock := s.ownerLock(hashed)
	lock.RLock()
	defer lock.RUnlock()

	// Overfetch so blended ranking has candidates beyond raw similarity.
	scored, err := s.index.Query(ctx, hashed, vec, limit*2)
	if err != nil {
		return nil, &core.DependencyUnreachableError{Dependency: "vector index", Cause: err}
	}

	ranked := rank(scored, time.Now(), s.cfg.DecayLambda)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	metrics.MemorySearchDuration.Observe(time.Since(start).Seconds())
	return ranked, nil
}

// Recent returns the owner's most recently stored records without any
// embedding computation. This is the cheap short-circuit path for tight
// latency budgets; no semantic ranking is applied.
func (s *Service) Recent(ctx context.Context, owner string, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	recs, err := s.recent.Recent(ctx, HashOwner(owner), limit)
	if err != nil {
		return nil, &core.DependencyUnreachableError{Dependency: "recent cache", Cause: err}
	}
	return recs, nil
}

// EraseAll deletes every record for the owner from both the index and the
// cache. It reports success only once both deletes are confirmed, and it
// excludes concurrent searches for the owner while it runs, so a search
// sees either the full prior set or the empty post-erase set.
func (s *Service) EraseAll(ctx context.Context, owner string) error {
	hashed := HashOwner(owner)
	lock := s.ownerLock(hashed)
	lock.Lock()
	defer lock.Unlock()

	if err := s.index.EraseOwner(ctx, hashed); err != nil {
		return &core.DependencyUnreachableError{Dependency: "vector index", Cause: err}
	}
	if err := s.recent.EraseOwner(ctx, hashed); err != nil {
		return &core.DependencyUnreachableError{Dependency: "recent cache", Cause: err}
	}

	s.log.Infow("erased all memory for owner", "owner", hashed)
	return nil
}

// PruneBefore is the retention sweep: it drops every record older than
// the cutoff from the index. The recent-context cache is left to its TTL.
func (s *Service) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := s.index.PruneBefore(ctx, cutoff)
	if err != nil {
		return 0, &core.DependencyUnreachableError{Dependency: "vector index", Cause: err}
	}
	if n > 0 {
		s.log.Infow("pruned expired memory", "removed", n, "cutoff", cutoff)
	}
	return n, nil
}

// Stats reports reachability and size for health checks.
type Stats struct {
	Records        int  `json:"records"`
	IndexReachable bool `json:"index_reachable"`
	CacheReachable bool `json:"cache_reachable"`
}

// Stats returns current memory statistics.
func (s *Service) Stats(ctx context.Context) Stats {
	st := Stats{
		IndexReachable: s.index.Ping(ctx) == nil,
		CacheReachable: s.recent.Ping(ctx) == nil,
	}
	if n, err := s.index.Count(ctx); err == nil {
		st.Records = n
	}
	return st
}

// checkDimensions rejects vectors that do not match the active embedding
// model's output size. A swapped model with a different dimensionality
// must fail loudly instead of corrupting the index.
func (s *Service) checkDimensions(vec []float32, emb Embedder) error {
	if len(vec) != emb.Dimensions() {
		return fmt.Errorf("embedding dimension mismatch: got %d, embedder reports %d", len(vec), emb.Dimensions())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dims == 0 {
		s.dims = len(vec)
		return nil
	}
	if s.dims != len(vec) {
		return fmt.Errorf("embedding dimension mismatch: index holds %d-dim vectors, got %d", s.dims, len(vec))
	}
	return nil
}

func (s *Service) ownerLock(hashed string) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.owners[hashed]
	if !ok {
		lock = &sync.RWMutex{}
		s.owners[hashed] = lock
	}
	return lock
}

// nextTimestamp returns a strictly increasing creation time so ranking
// tie-breaks and per-owner ordering stay deterministic even when the wall
// clock does not advance between writes.
func (s *Service) nextTimestamp() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if !now.After(s.lastCreated) {
		now = s.lastCreated.Add(time.Microsecond)
	}
	s.lastCreated = now
	return now
}
