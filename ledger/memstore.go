package ledger

import (
	"context"
	"sync"
)

// MemStore is an in-process Store for single-instance deployments and
// tests. Counters do not survive a restart.
type MemStore struct {
	mu       sync.Mutex
	counters map[string]float64
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{counters: make(map[string]float64)}
}

// Add adjusts the counter and returns the new value.
func (s *MemStore) Add(ctx context.Context, key string, delta float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[key] += delta
	return s.counters[key], nil
}

// Get reads the counter; a missing key reads as zero.
func (s *MemStore) Get(ctx context.Context, key string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[key], nil
}

// Ping always succeeds.
func (s *MemStore) Ping(ctx context.Context) error {
	return nil
}
