package poller

import (
	"context"
	"sync"
)

// DefaultHistorySize bounds the in-memory history.
const DefaultHistorySize = 100

// HistoryRepository stores finished cycle results.
type HistoryRepository interface {
	// Record appends a result.
	Record(ctx context.Context, result *CycleResult) error

	// Recent returns up to limit results, newest first.
	Recent(ctx context.Context, limit int) ([]*CycleResult, error)
}

// InMemoryRepository is a bounded in-memory implementation of HistoryRepository.
// Older results are discarded once capacity is reached.
type InMemoryRepository struct {
	mu       sync.RWMutex
	results  []*CycleResult
	capacity int
}

// NewInMemoryRepository creates a new in-memory history holding at most
// capacity results.
func NewInMemoryRepository(capacity int) *InMemoryRepository {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &InMemoryRepository{capacity: capacity}
}

// Record appends a copy of result.
func (r *InMemoryRepository) Record(_ context.Context, result *CycleResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cpy := *result
	r.results = append(r.results, &cpy)
	if over := len(r.results) - r.capacity; over > 0 {
		r.results = append([]*CycleResult(nil), r.results[over:]...)
	}
	return nil
}

// Recent returns up to limit results, newest first.
func (r *InMemoryRepository) Recent(_ context.Context, limit int) ([]*CycleResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > len(r.results) {
		limit = len(r.results)
	}

	out := make([]*CycleResult, 0, limit)
	for i := len(r.results) - 1; i >= 0 && len(out) < limit; i-- {
		cpy := *r.results[i]
		out = append(out, &cpy)
	}
	return out, nil
}
