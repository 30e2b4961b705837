package locks

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Registry hands out exclusive per-key locks with context-bounded
// acquisition. Keys are created lazily and never removed; the expected key
// space (one entry per active account) is small.
type Registry struct {
	sems sync.Map // key -> *semaphore.Weighted
}

// NewRegistry creates an empty lock registry.
func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) sem(key string) *semaphore.Weighted {
	if s, ok := r.sems.Load(key); ok {
		return s.(*semaphore.Weighted)
	}
	s, _ := r.sems.LoadOrStore(key, semaphore.NewWeighted(1))
	return s.(*semaphore.Weighted)
}

// Acquire takes the exclusive lock for key, waiting no longer than the
// context allows. On success the returned function releases the lock and must
// be called exactly once.
func (r *Registry) Acquire(ctx context.Context, key string) (func(), error) {
	s := r.sem(key)
	if err := s.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { s.Release(1) }, nil
}
