package pool

import (
	"context"
	"sync"

	"sendbot/internal/store"
)

// Arbiter serializes job claims across all executors. The store's
// select-then-mark runs as two statements, so the critical section is what
// guarantees at most one claimant wins per job.
type Arbiter struct {
	mu sync.Mutex
	st *store.Store
}

func NewArbiter(st *store.Store) *Arbiter {
	return &Arbiter{st: st}
}

// Claim acquires the next eligible job for the executor, or nil when the
// queue is empty.
func (a *Arbiter) Claim(ctx context.Context, executorID string) (*store.Job, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.st.ClaimNext(ctx, executorID)
}
