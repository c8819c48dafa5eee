// Package concurrency contains the goroutine pool commands use to fan calls out over store collections.
package concurrency

import (
	"context"

	"github.com/sourcegraph/conc/pool"
)

// NewStorePool returns a pool for one round of store calls, one task per collection.
// maxConcurrentQueries mirrors the datastore read bound, so zero leaves the pool
// unbounded. Each task respects context cancellation, the first failure cancels the
// others and Wait() only returns that first error.
func NewStorePool(ctx context.Context, maxConcurrentQueries uint32) *pool.ContextPool {
	p := pool.New().
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError()

	if maxConcurrentQueries > 0 {
		p = p.WithMaxGoroutines(int(maxConcurrentQueries))
	}
	return p
}
