package storagewrappers

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/docmodel/docmodel/internal/build"
	"github.com/docmodel/docmodel/pkg/storage"
)

var _ storage.Collection = (*boundedConcurrencyCollection)(nil)

var (
	timeWaitingHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: build.ProjectName,
		Name:      "time_waiting_for_read_queries",
		Help:      "Time (in ms) spent waiting for Find, FindOne, Aggregate and CountDocuments calls to the datastore",
		Buckets:   []float64{1, 10, 25, 50, 100, 1000, 5000}, // milliseconds
	})
)

// Limiter bounds the number of concurrent reads across every collection it wraps.
type Limiter struct {
	slots chan struct{}
}

// NewLimiter returns a Limiter which allows at most n concurrent reads.
func NewLimiter(n uint32) *Limiter {
	return &Limiter{slots: make(chan struct{}, n)}
}

// Wrap returns a wrapper over coll which makes sure that there are, at most, N concurrent
// calls to Find, FindOne, Aggregate and CountDocuments on all collections sharing the Limiter.
// Consumers can then rest assured that one caller will not hoard all the database connections available.
func (l *Limiter) Wrap(coll storage.Collection) storage.Collection {
	return &boundedConcurrencyCollection{Collection: coll, limiter: l}
}

// acquire waits for a slot or for ctx to be done, whichever is first.
func (l *Limiter) acquire(ctx context.Context) error {
	start := time.Now()

	select {
	case l.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	timeWaiting := time.Since(start).Milliseconds()
	timeWaitingHistogram.Observe(float64(timeWaiting))
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.Int64("time_waiting", timeWaiting))
	return nil
}

func (l *Limiter) release() {
	<-l.slots
}

type boundedConcurrencyCollection struct {
	storage.Collection
	limiter *Limiter
}

// Find see [storage.CollectionReader].Find.
func (b *boundedConcurrencyCollection) Find(ctx context.Context, filter bson.M, opts bson.M) ([]bson.M, error) {
	if err := b.limiter.acquire(ctx); err != nil {
		return nil, err
	}
	defer b.limiter.release()

	return b.Collection.Find(ctx, filter, opts)
}

// FindOne see [storage.CollectionReader].FindOne.
func (b *boundedConcurrencyCollection) FindOne(ctx context.Context, filter bson.M, opts bson.M) (bson.M, error) {
	if err := b.limiter.acquire(ctx); err != nil {
		return nil, err
	}
	defer b.limiter.release()

	return b.Collection.FindOne(ctx, filter, opts)
}

// Aggregate see [storage.CollectionReader].Aggregate.
func (b *boundedConcurrencyCollection) Aggregate(ctx context.Context, pipeline []bson.M, opts bson.M) ([]bson.M, error) {
	if err := b.limiter.acquire(ctx); err != nil {
		return nil, err
	}
	defer b.limiter.release()

	return b.Collection.Aggregate(ctx, pipeline, opts)
}

// CountDocuments see [storage.CollectionReader].CountDocuments.
func (b *boundedConcurrencyCollection) CountDocuments(ctx context.Context, filter bson.M, opts bson.M) (int64, error) {
	if err := b.limiter.acquire(ctx); err != nil {
		return 0, err
	}
	defer b.limiter.release()

	return b.Collection.CountDocuments(ctx, filter, opts)
}
