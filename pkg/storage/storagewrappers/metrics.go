package storagewrappers

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/docmodel/docmodel/internal/build"
	"github.com/docmodel/docmodel/pkg/storage"
)

var _ storage.Collection = (*metricsCollection)(nil)

var (
	queryDurationHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: build.ProjectName,
		Name:      "datastore_query_duration_ms",
		Help:      "The duration (in ms) of a call to the datastore labeled by collection, operation and whether it failed",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 200, 500, 1000, 5000},
	}, []string{"collection", "operation", "failed"})
)

type metricsCollection struct {
	storage.Collection
}

// NewMetricsCollection returns a wrapper over coll which reports the duration of every call to Prometheus.
func NewMetricsCollection(coll storage.Collection) storage.Collection {
	return &metricsCollection{Collection: coll}
}

func (m *metricsCollection) observe(operation string, start time.Time, err error) {
	failed := "false"
	if err != nil {
		failed = "true"
	}
	queryDurationHistogram.
		WithLabelValues(m.Name(), operation, failed).
		Observe(float64(time.Since(start).Milliseconds()))
}

func (m *metricsCollection) Find(ctx context.Context, filter bson.M, opts bson.M) (docs []bson.M, err error) {
	defer func(start time.Time) { m.observe("find", start, err) }(time.Now())
	return m.Collection.Find(ctx, filter, opts)
}

func (m *metricsCollection) FindOne(ctx context.Context, filter bson.M, opts bson.M) (doc bson.M, err error) {
	defer func(start time.Time) { m.observe("findOne", start, err) }(time.Now())
	return m.Collection.FindOne(ctx, filter, opts)
}

func (m *metricsCollection) Aggregate(ctx context.Context, pipeline []bson.M, opts bson.M) (docs []bson.M, err error) {
	defer func(start time.Time) { m.observe("aggregate", start, err) }(time.Now())
	return m.Collection.Aggregate(ctx, pipeline, opts)
}

func (m *metricsCollection) CountDocuments(ctx context.Context, filter bson.M, opts bson.M) (n int64, err error) {
	defer func(start time.Time) { m.observe("count", start, err) }(time.Now())
	return m.Collection.CountDocuments(ctx, filter, opts)
}

func (m *metricsCollection) InsertOne(ctx context.Context, document any) (res *storage.InsertOneResult, err error) {
	defer func(start time.Time) { m.observe("insertOne", start, err) }(time.Now())
	return m.Collection.InsertOne(ctx, document)
}

func (m *metricsCollection) InsertMany(ctx context.Context, documents []any) (res *storage.InsertManyResult, err error) {
	defer func(start time.Time) { m.observe("insertMany", start, err) }(time.Now())
	return m.Collection.InsertMany(ctx, documents)
}

func (m *metricsCollection) UpdateMany(ctx context.Context, filter bson.M, update bson.M, opts bson.M) (res *storage.UpdateResult, err error) {
	defer func(start time.Time) { m.observe("updateMany", start, err) }(time.Now())
	return m.Collection.UpdateMany(ctx, filter, update, opts)
}

func (m *metricsCollection) UpdateOne(ctx context.Context, filter bson.M, update bson.M, opts bson.M) (res *storage.UpdateResult, err error) {
	defer func(start time.Time) { m.observe("updateOne", start, err) }(time.Now())
	return m.Collection.UpdateOne(ctx, filter, update, opts)
}

func (m *metricsCollection) DeleteMany(ctx context.Context, filter bson.M, opts bson.M) (res *storage.DeleteResult, err error) {
	defer func(start time.Time) { m.observe("deleteMany", start, err) }(time.Now())
	return m.Collection.DeleteMany(ctx, filter, opts)
}

func (m *metricsCollection) DeleteOne(ctx context.Context, filter bson.M, opts bson.M) (res *storage.DeleteResult, err error) {
	defer func(start time.Time) { m.observe("deleteOne", start, err) }(time.Now())
	return m.Collection.DeleteOne(ctx, filter, opts)
}
