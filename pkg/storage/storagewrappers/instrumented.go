package storagewrappers

import (
	"context"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/docmodel/docmodel/pkg/storage"
)

var _ storage.Collection = (*InstrumentedCollection)(nil)

type InstrumentedCollection struct {
	storage.Collection
	countReads  atomic.Uint32
	countWrites atomic.Uint32
}

// NewInstrumentedCollection creates a new instance of InstrumentedCollection that wraps the specified collection and counts the calls made to it.
// InstrumentedCollection is thread-safe but should not be shared across unrelated queries.
// It is crucial that the wrapped object does NOT return results from an in-memory cache for this object to return accurate metrics.
func NewInstrumentedCollection(wrapped storage.Collection) *InstrumentedCollection {
	return &InstrumentedCollection{
		Collection: wrapped,
	}
}

type Metrics struct {
	DatastoreReadCount  uint32
	DatastoreWriteCount uint32
}

func (m *InstrumentedCollection) GetMetrics() Metrics {
	return Metrics{
		DatastoreReadCount:  m.countReads.Load(),
		DatastoreWriteCount: m.countWrites.Load(),
	}
}

func (m *InstrumentedCollection) increaseReads() {
	m.countReads.Add(1)
}

func (m *InstrumentedCollection) increaseWrites() {
	m.countWrites.Add(1)
}

// Find see [storage.CollectionReader].Find.
func (m *InstrumentedCollection) Find(ctx context.Context, filter bson.M, opts bson.M) ([]bson.M, error) {
	m.increaseReads()

	return m.Collection.Find(ctx, filter, opts)
}

// FindOne see [storage.CollectionReader].FindOne.
func (m *InstrumentedCollection) FindOne(ctx context.Context, filter bson.M, opts bson.M) (bson.M, error) {
	m.increaseReads()

	return m.Collection.FindOne(ctx, filter, opts)
}

// Aggregate see [storage.CollectionReader].Aggregate.
func (m *InstrumentedCollection) Aggregate(ctx context.Context, pipeline []bson.M, opts bson.M) ([]bson.M, error) {
	m.increaseReads()

	return m.Collection.Aggregate(ctx, pipeline, opts)
}

// CountDocuments see [storage.CollectionReader].CountDocuments.
func (m *InstrumentedCollection) CountDocuments(ctx context.Context, filter bson.M, opts bson.M) (int64, error) {
	m.increaseReads()

	return m.Collection.CountDocuments(ctx, filter, opts)
}

// InsertOne see [storage.CollectionWriter].InsertOne.
func (m *InstrumentedCollection) InsertOne(ctx context.Context, document any) (*storage.InsertOneResult, error) {
	m.increaseWrites()

	return m.Collection.InsertOne(ctx, document)
}

// InsertMany see [storage.CollectionWriter].InsertMany.
func (m *InstrumentedCollection) InsertMany(ctx context.Context, documents []any) (*storage.InsertManyResult, error) {
	m.increaseWrites()

	return m.Collection.InsertMany(ctx, documents)
}

// UpdateMany see [storage.CollectionWriter].UpdateMany.
func (m *InstrumentedCollection) UpdateMany(ctx context.Context, filter bson.M, update bson.M, opts bson.M) (*storage.UpdateResult, error) {
	m.increaseWrites()

	return m.Collection.UpdateMany(ctx, filter, update, opts)
}

// UpdateOne see [storage.CollectionWriter].UpdateOne.
func (m *InstrumentedCollection) UpdateOne(ctx context.Context, filter bson.M, update bson.M, opts bson.M) (*storage.UpdateResult, error) {
	m.increaseWrites()

	return m.Collection.UpdateOne(ctx, filter, update, opts)
}

// DeleteMany see [storage.CollectionWriter].DeleteMany.
func (m *InstrumentedCollection) DeleteMany(ctx context.Context, filter bson.M, opts bson.M) (*storage.DeleteResult, error) {
	m.increaseWrites()

	return m.Collection.DeleteMany(ctx, filter, opts)
}

// DeleteOne see [storage.CollectionWriter].DeleteOne.
func (m *InstrumentedCollection) DeleteOne(ctx context.Context, filter bson.M, opts bson.M) (*storage.DeleteResult, error) {
	m.increaseWrites()

	return m.Collection.DeleteOne(ctx, filter, opts)
}
