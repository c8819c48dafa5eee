package mocks

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/docmodel/docmodel/pkg/storage"
)

// slowCollection is a proxy to the actual collection except the reads are delayed by readDelay.
// This allows simulating queries that outlive their context or saturate a concurrency limit.
type slowCollection struct {
	readDelay time.Duration
	storage.Collection
}

// NewMockSlowCollection returns a wrapper of a collection that adds artificial delays into its reads.
// The delay is abandoned as soon as ctx is done.
func NewMockSlowCollection(coll storage.Collection, readDelay time.Duration) storage.Collection {
	return &slowCollection{
		readDelay:  readDelay,
		Collection: coll,
	}
}

func (m *slowCollection) wait(ctx context.Context) error {
	select {
	case <-time.After(m.readDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *slowCollection) Find(ctx context.Context, filter bson.M, opts bson.M) ([]bson.M, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	return m.Collection.Find(ctx, filter, opts)
}

func (m *slowCollection) FindOne(ctx context.Context, filter bson.M, opts bson.M) (bson.M, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	return m.Collection.FindOne(ctx, filter, opts)
}

func (m *slowCollection) Aggregate(ctx context.Context, pipeline []bson.M, opts bson.M) ([]bson.M, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	return m.Collection.Aggregate(ctx, pipeline, opts)
}

func (m *slowCollection) CountDocuments(ctx context.Context, filter bson.M, opts bson.M) (int64, error) {
	if err := m.wait(ctx); err != nil {
		return 0, err
	}
	return m.Collection.CountDocuments(ctx, filter, opts)
}
