// Package model binds a Go type to a collection of a Connection and hands out pending
// queries for it.
package model

import (
	"context"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/docmodel/docmodel/pkg/aggregation"
	"github.com/docmodel/docmodel/pkg/connection"
	"github.com/docmodel/docmodel/pkg/logger"
	"github.com/docmodel/docmodel/pkg/query"
	"github.com/docmodel/docmodel/pkg/storage"
)

// Option configures a Model.
type Option[T any] func(*Model[T])

// WithHydrator replaces the bson round trip NewInstance uses by default.
func WithHydrator[T any](fn func(bson.M) (T, error)) Option[T] {
	return func(m *Model[T]) {
		m.hydrate = fn
	}
}

// WithTimestampField sets the column Latest and Oldest sort on.
func WithTimestampField[T any](field string) Option[T] {
	return func(m *Model[T]) {
		m.timestampField = field
	}
}

// WithLogger sets the logger used for boots and passed on to the queries of the model.
func WithLogger[T any](l logger.Logger) Option[T] {
	return func(m *Model[T]) {
		m.logger = l
	}
}

// Model maps documents of one collection to T.
type Model[T any] struct {
	conn           *connection.Connection
	collection     string
	timestampField string
	hydrate        func(bson.M) (T, error)
	logger         logger.Logger

	booted atomic.Bool
	boots  singleflight.Group
}

var _ connection.Bootable = (*Model[struct{}])(nil)
var _ query.Model[struct{}] = (*Model[struct{}])(nil)

// New returns a model for collection and registers it with conn, so it is booted on
// the next Connect.
func New[T any](conn *connection.Connection, collection string, opts ...Option[T]) *Model[T] {
	m := &Model[T]{
		conn:           conn,
		collection:     collection,
		timestampField: query.DefaultTimestampField,
		hydrate:        decode[T],
		logger:         logger.NewNoopLogger(),
	}

	for _, opt := range opts {
		opt(m)
	}

	conn.Register(m)
	return m
}

func decode[T any](raw bson.M) (T, error) {
	var out T
	data, err := bson.Marshal(raw)
	if err != nil {
		return out, err
	}
	err = bson.Unmarshal(data, &out)
	return out, err
}

// NewInstance hydrates raw into T.
func (m *Model[T]) NewInstance(raw bson.M) (T, error) {
	return m.hydrate(raw)
}

// Collection resolves the collection of the model through its connection.
func (m *Model[T]) Collection(_ context.Context) (storage.Collection, error) {
	return m.conn.Collection(m.collection), nil
}

func (m *Model[T]) CollectionName() string {
	return m.collection
}

func (m *Model[T]) IsBooted() bool {
	return m.booted.Load()
}

// Boot creates the collection of the model when it is missing. Once booted, later
// boots return immediately. Concurrent boots share one execution.
func (m *Model[T]) Boot(ctx context.Context, conn *connection.Connection) error {
	if m.IsBooted() {
		return nil
	}

	_, err, _ := m.boots.Do(m.collection, func() (any, error) {
		if m.IsBooted() {
			return nil, nil
		}
		if err := m.ensureCollection(ctx, conn); err != nil {
			return nil, err
		}
		m.booted.Store(true)
		m.logger.InfoWithContext(ctx, "model booted", zap.String("collection", m.collection))
		return nil, nil
	})
	return err
}

func (m *Model[T]) ensureCollection(ctx context.Context, conn *connection.Connection) error {
	missing, err := conn.IsMissingCollection(ctx, m.collection)
	if err != nil {
		return err
	}
	if !missing {
		return nil
	}
	return conn.CreateCollection(ctx, m.collection)
}

// Query returns an empty pending query, which finds every document unless told otherwise.
func (m *Model[T]) Query() *query.PendingQuery[T] {
	return query.NewPendingQuery[T](m, query.WithLogger(m.logger))
}

func (m *Model[T]) Find(filter, options bson.M) *query.PendingQuery[T] {
	return m.Query().Find(filter, options)
}

func (m *Model[T]) FindOne(filter, options bson.M) *query.PendingQuery[T] {
	return m.Query().FindOne(filter, options)
}

func (m *Model[T]) FindByID(id any, options bson.M) *query.PendingQuery[T] {
	return m.Query().FindByID(id, options)
}

func (m *Model[T]) Where(filter bson.M) *query.PendingQuery[T] {
	return m.Query().Where(filter)
}

func (m *Model[T]) With(relations ...string) *query.PendingQuery[T] {
	return m.Query().With(relations...)
}

func (m *Model[T]) Create(document any) *query.PendingQuery[T] {
	return m.Query().Create(document)
}

func (m *Model[T]) InsertMany(documents ...any) *query.PendingQuery[T] {
	return m.Query().InsertMany(documents...)
}

func (m *Model[T]) Update(values, options bson.M) *query.PendingQuery[T] {
	return m.Query().Update(values, options)
}

func (m *Model[T]) UpdateOne(values, options bson.M) *query.PendingQuery[T] {
	return m.Query().UpdateOne(values, options)
}

func (m *Model[T]) Delete(filter, options bson.M) *query.PendingQuery[T] {
	return m.Query().Delete(filter, options)
}

func (m *Model[T]) DeleteOne(filter, options bson.M) *query.PendingQuery[T] {
	return m.Query().DeleteOne(filter, options)
}

func (m *Model[T]) DeleteByID(id any, options bson.M) *query.PendingQuery[T] {
	return m.Query().DeleteByID(id, options)
}

func (m *Model[T]) Truncate(options bson.M) *query.PendingQuery[T] {
	return m.Query().Truncate(options)
}

func (m *Model[T]) Count(filter, options bson.M) *query.PendingQuery[T] {
	return m.Query().Count(filter, options)
}

func (m *Model[T]) Aggregate(fn func(*aggregation.Builder), options bson.M) *query.PendingQuery[T] {
	return m.Query().Aggregate(fn, options)
}

// Latest sorts newest first on the timestamp field of the model.
func (m *Model[T]) Latest() *query.PendingQuery[T] {
	return m.Query().Latest(m.timestampField)
}

// Oldest sorts oldest first on the timestamp field of the model.
func (m *Model[T]) Oldest() *query.PendingQuery[T] {
	return m.Query().Oldest(m.timestampField)
}
