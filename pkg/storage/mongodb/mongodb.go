// Package mongodb implements the storage contract on top of the MongoDB Go driver.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/docmodel/docmodel/pkg/logger"
	"github.com/docmodel/docmodel/pkg/storage"
	"github.com/docmodel/docmodel/pkg/telemetry"
)

var tracer = otel.Tracer("docmodel/pkg/storage/mongodb")

// namespaceExistsCode is the server error code for creating a collection that exists.
const namespaceExistsCode = 48

// StorageOption defines a function type used for configuring a [Store] instance.
type StorageOption func(*Store)

// WithLogger sets the logger connection events are written to.
func WithLogger(l logger.Logger) StorageOption {
	return func(s *Store) { s.logger = l }
}

// WithClientOptions applies extra driver options on top of the URI.
func WithClientOptions(fn func(*options.ClientOptions)) StorageOption {
	return func(s *Store) { s.configure = append(s.configure, fn) }
}

// Store is a [storage.Client] backed by a MongoDB deployment.
type Store struct {
	uri       string
	configure []func(*options.ClientOptions)
	logger    logger.Logger

	mu     sync.RWMutex
	client *mongo.Client // GUARDED_BY(mu).
}

var _ storage.Client = (*Store)(nil)

// New returns a Store for uri. No connection is made until Connect.
func New(uri string, opts ...StorageOption) *Store {
	s := &Store{
		uri:    uri,
		logger: logger.NewNoopLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Connect see [storage.Client].Connect. The deployment is pinged so an unreachable
// server fails here rather than on the first query.
func (s *Store) Connect(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "mongodb.Connect")
	defer span.End()

	clientOpts := options.Client().ApplyURI(s.uri)
	for _, fn := range s.configure {
		fn(clientOpts)
	}

	client, err := mongo.Connect(clientOpts)
	if err != nil {
		telemetry.TraceError(span, err)
		return err
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		telemetry.TraceError(span, err)
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return err
	}

	s.mu.Lock()
	previous := s.client
	s.client = client
	s.mu.Unlock()

	if previous != nil {
		if err := previous.Disconnect(ctx); err != nil {
			s.logger.WarnWithContext(ctx, "failed to close replaced client", zap.Error(err))
		}
	}

	s.logger.DebugWithContext(ctx, "mongodb client connected")
	return nil
}

// Disconnect see [storage.Client].Disconnect. Disconnecting a store which is not
// connected is a no-op.
func (s *Store) Disconnect(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "mongodb.Disconnect")
	defer span.End()

	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()

	if client == nil {
		return nil
	}
	if err := client.Disconnect(ctx); err != nil {
		telemetry.TraceError(span, err)
		return err
	}
	return nil
}

// Database see [storage.Client].Database.
func (s *Store) Database(name string) storage.Database {
	return &database{store: s, name: name}
}

func (s *Store) database(name string) (*mongo.Database, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.client == nil {
		return nil, storage.ErrClientClosed
	}
	return s.client.Database(name), nil
}

func start(ctx context.Context, coll, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "mongodb."+op, trace.WithAttributes(telemetry.QueryAttributes(coll, op)...))
}

type database struct {
	store *Store
	name  string
}

func (d *database) Name() string {
	return d.name
}

func (d *database) Collection(name string) storage.Collection {
	return &collection{db: d, name: name}
}

// ListCollectionNames see [storage.Database].ListCollectionNames.
func (d *database) ListCollectionNames(ctx context.Context, filter bson.M) ([]string, error) {
	ctx, span := start(ctx, "", "listCollections")
	defer span.End()

	db, err := d.store.database(d.name)
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}

	names, err := db.ListCollectionNames(ctx, orEmpty(filter))
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}
	return names, nil
}

// CreateCollection see [storage.Database].CreateCollection.
func (d *database) CreateCollection(ctx context.Context, name string) error {
	ctx, span := start(ctx, name, "create")
	defer span.End()

	db, err := d.store.database(d.name)
	if err != nil {
		telemetry.TraceError(span, err)
		return err
	}

	if err := db.CreateCollection(ctx, name); err != nil {
		err = translateError(err)
		telemetry.TraceError(span, err)
		return err
	}
	return nil
}

type collection struct {
	db   *database
	name string
}

var _ storage.Collection = (*collection)(nil)

func (c *collection) Name() string {
	return c.name
}

func (c *collection) handle() (*mongo.Collection, error) {
	db, err := c.db.store.database(c.db.name)
	if err != nil {
		return nil, err
	}
	return db.Collection(c.name), nil
}

// Find see [storage.CollectionReader].Find.
func (c *collection) Find(ctx context.Context, filter bson.M, opts bson.M) ([]bson.M, error) {
	ctx, span := start(ctx, c.name, "find")
	defer span.End()

	parsed, err := storage.ParseFindOptions(opts)
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}
	coll, err := c.handle()
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}

	cursor, err := coll.Find(ctx, orEmpty(filter), findOptions(parsed))
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}
	defer cursor.Close(ctx)

	results := []bson.M{}
	if err := cursor.All(ctx, &results); err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}
	return results, nil
}

// FindOne see [storage.CollectionReader].FindOne.
func (c *collection) FindOne(ctx context.Context, filter bson.M, opts bson.M) (bson.M, error) {
	ctx, span := start(ctx, c.name, "findOne")
	defer span.End()

	parsed, err := storage.ParseFindOptions(opts)
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}
	coll, err := c.handle()
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}

	var result bson.M
	if err := coll.FindOne(ctx, orEmpty(filter), findOneOptions(parsed)).Decode(&result); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, storage.ErrNotFound
		}
		telemetry.TraceError(span, err)
		return nil, err
	}
	return result, nil
}

// Aggregate see [storage.CollectionReader].Aggregate.
func (c *collection) Aggregate(ctx context.Context, pipeline []bson.M, opts bson.M) ([]bson.M, error) {
	ctx, span := start(ctx, c.name, "aggregate")
	defer span.End()

	parsed, err := storage.ParseAggregateOptions(opts)
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}
	coll, err := c.handle()
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}

	stages := make(bson.A, 0, len(pipeline))
	for _, stage := range pipeline {
		stages = append(stages, stage)
	}

	cursor, err := coll.Aggregate(ctx, stages, aggregateOptions(parsed))
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}
	defer cursor.Close(ctx)

	results := []bson.M{}
	if err := cursor.All(ctx, &results); err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}
	return results, nil
}

// CountDocuments see [storage.CollectionReader].CountDocuments.
func (c *collection) CountDocuments(ctx context.Context, filter bson.M, opts bson.M) (int64, error) {
	ctx, span := start(ctx, c.name, "count")
	defer span.End()

	parsed, err := storage.ParseCountOptions(opts)
	if err != nil {
		telemetry.TraceError(span, err)
		return 0, err
	}
	coll, err := c.handle()
	if err != nil {
		telemetry.TraceError(span, err)
		return 0, err
	}

	n, err := coll.CountDocuments(ctx, orEmpty(filter), countOptions(parsed))
	if err != nil {
		telemetry.TraceError(span, err)
		return 0, err
	}
	return n, nil
}

// InsertOne see [storage.CollectionWriter].InsertOne.
func (c *collection) InsertOne(ctx context.Context, document any) (*storage.InsertOneResult, error) {
	ctx, span := start(ctx, c.name, "insertOne")
	defer span.End()

	coll, err := c.handle()
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}

	res, err := coll.InsertOne(ctx, document)
	if err != nil {
		err = translateError(err)
		telemetry.TraceError(span, err)
		return nil, err
	}
	return &storage.InsertOneResult{InsertedID: res.InsertedID, Acknowledged: res.Acknowledged}, nil
}

// InsertMany see [storage.CollectionWriter].InsertMany.
func (c *collection) InsertMany(ctx context.Context, documents []any) (*storage.InsertManyResult, error) {
	ctx, span := start(ctx, c.name, "insertMany")
	defer span.End()

	coll, err := c.handle()
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}

	res, err := coll.InsertMany(ctx, documents)
	if err != nil {
		err = translateError(err)
		telemetry.TraceError(span, err)
		return nil, err
	}
	return &storage.InsertManyResult{InsertedIDs: res.InsertedIDs, Acknowledged: res.Acknowledged}, nil
}

func convertUpdateResult(res *mongo.UpdateResult) *storage.UpdateResult {
	return &storage.UpdateResult{
		MatchedCount:  res.MatchedCount,
		ModifiedCount: res.ModifiedCount,
		UpsertedCount: res.UpsertedCount,
		UpsertedID:    res.UpsertedID,
		Acknowledged:  res.Acknowledged,
	}
}

// UpdateMany see [storage.CollectionWriter].UpdateMany.
func (c *collection) UpdateMany(ctx context.Context, filter bson.M, update bson.M, opts bson.M) (*storage.UpdateResult, error) {
	ctx, span := start(ctx, c.name, "updateMany")
	defer span.End()

	parsed, err := storage.ParseUpdateOptions(opts)
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}
	coll, err := c.handle()
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}

	builder := options.UpdateMany()
	if parsed.Upsert != nil {
		builder.SetUpsert(*parsed.Upsert)
	}
	if parsed.Hint != nil {
		builder.SetHint(parsed.Hint)
	}

	res, err := coll.UpdateMany(ctx, orEmpty(filter), update, builder)
	if err != nil {
		err = translateError(err)
		telemetry.TraceError(span, err)
		return nil, err
	}
	return convertUpdateResult(res), nil
}

// UpdateOne see [storage.CollectionWriter].UpdateOne.
func (c *collection) UpdateOne(ctx context.Context, filter bson.M, update bson.M, opts bson.M) (*storage.UpdateResult, error) {
	ctx, span := start(ctx, c.name, "updateOne")
	defer span.End()

	parsed, err := storage.ParseUpdateOptions(opts)
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}
	coll, err := c.handle()
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}

	builder := options.UpdateOne()
	if parsed.Upsert != nil {
		builder.SetUpsert(*parsed.Upsert)
	}
	if parsed.Hint != nil {
		builder.SetHint(parsed.Hint)
	}

	res, err := coll.UpdateOne(ctx, orEmpty(filter), update, builder)
	if err != nil {
		err = translateError(err)
		telemetry.TraceError(span, err)
		return nil, err
	}
	return convertUpdateResult(res), nil
}

// DeleteMany see [storage.CollectionWriter].DeleteMany.
func (c *collection) DeleteMany(ctx context.Context, filter bson.M, opts bson.M) (*storage.DeleteResult, error) {
	ctx, span := start(ctx, c.name, "deleteMany")
	defer span.End()

	parsed, err := storage.ParseDeleteOptions(opts)
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}
	coll, err := c.handle()
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}

	builder := options.DeleteMany()
	if parsed.Hint != nil {
		builder.SetHint(parsed.Hint)
	}

	res, err := coll.DeleteMany(ctx, orEmpty(filter), builder)
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}
	return &storage.DeleteResult{DeletedCount: res.DeletedCount, Acknowledged: res.Acknowledged}, nil
}

// DeleteOne see [storage.CollectionWriter].DeleteOne.
func (c *collection) DeleteOne(ctx context.Context, filter bson.M, opts bson.M) (*storage.DeleteResult, error) {
	ctx, span := start(ctx, c.name, "deleteOne")
	defer span.End()

	parsed, err := storage.ParseDeleteOptions(opts)
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}
	coll, err := c.handle()
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}

	builder := options.DeleteOne()
	if parsed.Hint != nil {
		builder.SetHint(parsed.Hint)
	}

	res, err := coll.DeleteOne(ctx, orEmpty(filter), builder)
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}
	return &storage.DeleteResult{DeletedCount: res.DeletedCount, Acknowledged: res.Acknowledged}, nil
}

func findOptions(parsed storage.FindOptions) *options.FindOptionsBuilder {
	builder := options.Find()
	if parsed.Projection != nil {
		builder.SetProjection(parsed.Projection)
	}
	if parsed.Sort != nil {
		builder.SetSort(parsed.Sort)
	}
	if parsed.Limit != nil {
		builder.SetLimit(*parsed.Limit)
	}
	if parsed.Skip != nil {
		builder.SetSkip(*parsed.Skip)
	}
	if parsed.Hint != nil {
		builder.SetHint(parsed.Hint)
	}
	return builder
}

// findOneOptions is findOptions without a limit, which FindOne always sets to one.
func findOneOptions(parsed storage.FindOptions) *options.FindOneOptionsBuilder {
	builder := options.FindOne()
	if parsed.Projection != nil {
		builder.SetProjection(parsed.Projection)
	}
	if parsed.Sort != nil {
		builder.SetSort(parsed.Sort)
	}
	if parsed.Skip != nil {
		builder.SetSkip(*parsed.Skip)
	}
	if parsed.Hint != nil {
		builder.SetHint(parsed.Hint)
	}
	return builder
}

func aggregateOptions(parsed storage.AggregateOptions) *options.AggregateOptionsBuilder {
	builder := options.Aggregate()
	if parsed.AllowDiskUse != nil {
		builder.SetAllowDiskUse(*parsed.AllowDiskUse)
	}
	if parsed.BatchSize != nil {
		builder.SetBatchSize(*parsed.BatchSize)
	}
	if parsed.Hint != nil {
		builder.SetHint(parsed.Hint)
	}
	return builder
}

func countOptions(parsed storage.CountOptions) *options.CountOptionsBuilder {
	builder := options.Count()
	if parsed.Limit != nil {
		builder.SetLimit(*parsed.Limit)
	}
	if parsed.Skip != nil {
		builder.SetSkip(*parsed.Skip)
	}
	if parsed.Hint != nil {
		builder.SetHint(parsed.Hint)
	}
	return builder
}

func orEmpty(filter bson.M) bson.M {
	if filter == nil {
		return bson.M{}
	}
	return filter
}

// translateError maps the server errors the storage contract names to its sentinels.
func translateError(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %w", storage.ErrCollision, err)
	}

	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && cmdErr.Code == namespaceExistsCode {
		return fmt.Errorf("%w: %w", storage.ErrCollision, err)
	}
	return err
}
