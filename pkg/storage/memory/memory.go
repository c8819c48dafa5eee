package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/docmodel/docmodel/pkg/logger"
	"github.com/docmodel/docmodel/pkg/storage"
	"github.com/docmodel/docmodel/pkg/telemetry"
)

var tracer = otel.Tracer("docmodel/pkg/storage/memory")

// StorageOption defines a function type used for configuring a [MemoryBackend] instance.
type StorageOption func(dataStore *MemoryBackend)

// MemoryBackend provides an ephemeral memory-backed implementation of [storage.Client].
// These instances may be safely shared by multiple go-routines.
type MemoryBackend struct {
	// map: database => collection => documents in insertion order
	databases map[string]map[string][]bson.M // GUARDED_BY(mu).
	connected bool                           // GUARDED_BY(mu).
	mu        sync.RWMutex

	acknowledged bool
	logger       logger.Logger
}

var _ storage.Client = (*MemoryBackend)(nil)

// New creates a new [MemoryBackend] given the options.
func New(opts ...StorageOption) *MemoryBackend {
	ds := &MemoryBackend{
		databases:    make(map[string]map[string][]bson.M),
		acknowledged: true,
		logger:       logger.NewNoopLogger(),
	}

	for _, opt := range opts {
		opt(ds)
	}

	return ds
}

// WithUnacknowledgedWrites returns a [StorageOption] which makes every write result
// report Acknowledged false, as a store running with an unacknowledged write concern does.
// The writes themselves are still applied.
func WithUnacknowledgedWrites() StorageOption {
	return func(ds *MemoryBackend) { ds.acknowledged = false }
}

// WithLogger returns a [StorageOption] that sets the logger collection lifecycle events are written to.
func WithLogger(l logger.Logger) StorageOption {
	return func(ds *MemoryBackend) { ds.logger = l }
}

// Connect see [storage.Client].Connect.
func (s *MemoryBackend) Connect(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return nil
}

// Disconnect see [storage.Client].Disconnect. Data is kept, so a later Connect sees it again.
func (s *MemoryBackend) Disconnect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

// Database see [storage.Client].Database.
func (s *MemoryBackend) Database(name string) storage.Database {
	return &database{backend: s, name: name}
}

// start opens a span for op and fails when the backend is unusable.
func (s *MemoryBackend) start(ctx context.Context, coll, op string) (context.Context, trace.Span, error) {
	ctx, span := tracer.Start(ctx, "memory."+op, trace.WithAttributes(telemetry.QueryAttributes(coll, op)...))
	if err := ctx.Err(); err != nil {
		telemetry.TraceError(span, err)
		return ctx, span, err
	}
	return ctx, span, nil
}

// checkConnected must be called with mu held.
func (s *MemoryBackend) checkConnected(span trace.Span) error {
	if !s.connected {
		telemetry.TraceError(span, storage.ErrClientClosed)
		return storage.ErrClientClosed
	}
	return nil
}

type database struct {
	backend *MemoryBackend
	name    string
}

func (d *database) Name() string {
	return d.name
}

func (d *database) Collection(name string) storage.Collection {
	return &collection{backend: d.backend, db: d.name, name: name}
}

// ListCollectionNames see [storage.Database].ListCollectionNames. The filter is
// evaluated against {name: <collection>}.
func (d *database) ListCollectionNames(ctx context.Context, filter bson.M) ([]string, error) {
	_, span, err := d.backend.start(ctx, "", "listCollections")
	defer span.End()
	if err != nil {
		return nil, err
	}

	d.backend.mu.RLock()
	defer d.backend.mu.RUnlock()
	if err := d.backend.checkConnected(span); err != nil {
		return nil, err
	}

	names := []string{}
	for name := range d.backend.databases[d.name] {
		ok, err := matches(bson.M{"name": name}, normalize(filter).(bson.M))
		if err != nil {
			telemetry.TraceError(span, err)
			return nil, err
		}
		if ok {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

// CreateCollection see [storage.Database].CreateCollection.
func (d *database) CreateCollection(ctx context.Context, name string) error {
	_, span, err := d.backend.start(ctx, name, "create")
	defer span.End()
	if err != nil {
		return err
	}

	d.backend.mu.Lock()
	defer d.backend.mu.Unlock()
	if err := d.backend.checkConnected(span); err != nil {
		return err
	}

	colls := d.backend.collections(d.name)
	if _, ok := colls[name]; ok {
		err := fmt.Errorf("collection %s.%s: %w", d.name, name, storage.ErrCollision)
		telemetry.TraceError(span, err)
		return err
	}
	colls[name] = []bson.M{}

	d.backend.logger.Debug("created collection", zap.String("database", d.name), zap.String("collection", name))
	return nil
}

// collections must be called with mu held for writing.
func (s *MemoryBackend) collections(db string) map[string][]bson.M {
	colls, ok := s.databases[db]
	if !ok {
		colls = make(map[string][]bson.M)
		s.databases[db] = colls
	}
	return colls
}

type collection struct {
	backend *MemoryBackend
	db      string
	name    string
}

var _ storage.Collection = (*collection)(nil)

func (c *collection) Name() string {
	return c.name
}

// snapshot must be called with mu held.
func (c *collection) snapshot() []bson.M {
	return c.backend.databases[c.db][c.name]
}

// filtered must be called with mu held. The returned documents are shared with the store.
func (c *collection) filtered(filter bson.M) ([]bson.M, error) {
	f, _ := normalize(filter).(bson.M)
	var out []bson.M
	for _, d := range c.snapshot() {
		ok, err := matches(d, f)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (c *collection) find(ctx context.Context, op string, filter bson.M, opts bson.M) ([]bson.M, error) {
	_, span, err := c.backend.start(ctx, c.name, op)
	defer span.End()
	if err != nil {
		return nil, err
	}

	options, err := storage.ParseFindOptions(opts)
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}

	c.backend.mu.RLock()
	defer c.backend.mu.RUnlock()
	if err := c.backend.checkConnected(span); err != nil {
		return nil, err
	}

	docs, err := c.filtered(filter)
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}

	if options.Sort != nil {
		keys, ok := sortKeys(normalizeSort(options.Sort))
		if !ok || !sortDocuments(docs, keys) {
			err := storage.InvalidOptionError("sort", options.Sort)
			telemetry.TraceError(span, err)
			return nil, err
		}
	}
	docs = window(docs, options.Skip, options.Limit)

	out := make([]bson.M, 0, len(docs))
	for _, d := range docs {
		p, err := project(d, options.Projection)
		if err != nil {
			telemetry.TraceError(span, err)
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Find see [storage.CollectionReader].Find.
func (c *collection) Find(ctx context.Context, filter bson.M, opts bson.M) ([]bson.M, error) {
	return c.find(ctx, "find", filter, opts)
}

// FindOne see [storage.CollectionReader].FindOne.
func (c *collection) FindOne(ctx context.Context, filter bson.M, opts bson.M) (bson.M, error) {
	one := maps.Clone(opts)
	if one == nil {
		one = bson.M{}
	}
	one["limit"] = int64(1)

	docs, err := c.find(ctx, "findOne", filter, one)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, storage.ErrNotFound
	}
	return docs[0], nil
}

// Aggregate see [storage.CollectionReader].Aggregate.
func (c *collection) Aggregate(ctx context.Context, pipeline []bson.M, opts bson.M) ([]bson.M, error) {
	_, span, err := c.backend.start(ctx, c.name, "aggregate")
	defer span.End()
	if err != nil {
		return nil, err
	}

	if _, err := storage.ParseAggregateOptions(opts); err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}

	c.backend.mu.RLock()
	defer c.backend.mu.RUnlock()
	if err := c.backend.checkConnected(span); err != nil {
		return nil, err
	}

	foreign := func(name string) []bson.M {
		return c.backend.databases[c.db][name]
	}
	docs, err := runPipeline(slices.Clone(c.snapshot()), pipeline, foreign)
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}

	out := make([]bson.M, 0, len(docs))
	for _, d := range docs {
		out = append(out, cloneDocument(d))
	}
	return out, nil
}

// CountDocuments see [storage.CollectionReader].CountDocuments.
func (c *collection) CountDocuments(ctx context.Context, filter bson.M, opts bson.M) (int64, error) {
	_, span, err := c.backend.start(ctx, c.name, "count")
	defer span.End()
	if err != nil {
		return 0, err
	}

	options, err := storage.ParseCountOptions(opts)
	if err != nil {
		telemetry.TraceError(span, err)
		return 0, err
	}

	c.backend.mu.RLock()
	defer c.backend.mu.RUnlock()
	if err := c.backend.checkConnected(span); err != nil {
		return 0, err
	}

	docs, err := c.filtered(filter)
	if err != nil {
		telemetry.TraceError(span, err)
		return 0, err
	}
	return int64(len(window(docs, options.Skip, options.Limit))), nil
}

// prepare converts document for storage, assigning an ObjectID when it has no _id.
func prepare(document any) (bson.M, error) {
	doc, err := toDocument(document)
	if err != nil {
		return nil, err
	}
	if _, ok := doc[storage.IDField]; !ok {
		doc[storage.IDField] = bson.NewObjectID()
	}
	return doc, nil
}

// containsID must be called with mu held.
func containsID(docs []bson.M, id any) bool {
	for _, d := range docs {
		if equal(d[storage.IDField], id) {
			return true
		}
	}
	return false
}

func duplicateKeyError(id any) error {
	return fmt.Errorf("duplicate key _id %v: %w", id, storage.ErrCollision)
}

// InsertOne see [storage.CollectionWriter].InsertOne.
func (c *collection) InsertOne(ctx context.Context, document any) (*storage.InsertOneResult, error) {
	_, span, err := c.backend.start(ctx, c.name, "insert")
	defer span.End()
	if err != nil {
		return nil, err
	}

	doc, err := prepare(document)
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}

	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	if err := c.backend.checkConnected(span); err != nil {
		return nil, err
	}

	colls := c.backend.collections(c.db)
	if containsID(colls[c.name], doc[storage.IDField]) {
		err := duplicateKeyError(doc[storage.IDField])
		telemetry.TraceError(span, err)
		return nil, err
	}
	colls[c.name] = append(colls[c.name], doc)

	return &storage.InsertOneResult{InsertedID: doc[storage.IDField], Acknowledged: c.backend.acknowledged}, nil
}

// InsertMany see [storage.CollectionWriter].InsertMany. Either every document is
// inserted or none is.
func (c *collection) InsertMany(ctx context.Context, documents []any) (*storage.InsertManyResult, error) {
	_, span, err := c.backend.start(ctx, c.name, "insertMany")
	defer span.End()
	if err != nil {
		return nil, err
	}

	docs := make([]bson.M, 0, len(documents))
	for _, document := range documents {
		doc, err := prepare(document)
		if err != nil {
			telemetry.TraceError(span, err)
			return nil, err
		}
		docs = append(docs, doc)
	}

	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	if err := c.backend.checkConnected(span); err != nil {
		return nil, err
	}

	colls := c.backend.collections(c.db)
	existing := colls[c.name]
	ids := make([]any, 0, len(docs))
	for i, doc := range docs {
		id := doc[storage.IDField]
		if containsID(existing, id) || containsID(docs[:i], id) {
			err := duplicateKeyError(id)
			telemetry.TraceError(span, err)
			return nil, err
		}
		ids = append(ids, id)
	}
	colls[c.name] = append(existing, docs...)

	return &storage.InsertManyResult{InsertedIDs: ids, Acknowledged: c.backend.acknowledged}, nil
}

func (c *collection) update(ctx context.Context, op string, filter, update, opts bson.M, many bool) (*storage.UpdateResult, error) {
	_, span, err := c.backend.start(ctx, c.name, op)
	defer span.End()
	if err != nil {
		return nil, err
	}

	options, err := storage.ParseUpdateOptions(opts)
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}

	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	if err := c.backend.checkConnected(span); err != nil {
		return nil, err
	}

	f, _ := normalize(filter).(bson.M)
	colls := c.backend.collections(c.db)
	docs := colls[c.name]
	result := &storage.UpdateResult{Acknowledged: c.backend.acknowledged}

	// Updates are staged on copies so a failing operator leaves the collection untouched.
	staged := slices.Clone(docs)
	for i, d := range docs {
		ok, err := matches(d, f)
		if err != nil {
			telemetry.TraceError(span, err)
			return nil, err
		}
		if !ok {
			continue
		}

		result.MatchedCount++
		updated := cloneDocument(d)
		if err := applyUpdate(updated, update); err != nil {
			telemetry.TraceError(span, err)
			return nil, err
		}
		if !equal(d, updated) {
			result.ModifiedCount++
			staged[i] = updated
		}
		if !many {
			break
		}
	}

	if result.MatchedCount == 0 && options.Upsert != nil && *options.Upsert {
		seed := upsertSeed(f)
		if err := applyUpdate(seed, update); err != nil {
			telemetry.TraceError(span, err)
			return nil, err
		}
		if _, ok := seed[storage.IDField]; !ok {
			seed[storage.IDField] = bson.NewObjectID()
		}
		staged = append(staged, seed)
		result.UpsertedCount = 1
		result.UpsertedID = seed[storage.IDField]
	}

	colls[c.name] = staged
	return result, nil
}

// UpdateMany see [storage.CollectionWriter].UpdateMany.
func (c *collection) UpdateMany(ctx context.Context, filter bson.M, update bson.M, opts bson.M) (*storage.UpdateResult, error) {
	return c.update(ctx, "updateMany", filter, update, opts, true)
}

// UpdateOne see [storage.CollectionWriter].UpdateOne.
func (c *collection) UpdateOne(ctx context.Context, filter bson.M, update bson.M, opts bson.M) (*storage.UpdateResult, error) {
	return c.update(ctx, "updateOne", filter, update, opts, false)
}

func (c *collection) delete(ctx context.Context, op string, filter, opts bson.M, many bool) (*storage.DeleteResult, error) {
	_, span, err := c.backend.start(ctx, c.name, op)
	defer span.End()
	if err != nil {
		return nil, err
	}

	if _, err := storage.ParseDeleteOptions(opts); err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}

	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	if err := c.backend.checkConnected(span); err != nil {
		return nil, err
	}

	f, _ := normalize(filter).(bson.M)
	colls := c.backend.collections(c.db)
	kept := make([]bson.M, 0, len(colls[c.name]))
	result := &storage.DeleteResult{Acknowledged: c.backend.acknowledged}
	for _, d := range colls[c.name] {
		if many || result.DeletedCount == 0 {
			ok, err := matches(d, f)
			if err != nil {
				telemetry.TraceError(span, err)
				return nil, err
			}
			if ok {
				result.DeletedCount++
				continue
			}
		}
		kept = append(kept, d)
	}
	colls[c.name] = kept

	return result, nil
}

// DeleteMany see [storage.CollectionWriter].DeleteMany.
func (c *collection) DeleteMany(ctx context.Context, filter bson.M, opts bson.M) (*storage.DeleteResult, error) {
	return c.delete(ctx, "deleteMany", filter, opts, true)
}

// DeleteOne see [storage.CollectionWriter].DeleteOne.
func (c *collection) DeleteOne(ctx context.Context, filter bson.M, opts bson.M) (*storage.DeleteResult, error) {
	return c.delete(ctx, "deleteOne", filter, opts, false)
}

// normalizeSort keeps an ordered sort specification ordered.
func normalizeSort(spec any) any {
	if d, ok := spec.(bson.D); ok {
		return d
	}
	return normalize(spec)
}

func window(docs []bson.M, skip, limit *int64) []bson.M {
	if skip != nil && *skip > 0 {
		if int(*skip) >= len(docs) {
			return nil
		}
		docs = docs[*skip:]
	}
	if limit != nil && *limit > 0 && int(*limit) < len(docs) {
		docs = docs[:*limit]
	}
	return docs
}

// project applies an inclusion or exclusion projection to a copy of doc.
func project(doc bson.M, projection any) (bson.M, error) {
	spec, _ := normalize(projection).(bson.M)
	if len(spec) == 0 {
		return cloneDocument(doc), nil
	}

	includeID := true
	var include, exclude []string
	for path, v := range spec {
		var on bool
		switch t := v.(type) {
		case bool:
			on = t
		case int, int32, int64, float64:
			on = toFloat(t) != 0
		default:
			return nil, storage.InvalidOptionError("projection", projection)
		}

		switch {
		case path == storage.IDField:
			includeID = on
		case on:
			include = append(include, path)
		default:
			exclude = append(exclude, path)
		}
	}
	if len(include) > 0 && len(exclude) > 0 {
		return nil, storage.InvalidOptionError("projection", projection)
	}

	if len(include) == 0 {
		out := cloneDocument(doc)
		for _, path := range exclude {
			unsetPath(out, path)
		}
		if !includeID {
			delete(out, storage.IDField)
		}
		return out, nil
	}

	out := bson.M{}
	if id, ok := doc[storage.IDField]; ok && includeID {
		out[storage.IDField] = id
	}
	for _, path := range include {
		if v, ok := lookup(doc, path); ok {
			setPath(out, path, normalize(v))
		}
	}
	return out, nil
}
