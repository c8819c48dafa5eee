// Package query holds the lazily executed query front door and the processor that
// turns its accumulated filter, options and pipeline into exactly one store call.
package query

import (
	"context"
	"errors"
	"maps"
	"slices"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"

	"github.com/docmodel/docmodel/pkg/aggregation"
	"github.com/docmodel/docmodel/pkg/logger"
	"github.com/docmodel/docmodel/pkg/storage"
)

// Model is what the processor needs from a model: a way to hydrate raw documents
// and a way to resolve the backing collection.
type Model[T any] interface {
	NewInstance(raw bson.M) (T, error)
	Collection(ctx context.Context) (storage.Collection, error)
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*processorConfig)

type processorConfig struct {
	logger logger.Logger
}

// WithLogger sets the logger executions are reported to.
func WithLogger(l logger.Logger) ProcessorOption {
	return func(c *processorConfig) {
		c.logger = l
	}
}

// Processor is where filter, options, pipeline, eager loads and the fail policy of one
// query meet. It is not safe for concurrent use and is not meant to be shared.
type Processor[T any] struct {
	model  Model[T]
	logger logger.Logger

	filter     bson.M
	options    bson.M
	pipeline   []aggregation.Stage
	eagerLoads []string
	failPolicy func() error
}

func NewProcessor[T any](m Model[T], opts ...ProcessorOption) *Processor[T] {
	cfg := processorConfig{logger: logger.NewNoopLogger()}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Processor[T]{
		model:    m,
		logger:   cfg.logger,
		filter:   bson.M{},
		options:  bson.M{},
		pipeline: []aggregation.Stage{},
	}
}

// Where merges filter into the accumulated filter. Top level keys already present are
// overwritten, nested documents are not merged.
func (p *Processor[T]) Where(filter bson.M) *Processor[T] {
	maps.Copy(p.filter, filter)
	return p
}

// WithOptions merges options into the accumulated options, with the same overwrite
// semantics as Where.
func (p *Processor[T]) WithOptions(options bson.M) *Processor[T] {
	maps.Copy(p.options, options)
	return p
}

// WithAggregation appends stages to the pipeline.
func (p *Processor[T]) WithAggregation(stages ...aggregation.Stage) *Processor[T] {
	p.pipeline = append(p.pipeline, stages...)
	return p
}

// WithAggregationFrom passes a fresh aggregation builder to fn and appends what it built.
func (p *Processor[T]) WithAggregationFrom(fn func(*aggregation.Builder)) *Processor[T] {
	b := aggregation.New()
	fn(b)
	return p.WithAggregation(b.Pipeline()...)
}

// With requests relations to be eager loaded.
func (p *Processor[T]) With(relations ...string) *Processor[T] {
	p.eagerLoads = append(p.eagerLoads, relations...)
	return p
}

func (p *Processor[T]) ShouldEagerLoad() bool {
	return len(p.eagerLoads) > 0
}

// OrFail makes empty read results return the error handler produces.
func (p *Processor[T]) OrFail(handler func() error) error {
	if handler == nil {
		return ErrNotCallable
	}
	p.failPolicy = handler
	return nil
}

func (p *Processor[T]) Filter() bson.M {
	return maps.Clone(p.filter)
}

func (p *Processor[T]) Options() bson.M {
	return maps.Clone(p.options)
}

func (p *Processor[T]) Pipeline() []aggregation.Stage {
	return slices.Clone(p.pipeline)
}

func (p *Processor[T]) EagerLoads() []string {
	return slices.Clone(p.eagerLoads)
}

func (p *Processor[T]) maybeFail() error {
	if p.failPolicy == nil {
		return nil
	}
	return p.failPolicy()
}

func (p *Processor[T]) collection(ctx context.Context, op string) (storage.Collection, error) {
	coll, err := p.model.Collection(ctx)
	if err != nil {
		return nil, err
	}

	p.logger.DebugWithContext(ctx, "executing query",
		zap.String("operation", op),
		zap.String("collection", coll.Name()),
	)
	return coll, nil
}

func (p *Processor[T]) hydrateAll(raw []bson.M) ([]T, error) {
	out := make([]T, 0, len(raw))
	for _, doc := range raw {
		instance, err := p.model.NewInstance(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, instance)
	}
	return out, nil
}

func (p *Processor[T]) hydrateOne(raw bson.M) (*T, error) {
	instance, err := p.model.NewInstance(raw)
	if err != nil {
		return nil, err
	}
	return &instance, nil
}

// Find returns every matching document. An empty result triggers the fail policy; without
// one, an empty slice is returned.
func (p *Processor[T]) Find(ctx context.Context) ([]T, error) {
	coll, err := p.collection(ctx, "find")
	if err != nil {
		return nil, err
	}

	raw, err := coll.Find(ctx, p.filter, p.options)
	if err != nil {
		return nil, err
	}

	out, err := p.hydrateAll(raw)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		if err := p.maybeFail(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// FindOne returns the first matching document, or nil when there is none and no fail
// policy is set.
//
// When relations were requested with With, the accumulated options and pipeline are
// ignored and a pipeline of one $match on the filter followed by one $unwind per
// relation is run instead. The relation name is used verbatim as the unwind path and no
// $lookup is generated, so the relation must already be an array field of the document.
func (p *Processor[T]) FindOne(ctx context.Context) (*T, error) {
	if p.ShouldEagerLoad() {
		return p.findOneEagerly(ctx)
	}

	coll, err := p.collection(ctx, "findOne")
	if err != nil {
		return nil, err
	}

	raw, err := coll.FindOne(ctx, p.filter, p.options)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, p.maybeFail()
		}
		return nil, err
	}

	return p.hydrateOne(raw)
}

func (p *Processor[T]) findOneEagerly(ctx context.Context) (*T, error) {
	coll, err := p.collection(ctx, "aggregate")
	if err != nil {
		return nil, err
	}

	b := aggregation.New().Match(p.Filter())
	for _, relation := range p.eagerLoads {
		b.Unwind(aggregation.UnwindOptions{Path: relation})
	}

	raw, err := coll.Aggregate(ctx, b.Pipeline(), nil)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, p.maybeFail()
	}

	return p.hydrateOne(raw[0])
}

// FindByID is FindOne; the caller places the id into the filter.
func (p *Processor[T]) FindByID(ctx context.Context) (*T, error) {
	return p.FindOne(ctx)
}

// Create inserts document and returns it hydrated with the id the store assigned.
func (p *Processor[T]) Create(ctx context.Context, document any) (*T, error) {
	return p.InsertOne(ctx, document)
}

func (p *Processor[T]) InsertOne(ctx context.Context, document any) (*T, error) {
	coll, err := p.collection(ctx, "insertOne")
	if err != nil {
		return nil, err
	}

	res, err := coll.InsertOne(ctx, document)
	if err != nil {
		return nil, err
	}
	if !res.Acknowledged {
		return nil, ErrInsertFailed
	}
	if res.InsertedID == nil {
		return nil, ErrMissingIdentifier
	}

	raw, err := toDocument(document)
	if err != nil {
		return nil, err
	}
	raw[storage.IDField] = res.InsertedID

	return p.hydrateOne(raw)
}

// InsertMany inserts documents. Callers that need the inserted instances query for them.
func (p *Processor[T]) InsertMany(ctx context.Context, documents []any) error {
	coll, err := p.collection(ctx, "insertMany")
	if err != nil {
		return err
	}

	res, err := coll.InsertMany(ctx, documents)
	if err != nil {
		return err
	}
	if !res.Acknowledged {
		return ErrInsertManyFailed
	}
	return nil
}

// Update applies the update document to every document matching the filter.
func (p *Processor[T]) Update(ctx context.Context, values bson.M) (*storage.UpdateResult, error) {
	coll, err := p.collection(ctx, "updateMany")
	if err != nil {
		return nil, err
	}

	res, err := coll.UpdateMany(ctx, p.filter, values, p.options)
	if err != nil {
		return nil, err
	}
	if !res.Acknowledged {
		return nil, ErrUpdateFailed
	}
	return res, nil
}

// UpdateOne applies the update document to the first document matching the filter.
func (p *Processor[T]) UpdateOne(ctx context.Context, values bson.M) (*storage.UpdateResult, error) {
	coll, err := p.collection(ctx, "updateOne")
	if err != nil {
		return nil, err
	}

	res, err := coll.UpdateOne(ctx, p.filter, values, p.options)
	if err != nil {
		return nil, err
	}
	if !res.Acknowledged {
		return nil, ErrUpdateOneFailed
	}
	return res, nil
}

// Delete removes every document matching the filter.
func (p *Processor[T]) Delete(ctx context.Context) (*storage.DeleteResult, error) {
	coll, err := p.collection(ctx, "deleteMany")
	if err != nil {
		return nil, err
	}

	res, err := coll.DeleteMany(ctx, p.filter, p.options)
	if err != nil {
		return nil, err
	}
	if !res.Acknowledged {
		return nil, ErrDeleteFailed
	}
	return res, nil
}

// DeleteOne removes the first document matching the filter. The store's result is
// returned as is, acknowledged or not.
func (p *Processor[T]) DeleteOne(ctx context.Context) (*storage.DeleteResult, error) {
	coll, err := p.collection(ctx, "deleteOne")
	if err != nil {
		return nil, err
	}

	return coll.DeleteOne(ctx, p.filter, p.options)
}

// DeleteByID is DeleteOne; the caller places the id into the filter.
func (p *Processor[T]) DeleteByID(ctx context.Context) (*storage.DeleteResult, error) {
	return p.DeleteOne(ctx)
}

// Count returns the number of documents matching the filter. The fail policy does not apply.
func (p *Processor[T]) Count(ctx context.Context) (int64, error) {
	coll, err := p.collection(ctx, "count")
	if err != nil {
		return 0, err
	}

	return coll.CountDocuments(ctx, p.filter, p.options)
}

// Aggregate runs the accumulated pipeline as is. The filter is not applied. An empty
// result triggers the fail policy.
func (p *Processor[T]) Aggregate(ctx context.Context) ([]T, error) {
	coll, err := p.collection(ctx, "aggregate")
	if err != nil {
		return nil, err
	}

	raw, err := coll.Aggregate(ctx, p.pipeline, p.options)
	if err != nil {
		return nil, err
	}

	out, err := p.hydrateAll(raw)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		if err := p.maybeFail(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// toDocument converts an arbitrary document value to a fresh bson.M.
func toDocument(document any) (bson.M, error) {
	if m, ok := document.(bson.M); ok {
		if m == nil {
			return bson.M{}, nil
		}
		return maps.Clone(m), nil
	}

	data, err := bson.Marshal(document)
	if err != nil {
		return nil, err
	}

	var out bson.M
	if err := bson.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
