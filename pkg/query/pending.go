package query

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/docmodel/docmodel/pkg/aggregation"
	"github.com/docmodel/docmodel/pkg/storage"
)

// DefaultTimestampField is the column Latest and Oldest sort on when none is given.
const DefaultTimestampField = "createdAt"

// Operation is the terminal operation a PendingQuery runs when it is executed.
type Operation int

const (
	OpFind Operation = iota
	OpFindOne
	OpFindByID
	OpCreate
	OpInsertMany
	OpUpdate
	OpUpdateOne
	OpDelete
	OpDeleteOne
	OpDeleteByID
	OpCount
	OpAggregate
)

var operationNames = map[Operation]string{
	OpFind:       "find",
	OpFindOne:    "findOne",
	OpFindByID:   "findById",
	OpCreate:     "create",
	OpInsertMany: "insertMany",
	OpUpdate:     "update",
	OpUpdateOne:  "updateOne",
	OpDelete:     "delete",
	OpDeleteOne:  "deleteOne",
	OpDeleteByID: "deleteById",
	OpCount:      "count",
	OpAggregate:  "aggregate",
}

func (o Operation) String() string {
	if name, ok := operationNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Operation(%d)", int(o))
}

// pendingOperation is the operation kind plus whatever payload that kind carries.
type pendingOperation struct {
	kind      Operation
	values    bson.M
	document  any
	documents []any
}

// Result is the outcome of executing a PendingQuery. Only the fields belonging to
// Operation are set.
type Result[T any] struct {
	Operation Operation

	// Documents is set by find and aggregate.
	Documents []T
	// Document is set by findOne, findById and create. It is nil when nothing matched.
	Document *T
	// Count is set by count.
	Count int64
	// Update is set by update and updateOne.
	Update *storage.UpdateResult
	// Delete is set by delete, deleteOne and deleteById.
	Delete *storage.DeleteResult
}

// PendingQuery records what the caller wants and performs no I/O until Get (or Then,
// Catch, Finally) is called.
//
// Every terminal style method (Find, Count, Update, Aggregate, ...) replaces the pending
// operation, so only the last one called runs. Filters, options and pipeline stages
// given along the way keep accumulating. Sort, Latest and Oldest are shorthands for
// Aggregate and therefore switch the pending operation to aggregate.
//
// Results are not cached: each Get executes the operation again.
type PendingQuery[T any] struct {
	processor *Processor[T]
	op        pendingOperation
	err       error
}

func NewPendingQuery[T any](m Model[T], opts ...ProcessorOption) *PendingQuery[T] {
	return &PendingQuery[T]{
		processor: NewProcessor(m, opts...),
		op:        pendingOperation{kind: OpFind},
	}
}

func (q *PendingQuery[T]) set(op pendingOperation) *PendingQuery[T] {
	q.op = op
	return q
}

func (q *PendingQuery[T]) accumulate(filter, options bson.M) {
	if filter != nil {
		q.processor.Where(filter)
	}
	if options != nil {
		q.processor.WithOptions(options)
	}
}

func (q *PendingQuery[T]) Find(filter, options bson.M) *PendingQuery[T] {
	q.accumulate(filter, options)
	return q.set(pendingOperation{kind: OpFind})
}

func (q *PendingQuery[T]) FindOne(filter, options bson.M) *PendingQuery[T] {
	q.accumulate(filter, options)
	return q.set(pendingOperation{kind: OpFindOne})
}

// FindByID filters on the document id. A 24 character hex string is read as an ObjectID.
func (q *PendingQuery[T]) FindByID(id any, options bson.M) *PendingQuery[T] {
	q.accumulate(bson.M{storage.IDField: normalizeID(id)}, options)
	return q.set(pendingOperation{kind: OpFindByID})
}

func (q *PendingQuery[T]) Create(document any) *PendingQuery[T] {
	return q.set(pendingOperation{kind: OpCreate, document: document})
}

func (q *PendingQuery[T]) InsertMany(documents ...any) *PendingQuery[T] {
	return q.set(pendingOperation{kind: OpInsertMany, documents: documents})
}

// Update applies values, an update operator document such as {$set: {...}}, to every
// matching document.
func (q *PendingQuery[T]) Update(values, options bson.M) *PendingQuery[T] {
	q.accumulate(nil, options)
	return q.set(pendingOperation{kind: OpUpdate, values: values})
}

func (q *PendingQuery[T]) UpdateOne(values, options bson.M) *PendingQuery[T] {
	q.accumulate(nil, options)
	return q.set(pendingOperation{kind: OpUpdateOne, values: values})
}

func (q *PendingQuery[T]) Delete(filter, options bson.M) *PendingQuery[T] {
	q.accumulate(filter, options)
	return q.set(pendingOperation{kind: OpDelete})
}

func (q *PendingQuery[T]) DeleteOne(filter, options bson.M) *PendingQuery[T] {
	q.accumulate(filter, options)
	return q.set(pendingOperation{kind: OpDeleteOne})
}

func (q *PendingQuery[T]) DeleteByID(id any, options bson.M) *PendingQuery[T] {
	q.accumulate(bson.M{storage.IDField: normalizeID(id)}, options)
	return q.set(pendingOperation{kind: OpDeleteByID})
}

// Truncate deletes every document matching the filter accumulated so far, which is every
// document when no filter was given.
func (q *PendingQuery[T]) Truncate(options bson.M) *PendingQuery[T] {
	q.accumulate(nil, options)
	return q.set(pendingOperation{kind: OpDelete})
}

func (q *PendingQuery[T]) Count(filter, options bson.M) *PendingQuery[T] {
	q.accumulate(filter, options)
	return q.set(pendingOperation{kind: OpCount})
}

// Aggregate appends the stages fn builds to the pipeline. fn may be nil.
func (q *PendingQuery[T]) Aggregate(fn func(*aggregation.Builder), options bson.M) *PendingQuery[T] {
	if fn != nil {
		q.processor.WithAggregationFrom(fn)
	}
	q.accumulate(nil, options)
	return q.set(pendingOperation{kind: OpAggregate})
}

func (q *PendingQuery[T]) Sort(column string, direction any) *PendingQuery[T] {
	return q.Aggregate(func(b *aggregation.Builder) {
		b.Sort(column, direction)
	}, nil)
}

// Latest sorts newest first on column, DefaultTimestampField when omitted.
func (q *PendingQuery[T]) Latest(column ...string) *PendingQuery[T] {
	return q.Sort(timestampColumn(column), "desc")
}

// Oldest sorts oldest first on column, DefaultTimestampField when omitted.
func (q *PendingQuery[T]) Oldest(column ...string) *PendingQuery[T] {
	return q.Sort(timestampColumn(column), "asc")
}

func (q *PendingQuery[T]) With(relations ...string) *PendingQuery[T] {
	q.processor.With(relations...)
	return q
}

func (q *PendingQuery[T]) Where(filter bson.M) *PendingQuery[T] {
	q.processor.Where(filter)
	return q
}

func (q *PendingQuery[T]) WithOptions(options bson.M) *PendingQuery[T] {
	q.processor.WithOptions(options)
	return q
}

// OrFail makes empty reads fail with the error handler returns. A nil handler is
// reported by Err and by the next execution.
func (q *PendingQuery[T]) OrFail(handler func() error) *PendingQuery[T] {
	if err := q.processor.OrFail(handler); err != nil && q.err == nil {
		q.err = err
	}
	return q
}

// Err returns the first construction error recorded while building the query.
func (q *PendingQuery[T]) Err() error {
	return q.err
}

func (q *PendingQuery[T]) Operation() Operation {
	return q.op.kind
}

func (q *PendingQuery[T]) Processor() *Processor[T] {
	return q.processor
}

// Get executes the pending operation.
func (q *PendingQuery[T]) Get(ctx context.Context) (*Result[T], error) {
	if q.err != nil {
		return nil, q.err
	}

	p := q.processor
	res := &Result[T]{Operation: q.op.kind}
	var err error

	switch q.op.kind {
	case OpFind:
		res.Documents, err = p.Find(ctx)
	case OpFindOne:
		res.Document, err = p.FindOne(ctx)
	case OpFindByID:
		res.Document, err = p.FindByID(ctx)
	case OpCreate:
		res.Document, err = p.Create(ctx, q.op.document)
	case OpInsertMany:
		err = p.InsertMany(ctx, q.op.documents)
	case OpUpdate:
		res.Update, err = p.Update(ctx, q.op.values)
	case OpUpdateOne:
		res.Update, err = p.UpdateOne(ctx, q.op.values)
	case OpDelete:
		res.Delete, err = p.Delete(ctx)
	case OpDeleteOne:
		res.Delete, err = p.DeleteOne(ctx)
	case OpDeleteByID:
		res.Delete, err = p.DeleteByID(ctx)
	case OpCount:
		res.Count, err = p.Count(ctx)
	case OpAggregate:
		res.Documents, err = p.Aggregate(ctx)
	default:
		return nil, fmt.Errorf("unknown operation %s", q.op.kind)
	}

	if err != nil {
		return nil, err
	}
	return res, nil
}

// Then executes the query and hands the outcome to onFulfilled or onRejected, returning
// whatever the invoked callback returns. A nil callback passes the outcome through.
// Each call executes the query again.
func (q *PendingQuery[T]) Then(ctx context.Context, onFulfilled func(*Result[T]) error, onRejected func(error) error) error {
	res, err := q.Get(ctx)
	if err != nil {
		if onRejected != nil {
			return onRejected(err)
		}
		return err
	}
	if onFulfilled != nil {
		return onFulfilled(res)
	}
	return nil
}

// Catch executes the query and hands a failure to onRejected.
func (q *PendingQuery[T]) Catch(ctx context.Context, onRejected func(error) error) error {
	return q.Then(ctx, nil, onRejected)
}

// Finally executes the query, runs onFinally whatever the outcome and returns the
// execution error.
func (q *PendingQuery[T]) Finally(ctx context.Context, onFinally func()) error {
	_, err := q.Get(ctx)
	if onFinally != nil {
		onFinally()
	}
	return err
}

func timestampColumn(column []string) string {
	if len(column) > 0 && column[0] != "" {
		return column[0]
	}
	return DefaultTimestampField
}

func normalizeID(id any) any {
	s, ok := id.(string)
	if !ok || len(s) != 24 {
		return id
	}
	oid, err := bson.ObjectIDFromHex(s)
	if err != nil {
		return id
	}
	return oid
}
