package query

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/mock/gomock"

	"github.com/docmodel/docmodel/internal/mocks"
	"github.com/docmodel/docmodel/pkg/aggregation"
	"github.com/docmodel/docmodel/pkg/storage"
	"github.com/docmodel/docmodel/pkg/storage/storagewrappers"
)

func TestOperationString(t *testing.T) {
	require.Equal(t, "find", OpFind.String())
	require.Equal(t, "deleteById", OpDeleteByID.String())
	require.Equal(t, "aggregate", OpAggregate.String())
	require.Equal(t, "Operation(99)", Operation(99).String())
}

func TestDefaultOperationIsFind(t *testing.T) {
	ctx := context.Background()
	coll := memoryCollection(t, bson.M{"n": 1}, bson.M{"n": 2})

	q := NewPendingQuery[item](&fixedModel{coll: coll})
	require.Equal(t, OpFind, q.Operation())

	res, err := q.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, OpFind, res.Operation)
	require.Len(t, res.Documents, 2)
}

func TestLastTerminalCallWins(t *testing.T) {
	ctx := context.Background()
	coll := memoryCollection(t,
		bson.M{"status": "open", "n": 1},
		bson.M{"status": "open", "n": 2},
		bson.M{"status": "closed", "n": 3},
	)

	q := NewPendingQuery[item](&fixedModel{coll: coll}).
		Find(bson.M{"status": "open"}, nil).
		FindOne(nil, bson.M{"sort": bson.D{{Key: "n", Value: -1}}}).
		Count(nil, nil)
	require.Equal(t, OpCount, q.Operation())

	// the filter given to Find still applies to the count
	res, err := q.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), res.Count)
	require.Nil(t, res.Documents)
	require.Nil(t, res.Document)
}

func TestGetExecutesEveryTime(t *testing.T) {
	ctx := context.Background()
	coll := storagewrappers.NewInstrumentedCollection(memoryCollection(t, bson.M{"a": 1}))

	q := NewPendingQuery[item](&fixedModel{coll: coll}).Find(nil, nil).Where(bson.M{"a": 1})

	first, err := q.Get(ctx)
	require.NoError(t, err)
	second, err := q.Get(ctx)
	require.NoError(t, err)

	require.Equal(t, first.Documents, second.Documents)
	require.Equal(t, uint32(2), coll.GetMetrics().DatastoreReadCount)
}

func TestThenCatchFinallyEachExecute(t *testing.T) {
	ctx := context.Background()
	mockController := gomock.NewController(t)
	defer mockController.Finish()

	coll := mocks.NewMockCollection(mockController)
	coll.EXPECT().Name().Return("items").AnyTimes()
	coll.EXPECT().Find(gomock.Any(), bson.M{"a": 1}, bson.M{}).Times(3).Return([]bson.M{{"n": 5}}, nil)

	q := NewPendingQuery[item](&fixedModel{coll: coll}).Where(bson.M{"a": 1})

	var fulfilled *Result[item]
	err := q.Then(ctx, func(res *Result[item]) error {
		fulfilled = res
		return nil
	}, func(err error) error {
		t.Fatalf("unexpected rejection: %v", err)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, 5, fulfilled.Documents[0].N)

	require.NoError(t, q.Catch(ctx, func(err error) error {
		t.Fatalf("unexpected rejection: %v", err)
		return err
	}))

	finallyCalled := false
	require.NoError(t, q.Finally(ctx, func() { finallyCalled = true }))
	require.True(t, finallyCalled)
}

func TestRejections(t *testing.T) {
	ctx := context.Background()
	coll := memoryCollection(t)
	errEmpty := errors.New("nothing found")
	errHandled := errors.New("handled")

	q := NewPendingQuery[item](&fixedModel{coll: coll}).OrFail(func() error { return errEmpty })

	err := q.Then(ctx, func(*Result[item]) error {
		t.Fatal("unexpected fulfilment")
		return nil
	}, func(err error) error {
		require.ErrorIs(t, err, errEmpty)
		return errHandled
	})
	require.ErrorIs(t, err, errHandled)

	err = q.Then(ctx, nil, nil)
	require.ErrorIs(t, err, errEmpty)

	err = q.Catch(ctx, func(error) error { return nil })
	require.NoError(t, err)

	finallyCalled := false
	err = q.Finally(ctx, func() { finallyCalled = true })
	require.ErrorIs(t, err, errEmpty)
	require.True(t, finallyCalled)
}

func TestOrFailWithoutHandler(t *testing.T) {
	ctx := context.Background()
	coll := memoryCollection(t, bson.M{"n": 1})

	q := NewPendingQuery[item](&fixedModel{coll: coll}).OrFail(nil)
	require.ErrorIs(t, q.Err(), ErrNotCallable)
	require.EqualError(t, q.Err(), "must be a callback function")

	_, err := q.Get(ctx)
	require.ErrorIs(t, err, ErrNotCallable)
}

func TestSortSwitchesToAggregate(t *testing.T) {
	ctx := context.Background()
	coll := memoryCollection(t,
		bson.M{"n": 2, "createdAt": 20},
		bson.M{"n": 1, "createdAt": 10},
		bson.M{"n": 3, "createdAt": 30},
	)

	q := NewPendingQuery[item](&fixedModel{coll: coll}).Count(nil, nil).Sort("n", "asc")
	require.Equal(t, OpAggregate, q.Operation())
	require.Equal(t, []aggregation.Stage{{"$sort": bson.D{{Key: "n", Value: 1}}}}, q.Processor().Pipeline())

	res, err := q.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3}, itemNs(res.Documents))

	res, err = NewPendingQuery[item](&fixedModel{coll: coll}).Latest().Get(ctx)
	require.NoError(t, err)
	require.Equal(t, []int{3, 2, 1}, itemNs(res.Documents))

	res, err = NewPendingQuery[item](&fixedModel{coll: coll}).Oldest("n").Get(ctx)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3}, itemNs(res.Documents))
}

func TestAggregateAccumulatesStages(t *testing.T) {
	ctx := context.Background()
	coll := memoryCollection(t, bson.M{"n": 1}, bson.M{"n": 2}, bson.M{"n": 3})

	q := NewPendingQuery[item](&fixedModel{coll: coll}).
		Aggregate(func(b *aggregation.Builder) { b.Match(bson.M{"n": bson.M{"$gte": 2}}) }, nil).
		Sort("n", "desc").
		Aggregate(nil, bson.M{"allowDiskUse": true})

	require.Len(t, q.Processor().Pipeline(), 2)
	require.Equal(t, bson.M{"allowDiskUse": true}, q.Processor().Options())

	res, err := q.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, []int{3, 2}, itemNs(res.Documents))
}

func TestFindByIDParsesHexIdentifiers(t *testing.T) {
	ctx := context.Background()
	id := bson.NewObjectID()
	coll := memoryCollection(t, bson.M{"_id": id, "n": 1}, bson.M{"_id": "short", "n": 2})

	res, err := NewPendingQuery[item](&fixedModel{coll: coll}).FindByID(id.Hex(), nil).Get(ctx)
	require.NoError(t, err)
	require.Equal(t, OpFindByID, res.Operation)
	require.NotNil(t, res.Document)
	require.Equal(t, 1, res.Document.N)

	res, err = NewPendingQuery[item](&fixedModel{coll: coll}).FindByID("short", nil).Get(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, res.Document.N)

	res, err = NewPendingQuery[item](&fixedModel{coll: coll}).DeleteByID(id.Hex(), nil).Get(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), res.Delete.DeletedCount)
}

func TestWritesThroughPendingQuery(t *testing.T) {
	ctx := context.Background()
	coll := memoryCollection(t)
	model := &fixedModel{coll: coll}

	res, err := NewPendingQuery[item](model).Create(item{Status: "open", N: 1}).Get(ctx)
	require.NoError(t, err)
	require.Equal(t, OpCreate, res.Operation)
	require.NotNil(t, res.Document.ID)

	res, err = NewPendingQuery[item](model).InsertMany(item{Status: "open", N: 2}, bson.M{"status": "closed", "n": 3}).Get(ctx)
	require.NoError(t, err)
	require.Equal(t, OpInsertMany, res.Operation)

	res, err = NewPendingQuery[item](model).
		Where(bson.M{"status": "open"}).
		Update(bson.M{"$set": bson.M{"status": "closed"}}, nil).
		Get(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), res.Update.MatchedCount)

	res, err = NewPendingQuery[item](model).
		Where(bson.M{"n": 3}).
		UpdateOne(bson.M{"$set": bson.M{"status": "archived"}}, nil).
		Get(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), res.Update.ModifiedCount)

	res, err = NewPendingQuery[item](model).DeleteOne(bson.M{"status": "archived"}, nil).Get(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), res.Delete.DeletedCount)

	res, err = NewPendingQuery[item](model).Delete(bson.M{"status": "closed"}, nil).Get(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), res.Delete.DeletedCount)

	res, err = NewPendingQuery[item](model).Truncate(nil).Get(ctx)
	require.NoError(t, err)
	require.Zero(t, res.Delete.DeletedCount)
}

func TestWithEagerLoadsOnFindOne(t *testing.T) {
	ctx := context.Background()
	mockController := gomock.NewController(t)
	defer mockController.Finish()

	coll := mocks.NewMockCollection(mockController)
	coll.EXPECT().Name().Return("items").AnyTimes()
	coll.EXPECT().
		Aggregate(gomock.Any(), []bson.M{
			{"$match": bson.M{"_id": "abc"}},
			{"$unwind": bson.M{"path": "author"}},
		}, gomock.Nil()).
		Return(nil, storage.ErrInvalidPipeline)

	_, err := NewPendingQuery[item](&fixedModel{coll: coll}).FindByID("abc", nil).With("author").Get(ctx)
	require.ErrorIs(t, err, storage.ErrInvalidPipeline)
}

func itemNs(items []item) []int {
	out := make([]int, 0, len(items))
	for _, i := range items {
		out = append(out, i.N)
	}
	return out
}
