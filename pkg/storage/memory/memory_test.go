package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/docmodel/docmodel/pkg/logger"
	"github.com/docmodel/docmodel/pkg/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newConnected(t *testing.T, opts ...StorageOption) *MemoryBackend {
	t.Helper()

	ds := New(opts...)
	require.NoError(t, ds.Connect(context.Background()))
	t.Cleanup(func() {
		_ = ds.Disconnect(context.Background())
	})
	return ds
}

func seed(t *testing.T, coll storage.Collection, docs ...bson.M) {
	t.Helper()

	in := make([]any, 0, len(docs))
	for _, d := range docs {
		in = append(in, d)
	}
	_, err := coll.InsertMany(context.Background(), in)
	require.NoError(t, err)
}

func TestDisconnectedClientFails(t *testing.T) {
	ctx := context.Background()
	ds := New()
	coll := ds.Database("app").Collection("users")

	_, err := coll.Find(ctx, bson.M{}, nil)
	require.ErrorIs(t, err, storage.ErrClientClosed)

	require.NoError(t, ds.Connect(ctx))
	_, err = coll.InsertOne(ctx, bson.M{"name": "a"})
	require.NoError(t, err)

	require.NoError(t, ds.Disconnect(ctx))
	_, err = coll.CountDocuments(ctx, bson.M{}, nil)
	require.ErrorIs(t, err, storage.ErrClientClosed)

	require.NoError(t, ds.Connect(ctx))
	n, err := coll.CountDocuments(ctx, bson.M{}, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestCanceledContext(t *testing.T) {
	ds := newConnected(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ds.Database("app").Collection("users").Find(ctx, bson.M{}, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCollections(t *testing.T) {
	ctx := context.Background()
	l, logs := logger.NewObserverLogger("debug")
	ds := newConnected(t, WithLogger(l))
	db := ds.Database("app")
	require.Equal(t, "app", db.Name())

	names, err := db.ListCollectionNames(ctx, bson.M{"name": "users"})
	require.NoError(t, err)
	require.Empty(t, names)

	require.NoError(t, db.CreateCollection(ctx, "users"))
	require.ErrorIs(t, db.CreateCollection(ctx, "users"), storage.ErrCollision)
	require.Equal(t, 1, logs.FilterMessage("created collection").Len())

	// inserting creates the collection implicitly
	_, err = db.Collection("posts").InsertOne(ctx, bson.M{"title": "hello"})
	require.NoError(t, err)

	names, err = db.ListCollectionNames(ctx, bson.M{})
	require.NoError(t, err)
	require.Equal(t, []string{"posts", "users"}, names)

	names, err = db.ListCollectionNames(ctx, bson.M{"name": "users"})
	require.NoError(t, err)
	require.Equal(t, []string{"users"}, names)

	names, err = ds.Database("other").ListCollectionNames(ctx, bson.M{})
	require.NoError(t, err)
	require.Empty(t, names)
}

func TestInsertAssignsObjectID(t *testing.T) {
	ctx := context.Background()
	coll := newConnected(t).Database("app").Collection("users")

	res, err := coll.InsertOne(ctx, struct {
		Name string `bson:"name"`
	}{Name: "jon"})
	require.NoError(t, err)
	require.True(t, res.Acknowledged)
	id, ok := res.InsertedID.(bson.ObjectID)
	require.True(t, ok)

	doc, err := coll.FindOne(ctx, bson.M{"_id": id}, nil)
	require.NoError(t, err)
	require.Equal(t, "jon", doc["name"])

	_, err = coll.InsertOne(ctx, bson.M{"_id": id})
	require.ErrorIs(t, err, storage.ErrCollision)
}

func TestInsertManyIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	coll := newConnected(t).Database("app").Collection("users")

	_, err := coll.InsertMany(ctx, []any{bson.M{"_id": 1}, bson.M{"_id": 2}, bson.M{"_id": 1}})
	require.ErrorIs(t, err, storage.ErrCollision)

	n, err := coll.CountDocuments(ctx, bson.M{}, nil)
	require.NoError(t, err)
	require.Zero(t, n)

	res, err := coll.InsertMany(ctx, []any{bson.M{"_id": 1}, bson.M{"_id": 2}})
	require.NoError(t, err)
	require.Equal(t, []any{int32(1), int32(2)}, res.InsertedIDs)
}

func TestUnacknowledgedWrites(t *testing.T) {
	ctx := context.Background()
	coll := newConnected(t, WithUnacknowledgedWrites()).Database("app").Collection("users")

	ins, err := coll.InsertOne(ctx, bson.M{"name": "a"})
	require.NoError(t, err)
	require.False(t, ins.Acknowledged)

	upd, err := coll.UpdateMany(ctx, bson.M{}, bson.M{"$set": bson.M{"name": "b"}}, nil)
	require.NoError(t, err)
	require.False(t, upd.Acknowledged)

	del, err := coll.DeleteMany(ctx, bson.M{}, nil)
	require.NoError(t, err)
	require.False(t, del.Acknowledged)
	require.Equal(t, int64(1), del.DeletedCount)
}

func TestFind(t *testing.T) {
	ctx := context.Background()
	coll := newConnected(t).Database("app").Collection("users")
	seed(t, coll,
		bson.M{"_id": 1, "name": "ada", "age": 36, "tags": bson.A{"math", "code"}},
		bson.M{"_id": 2, "name": "grace", "age": 85, "tags": bson.A{"navy"}},
		bson.M{"_id": 3, "name": "linus", "age": 54, "address": bson.M{"city": "Portland"}},
	)

	tests := []struct {
		name   string
		filter bson.M
		opts   bson.M
		want   []any
	}{
		{name: "all", filter: bson.M{}, want: []any{int32(1), int32(2), int32(3)}},
		{name: "equality", filter: bson.M{"name": "grace"}, want: []any{int32(2)}},
		{name: "array_contains", filter: bson.M{"tags": "code"}, want: []any{int32(1)}},
		{name: "dotted_path", filter: bson.M{"address.city": "Portland"}, want: []any{int32(3)}},
		{name: "range", filter: bson.M{"age": bson.M{"$gte": 50, "$lt": 90}}, want: []any{int32(2), int32(3)}},
		{name: "in", filter: bson.M{"name": bson.M{"$in": bson.A{"ada", "linus"}}}, want: []any{int32(1), int32(3)}},
		{name: "nin", filter: bson.M{"name": bson.M{"$nin": bson.A{"ada", "linus"}}}, want: []any{int32(2)}},
		{name: "exists", filter: bson.M{"address": bson.M{"$exists": false}}, want: []any{int32(1), int32(2)}},
		{name: "or", filter: bson.M{"$or": bson.A{bson.M{"age": 36}, bson.M{"age": 54}}}, want: []any{int32(1), int32(3)}},
		{name: "nor", filter: bson.M{"$nor": bson.A{bson.M{"age": 36}}}, want: []any{int32(2), int32(3)}},
		{name: "ne", filter: bson.M{"name": bson.M{"$ne": "ada"}}, want: []any{int32(2), int32(3)}},
		{name: "sort_desc", filter: bson.M{}, opts: bson.M{"sort": bson.D{{Key: "age", Value: -1}}}, want: []any{int32(2), int32(3), int32(1)}},
		{name: "skip_limit", filter: bson.M{}, opts: bson.M{"sort": bson.M{"age": 1}, "skip": 1, "limit": 1}, want: []any{int32(3)}},
		{name: "no_match", filter: bson.M{"name": "nobody"}, want: []any{}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			docs, err := coll.Find(ctx, test.filter, test.opts)
			require.NoError(t, err)

			ids := []any{}
			for _, d := range docs {
				ids = append(ids, d["_id"])
			}
			require.Equal(t, test.want, ids)
		})
	}
}

func TestFindErrors(t *testing.T) {
	ctx := context.Background()
	coll := newConnected(t).Database("app").Collection("users")
	seed(t, coll, bson.M{"_id": 1})

	_, err := coll.Find(ctx, bson.M{"$where": "true"}, nil)
	require.ErrorIs(t, err, storage.ErrUnsupportedOperator)

	_, err = coll.Find(ctx, bson.M{"a": bson.M{"$regex": "x"}}, nil)
	require.ErrorIs(t, err, storage.ErrUnsupportedOperator)

	_, err = coll.Find(ctx, bson.M{}, bson.M{"limit": "ten"})
	require.ErrorIs(t, err, storage.ErrInvalidOption)

	_, err = coll.Find(ctx, bson.M{}, bson.M{"sort": bson.M{"a": 1, "b": 1}})
	require.ErrorIs(t, err, storage.ErrInvalidOption)

	_, err = coll.FindOne(ctx, bson.M{"_id": 2}, nil)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestProjection(t *testing.T) {
	ctx := context.Background()
	coll := newConnected(t).Database("app").Collection("users")
	seed(t, coll, bson.M{"_id": 1, "name": "ada", "age": 36, "address": bson.M{"city": "London", "zip": "N1"}})

	doc, err := coll.FindOne(ctx, bson.M{}, bson.M{"projection": bson.M{"name": 1, "address.city": 1}})
	require.NoError(t, err)
	require.Equal(t, bson.M{"_id": int32(1), "name": "ada", "address": bson.M{"city": "London"}}, doc)

	doc, err = coll.FindOne(ctx, bson.M{}, bson.M{"projection": bson.M{"age": 0, "_id": 0}})
	require.NoError(t, err)
	require.Equal(t, bson.M{"name": "ada", "address": bson.M{"city": "London", "zip": "N1"}}, doc)

	_, err = coll.FindOne(ctx, bson.M{}, bson.M{"projection": bson.M{"age": 0, "name": 1}})
	require.ErrorIs(t, err, storage.ErrInvalidOption)
}

func TestFindReturnsCopies(t *testing.T) {
	ctx := context.Background()
	coll := newConnected(t).Database("app").Collection("users")
	seed(t, coll, bson.M{"_id": 1, "name": "ada"})

	doc, err := coll.FindOne(ctx, bson.M{}, nil)
	require.NoError(t, err)
	doc["name"] = "changed"

	doc, err = coll.FindOne(ctx, bson.M{}, nil)
	require.NoError(t, err)
	require.Equal(t, "ada", doc["name"])
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	coll := newConnected(t).Database("app").Collection("users")
	seed(t, coll,
		bson.M{"_id": 1, "status": "open", "visits": 1},
		bson.M{"_id": 2, "status": "open", "visits": 5},
		bson.M{"_id": 3, "status": "closed"},
	)

	res, err := coll.UpdateMany(ctx, bson.M{"status": "open"}, bson.M{"$inc": bson.M{"visits": 1}}, nil)
	require.NoError(t, err)
	require.Equal(t, int64(2), res.MatchedCount)
	require.Equal(t, int64(2), res.ModifiedCount)

	doc, err := coll.FindOne(ctx, bson.M{"_id": 2}, nil)
	require.NoError(t, err)
	require.Equal(t, int32(6), doc["visits"])

	res, err = coll.UpdateOne(ctx, bson.M{"status": "open"}, bson.M{"$set": bson.M{"status": "open"}}, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), res.MatchedCount)
	require.Zero(t, res.ModifiedCount)

	res, err = coll.UpdateOne(ctx, bson.M{"_id": 3}, bson.M{"$unset": bson.M{"status": ""}, "$set": bson.M{"meta.seen": true}}, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), res.ModifiedCount)
	doc, err = coll.FindOne(ctx, bson.M{"_id": 3}, nil)
	require.NoError(t, err)
	require.Equal(t, bson.M{"_id": int32(3), "meta": bson.M{"seen": true}}, doc)

	_, err = coll.UpdateMany(ctx, bson.M{}, bson.M{"status": "replaced"}, nil)
	require.ErrorIs(t, err, storage.ErrUnsupportedOperator)

	_, err = coll.UpdateMany(ctx, bson.M{}, bson.M{"$set": bson.M{"_id": 9}}, nil)
	require.ErrorIs(t, err, storage.ErrUnsupportedOperator)

	// the failed updates left nothing behind
	n, err := coll.CountDocuments(ctx, bson.M{"status": "replaced"}, nil)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestUpsert(t *testing.T) {
	ctx := context.Background()
	coll := newConnected(t).Database("app").Collection("users")

	res, err := coll.UpdateOne(ctx, bson.M{"email": "a@b.c", "age": bson.M{"$gt": 1}}, bson.M{"$set": bson.M{"name": "a"}}, bson.M{"upsert": true})
	require.NoError(t, err)
	require.Zero(t, res.MatchedCount)
	require.Equal(t, int64(1), res.UpsertedCount)
	require.NotNil(t, res.UpsertedID)

	doc, err := coll.FindOne(ctx, bson.M{"_id": res.UpsertedID}, nil)
	require.NoError(t, err)
	require.Equal(t, "a@b.c", doc["email"])
	require.Equal(t, "a", doc["name"])
	require.NotContains(t, doc, "age")

	_, err = coll.UpdateOne(ctx, bson.M{}, bson.M{"$set": bson.M{"x": 1}}, bson.M{"upsert": "yes"})
	require.ErrorIs(t, err, storage.ErrInvalidOption)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	coll := newConnected(t).Database("app").Collection("users")
	seed(t, coll, bson.M{"_id": 1, "a": 1}, bson.M{"_id": 2, "a": 1}, bson.M{"_id": 3, "a": 2})

	res, err := coll.DeleteOne(ctx, bson.M{"a": 1}, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), res.DeletedCount)

	res, err = coll.DeleteMany(ctx, bson.M{}, nil)
	require.NoError(t, err)
	require.Equal(t, int64(2), res.DeletedCount)
}

func TestCountDocuments(t *testing.T) {
	ctx := context.Background()
	coll := newConnected(t).Database("app").Collection("users")
	seed(t, coll, bson.M{"a": 1}, bson.M{"a": 1}, bson.M{"a": 2})

	n, err := coll.CountDocuments(ctx, bson.M{"a": 1}, nil)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	n, err = coll.CountDocuments(ctx, bson.M{}, bson.M{"skip": 1, "limit": 1})
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	coll := newConnected(t).Database("app").Collection("counters")

	var wg errgroup.Group
	for i := 0; i < 50; i++ {
		wg.Go(func() error {
			_, err := coll.InsertOne(ctx, bson.M{"n": i})
			return err
		})
	}
	require.NoError(t, wg.Wait())

	n, err := coll.CountDocuments(ctx, bson.M{}, nil)
	require.NoError(t, err)
	require.Equal(t, int64(50), n)
}
