package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/docmodel/docmodel/pkg/aggregation"
	"github.com/docmodel/docmodel/pkg/storage"
)

func TestAggregate(t *testing.T) {
	ctx := context.Background()
	db := newConnected(t).Database("app")
	users := db.Collection("users")
	posts := db.Collection("posts")

	seed(t, users,
		bson.M{"_id": 1, "name": "ada", "createdAt": 10, "roles": bson.A{"admin", "dev"}},
		bson.M{"_id": 2, "name": "grace", "createdAt": 30, "roles": bson.A{}},
		bson.M{"_id": 3, "name": "linus", "createdAt": 20, "roles": bson.A{"dev"}},
	)
	seed(t, posts,
		bson.M{"_id": 10, "author": 1, "title": "a"},
		bson.M{"_id": 11, "author": 1, "title": "b"},
		bson.M{"_id": 12, "author": 3, "title": "c"},
	)

	t.Run("sort_skip_limit", func(t *testing.T) {
		pipeline := aggregation.New().
			Sort("createdAt", "desc").
			Skip(1).
			Limit(1).
			Pipeline()

		docs, err := users.Aggregate(ctx, pipeline, nil)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		require.Equal(t, "linus", docs[0]["name"])
	})

	t.Run("match_then_unwind", func(t *testing.T) {
		pipeline := aggregation.New().
			Match(bson.M{"name": "ada"}).
			Unwind(aggregation.UnwindOptions{Path: "$roles", IncludeArrayIndex: "idx"}).
			Pipeline()

		docs, err := users.Aggregate(ctx, pipeline, nil)
		require.NoError(t, err)
		require.Len(t, docs, 2)
		require.Equal(t, "admin", docs[0]["roles"])
		require.Equal(t, int64(0), docs[0]["idx"])
		require.Equal(t, "dev", docs[1]["roles"])
		require.Equal(t, int64(1), docs[1]["idx"])
	})

	t.Run("unwind_drops_empty_arrays_unless_preserved", func(t *testing.T) {
		docs, err := users.Aggregate(ctx, []bson.M{{"$unwind": "$roles"}}, nil)
		require.NoError(t, err)
		require.Len(t, docs, 3)

		docs, err = users.Aggregate(ctx, []bson.M{{"$unwind": bson.M{"path": "$roles", "preserveNullAndEmptyArrays": true}}}, nil)
		require.NoError(t, err)
		require.Len(t, docs, 4)
	})

	t.Run("unwind_requires_dollar_path", func(t *testing.T) {
		pipeline := aggregation.New().
			Match(bson.M{"_id": 1}).
			Unwind(aggregation.UnwindOptions{Path: "roles"}).
			Pipeline()

		_, err := users.Aggregate(ctx, pipeline, nil)
		require.ErrorIs(t, err, storage.ErrInvalidPipeline)
	})

	t.Run("lookup", func(t *testing.T) {
		pipeline := aggregation.New().
			Match(bson.M{"_id": 1}).
			Lookup(aggregation.LookupOptions{From: "posts", As: "posts", LocalField: "_id", ForeignField: "author"}).
			Pipeline()

		docs, err := users.Aggregate(ctx, pipeline, nil)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		require.Len(t, docs[0]["posts"], 2)
	})

	t.Run("lookup_with_pipeline_is_unsupported", func(t *testing.T) {
		pipeline := aggregation.New().
			Lookup(aggregation.LookupOptions{From: "posts", As: "posts", Pipeline: []aggregation.Stage{{"$limit": 1}}}).
			Pipeline()

		_, err := users.Aggregate(ctx, pipeline, nil)
		require.ErrorIs(t, err, storage.ErrUnsupportedOperator)
	})

	t.Run("merged_stage_is_rejected", func(t *testing.T) {
		stage := aggregation.NewStageBuilder().Limit(1).Skip(1).Stage()

		_, err := users.Aggregate(ctx, []bson.M{stage}, nil)
		require.ErrorIs(t, err, storage.ErrInvalidPipeline)
	})

	t.Run("unknown_stage", func(t *testing.T) {
		_, err := users.Aggregate(ctx, []bson.M{{"$group": bson.M{"_id": nil}}}, nil)
		require.ErrorIs(t, err, storage.ErrInvalidPipeline)
	})

	t.Run("invalid_limit", func(t *testing.T) {
		_, err := users.Aggregate(ctx, []bson.M{{"$limit": 0}}, nil)
		require.ErrorIs(t, err, storage.ErrInvalidPipeline)
	})

	t.Run("invalid_option", func(t *testing.T) {
		_, err := users.Aggregate(ctx, nil, bson.M{"allowDiskUse": "yes"})
		require.ErrorIs(t, err, storage.ErrInvalidOption)
	})

	t.Run("empty_pipeline_returns_everything", func(t *testing.T) {
		docs, err := users.Aggregate(ctx, nil, nil)
		require.NoError(t, err)
		require.Len(t, docs, 3)
	})
}
