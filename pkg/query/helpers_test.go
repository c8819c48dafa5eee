package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/goleak"

	"github.com/docmodel/docmodel/pkg/storage"
	"github.com/docmodel/docmodel/pkg/storage/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type item struct {
	ID     any    `bson:"_id,omitempty"`
	Status string `bson:"status"`
	N      int    `bson:"n"`
}

// fixedModel resolves every query to one collection.
type fixedModel struct {
	coll storage.Collection
	err  error
}

func (m *fixedModel) NewInstance(raw bson.M) (item, error) {
	var out item
	data, err := bson.Marshal(raw)
	if err != nil {
		return out, err
	}
	err = bson.Unmarshal(data, &out)
	return out, err
}

func (m *fixedModel) Collection(_ context.Context) (storage.Collection, error) {
	return m.coll, m.err
}

func memoryCollection(t *testing.T, docs ...bson.M) storage.Collection {
	t.Helper()

	ctx := context.Background()
	backend := memory.New()
	require.NoError(t, backend.Connect(ctx))

	coll := backend.Database("app").Collection("items")
	if len(docs) > 0 {
		in := make([]any, 0, len(docs))
		for _, d := range docs {
			in = append(in, d)
		}
		_, err := coll.InsertMany(ctx, in)
		require.NoError(t, err)
	}
	return coll
}
