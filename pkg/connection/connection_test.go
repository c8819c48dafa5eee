package connection

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/goleak"
	"go.uber.org/mock/gomock"

	"github.com/docmodel/docmodel/internal/mocks"
	"github.com/docmodel/docmodel/pkg/logger"
	"github.com/docmodel/docmodel/pkg/storage"
	"github.com/docmodel/docmodel/pkg/storage/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingModel struct {
	name   string
	booted bool
	err    error
	calls  *[]string
}

func (m *recordingModel) Boot(_ context.Context, _ *Connection) error {
	*m.calls = append(*m.calls, m.name)
	if m.err != nil {
		return m.err
	}
	m.booted = true
	return nil
}

func (m *recordingModel) IsBooted() bool { return m.booted }

func (m *recordingModel) CollectionName() string { return m.name }

func TestStateString(t *testing.T) {
	require.Equal(t, "disconnected", Disconnected.String())
	require.Equal(t, "connecting", Connecting.String())
	require.Equal(t, "connected", Connected.String())
	require.Equal(t, "unknown", State(42).String())
}

func TestConnectBootsModelsInOrder(t *testing.T) {
	ctx := context.Background()
	mockController := gomock.NewController(t)
	defer mockController.Finish()

	client := mocks.NewMockClient(mockController)
	client.EXPECT().Connect(gomock.Any()).Times(2).Return(nil)

	conn := New(client, "app")
	require.True(t, conn.IsDisconnected())
	require.False(t, conn.IsConnected())
	require.NotEmpty(t, conn.ID())

	var calls []string
	users := &recordingModel{name: "users", calls: &calls}
	posts := &recordingModel{name: "posts", calls: &calls}
	conn.Register(users, posts)
	require.Equal(t, []Bootable{users, posts}, conn.Models())

	require.NoError(t, conn.Connect(ctx))
	require.Equal(t, Connected, conn.State())
	require.True(t, conn.IsConnected())
	require.False(t, conn.IsDisconnected())
	require.Equal(t, []string{"users", "posts"}, calls)

	// reconnecting repeats the boot sequence
	require.NoError(t, conn.Connect(ctx))
	require.Equal(t, []string{"users", "posts", "users", "posts"}, calls)
}

func TestConnectClientFailure(t *testing.T) {
	ctx := context.Background()
	mockController := gomock.NewController(t)
	defer mockController.Finish()

	dialErr := errors.New("connection refused")
	client := mocks.NewMockClient(mockController)
	client.EXPECT().Connect(gomock.Any()).Return(dialErr)

	conn := New(client, "app")
	var calls []string
	conn.Register(&recordingModel{name: "users", calls: &calls})

	err := conn.Connect(ctx)
	require.Equal(t, dialErr, err)
	require.Equal(t, Connecting, conn.State())
	require.False(t, conn.IsConnected())
	require.False(t, conn.IsDisconnected())
	require.Empty(t, calls)
}

func TestConnectBootFailureStopsRemainingBoots(t *testing.T) {
	ctx := context.Background()
	mockController := gomock.NewController(t)
	defer mockController.Finish()

	client := mocks.NewMockClient(mockController)
	client.EXPECT().Connect(gomock.Any()).Return(nil)

	bootErr := errors.New("cannot create collection")
	var calls []string
	conn := New(client, "app")
	conn.Register(
		&recordingModel{name: "users", calls: &calls},
		&recordingModel{name: "posts", calls: &calls, err: bootErr},
		&recordingModel{name: "tags", calls: &calls},
	)

	err := conn.Connect(ctx)
	require.Same(t, bootErr, err)
	require.Equal(t, []string{"users", "posts"}, calls)
	require.True(t, conn.IsConnected())
}

func TestDisconnect(t *testing.T) {
	ctx := context.Background()
	mockController := gomock.NewController(t)
	defer mockController.Finish()

	client := mocks.NewMockClient(mockController)
	gomock.InOrder(
		client.EXPECT().Connect(gomock.Any()).Return(nil),
		client.EXPECT().Disconnect(gomock.Any()).Return(nil),
		client.EXPECT().Disconnect(gomock.Any()).Return(errors.New("already closed")),
	)

	l, logs := logger.NewObserverLogger("debug")
	conn := New(client, "app", WithLogger(l))
	var calls []string
	users := &recordingModel{name: "users", calls: &calls}
	conn.Register(users)

	require.NoError(t, conn.Connect(ctx))
	require.NoError(t, conn.Disconnect(ctx))
	require.True(t, conn.IsDisconnected())
	require.True(t, users.IsBooted())

	require.Error(t, conn.Disconnect(ctx))
	require.True(t, conn.IsDisconnected())

	transitions := logs.FilterMessage("connection state changed").All()
	require.Len(t, transitions, 3)
	require.Equal(t, "disconnected", transitions[2].ContextMap()["to"])
	require.Equal(t, conn.ID(), transitions[0].ContextMap()["connection_id"])
}

func TestCollections(t *testing.T) {
	ctx := context.Background()
	conn := New(memory.New(), "app")
	require.NoError(t, conn.Connect(ctx))
	t.Cleanup(func() {
		require.NoError(t, conn.Disconnect(ctx))
	})

	require.Equal(t, "app", conn.Database().Name())
	require.Equal(t, "users", conn.Collection("users").Name())

	missing, err := conn.IsMissingCollection(ctx, "users")
	require.NoError(t, err)
	require.True(t, missing)

	require.NoError(t, conn.CreateCollection(ctx, "users"))
	require.ErrorIs(t, conn.CreateCollection(ctx, "users"), storage.ErrCollision)

	missing, err = conn.IsMissingCollection(ctx, "users")
	require.NoError(t, err)
	require.False(t, missing)
}

func TestIsMissingCollectionError(t *testing.T) {
	ctx := context.Background()
	mockController := gomock.NewController(t)
	defer mockController.Finish()

	listErr := errors.New("unauthorized")
	db := mocks.NewMockDatabase(mockController)
	db.EXPECT().ListCollectionNames(gomock.Any(), bson.M{"name": "users"}).Return(nil, listErr)
	client := mocks.NewMockClient(mockController)
	client.EXPECT().Database("app").Return(db)

	_, err := New(client, "app").IsMissingCollection(ctx, "users")
	require.ErrorIs(t, err, listErr)
}
