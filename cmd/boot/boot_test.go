package boot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/docmodel/docmodel/cmd"
	"github.com/docmodel/docmodel/cmd/util"
	"github.com/docmodel/docmodel/internal/mocks"
	"github.com/docmodel/docmodel/pkg/config"
	"github.com/docmodel/docmodel/pkg/logger"
)

func TestRunBootsCollections(t *testing.T) {
	cfg := config.MustDefaultConfig()
	cfg.Boot.Collections = []string{"users", "posts"}

	log, logs := logger.NewObserverLogger("info")
	bootCtx := &BootContext{Logger: log}
	require.NoError(t, bootCtx.Run(context.Background(), cfg))

	ready := logs.FilterMessage("collection ready").All()
	require.Len(t, ready, 2)

	var collections []any
	for _, entry := range ready {
		collections = append(collections, entry.ContextMap()["collection"])
		require.Equal(t, int64(0), entry.ContextMap()["documents"])
	}
	require.ElementsMatch(t, []any{"users", "posts"}, collections)

	require.Equal(t, 2, logs.FilterMessage("model booted").Len())
}

func TestRunWithoutReadBound(t *testing.T) {
	cfg := config.MustDefaultConfig()
	cfg.Datastore.MaxConcurrentQueries = 0
	cfg.Datastore.UnacknowledgedWrites = true
	cfg.Boot.Collections = []string{"users"}

	bootCtx := &BootContext{Logger: logger.NewNoopLogger()}
	require.NoError(t, bootCtx.Run(context.Background(), cfg))
}

func TestRunRetriesUnreachableDatastore(t *testing.T) {
	cfg := config.MustDefaultConfig()
	cfg.Datastore.Engine = "mongodb"
	cfg.Datastore.URI = "mongodb://127.0.0.1:1/?serverSelectionTimeoutMS=100&connectTimeoutMS=100"
	cfg.Datastore.ConnectTimeout = 200 * time.Millisecond
	cfg.Boot.Wait = true
	cfg.Boot.WaitTimeout = time.Second

	log, logs := logger.NewObserverLogger("warn")
	bootCtx := &BootContext{Logger: log}

	err := bootCtx.Run(context.Background(), cfg)
	require.ErrorContains(t, err, "connect to datastore")
	require.GreaterOrEqual(t, logs.FilterMessage("datastore not ready, retrying").Len(), 1)
}

func TestRunFailsWithoutWaiting(t *testing.T) {
	cfg := config.MustDefaultConfig()
	cfg.Datastore.Engine = "mongodb"
	cfg.Datastore.URI = "mongodb://127.0.0.1:1/?serverSelectionTimeoutMS=100"
	cfg.Datastore.ConnectTimeout = 200 * time.Millisecond

	log, logs := logger.NewObserverLogger("warn")
	bootCtx := &BootContext{Logger: log}

	require.Error(t, bootCtx.Run(context.Background(), cfg))
	require.Equal(t, 0, logs.FilterMessage("datastore not ready, retrying").Len())
}

func TestBootCommand(t *testing.T) {
	t.Run("flags", func(t *testing.T) {
		viper.Reset()
		util.PrepareTempConfigDir(t)

		rootCmd := cmd.NewRootCommand()
		rootCmd.AddCommand(NewBootCommand())
		rootCmd.SetArgs([]string{"boot", "--collections", "users,posts", "--log-level", "none"})

		require.NoError(t, rootCmd.Execute())
	})

	t.Run("invalid_config", func(t *testing.T) {
		viper.Reset()
		util.PrepareTempConfigFile(t, "datastore:\n  engine: postgres\n")

		rootCmd := cmd.NewRootCommand()
		rootCmd.AddCommand(NewBootCommand())
		rootCmd.SetArgs([]string{"boot"})

		require.ErrorContains(t, rootCmd.Execute(), "datastore.engine")
	})
}

func TestRunServesMetricsUntilCanceled(t *testing.T) {
	cfg := config.MustDefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Addr = "127.0.0.1:0"
	cfg.Boot.Collections = []string{"users"}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	log, logs := logger.NewObserverLogger("info")
	bootCtx := &BootContext{Logger: log}
	require.NoError(t, bootCtx.Run(ctx, cfg))

	require.Equal(t, 1, logs.FilterMessage("collection ready").Len())
	require.Equal(t, 1, logs.FilterMessage("metrics server shut down.").Len())
	require.Equal(t, 1, logs.FilterMessage("disconnected").Len())
}

func TestBootDisconnectsWhenModelBootFails(t *testing.T) {
	mockController := gomock.NewController(t)
	defer mockController.Finish()

	cfg := config.MustDefaultConfig()
	cfg.Boot.Collections = []string{"users"}

	listErr := errors.New("not authorized on docmodel")
	db := mocks.NewMockDatabase(mockController)
	db.EXPECT().ListCollectionNames(gomock.Any(), gomock.Any()).Return(nil, listErr)

	client := mocks.NewMockClient(mockController)
	gomock.InOrder(
		client.EXPECT().Connect(gomock.Any()).Return(nil),
		client.EXPECT().Database(cfg.Datastore.Database).Return(db),
		client.EXPECT().Disconnect(gomock.Any()).Return(nil),
	)

	bootCtx := &BootContext{Logger: logger.NewNoopLogger()}
	err := bootCtx.boot(context.Background(), cfg, client)
	require.ErrorIs(t, err, listErr)
}
