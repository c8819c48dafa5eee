// Package boot contains the command that connects to the datastore and boots the configured models.
package boot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/docmodel/docmodel/cmd/util"
	"github.com/docmodel/docmodel/internal/concurrency"
	"github.com/docmodel/docmodel/pkg/config"
	"github.com/docmodel/docmodel/pkg/connection"
	"github.com/docmodel/docmodel/pkg/logger"
	"github.com/docmodel/docmodel/pkg/model"
	"github.com/docmodel/docmodel/pkg/storage"
	"github.com/docmodel/docmodel/pkg/storage/memory"
	"github.com/docmodel/docmodel/pkg/storage/mongodb"
	"github.com/docmodel/docmodel/pkg/storage/storagewrappers"
	"github.com/docmodel/docmodel/pkg/telemetry"
)

// NewBootCommand returns the command that connects to the datastore and boots every configured collection.
func NewBootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "boot",
		Short: "Connect to the datastore and boot the configured models",
		Long:  "Connect to the datastore, create the collection of every configured model that does not exist yet and report its document count.",
		RunE:  boot,
		Args:  cobra.NoArgs,
	}

	bindBootFlags(cmd)

	return cmd
}

func boot(cmd *cobra.Command, _ []string) error {
	cfg, err := util.ReadConfig()
	if err != nil {
		return err
	}

	if err := cfg.Verify(); err != nil {
		return err
	}

	bootCtx := &BootContext{Logger: logger.MustNewLogger(cfg.Log.Format, cfg.Log.Level)}
	return bootCtx.Run(cmd.Context(), cfg)
}

// BootContext carries the dependencies shared by a single boot run.
type BootContext struct {
	Logger logger.Logger
}

// telemetryConfig returns the function that must be called to shut down tracing.
func (b *BootContext) telemetryConfig(cfg *config.Config) func() error {
	tp := telemetry.NewFromConfig(cfg.Trace)
	if tp.Enabled() {
		b.Logger.Info(fmt.Sprintf("tracing enabled: sampling ratio is %v and sending traces to '%s'", cfg.Trace.SampleRatio, cfg.Trace.Endpoint))
	}

	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
		defer cancel()
		return tp.Close(ctx)
	}
}

// datastoreConfig builds the storage client for the configured engine, wrapped with the
// configured read bound and metrics.
func (b *BootContext) datastoreConfig(cfg *config.Config) (storage.Client, error) {
	var client storage.Client
	switch cfg.Datastore.Engine {
	case "memory":
		opts := []memory.StorageOption{memory.WithLogger(b.Logger)}
		if cfg.Datastore.UnacknowledgedWrites {
			opts = append(opts, memory.WithUnacknowledgedWrites())
		}
		client = memory.New(opts...)
	case "mongodb":
		client = mongodb.New(cfg.Datastore.URI, mongodb.WithLogger(b.Logger))
	default:
		return nil, fmt.Errorf("storage engine '%s' is unsupported", cfg.Datastore.Engine)
	}

	var wrappers []storagewrappers.CollectionWrapper
	if cfg.Metrics.Enabled {
		wrappers = append(wrappers, storagewrappers.NewMetricsCollection)
	}
	if cfg.Datastore.MaxConcurrentQueries > 0 {
		wrappers = append(wrappers, storagewrappers.NewLimiter(cfg.Datastore.MaxConcurrentQueries).Wrap)
	}

	b.Logger.Info(fmt.Sprintf("using '%v' storage engine", cfg.Datastore.Engine))

	return storagewrappers.WrapClient(client, wrappers...), nil
}

// connect opens conn, retrying with exponential backoff when waiting is configured.
func (b *BootContext) connect(ctx context.Context, cfg *config.Config, conn *connection.Connection) error {
	attempt := func() error {
		ctx, cancel := context.WithTimeout(ctx, cfg.Datastore.ConnectTimeout)
		defer cancel()
		return conn.Connect(ctx)
	}

	if !cfg.Boot.Wait {
		return attempt()
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = cfg.Boot.WaitTimeout

	return backoff.RetryNotify(attempt, backoff.WithContext(policy, ctx), func(err error, next time.Duration) {
		b.Logger.Warn("datastore not ready, retrying", zap.Error(err), zap.Duration("backoff", next))
	})
}

// Run connects, boots every configured collection and reports its document count. When metrics
// are enabled the connection stays open, serving metrics, until ctx is canceled or the
// process is interrupted.
func (b *BootContext) Run(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracerProviderCloser := b.telemetryConfig(cfg)
	defer func() {
		if err := tracerProviderCloser(); err != nil {
			b.Logger.Error("failed to shut down tracing", zap.Error(err))
		}
	}()

	client, err := b.datastoreConfig(cfg)
	if err != nil {
		return err
	}

	return b.boot(ctx, cfg, client)
}

// boot runs the boot sequence against client. The client is disconnected on return, also
// when a model fails to boot after the client itself connected.
func (b *BootContext) boot(ctx context.Context, cfg *config.Config, client storage.Client) error {
	conn := connection.New(client, cfg.Datastore.Database, connection.WithLogger(b.Logger))

	models := make([]*model.Model[bson.M], 0, len(cfg.Boot.Collections))
	for _, name := range cfg.Boot.Collections {
		models = append(models, model.New(conn, name, model.WithLogger[bson.M](b.Logger)))
	}

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Datastore.ConnectTimeout)
		defer cancel()
		if err := conn.Disconnect(ctx); err != nil {
			b.Logger.Error("failed to disconnect from datastore", zap.Error(err))
		}
	}()

	if err := b.connect(ctx, cfg, conn); err != nil {
		return fmt.Errorf("connect to datastore: %w", err)
	}

	counts := concurrency.NewStorePool(ctx, cfg.Datastore.MaxConcurrentQueries)
	for _, m := range models {
		counts.Go(func(ctx context.Context) error {
			res, err := m.Count(nil, nil).Get(ctx)
			if err != nil {
				return fmt.Errorf("count documents of %q: %w", m.CollectionName(), err)
			}
			b.Logger.Info("collection ready",
				zap.String("collection", m.CollectionName()),
				zap.Int64("documents", res.Count))
			return nil
		})
	}
	if err := counts.Wait(); err != nil {
		return err
	}

	if !cfg.Metrics.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", otelhttp.NewHandler(promhttp.Handler(), "metrics"))

	metricsServer := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	go func() {
		b.Logger.Info(fmt.Sprintf("starting prometheus metrics server on '%s'", cfg.Metrics.Addr))
		if err := metricsServer.ListenAndServe(); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				b.Logger.Error("failed to start prometheus metrics server", zap.Error(err))
				stop()
			}
		}
	}()

	<-ctx.Done()
	b.Logger.Info("attempting to shutdown gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		b.Logger.Info("failed to shutdown the metrics server", zap.Error(err))
	}

	b.Logger.Info("metrics server shut down.")
	return nil
}
