// Package connection owns the client handle of the document store, tracks its lifecycle
// state and boots the models registered with it once connected.
package connection

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"

	"github.com/docmodel/docmodel/pkg/logger"
	"github.com/docmodel/docmodel/pkg/storage"
)

// Bootable is a model the connection boots after every successful connect.
type Bootable interface {
	// Boot prepares the model against conn, typically by creating its collection.
	// Booting an already booted model is a no-op.
	Boot(ctx context.Context, conn *Connection) error
	IsBooted() bool
	CollectionName() string
}

// Option configures a Connection.
type Option func(*Connection)

// WithLogger sets the logger lifecycle events are written to.
func WithLogger(l logger.Logger) Option {
	return func(c *Connection) {
		c.logger = l
	}
}

// Connection is the single owner of a storage.Client. It is safe for concurrent use,
// although Connect and Disconnect are expected to be called by one goroutine.
type Connection struct {
	id       string
	client   storage.Client
	database string
	logger   logger.Logger

	state atomic.Int32

	mu     sync.Mutex
	models []Bootable // GUARDED_BY(mu).
}

// New returns a disconnected Connection for the named database of client.
func New(client storage.Client, database string, opts ...Option) *Connection {
	c := &Connection{
		id:       ulid.Make().String(),
		client:   client,
		database: database,
		logger:   logger.NewNoopLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.logger = c.logger.With(
		zap.String("connection_id", c.id),
		zap.String("database", database),
	)
	c.state.Store(int32(Disconnected))
	return c
}

// Connect opens the client and then boots every registered model in registration order.
// Calling Connect again repeats the whole sequence. Client errors are returned as is and
// leave the connection in the Connecting state. The first boot failure stops the
// remaining boots and is returned as is.
func (c *Connection) Connect(ctx context.Context) error {
	c.transition(Connecting)

	if err := c.client.Connect(ctx); err != nil {
		c.logger.ErrorWithContext(ctx, "failed to connect", zap.Error(err))
		return err
	}

	c.transition(Connected)
	c.logger.InfoWithContext(ctx, "connected")

	for _, m := range c.Models() {
		if err := m.Boot(ctx, c); err != nil {
			c.logger.ErrorWithContext(ctx, "failed to boot model",
				zap.String("collection", m.CollectionName()),
				zap.Error(err),
			)
			return err
		}
		c.logger.DebugWithContext(ctx, "booted model", zap.String("collection", m.CollectionName()))
	}

	return nil
}

// Disconnect closes the client. Registered models stay booted.
func (c *Connection) Disconnect(ctx context.Context) error {
	if err := c.client.Disconnect(ctx); err != nil {
		c.logger.ErrorWithContext(ctx, "failed to disconnect", zap.Error(err))
		return err
	}

	c.transition(Disconnected)
	c.logger.InfoWithContext(ctx, "disconnected")
	return nil
}

// Register appends models to the boot list. Duplicates are not detected.
func (c *Connection) Register(models ...Bootable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models = append(c.models, models...)
}

// Models returns the registered models in registration order.
func (c *Connection) Models() []Bootable {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.models)
}

func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) State() State {
	return State(c.state.Load())
}

func (c *Connection) IsConnected() bool {
	return c.State() == Connected
}

// IsDisconnected reports whether the connection is Disconnected. A connection which is
// still Connecting is neither connected nor disconnected.
func (c *Connection) IsDisconnected() bool {
	return c.State() == Disconnected
}

func (c *Connection) Database() storage.Database {
	return c.client.Database(c.database)
}

func (c *Connection) Collection(name string) storage.Collection {
	return c.Database().Collection(name)
}

// IsMissingCollection reports whether the database has no collection called name.
func (c *Connection) IsMissingCollection(ctx context.Context, name string) (bool, error) {
	names, err := c.Database().ListCollectionNames(ctx, bson.M{"name": name})
	if err != nil {
		return false, err
	}
	return !slices.Contains(names, name), nil
}

// CreateCollection creates the named collection.
func (c *Connection) CreateCollection(ctx context.Context, name string) error {
	if err := c.Database().CreateCollection(ctx, name); err != nil {
		return err
	}
	c.logger.InfoWithContext(ctx, "created collection", zap.String("collection", name))
	return nil
}

func stateField(key string, s State) zap.Field {
	return zap.Stringer(key, s)
}
