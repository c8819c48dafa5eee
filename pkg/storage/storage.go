// Package storage contains the document store contract the query engine executes against,
// along with its implementations.
//
//go:generate mockgen -source storage.go -destination ../../internal/mocks/mock_storage.go -package mocks Client,Database,Collection
package storage

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// IDField is the key every stored document is identified by.
const IDField = "_id"

// Client is a handle on one document store deployment. It is owned by exactly
// one connection, which is the only caller of Connect and Disconnect.
type Client interface {
	// Connect opens the underlying connection pool. Implementations must not retry.
	Connect(ctx context.Context) error

	// Disconnect closes the pool. Queries issued concurrently with Disconnect are undefined.
	Disconnect(ctx context.Context) error

	// Database returns a handle on the named database. It performs no I/O.
	Database(name string) Database
}

// Database is a handle on one database of a Client.
type Database interface {
	Name() string

	// Collection returns a handle on the named collection. It performs no I/O and
	// the collection does not need to exist.
	Collection(name string) Collection

	// ListCollectionNames returns the names of the collections matching filter.
	ListCollectionNames(ctx context.Context, filter bson.M) ([]string, error)

	// CreateCollection creates the named collection. Creating a collection which
	// already exists must return ErrCollision.
	CreateCollection(ctx context.Context, name string) error
}

// CollectionReader provides the read operations of a collection.
type CollectionReader interface {
	// Find returns every document matching filter. opts is interpreted by
	// ParseFindOptions; keys that do not apply to a find are ignored.
	Find(ctx context.Context, filter bson.M, opts bson.M) ([]bson.M, error)

	// FindOne returns the first document matching filter.
	// If none is found, it must return ErrNotFound.
	FindOne(ctx context.Context, filter bson.M, opts bson.M) (bson.M, error)

	// Aggregate runs pipeline and returns every resulting document. The pipeline is
	// passed to the store verbatim.
	Aggregate(ctx context.Context, pipeline []bson.M, opts bson.M) ([]bson.M, error)

	// CountDocuments returns the number of documents matching filter.
	CountDocuments(ctx context.Context, filter bson.M, opts bson.M) (int64, error)
}

// CollectionWriter provides the write operations of a collection. Every result
// reports whether the store acknowledged the write.
type CollectionWriter interface {
	InsertOne(ctx context.Context, document any) (*InsertOneResult, error)
	InsertMany(ctx context.Context, documents []any) (*InsertManyResult, error)
	UpdateMany(ctx context.Context, filter bson.M, update bson.M, opts bson.M) (*UpdateResult, error)
	UpdateOne(ctx context.Context, filter bson.M, update bson.M, opts bson.M) (*UpdateResult, error)
	DeleteMany(ctx context.Context, filter bson.M, opts bson.M) (*DeleteResult, error)
	DeleteOne(ctx context.Context, filter bson.M, opts bson.M) (*DeleteResult, error)
}

// Collection is a handle on one collection.
type Collection interface {
	Name() string
	CollectionReader
	CollectionWriter
}

type InsertOneResult struct {
	InsertedID   any
	Acknowledged bool
}

type InsertManyResult struct {
	InsertedIDs  []any
	Acknowledged bool
}

type UpdateResult struct {
	MatchedCount  int64
	ModifiedCount int64
	UpsertedCount int64
	UpsertedID    any
	Acknowledged  bool
}

type DeleteResult struct {
	DeletedCount int64
	Acknowledged bool
}
