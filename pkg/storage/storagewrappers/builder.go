package storagewrappers

import (
	"github.com/docmodel/docmodel/pkg/storage"
)

// CollectionWrapper decorates a collection.
type CollectionWrapper func(storage.Collection) storage.Collection

// WrapClient uses the decorator pattern so that every collection handed out by client,
// through any of its databases, is wrapped by wrappers. The first wrapper is the innermost.
func WrapClient(client storage.Client, wrappers ...CollectionWrapper) storage.Client {
	if len(wrappers) == 0 {
		return client
	}
	return &wrappedClient{Client: client, wrappers: wrappers}
}

// WrapDatabase is WrapClient for a single database.
func WrapDatabase(db storage.Database, wrappers ...CollectionWrapper) storage.Database {
	if len(wrappers) == 0 {
		return db
	}
	return &wrappedDatabase{Database: db, wrappers: wrappers}
}

type wrappedClient struct {
	storage.Client
	wrappers []CollectionWrapper
}

func (c *wrappedClient) Database(name string) storage.Database {
	return WrapDatabase(c.Client.Database(name), c.wrappers...)
}

type wrappedDatabase struct {
	storage.Database
	wrappers []CollectionWrapper
}

func (d *wrappedDatabase) Collection(name string) storage.Collection {
	coll := d.Database.Collection(name)
	for _, wrap := range d.wrappers {
		coll = wrap(coll)
	}
	return coll
}
