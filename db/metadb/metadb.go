// Package metadb opens any of the supported database backends by name.
package metadb

import (
	"github.com/vocdoni/anonvote-node/db"
	"github.com/vocdoni/anonvote-node/db/inmemory"
	"github.com/vocdoni/anonvote-node/db/leveldb"
	"github.com/vocdoni/anonvote-node/db/mongodb"
	"github.com/vocdoni/anonvote-node/db/pebbledb"
)

// New opens a database of the given type. For the disk backends dir is the
// data directory; for mongodb it is the database name and uri the
// connection string.
func New(typ, dir, uri string) (db.Database, error) {
	opts := db.Options{Path: dir, URI: uri}
	switch typ {
	case db.TypePebble:
		return pebbledb.New(opts)
	case db.TypeLevelDB:
		return leveldb.New(opts)
	case db.TypeMongo:
		return mongodb.New(opts)
	case db.TypeInMem:
		return inmemory.New(opts)
	default:
		return nil, db.ErrUnknownType(typ)
	}
}

// NewTest returns an in-memory database for tests.
func NewTest() db.Database {
	database, err := inmemory.New(db.Options{})
	if err != nil {
		panic(err)
	}
	return database
}
