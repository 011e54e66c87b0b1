// Package db defines the key-value database interfaces every storage backend
// of the node implements, and the errors they share.
package db

import (
	"errors"
	"fmt"
)

const (
	// TypePebble is the pebble backend, the default.
	TypePebble = "pebble"
	// TypeLevelDB is the goleveldb backend.
	TypeLevelDB = "leveldb"
	// TypeMongo is the MongoDB backend.
	TypeMongo = "mongodb"
	// TypeInMem is the ephemeral in-memory backend.
	TypeInMem = "inmem"
)

var (
	// ErrKeyNotFound is used to indicate that a key does not exist in the db.
	ErrKeyNotFound = errors.New("key not found")
	// ErrTxnTooBig is used to indicate that a WriteTx is too big and can't be
	// committed.
	ErrTxnTooBig = errors.New("txn too big")
	// ErrConflict is returned when a transaction conflicts with another one
	// committed after it was created.
	ErrConflict = errors.New("txn conflict")
)

// UnwrapError unwraps the error until reaching the innermost one.
func UnwrapError(err error) error {
	for {
		u := errors.Unwrap(err)
		if u == nil {
			return err
		}
		err = u
	}
}

// Options defines generic parameters for creating a new Database.
type Options struct {
	Path string
	// URI is the connection string of network backends.
	URI string
}

// Reader contains the read-only database operations.
type Reader interface {
	// Get retrieves the value for the given key. If the key does not exist,
	// returns the error ErrKeyNotFound.
	Get(key []byte) ([]byte, error)
	// Iterate calls callback with all key-value pairs in the database whose
	// key starts with prefix, in ascending key order. The iteration stops
	// when callback returns false. The slices passed to callback are only
	// valid during the call.
	Iterate(prefix []byte, callback func(key, value []byte) bool) error
}

// WriteTx contains the database write operations. Reads through a WriteTx
// see its own pending writes.
type WriteTx interface {
	Reader
	// Set adds a key-value pair. If the key already exists, its value is
	// updated.
	Set(key []byte, value []byte) error
	// Delete deletes a key and its value.
	Delete(key []byte) error
	// Apply applies the value-passed WriteTx into the given WriteTx, copying
	// the key-values from the passed one into the target one.
	Apply(WriteTx) error
	// Commit commits the transaction into the db. After the call the tx can
	// not be used anymore.
	Commit() error
	// Discard discards the transaction. It is safe to call after Commit.
	Discard()
}

// Database wraps all database operations.
type Database interface {
	Reader
	// WriteTx creates a new write transaction.
	WriteTx() WriteTx
	// Close closes the database.
	Close() error
	// Compact compacts the underlying storage.
	Compact() error
}

// ErrUnknownType is returned by factories for unsupported backends.
func ErrUnknownType(typ string) error {
	return fmt.Errorf("unknown database type %q", typ)
}

// UnwrapWriteTx strips wrappers such as prefixed transactions and returns the
// backend transaction underneath.
func UnwrapWriteTx(tx WriteTx) WriteTx {
	for {
		u, ok := tx.(interface{ Unwrap() WriteTx })
		if !ok {
			return tx
		}
		tx = u.Unwrap()
	}
}
