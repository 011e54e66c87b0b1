// Package prefixeddb wraps a database so that every key is transparently
// prefixed, letting several stores share one backend.
package prefixeddb

import (
	"github.com/vocdoni/anonvote-node/db"
)

func prefixSlice(prefix, key []byte) []byte {
	out := make([]byte, 0, len(prefix)+len(key))
	out = append(out, prefix...)
	return append(out, key...)
}

// PrefixedReader is a db.Reader whose keys carry a prefix.
type PrefixedReader struct {
	reader db.Reader
	prefix []byte
}

var _ db.Reader = (*PrefixedReader)(nil)

// NewPrefixedReader returns a PrefixedReader over reader.
func NewPrefixedReader(reader db.Reader, prefix []byte) *PrefixedReader {
	return &PrefixedReader{reader: reader, prefix: prefix}
}

// Get implements db.Reader.
func (r *PrefixedReader) Get(key []byte) ([]byte, error) {
	return r.reader.Get(prefixSlice(r.prefix, key))
}

// Iterate implements db.Reader. Keys passed to callback have the prefix
// removed.
func (r *PrefixedReader) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	return iterate(r.reader, r.prefix, prefix, callback)
}

func iterate(reader db.Reader, base, prefix []byte, callback func(key, value []byte) bool) error {
	return reader.Iterate(prefixSlice(base, prefix), func(key, value []byte) bool {
		return callback(key[len(base):], value)
	})
}

// PrefixedDatabase is a db.Database whose keys carry a prefix.
type PrefixedDatabase struct {
	db     db.Database
	prefix []byte
}

var _ db.Database = (*PrefixedDatabase)(nil)

// NewPrefixedDatabase returns a PrefixedDatabase over database.
func NewPrefixedDatabase(database db.Database, prefix []byte) *PrefixedDatabase {
	return &PrefixedDatabase{db: database, prefix: prefix}
}

// Get implements db.Reader.
func (d *PrefixedDatabase) Get(key []byte) ([]byte, error) {
	return d.db.Get(prefixSlice(d.prefix, key))
}

// Iterate implements db.Reader.
func (d *PrefixedDatabase) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	return iterate(d.db, d.prefix, prefix, callback)
}

// WriteTx implements db.Database.
func (d *PrefixedDatabase) WriteTx() db.WriteTx {
	return NewPrefixedWriteTx(d.db.WriteTx(), d.prefix)
}

// Close closes the underlying database.
func (d *PrefixedDatabase) Close() error {
	return d.db.Close()
}

// Compact compacts the underlying database.
func (d *PrefixedDatabase) Compact() error {
	return d.db.Compact()
}

// PrefixedWriteTx is a db.WriteTx whose keys carry a prefix.
type PrefixedWriteTx struct {
	tx     db.WriteTx
	prefix []byte
}

var _ db.WriteTx = (*PrefixedWriteTx)(nil)

// NewPrefixedWriteTx wraps tx.
func NewPrefixedWriteTx(tx db.WriteTx, prefix []byte) *PrefixedWriteTx {
	return &PrefixedWriteTx{tx: tx, prefix: prefix}
}

// Get implements db.Reader.
func (t *PrefixedWriteTx) Get(key []byte) ([]byte, error) {
	return t.tx.Get(prefixSlice(t.prefix, key))
}

// Iterate implements db.Reader.
func (t *PrefixedWriteTx) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	return iterate(t.tx, t.prefix, prefix, callback)
}

// Set implements db.WriteTx.
func (t *PrefixedWriteTx) Set(key, value []byte) error {
	return t.tx.Set(prefixSlice(t.prefix, key), value)
}

// Delete implements db.WriteTx.
func (t *PrefixedWriteTx) Delete(key []byte) error {
	return t.tx.Delete(prefixSlice(t.prefix, key))
}

// Apply implements db.WriteTx. Keys of other are written under the prefix.
func (t *PrefixedWriteTx) Apply(other db.WriteTx) error {
	if p, ok := other.(*PrefixedWriteTx); ok {
		return t.tx.Apply(p.tx)
	}
	var err error
	iterErr := other.Iterate(nil, func(k, v []byte) bool {
		err = t.Set(k, v)
		return err == nil
	})
	if iterErr != nil {
		return iterErr
	}
	return err
}

// Unwrap returns the wrapped transaction.
func (t *PrefixedWriteTx) Unwrap() db.WriteTx {
	return t.tx
}

// Commit implements db.WriteTx.
func (t *PrefixedWriteTx) Commit() error {
	return t.tx.Commit()
}

// Discard implements db.WriteTx.
func (t *PrefixedWriteTx) Discard() {
	t.tx.Discard()
}
