// Package inmemory implements an ephemeral db.Database. Transactions use
// optimistic concurrency: a commit fails with db.ErrConflict when any key it
// read or wrote changed after the transaction started.
package inmemory

import (
	"bytes"
	"fmt"
	"slices"
	"sync"

	"github.com/vocdoni/anonvote-node/db"
)

type record struct {
	value   []byte
	version uint64
}

// InMemoryDB implements an ephemeral in-memory db.Database.
type InMemoryDB struct {
	mu      sync.RWMutex
	data    map[string]record
	// tombstones keep the version of deleted keys for conflict detection.
	deleted map[string]uint64
	version uint64
}

var _ db.Database = (*InMemoryDB)(nil)

// New returns a new in-memory database. Options are ignored.
func New(_ db.Options) (*InMemoryDB, error) {
	return &InMemoryDB{
		data:    make(map[string]record),
		deleted: make(map[string]uint64),
	}, nil
}

// Close implements db.Database.
func (d *InMemoryDB) Close() error { return nil }

// Compact implements db.Database.
func (d *InMemoryDB) Compact() error { return nil }

// Get implements db.Reader.
func (d *InMemoryDB) Get(key []byte) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.data[string(key)]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return bytes.Clone(rec.value), nil
}

// snapshot copies the live entries under prefix with their versions.
func (d *InMemoryDB) snapshot(prefix []byte) map[string]record {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]record)
	for k, rec := range d.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			out[k] = record{value: bytes.Clone(rec.value), version: rec.version}
		}
	}
	return out
}

// Iterate implements db.Reader.
func (d *InMemoryDB) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	snap := d.snapshot(prefix)
	values := make(map[string][]byte, len(snap))
	for k, rec := range snap {
		values[k] = rec.value
	}
	iterateSorted(values, callback)
	return nil
}

func (d *InMemoryDB) versionOf(key string) uint64 {
	if rec, ok := d.data[key]; ok {
		return rec.version
	}
	return d.deleted[key]
}

// WriteTx implements db.Database.
func (d *InMemoryDB) WriteTx() db.WriteTx {
	d.mu.RLock()
	start := d.version
	d.mu.RUnlock()
	return &WriteTx{
		db:     d,
		start:  start,
		writes: make(map[string][]byte),
		seen:   make(map[string]struct{}),
	}
}

// WriteTx buffers writes until Commit. A nil value in writes marks a delete.
type WriteTx struct {
	db     *InMemoryDB
	start  uint64
	writes map[string][]byte
	seen   map[string]struct{}
	done   bool
}

var _ db.WriteTx = (*WriteTx)(nil)

// Get implements db.Reader.
func (tx *WriteTx) Get(key []byte) ([]byte, error) {
	k := string(key)
	if v, ok := tx.writes[k]; ok {
		if v == nil {
			return nil, db.ErrKeyNotFound
		}
		return bytes.Clone(v), nil
	}
	tx.seen[k] = struct{}{}
	return tx.db.Get(key)
}

// Iterate implements db.Reader, merging pending writes over the stored data.
func (tx *WriteTx) Iterate(prefix []byte, callback func(k, v []byte) bool) error {
	values := make(map[string][]byte)
	for k, rec := range tx.db.snapshot(prefix) {
		tx.seen[k] = struct{}{}
		values[k] = rec.value
	}
	for k, v := range tx.writes {
		if !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}
		if v == nil {
			delete(values, k)
			continue
		}
		values[k] = bytes.Clone(v)
	}
	iterateSorted(values, callback)
	return nil
}

// Set implements db.WriteTx.
func (tx *WriteTx) Set(key, value []byte) error {
	v := bytes.Clone(value)
	if v == nil {
		v = []byte{}
	}
	tx.writes[string(key)] = v
	return nil
}

// Delete implements db.WriteTx.
func (tx *WriteTx) Delete(key []byte) error {
	tx.writes[string(key)] = nil
	return nil
}

// Apply implements db.WriteTx. Pending writes of a transaction of the same
// backend are copied as they are, deletes included.
func (tx *WriteTx) Apply(other db.WriteTx) error {
	other = db.UnwrapWriteTx(other)
	if o, ok := other.(*WriteTx); ok {
		for k, v := range o.writes {
			tx.writes[k] = v
		}
		return nil
	}
	var err error
	iterErr := other.Iterate(nil, func(k, v []byte) bool {
		err = tx.Set(k, v)
		return err == nil
	})
	if iterErr != nil {
		return iterErr
	}
	return err
}

// Commit implements db.WriteTx.
func (tx *WriteTx) Commit() error {
	if tx.done {
		return fmt.Errorf("cannot commit inmemory tx: already committed or discarded")
	}
	d := tx.db
	d.mu.Lock()
	defer d.mu.Unlock()
	for k := range tx.seen {
		if d.versionOf(k) > tx.start {
			return db.ErrConflict
		}
	}
	for k := range tx.writes {
		if d.versionOf(k) > tx.start {
			return db.ErrConflict
		}
	}
	for k, v := range tx.writes {
		d.version++
		if v == nil {
			delete(d.data, k)
			d.deleted[k] = d.version
			continue
		}
		delete(d.deleted, k)
		d.data[k] = record{value: v, version: d.version}
	}
	tx.done = true
	return nil
}

// Discard implements db.WriteTx.
func (tx *WriteTx) Discard() {
	tx.writes = map[string][]byte{}
	tx.seen = map[string]struct{}{}
	tx.done = true
}

func iterateSorted(values map[string][]byte, callback func(key, value []byte) bool) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if !callback([]byte(k), values[k]) {
			return
		}
	}
}
