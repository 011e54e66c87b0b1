// Package leveldb implements db.Database on top of syndtr/goleveldb.
package leveldb

import (
	"bytes"
	"errors"
	"fmt"
	"slices"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
	"github.com/vocdoni/anonvote-node/db"
)

// LevelDB implements db.Database.
type LevelDB struct {
	db *leveldb.DB
}

var _ db.Database = (*LevelDB)(nil)

// New opens (or creates) a goleveldb database at opts.Path.
func New(opts db.Options) (*LevelDB, error) {
	ldb, err := leveldb.OpenFile(opts.Path, &opt.Options{})
	if err != nil {
		return nil, fmt.Errorf("open leveldb at %s: %w", opts.Path, err)
	}
	return &LevelDB{db: ldb}, nil
}

// Get implements db.Reader.
func (d *LevelDB) Get(key []byte) ([]byte, error) {
	v, err := d.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, db.ErrKeyNotFound
	}
	return v, err
}

// Iterate implements db.Reader.
func (d *LevelDB) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	iter := d.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	for iter.Next() {
		if !callback(iter.Key(), iter.Value()) {
			break
		}
	}
	return iter.Error()
}

// WriteTx implements db.Database.
func (d *LevelDB) WriteTx() db.WriteTx {
	return &WriteTx{db: d, pending: make(map[string][]byte)}
}

// Close implements db.Database.
func (d *LevelDB) Close() error {
	return d.db.Close()
}

// Compact implements db.Database.
func (d *LevelDB) Compact() error {
	return d.db.CompactRange(util.Range{})
}

// WriteTx buffers writes in a leveldb batch plus an overlay so reads see
// the pending values. A nil overlay value marks a delete.
type WriteTx struct {
	db      *LevelDB
	batch   leveldb.Batch
	pending map[string][]byte
	done    bool
}

var _ db.WriteTx = (*WriteTx)(nil)

// Get implements db.Reader.
func (tx *WriteTx) Get(key []byte) ([]byte, error) {
	if v, ok := tx.pending[string(key)]; ok {
		if v == nil {
			return nil, db.ErrKeyNotFound
		}
		return bytes.Clone(v), nil
	}
	return tx.db.Get(key)
}

// Iterate implements db.Reader.
func (tx *WriteTx) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	values := make(map[string][]byte)
	if err := tx.db.Iterate(prefix, func(k, v []byte) bool {
		values[string(k)] = bytes.Clone(v)
		return true
	}); err != nil {
		return err
	}
	for k, v := range tx.pending {
		if !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}
		if v == nil {
			delete(values, k)
			continue
		}
		values[k] = v
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if !callback([]byte(k), values[k]) {
			break
		}
	}
	return nil
}

// Set implements db.WriteTx.
func (tx *WriteTx) Set(key, value []byte) error {
	v := bytes.Clone(value)
	if v == nil {
		v = []byte{}
	}
	tx.pending[string(key)] = v
	tx.batch.Put(key, v)
	return nil
}

// Delete implements db.WriteTx.
func (tx *WriteTx) Delete(key []byte) error {
	tx.pending[string(key)] = nil
	tx.batch.Delete(key)
	return nil
}

// Apply implements db.WriteTx. Pending writes of a transaction of the same
// backend are copied as they are, deletes included.
func (tx *WriteTx) Apply(other db.WriteTx) error {
	other = db.UnwrapWriteTx(other)
	if o, ok := other.(*WriteTx); ok {
		for k, v := range o.pending {
			if v == nil {
				if err := tx.Delete([]byte(k)); err != nil {
					return err
				}
				continue
			}
			if err := tx.Set([]byte(k), v); err != nil {
				return err
			}
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
		return fmt.Errorf("cannot commit leveldb tx: already committed or discarded")
	}
	tx.done = true
	return tx.db.db.Write(&tx.batch, &opt.WriteOptions{Sync: true})
}

// Discard implements db.WriteTx.
func (tx *WriteTx) Discard() {
	tx.batch.Reset()
	tx.pending = map[string][]byte{}
	tx.done = true
}
