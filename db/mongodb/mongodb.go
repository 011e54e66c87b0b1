// Package mongodb implements db.Database on a MongoDB collection. Keys are
// stored hex encoded in _id so that the natural string order of the index is
// the byte order of the keys.
package mongodb

import (
	"bytes"
	"cmp"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/vocdoni/anonvote-node/db"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collectionName = "kv"
	opTimeout      = 30 * time.Second
)

type document struct {
	ID    string `bson:"_id"`
	Value []byte `bson:"value"`
}

// MongoDB implements db.Database.
type MongoDB struct {
	client *mongo.Client
	coll   *mongo.Collection
}

var _ db.Database = (*MongoDB)(nil)

// New connects to opts.URI (or the MONGODB_URL environment variable) and
// uses the database named opts.Path.
func New(opts db.Options) (*MongoDB, error) {
	uri := cmp.Or(opts.URI, os.Getenv("MONGODB_URL"))
	if uri == "" {
		return nil, fmt.Errorf("mongodb URI is not set")
	}
	if opts.Path == "" {
		return nil, fmt.Errorf("mongodb database name is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	return &MongoDB{
		client: client,
		coll:   client.Database(opts.Path).Collection(collectionName),
	}, nil
}

func encodeKey(key []byte) string {
	return hex.EncodeToString(key)
}

// Get implements db.Reader.
func (d *MongoDB) Get(key []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	var doc document
	err := d.coll.FindOne(ctx, bson.M{"_id": encodeKey(key)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, db.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.Value, nil
}

func prefixFilter(prefix []byte) bson.M {
	if len(prefix) == 0 {
		return bson.M{}
	}
	lower := encodeKey(prefix)
	// Every hex key with this prefix sorts below the prefix followed by "g".
	return bson.M{"_id": bson.M{"$gte": lower, "$lt": lower + "g"}}
}

// Iterate implements db.Reader.
func (d *MongoDB) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	cursor, err := d.coll.Find(ctx, prefixFilter(prefix), options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return err
	}
	defer func() { _ = cursor.Close(ctx) }()
	for cursor.Next(ctx) {
		var doc document
		if err := cursor.Decode(&doc); err != nil {
			return err
		}
		key, err := hex.DecodeString(doc.ID)
		if err != nil {
			return fmt.Errorf("corrupt key %q: %w", doc.ID, err)
		}
		if !callback(key, doc.Value) {
			break
		}
	}
	return cursor.Err()
}

// WriteTx implements db.Database.
func (d *MongoDB) WriteTx() db.WriteTx {
	return &WriteTx{db: d, pending: make(map[string][]byte)}
}

// Close implements db.Database.
func (d *MongoDB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return d.client.Disconnect(ctx)
}

// Compact implements db.Database. MongoDB manages its own storage.
func (*MongoDB) Compact() error {
	return nil
}

// WriteTx buffers writes and flushes them as one ordered bulk write. A nil
// pending value marks a delete.
type WriteTx struct {
	db      *MongoDB
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
		values[string(k)] = v
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
	return nil
}

// Delete implements db.WriteTx.
func (tx *WriteTx) Delete(key []byte) error {
	tx.pending[string(key)] = nil
	return nil
}

// Apply implements db.WriteTx. Pending writes of a transaction of the same
// backend are copied as they are, deletes included.
func (tx *WriteTx) Apply(other db.WriteTx) error {
	other = db.UnwrapWriteTx(other)
	if o, ok := other.(*WriteTx); ok {
		for k, v := range o.pending {
			tx.pending[k] = v
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
		return fmt.Errorf("cannot commit mongodb tx: already committed or discarded")
	}
	tx.done = true
	if len(tx.pending) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(tx.pending))
	for k, v := range tx.pending {
		id := encodeKey([]byte(k))
		if v == nil {
			models = append(models, mongo.NewDeleteOneModel().SetFilter(bson.M{"_id": id}))
			continue
		}
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": id}).
			SetReplacement(document{ID: id, Value: v}).
			SetUpsert(true))
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if _, err := tx.db.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true)); err != nil {
		return fmt.Errorf("mongodb bulk write: %w", err)
	}
	return nil
}

// Discard implements db.WriteTx.
func (tx *WriteTx) Discard() {
	tx.pending = map[string][]byte{}
	tx.done = true
}
