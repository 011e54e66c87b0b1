// Package dbtest holds the conformance tests shared by every db backend.
package dbtest

import (
	"bytes"
	"fmt"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/anonvote-node/db"
)

// TestWriteTx checks reads through a tx and the effect of commit and
// discard.
func TestWriteTx(t *testing.T, database db.Database) {
	c := qt.New(t)

	wTx := database.WriteTx()
	_, err := wTx.Get([]byte("a"))
	c.Assert(err, qt.ErrorIs, db.ErrKeyNotFound)

	c.Assert(wTx.Set([]byte("a"), []byte("b")), qt.IsNil)
	v, err := wTx.Get([]byte("a"))
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.DeepEquals, []byte("b"))

	_, err = database.Get([]byte("a"))
	c.Assert(err, qt.ErrorIs, db.ErrKeyNotFound)
	c.Assert(wTx.Commit(), qt.IsNil)

	v, err = database.Get([]byte("a"))
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.DeepEquals, []byte("b"))

	wTx = database.WriteTx()
	c.Assert(wTx.Delete([]byte("a")), qt.IsNil)
	_, err = wTx.Get([]byte("a"))
	c.Assert(err, qt.ErrorIs, db.ErrKeyNotFound)
	wTx.Discard()

	v, err = database.Get([]byte("a"))
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.DeepEquals, []byte("b"))

	wTx = database.WriteTx()
	c.Assert(wTx.Delete([]byte("a")), qt.IsNil)
	c.Assert(wTx.Commit(), qt.IsNil)
	_, err = database.Get([]byte("a"))
	c.Assert(err, qt.ErrorIs, db.ErrKeyNotFound)
}

// TestIterate checks prefix iteration order and early stop.
func TestIterate(t *testing.T, database db.Database) {
	c := qt.New(t)

	wTx := database.WriteTx()
	for i := 9; i >= 0; i-- {
		c.Assert(wTx.Set(fmt.Appendf(nil, "p/%d", i), []byte{byte(i)}), qt.IsNil)
	}
	c.Assert(wTx.Set([]byte("q/0"), []byte{0xff}), qt.IsNil)
	c.Assert(wTx.Commit(), qt.IsNil)

	var keys []string
	err := database.Iterate([]byte("p/"), func(k, v []byte) bool {
		keys = append(keys, string(k))
		return true
	})
	c.Assert(err, qt.IsNil)
	c.Assert(keys, qt.HasLen, 10)
	c.Assert(keys[0], qt.Equals, "p/0")
	c.Assert(keys[9], qt.Equals, "p/9")

	count := 0
	err = database.Iterate([]byte("p/"), func(k, v []byte) bool {
		count++
		return count < 3
	})
	c.Assert(err, qt.IsNil)
	c.Assert(count, qt.Equals, 3)

	// Pending writes are visible to the tx iterator.
	wTx = database.WriteTx()
	defer wTx.Discard()
	c.Assert(wTx.Delete([]byte("p/0")), qt.IsNil)
	c.Assert(wTx.Set([]byte("p/a"), []byte("x")), qt.IsNil)
	keys = nil
	err = wTx.Iterate([]byte("p/"), func(k, v []byte) bool {
		keys = append(keys, string(k))
		return true
	})
	c.Assert(err, qt.IsNil)
	c.Assert(keys, qt.HasLen, 10)
	c.Assert(keys[0], qt.Equals, "p/1")
	c.Assert(keys[9], qt.Equals, "p/a")
}

// TestWriteTxApply checks that Apply copies the writes of another tx.
func TestWriteTxApply(t *testing.T, database db.Database) {
	c := qt.New(t)

	wTx1 := database.WriteTx()
	c.Assert(wTx1.Set([]byte("key1"), []byte("value1")), qt.IsNil)
	wTx2 := database.WriteTx()
	c.Assert(wTx2.Set([]byte("key2"), []byte("value2")), qt.IsNil)

	c.Assert(wTx1.Apply(wTx2), qt.IsNil)
	wTx2.Discard()
	c.Assert(wTx1.Commit(), qt.IsNil)

	v, err := database.Get([]byte("key1"))
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.DeepEquals, []byte("value1"))
	v, err = database.Get([]byte("key2"))
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.DeepEquals, []byte("value2"))
}

// TestWriteTxApplyPrefixed checks Apply between a plain and a prefixed view
// of the same database.
func TestWriteTxApplyPrefixed(t *testing.T, database, prefixed db.Database) {
	c := qt.New(t)
	prefix := []byte("one")

	wTx := database.WriteTx()
	c.Assert(wTx.Set([]byte("plain"), []byte("1")), qt.IsNil)
	pTx := prefixed.WriteTx()
	c.Assert(pTx.Set([]byte("scoped"), []byte("2")), qt.IsNil)

	c.Assert(wTx.Apply(pTx), qt.IsNil)
	pTx.Discard()
	c.Assert(wTx.Commit(), qt.IsNil)

	v, err := database.Get(append(bytes.Clone(prefix), []byte("scoped")...))
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.DeepEquals, []byte("2"))
	v, err = prefixed.Get([]byte("scoped"))
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.DeepEquals, []byte("2"))
	_, err = prefixed.Get([]byte("plain"))
	c.Assert(err, qt.ErrorIs, db.ErrKeyNotFound)
}

// TestConcurrentWriteTx checks that the second of two conflicting
// transactions fails to commit.
func TestConcurrentWriteTx(t *testing.T, database db.Database) {
	c := qt.New(t)

	tx1 := database.WriteTx()
	tx2 := database.WriteTx()
	_, err := tx1.Get([]byte("counter"))
	c.Assert(err, qt.ErrorIs, db.ErrKeyNotFound)
	_, err = tx2.Get([]byte("counter"))
	c.Assert(err, qt.ErrorIs, db.ErrKeyNotFound)

	c.Assert(tx1.Set([]byte("counter"), []byte{1}), qt.IsNil)
	c.Assert(tx2.Set([]byte("counter"), []byte{2}), qt.IsNil)
	c.Assert(tx1.Commit(), qt.IsNil)
	c.Assert(tx2.Commit(), qt.ErrorIs, db.ErrConflict)

	v, err := database.Get([]byte("counter"))
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.DeepEquals, []byte{1})
}
