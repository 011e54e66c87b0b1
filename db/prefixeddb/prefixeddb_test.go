package prefixeddb

import (
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/anonvote-node/db"
	"github.com/vocdoni/anonvote-node/db/internal/dbtest"
	"github.com/vocdoni/anonvote-node/db/metadb"
)

func TestPrefixedConformance(t *testing.T) {
	dbtest.TestWriteTx(t, NewPrefixedDatabase(metadb.NewTest(), []byte("a/")))
	dbtest.TestIterate(t, NewPrefixedDatabase(metadb.NewTest(), []byte("a/")))
	dbtest.TestWriteTxApply(t, NewPrefixedDatabase(metadb.NewTest(), []byte("a/")))
}

func TestIsolation(t *testing.T) {
	c := qt.New(t)
	base := metadb.NewTest()
	one := NewPrefixedDatabase(base, []byte("one/"))
	two := NewPrefixedDatabase(base, []byte("two/"))

	tx := one.WriteTx()
	c.Assert(tx.Set([]byte("k"), []byte("1")), qt.IsNil)
	c.Assert(tx.Commit(), qt.IsNil)

	_, err := two.Get([]byte("k"))
	c.Assert(err, qt.ErrorIs, db.ErrKeyNotFound)
	v, err := base.Get([]byte("one/k"))
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.DeepEquals, []byte("1"))

	var keys []string
	c.Assert(one.Iterate(nil, func(k, _ []byte) bool {
		keys = append(keys, string(k))
		return true
	}), qt.IsNil)
	c.Assert(keys, qt.DeepEquals, []string{"k"})
}
