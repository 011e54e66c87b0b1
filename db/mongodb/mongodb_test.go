package mongodb

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/anonvote-node/db"
	"github.com/vocdoni/anonvote-node/db/internal/dbtest"
	"github.com/vocdoni/anonvote-node/db/prefixeddb"
	"go.mongodb.org/mongo-driver/bson"
)

func newTestDB(t *testing.T) db.Database {
	if os.Getenv("MONGODB_URL") == "" {
		t.Skip("MONGODB_URL is not set")
	}
	name := make([]byte, 8)
	_, _ = rand.Read(name)
	database, err := New(db.Options{Path: "test" + hex.EncodeToString(name)})
	qt.Assert(t, err, qt.IsNil)
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func TestWriteTx(t *testing.T) {
	dbtest.TestWriteTx(t, newTestDB(t))
}

func TestIterate(t *testing.T) {
	dbtest.TestIterate(t, newTestDB(t))
}

func TestWriteTxApply(t *testing.T) {
	dbtest.TestWriteTxApply(t, newTestDB(t))
}

func TestWriteTxApplyPrefixed(t *testing.T) {
	database := newTestDB(t)
	dbtest.TestWriteTxApplyPrefixed(t, database, prefixeddb.NewPrefixedDatabase(database, []byte("one")))
}

func TestPrefixFilter(t *testing.T) {
	c := qt.New(t)
	c.Assert(prefixFilter(nil), qt.HasLen, 0)
	f := prefixFilter([]byte{0xab})
	c.Assert(f["_id"], qt.DeepEquals, bson.M{"$gte": "ab", "$lt": "abg"})
}
