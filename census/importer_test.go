package census

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/anonvote-node/crypto/hash/poseidon"
)

func TestFileFormat(t *testing.T) {
	c := qt.New(t)
	h := poseidon.New()
	leaves := randomLeaves(c, h, 3)

	data, err := EncodeFile(leaves)
	c.Assert(err, qt.IsNil)
	c.Assert(data, qt.HasLen, 96)

	parsed, err := ParseFile(h, data)
	c.Assert(err, qt.IsNil)
	c.Assert(parsed, qt.HasLen, 3)
	for n := range leaves {
		c.Assert(parsed[n].Cmp(leaves[n]), qt.Equals, 0)
	}

	_, err = ParseFile(h, data[:95])
	c.Assert(err, qt.ErrorMatches, "malformed census file.*")
	_, err = ParseFile(h, nil)
	c.Assert(err, qt.ErrorIs, ErrEmptyCensus)

	overflow := make([]byte, 32)
	for n := range overflow {
		overflow[n] = 0xff
	}
	_, err = ParseFile(h, overflow)
	c.Assert(err, qt.ErrorMatches, "malformed census file: leaf 0 is not a field element")
}

func TestFetcher(t *testing.T) {
	c := qt.New(t)
	h := poseidon.New()
	leaves := randomLeaves(c, h, 5)
	data, err := EncodeFile(leaves)
	c.Assert(err, qt.IsNil)
	root, err := BuildRoot(h, leaves)
	c.Assert(err, qt.IsNil)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/census.bin" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "census.bin")
	c.Assert(os.WriteFile(path, data, 0o600), qt.IsNil)

	f := NewFetcher(h, HTTPImporter(srv.Client()), FileImporter())
	ctx := context.Background()

	tree, err := f.Fetch(ctx, srv.URL+"/census.bin", root)
	c.Assert(err, qt.IsNil)
	c.Assert(tree.Size(), qt.Equals, 5)

	tree, err = f.Fetch(ctx, "file://"+path, nil)
	c.Assert(err, qt.IsNil)
	c.Assert(tree.Root().Cmp(root), qt.Equals, 0)

	_, err = f.Fetch(ctx, srv.URL+"/missing", nil)
	c.Assert(err, qt.ErrorMatches, "download census .*/missing: status code 404, body: 404 page not found")

	_, err = f.Fetch(ctx, path, leaves[0])
	c.Assert(err, qt.ErrorMatches, "census root mismatch.*")

	_, err = f.Fetch(ctx, "ipfs://whatever", nil)
	c.Assert(err, qt.ErrorMatches, "no importer plugin found.*")
}

func TestSplitS3URI(t *testing.T) {
	c := qt.New(t)
	bucket, key, err := splitS3URI("s3://censuses/polls/7/census.bin")
	c.Assert(err, qt.IsNil)
	c.Assert(bucket, qt.Equals, "censuses")
	c.Assert(key, qt.Equals, "polls/7/census.bin")

	_, _, err = splitS3URI("s3://censuses")
	c.Assert(err, qt.IsNotNil)

	imp, err := S3Importer(context.Background(), S3Config{Endpoint: "http://127.0.0.1:9000", AccessKey: "a", SecretKey: "b"})
	c.Assert(err, qt.IsNil)
	c.Assert(imp.ValidURI("s3://censuses/x"), qt.IsTrue)
	c.Assert(imp.ValidURI("https://example.org/x"), qt.IsFalse)
}
