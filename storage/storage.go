/*
Package storage provides the persistent storage layer of the anonvote node.

# Storage Organization

The storage uses a key-value database with prefixed namespaces. All integer
key parts are 8-byte big-endian so keys of one poll iterate in order.

## Tally checkpoints
  - cp/ : pollID + tallier → Checkpoint (resume point of one tally)

## Local ledger
  - p/  : pollID → Poll (metadata, running message hash, results)
  - b/  : pollID + sequenceID → Ballot (sequence ids are dense from 1)
  - t/  : pollID + tallier → TallyAccount (last committed tally values)

## Voter keys
  - rk/ : pollID + identity → revoting secret key of the voter
*/
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vocdoni/anonvote-node/db"
	"github.com/vocdoni/anonvote-node/db/prefixeddb"
	"github.com/vocdoni/anonvote-node/log"
	"github.com/vocdoni/anonvote-node/types"
)

var (
	ErrKeyAlreadyExists = errors.New("key already exists")
	ErrNotFound         = errors.New("not found")

	// Prefixes
	checkpointPrefix  = []byte("cp/")
	pollPrefix        = []byte("p/")
	ballotPrefix      = []byte("b/")
	tallyPrefix       = []byte("t/")
	revotingKeyPrefix = []byte("rk/")

	cacheSize = 256
)

// Storage keeps checkpoints, local ledger records and voter keys.
type Storage struct {
	db         db.Database
	globalLock sync.Mutex                 // Lock for read-modify-write operations
	cache      *lru.Cache[string, []byte] // Encoded checkpoints by key
}

// New creates a new Storage instance.
func New(database db.Database) *Storage {
	cache, err := lru.New[string, []byte](cacheSize)
	if err != nil {
		log.Fatalf("failed to create LRU cache: %v", err)
	}
	return &Storage{
		db:    database,
		cache: cache,
	}
}

// Close closes the storage.
func (s *Storage) Close() {
	if err := s.db.Close(); err != nil {
		log.Errorw(err, "failed to close storage")
	}
}

// Compact compacts the underlying database.
func (s *Storage) Compact() error {
	return s.db.Compact()
}

func pollKey(pollID types.PollID) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(pollID))
}

func ballotKey(pollID types.PollID, seq uint64) []byte {
	return binary.BigEndian.AppendUint64(pollKey(pollID), seq)
}

func tallierKey(pollID types.PollID, tallier string) []byte {
	return append(pollKey(pollID), tallier...)
}

func splitTallierKey(key []byte) (types.PollID, string, error) {
	if len(key) < 8 {
		return 0, "", fmt.Errorf("malformed key %x", key)
	}
	return types.PollID(binary.BigEndian.Uint64(key[:8])), string(key[8:]), nil
}

func (s *Storage) deleteArtifact(prefix, key []byte) error {
	// instance a write transaction with the prefix provided
	wTx := prefixeddb.NewPrefixedDatabase(s.db, prefix).WriteTx()
	defer wTx.Discard()
	if err := wTx.Delete(key); err != nil {
		return err
	}
	return wTx.Commit()
}

// setArtifact stores any kind of artifact under prefix and key,
// overwriting the previous value.
func (s *Storage) setArtifact(prefix []byte, key []byte, artifact any) error {
	data, err := EncodeArtifact(artifact)
	if err != nil {
		return err
	}
	wTx := prefixeddb.NewPrefixedDatabase(s.db, prefix).WriteTx()
	defer wTx.Discard()
	if err := wTx.Set(key, data); err != nil {
		return err
	}
	return wTx.Commit()
}

// getArtifact retrieves an artifact and decodes it into out. It returns
// ErrNotFound if the key does not exist.
func (s *Storage) getArtifact(prefix []byte, key []byte, out any) error {
	data, err := prefixeddb.NewPrefixedReader(s.db, prefix).Get(key)
	if errors.Is(err, db.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := DecodeArtifact(data, out); err != nil {
		return fmt.Errorf("could not decode artifact: %w", err)
	}
	return nil
}

// listArtifacts retrieves all the keys under prefix + sub.
func (s *Storage) listArtifacts(prefix, sub []byte) ([][]byte, error) {
	var keys [][]byte
	if err := prefixeddb.NewPrefixedReader(s.db, prefix).Iterate(sub, func(k, _ []byte) bool {
		kcopy := make([]byte, len(k))
		copy(kcopy, k)
		keys = append(keys, kcopy)
		return true
	}); err != nil {
		return nil, err
	}
	return keys, nil
}
