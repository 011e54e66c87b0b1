package storage

import (
	"fmt"
	"maps"
	"math/big"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/vocdoni/anonvote-node/types"
)

// CheckpointLeaf is the shadow copy of one occupied state tree index.
type CheckpointLeaf struct {
	Choice      *types.BigInt `json:"choice" cbor:"0,keyasint"`
	RevotingKey types.Point   `json:"revotingKey" cbor:"1,keyasint"`
}

// Checkpoint is the durable resume point of one tally, identified by poll
// and tallier. Leaves mirrors every occupied index of the state tree so the
// tree can be rebuilt at the start of each batch. Pending holds a batch
// commit that was persisted but not yet acknowledged by the ledger.
type Checkpoint struct {
	PollID                  types.PollID               `json:"pollId" cbor:"0,keyasint"`
	Tallier                 string                     `json:"tallier" cbor:"1,keyasint"`
	Session                 uuid.UUID                  `json:"session" cbor:"2,keyasint"`
	LastProcessedSequenceID uint64                     `json:"lastProcessedSequenceId,string" cbor:"3,keyasint"`
	ProcessedCount          uint64                     `json:"processedCount,string" cbor:"4,keyasint"`
	StateRoot               types.HexBytes             `json:"stateRoot" cbor:"5,keyasint"`
	RunningMessageHash      types.HexBytes             `json:"runningMessageHash" cbor:"6,keyasint"`
	TallyCommitment         types.HexBytes             `json:"tallyCommitment" cbor:"7,keyasint"`
	TallySalt               *types.BigInt              `json:"tallySalt" cbor:"8,keyasint"`
	TallyCounts             []*types.BigInt            `json:"tallyCounts" cbor:"9,keyasint"`
	Leaves                  map[uint64]*CheckpointLeaf `json:"leaves" cbor:"10,keyasint"`
	Pending                 *types.BatchCommit         `json:"pending,omitempty" cbor:"11,keyasint,omitempty"`
	CreatedAt               time.Time                  `json:"createdAt" cbor:"12,keyasint"`
	UpdatedAt               time.Time                  `json:"updatedAt" cbor:"13,keyasint"`
}

// Counts returns the tally counts as independent math/big values.
func (c *Checkpoint) Counts() []*big.Int {
	return types.MathBigInts(c.TallyCounts)
}

// LeafIndexes returns the occupied indexes in ascending order.
func (c *Checkpoint) LeafIndexes() []uint64 {
	return slices.Sorted(maps.Keys(c.Leaves))
}

// CheckpointKey identifies a stored checkpoint.
type CheckpointKey struct {
	PollID  types.PollID `json:"pollId"`
	Tallier string       `json:"tallier"`
}

func (k CheckpointKey) String() string {
	return fmt.Sprintf("%s/%s", k.PollID, k.Tallier)
}

// LoadCheckpoint returns the checkpoint of the tallier on the poll, or
// ErrNotFound. Every call decodes a fresh copy that the caller owns.
func (s *Storage) LoadCheckpoint(pollID types.PollID, tallier string) (*Checkpoint, error) {
	key := tallierKey(pollID, tallier)
	cp := &Checkpoint{}
	if data, ok := s.cache.Get(string(key)); ok {
		if err := DecodeArtifact(data, cp); err != nil {
			return nil, err
		}
		return cp, nil
	}
	if err := s.getArtifact(checkpointPrefix, key, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

// SaveCheckpoint overwrites the whole checkpoint in a single write
// transaction.
func (s *Storage) SaveCheckpoint(cp *Checkpoint) error {
	if cp == nil || cp.Tallier == "" {
		return fmt.Errorf("checkpoint needs a tallier")
	}
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	now := time.Now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	data, err := EncodeArtifact(cp)
	if err != nil {
		return err
	}
	key := tallierKey(cp.PollID, cp.Tallier)
	wTx := s.db.WriteTx()
	defer wTx.Discard()
	if err := wTx.Set(append(append([]byte{}, checkpointPrefix...), key...), data); err != nil {
		return err
	}
	if err := wTx.Commit(); err != nil {
		s.cache.Remove(string(key))
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	s.cache.Add(string(key), data)
	return nil
}

// DeleteCheckpoint removes the checkpoint. Deleting a missing checkpoint is
// not an error.
func (s *Storage) DeleteCheckpoint(pollID types.PollID, tallier string) error {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	key := tallierKey(pollID, tallier)
	s.cache.Remove(string(key))
	return s.deleteArtifact(checkpointPrefix, key)
}

// ListCheckpoints returns the keys of every stored checkpoint.
func (s *Storage) ListCheckpoints() ([]CheckpointKey, error) {
	keys, err := s.listArtifacts(checkpointPrefix, nil)
	if err != nil {
		return nil, err
	}
	out := make([]CheckpointKey, 0, len(keys))
	for _, k := range keys {
		pollID, tallier, err := splitTallierKey(k)
		if err != nil {
			return nil, err
		}
		out = append(out, CheckpointKey{PollID: pollID, Tallier: tallier})
	}
	return out, nil
}
