package storage

import (
	"fmt"

	"github.com/vocdoni/anonvote-node/crypto/signatures/eddsa"
	"github.com/vocdoni/anonvote-node/types"
)

type revotingKeyRecord struct {
	Secret types.HexBytes `cbor:"0,keyasint"`
}

// SetRevotingKey stores the current revoting key of a voter for a poll,
// replacing the previous one. Identity is the voter identity string.
func (s *Storage) SetRevotingKey(pollID types.PollID, identity string, key *eddsa.Keypair) error {
	if key == nil {
		return fmt.Errorf("nil revoting key")
	}
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	return s.setArtifact(revotingKeyPrefix, tallierKey(pollID, identity), &revotingKeyRecord{Secret: key.Bytes()})
}

// RevotingKey returns the stored revoting key of a voter for a poll, or
// ErrNotFound if the voter has not voted yet.
func (s *Storage) RevotingKey(pollID types.PollID, identity string) (*eddsa.Keypair, error) {
	rec := &revotingKeyRecord{}
	if err := s.getArtifact(revotingKeyPrefix, tallierKey(pollID, identity), rec); err != nil {
		return nil, err
	}
	return eddsa.FromBytes(rec.Secret)
}
