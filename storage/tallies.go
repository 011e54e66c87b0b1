package storage

import (
	"github.com/vocdoni/anonvote-node/types"
)

// SetTallyAccount stores the ledger record of a tally.
func (s *Storage) SetTallyAccount(acc *types.TallyAccount) error {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	return s.setArtifact(tallyPrefix, tallierKey(acc.PollID, acc.Tallier), acc)
}

// TallyAccount returns the ledger record of a tally, or ErrNotFound.
func (s *Storage) TallyAccount(pollID types.PollID, tallier string) (*types.TallyAccount, error) {
	acc := &types.TallyAccount{}
	if err := s.getArtifact(tallyPrefix, tallierKey(pollID, tallier), acc); err != nil {
		return nil, err
	}
	return acc, nil
}

// DeleteTallyAccount removes the ledger record of a tally.
func (s *Storage) DeleteTallyAccount(pollID types.PollID, tallier string) error {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	return s.deleteArtifact(tallyPrefix, tallierKey(pollID, tallier))
}

// TalliersOf returns the talliers with an open tally on the poll.
func (s *Storage) TalliersOf(pollID types.PollID) ([]string, error) {
	keys, err := s.listArtifacts(tallyPrefix, pollKey(pollID))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		_, tallier, err := splitTallierKey(k)
		if err != nil {
			return nil, err
		}
		out = append(out, tallier)
	}
	return out, nil
}
