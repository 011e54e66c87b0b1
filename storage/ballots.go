package storage

import (
	"fmt"

	"github.com/vocdoni/anonvote-node/db/prefixeddb"
	"github.com/vocdoni/anonvote-node/types"
)

// ChainFunc returns the running message hash after appending a ballot to a
// poll whose running hash is prev.
type ChainFunc func(prev types.HexBytes) (types.HexBytes, error)

// AppendBallot assigns the next sequence id of the poll to the ballot and
// stores it together with the updated poll counters, in one transaction.
// The stored copy is returned.
func (s *Storage) AppendBallot(pollID types.PollID, ballot *types.Ballot, chain ChainFunc) (*types.Ballot, error) {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	poll, err := s.Poll(pollID)
	if err != nil {
		return nil, err
	}
	running, err := chain(poll.RunningMessageHash)
	if err != nil {
		return nil, err
	}
	stored := *ballot
	stored.SequenceID = poll.BallotCount + 1
	poll.BallotCount = stored.SequenceID
	poll.RunningMessageHash = running

	ballotData, err := EncodeArtifact(&stored)
	if err != nil {
		return nil, err
	}
	pollData, err := EncodeArtifact(poll)
	if err != nil {
		return nil, err
	}
	wTx := s.db.WriteTx()
	defer wTx.Discard()
	if err := prefixeddb.NewPrefixedWriteTx(wTx, ballotPrefix).Set(ballotKey(pollID, stored.SequenceID), ballotData); err != nil {
		return nil, err
	}
	if err := prefixeddb.NewPrefixedWriteTx(wTx, pollPrefix).Set(pollKey(pollID), pollData); err != nil {
		return nil, err
	}
	if err := wTx.Commit(); err != nil {
		return nil, fmt.Errorf("commit ballot: %w", err)
	}
	return &stored, nil
}

// Ballot returns the ballot with the given sequence id, or ErrNotFound.
func (s *Storage) Ballot(pollID types.PollID, seq uint64) (*types.Ballot, error) {
	b := &types.Ballot{}
	if err := s.getArtifact(ballotPrefix, ballotKey(pollID, seq), b); err != nil {
		return nil, err
	}
	return b, nil
}

// Ballots returns up to limit ballots with a sequence id above after, in
// order. Sequence ids are dense, so the page is read by direct lookups.
func (s *Storage) Ballots(pollID types.PollID, after uint64, limit int) (*types.BallotPage, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}
	poll, err := s.Poll(pollID)
	if err != nil {
		return nil, err
	}
	page := &types.BallotPage{Items: []*types.Ballot{}, Total: poll.BallotCount}
	seq := after + 1
	for ; seq <= poll.BallotCount && len(page.Items) < limit; seq++ {
		b, err := s.Ballot(pollID, seq)
		if err != nil {
			return nil, fmt.Errorf("ballot %d: %w", seq, err)
		}
		page.Items = append(page.Items, b)
	}
	if seq <= poll.BallotCount {
		next := seq - 1
		page.NextAfter = &next
	}
	return page, nil
}
