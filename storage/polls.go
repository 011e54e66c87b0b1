package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/vocdoni/anonvote-node/db"
	"github.com/vocdoni/anonvote-node/db/prefixeddb"
	"github.com/vocdoni/anonvote-node/types"
)

// PollUpdateCallback mutates a poll inside UpdatePoll.
type PollUpdateCallback func(*types.Poll) error

// CreatePoll stores a new poll. A zero id is replaced by the next free one.
// It returns ErrKeyAlreadyExists if the id is taken.
func (s *Storage) CreatePoll(poll *types.Poll) (types.PollID, error) {
	if poll == nil {
		return 0, fmt.Errorf("nil poll")
	}
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	if poll.ID == 0 {
		ids, err := s.listPollsUnsafe()
		if err != nil {
			return 0, err
		}
		poll.ID = 1
		if len(ids) > 0 {
			poll.ID = ids[len(ids)-1] + 1
		}
	}
	if _, err := prefixeddb.NewPrefixedReader(s.db, pollPrefix).Get(pollKey(poll.ID)); err == nil {
		return 0, ErrKeyAlreadyExists
	} else if !errors.Is(err, db.ErrKeyNotFound) {
		return 0, err
	}
	if err := s.setArtifact(pollPrefix, pollKey(poll.ID), poll); err != nil {
		return 0, err
	}
	return poll.ID, nil
}

// Poll returns the poll or ErrNotFound.
func (s *Storage) Poll(pollID types.PollID) (*types.Poll, error) {
	poll := &types.Poll{}
	if err := s.getArtifact(pollPrefix, pollKey(pollID), poll); err != nil {
		return nil, err
	}
	return poll, nil
}

// UpdatePoll loads the poll, applies the callbacks in order and stores the
// result. Nothing is written if a callback fails.
func (s *Storage) UpdatePoll(pollID types.PollID, updates ...PollUpdateCallback) error {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	poll, err := s.Poll(pollID)
	if err != nil {
		return err
	}
	for _, update := range updates {
		if err := update(poll); err != nil {
			return err
		}
	}
	poll.ID = pollID
	return s.setArtifact(pollPrefix, pollKey(pollID), poll)
}

// ListPolls returns the ids of every stored poll in ascending order.
func (s *Storage) ListPolls() ([]types.PollID, error) {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	return s.listPollsUnsafe()
}

func (s *Storage) listPollsUnsafe() ([]types.PollID, error) {
	keys, err := s.listArtifacts(pollPrefix, nil)
	if err != nil {
		return nil, err
	}
	ids := make([]types.PollID, 0, len(keys))
	for _, k := range keys {
		if len(k) != 8 {
			return nil, fmt.Errorf("malformed poll key %x", k)
		}
		ids = append(ids, types.PollID(binary.BigEndian.Uint64(k)))
	}
	return ids, nil
}
