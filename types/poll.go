package types

import (
	"fmt"
	"strconv"
	"time"
)

// PollID identifies a poll on the ledger.
type PollID uint64

// String returns the decimal form of the id.
func (p PollID) String() string {
	return strconv.FormatUint(uint64(p), 10)
}

// ParsePollID parses the decimal form of a poll id.
func ParsePollID(s string) (PollID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid poll id %q: %w", s, err)
	}
	return PollID(v), nil
}

// Poll is the ledger view of a poll. RunningMessageHash chains the message
// hash of every ballot accepted so far.
type Poll struct {
	ID                 PollID    `json:"id" cbor:"0,keyasint"`
	NChoices           uint8     `json:"nChoices" cbor:"1,keyasint"`
	CoordinatorKey     Point     `json:"coordinatorKey" cbor:"2,keyasint"`
	CensusRoot         HexBytes  `json:"censusRoot" cbor:"3,keyasint"`
	CensusURL          string    `json:"censusUrl" cbor:"4,keyasint"`
	DescriptionURL     string    `json:"descriptionUrl,omitempty" cbor:"5,keyasint,omitempty"`
	VotingStart        time.Time `json:"votingStart" cbor:"6,keyasint"`
	VotingEnd          time.Time `json:"votingEnd" cbor:"7,keyasint"`
	RunningMessageHash HexBytes  `json:"runningMessageHash" cbor:"8,keyasint"`
	BallotCount        uint64    `json:"ballotCount" cbor:"9,keyasint"`
	Results            []*BigInt `json:"results,omitempty" cbor:"10,keyasint,omitempty"`
}

// Finished reports whether the poll results have been published.
func (p *Poll) Finished() bool {
	return len(p.Results) > 0
}

// Ballot is an encrypted vote as recorded by the ledger. The ciphertext is the
// concatenation of its 32-byte big-endian limbs.
type Ballot struct {
	SequenceID   uint64   `json:"id" cbor:"0,keyasint"`
	EphemeralKey Point    `json:"ephemeralKey" cbor:"1,keyasint"`
	Nonce        uint64   `json:"nonce" cbor:"2,keyasint"`
	Ciphertext   HexBytes `json:"ciphertext" cbor:"3,keyasint"`
}

// BallotPage is a page of ballots ordered by sequence id. NextAfter is set
// when more ballots follow the page.
type BallotPage struct {
	Items     []*Ballot `json:"items"`
	Total     uint64    `json:"total"`
	NextAfter *uint64   `json:"nextAfter,omitempty"`
}

// TallyAccount is the ledger record of one tallier's progress on a poll. It
// mirrors the last committed checkpoint values.
type TallyAccount struct {
	PollID             PollID   `json:"pollId" cbor:"0,keyasint"`
	Tallier            string   `json:"tallier" cbor:"1,keyasint"`
	StateRoot          HexBytes `json:"stateRoot" cbor:"2,keyasint"`
	RunningMessageHash HexBytes `json:"runningMessageHash" cbor:"3,keyasint"`
	TallyCommitment    HexBytes `json:"tallyCommitment" cbor:"4,keyasint"`
}

// BatchCommit is the ledger write produced by a processed batch.
type BatchCommit struct {
	PollID                PollID   `json:"pollId" cbor:"0,keyasint"`
	Tallier               string   `json:"tallier" cbor:"1,keyasint"`
	Proof                 HexBytes `json:"proof" cbor:"2,keyasint"`
	NewStateRoot          HexBytes `json:"newStateRoot" cbor:"3,keyasint"`
	NewRunningMessageHash HexBytes `json:"newRunningMessageHash" cbor:"4,keyasint"`
	NewTallyCommitment    HexBytes `json:"newTallyCommitment" cbor:"5,keyasint"`
}

// Finalization reveals the final counts and the salt of the last commitment.
type Finalization struct {
	PollID  PollID    `json:"pollId" cbor:"0,keyasint"`
	Tallier string    `json:"tallier" cbor:"1,keyasint"`
	Counts  []*BigInt `json:"counts" cbor:"2,keyasint"`
	Salt    *BigInt   `json:"salt" cbor:"3,keyasint"`
}

// VoteSubmission is a ballot together with the vote proof that binds its
// message hash to the poll.
type VoteSubmission struct {
	Ballot *Ballot  `json:"ballot"`
	Proof  HexBytes `json:"proof"`
}
