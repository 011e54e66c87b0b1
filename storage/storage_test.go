package storage

import (
	"math/big"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/google/uuid"

	"github.com/vocdoni/anonvote-node/crypto/signatures/eddsa"
	"github.com/vocdoni/anonvote-node/db"
	"github.com/vocdoni/anonvote-node/db/metadb"
	"github.com/vocdoni/anonvote-node/types"
)

func newTestStorage(t *testing.T) *Storage {
	testdb, err := metadb.New(db.TypePebble, t.TempDir(), "")
	qt.Assert(t, err, qt.IsNil)
	stg := New(testdb)
	t.Cleanup(stg.Close)
	return stg
}

func testCheckpoint() *Checkpoint {
	return &Checkpoint{
		PollID:                  7,
		Tallier:                 "00ab",
		Session:                 uuid.New(),
		LastProcessedSequenceID: 12,
		ProcessedCount:          12,
		StateRoot:               types.MustWord(big.NewInt(1)),
		RunningMessageHash:      types.MustWord(big.NewInt(2)),
		TallyCommitment:         types.MustWord(big.NewInt(3)),
		TallySalt:               types.NewBigInt(new(big.Int).Lsh(big.NewInt(1), 63)),
		TallyCounts:             []*types.BigInt{types.NewInt(0), types.NewInt(4), types.NewInt(0)},
		Leaves: map[uint64]*CheckpointLeaf{
			1<<63 + 5: {Choice: types.NewInt(2), RevotingKey: types.Point{X: types.MustWord(big.NewInt(9)), Y: types.MustWord(big.NewInt(10))}},
			3:         {Choice: types.NewInt(1), RevotingKey: types.Point{X: types.MustWord(big.NewInt(11)), Y: types.MustWord(big.NewInt(12))}},
		},
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	c := qt.New(t)
	stg := newTestStorage(t)

	_, err := stg.LoadCheckpoint(7, "00ab")
	c.Assert(err, qt.ErrorIs, ErrNotFound)

	cp := testCheckpoint()
	c.Assert(stg.SaveCheckpoint(cp), qt.IsNil)

	loaded, err := stg.LoadCheckpoint(7, "00ab")
	c.Assert(err, qt.IsNil)
	c.Assert(loaded.Session, qt.Equals, cp.Session)
	c.Assert(loaded.LastProcessedSequenceID, qt.Equals, uint64(12))
	c.Assert(loaded.StateRoot, qt.DeepEquals, cp.StateRoot)
	c.Assert(loaded.TallySalt.String(), qt.Equals, "9223372036854775808")
	c.Assert(loaded.Counts()[1].Int64(), qt.Equals, int64(4))
	c.Assert(loaded.LeafIndexes(), qt.DeepEquals, []uint64{3, 1<<63 + 5})
	c.Assert(loaded.Leaves[3].RevotingKey.X.BigInt().Int64(), qt.Equals, int64(11))
	c.Assert(loaded.CreatedAt.IsZero(), qt.IsFalse)

	// loads return independent copies
	loaded.TallyCounts[1] = types.NewInt(100)
	again, err := stg.LoadCheckpoint(7, "00ab")
	c.Assert(err, qt.IsNil)
	c.Assert(again.TallyCounts[1].String(), qt.Equals, "4")
}

func TestCheckpointSurvivesReopen(t *testing.T) {
	c := qt.New(t)
	dir := t.TempDir()
	testdb, err := metadb.New(db.TypePebble, dir, "")
	c.Assert(err, qt.IsNil)
	stg := New(testdb)
	cp := testCheckpoint()
	cp.Pending = &types.BatchCommit{PollID: 7, Tallier: "00ab", Proof: types.HexBytes{1, 2}}
	c.Assert(stg.SaveCheckpoint(cp), qt.IsNil)
	stg.Close()

	testdb, err = metadb.New(db.TypePebble, dir, "")
	c.Assert(err, qt.IsNil)
	stg = New(testdb)
	defer stg.Close()
	loaded, err := stg.LoadCheckpoint(7, "00ab")
	c.Assert(err, qt.IsNil)
	c.Assert(loaded.Pending, qt.IsNotNil)
	c.Assert(loaded.Pending.Proof, qt.DeepEquals, types.HexBytes{1, 2})
	c.Assert(loaded.Leaves, qt.HasLen, 2)
}

func TestCheckpointOverwriteAndDelete(t *testing.T) {
	c := qt.New(t)
	stg := newTestStorage(t)

	cp := testCheckpoint()
	c.Assert(stg.SaveCheckpoint(cp), qt.IsNil)
	other := testCheckpoint()
	other.PollID = 8
	c.Assert(stg.SaveCheckpoint(other), qt.IsNil)

	cp.Leaves = map[uint64]*CheckpointLeaf{}
	cp.Pending = nil
	cp.LastProcessedSequenceID = 20
	c.Assert(stg.SaveCheckpoint(cp), qt.IsNil)
	loaded, err := stg.LoadCheckpoint(7, "00ab")
	c.Assert(err, qt.IsNil)
	c.Assert(loaded.Leaves, qt.HasLen, 0)
	c.Assert(loaded.LastProcessedSequenceID, qt.Equals, uint64(20))

	keys, err := stg.ListCheckpoints()
	c.Assert(err, qt.IsNil)
	c.Assert(keys, qt.DeepEquals, []CheckpointKey{{PollID: 7, Tallier: "00ab"}, {PollID: 8, Tallier: "00ab"}})

	c.Assert(stg.DeleteCheckpoint(7, "00ab"), qt.IsNil)
	_, err = stg.LoadCheckpoint(7, "00ab")
	c.Assert(err, qt.ErrorIs, ErrNotFound)
	c.Assert(stg.DeleteCheckpoint(7, "00ab"), qt.IsNil)

	c.Assert(stg.SaveCheckpoint(&Checkpoint{PollID: 1}), qt.ErrorMatches, "checkpoint needs a tallier")
}

func TestPollsAndBallots(t *testing.T) {
	c := qt.New(t)
	stg := newTestStorage(t)

	id, err := stg.CreatePoll(&types.Poll{NChoices: 3, VotingEnd: time.Now()})
	c.Assert(err, qt.IsNil)
	c.Assert(id, qt.Equals, types.PollID(1))
	id, err = stg.CreatePoll(&types.Poll{NChoices: 2})
	c.Assert(err, qt.IsNil)
	c.Assert(id, qt.Equals, types.PollID(2))
	_, err = stg.CreatePoll(&types.Poll{ID: 2})
	c.Assert(err, qt.ErrorIs, ErrKeyAlreadyExists)

	ids, err := stg.ListPolls()
	c.Assert(err, qt.IsNil)
	c.Assert(ids, qt.DeepEquals, []types.PollID{1, 2})

	chain := func(prev types.HexBytes) (types.HexBytes, error) {
		return append(types.HexBytes{byte(len(prev))}, prev...), nil
	}
	for n := range 5 {
		b, err := stg.AppendBallot(1, &types.Ballot{Nonce: uint64(n)}, chain)
		c.Assert(err, qt.IsNil)
		c.Assert(b.SequenceID, qt.Equals, uint64(n+1))
	}
	_, err = stg.AppendBallot(9, &types.Ballot{}, chain)
	c.Assert(err, qt.ErrorIs, ErrNotFound)

	poll, err := stg.Poll(1)
	c.Assert(err, qt.IsNil)
	c.Assert(poll.BallotCount, qt.Equals, uint64(5))
	c.Assert(poll.RunningMessageHash, qt.HasLen, 5)

	page, err := stg.Ballots(1, 0, 2)
	c.Assert(err, qt.IsNil)
	c.Assert(page.Total, qt.Equals, uint64(5))
	c.Assert(page.Items, qt.HasLen, 2)
	c.Assert(page.Items[1].SequenceID, qt.Equals, uint64(2))
	c.Assert(*page.NextAfter, qt.Equals, uint64(2))

	page, err = stg.Ballots(1, 2, 10)
	c.Assert(err, qt.IsNil)
	c.Assert(page.Items, qt.HasLen, 3)
	c.Assert(page.Items[0].Nonce, qt.Equals, uint64(2))
	c.Assert(page.NextAfter, qt.IsNil)

	page, err = stg.Ballots(1, 5, 10)
	c.Assert(err, qt.IsNil)
	c.Assert(page.Items, qt.HasLen, 0)

	c.Assert(stg.UpdatePoll(1, func(p *types.Poll) error {
		p.Results = []*types.BigInt{types.NewInt(1)}
		return nil
	}), qt.IsNil)
	poll, err = stg.Poll(1)
	c.Assert(err, qt.IsNil)
	c.Assert(poll.Finished(), qt.IsTrue)
}

func TestTallyAccounts(t *testing.T) {
	c := qt.New(t)
	stg := newTestStorage(t)

	acc := &types.TallyAccount{PollID: 3, Tallier: "aa", StateRoot: types.MustWord(big.NewInt(0))}
	c.Assert(stg.SetTallyAccount(acc), qt.IsNil)
	c.Assert(stg.SetTallyAccount(&types.TallyAccount{PollID: 3, Tallier: "bb"}), qt.IsNil)
	c.Assert(stg.SetTallyAccount(&types.TallyAccount{PollID: 4, Tallier: "cc"}), qt.IsNil)

	got, err := stg.TallyAccount(3, "aa")
	c.Assert(err, qt.IsNil)
	c.Assert(got.StateRoot, qt.DeepEquals, acc.StateRoot)

	talliers, err := stg.TalliersOf(3)
	c.Assert(err, qt.IsNil)
	c.Assert(talliers, qt.DeepEquals, []string{"aa", "bb"})

	c.Assert(stg.DeleteTallyAccount(3, "aa"), qt.IsNil)
	_, err = stg.TallyAccount(3, "aa")
	c.Assert(err, qt.ErrorIs, ErrNotFound)
}

func TestRevotingKeys(t *testing.T) {
	c := qt.New(t)
	stg := newTestStorage(t)

	_, err := stg.RevotingKey(1, "voter")
	c.Assert(err, qt.ErrorIs, ErrNotFound)

	k := eddsa.Generate()
	c.Assert(stg.SetRevotingKey(1, "voter", k), qt.IsNil)
	got, err := stg.RevotingKey(1, "voter")
	c.Assert(err, qt.IsNil)
	c.Assert(got.Public().Equal(k.Public()), qt.IsTrue)

	next := eddsa.Generate()
	c.Assert(stg.SetRevotingKey(1, "voter", next), qt.IsNil)
	got, err = stg.RevotingKey(1, "voter")
	c.Assert(err, qt.IsNil)
	c.Assert(got.Public().Equal(next.Public()), qt.IsTrue)
}
