package ballot

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/vocdoni/anonvote-node/census"
	bjj "github.com/vocdoni/anonvote-node/crypto/ecc/bjj_iden3"
	"github.com/vocdoni/anonvote-node/crypto/hash/poseidon"
	"github.com/vocdoni/anonvote-node/crypto/signatures/eddsa"
	"github.com/vocdoni/anonvote-node/types"
	"github.com/vocdoni/anonvote-node/types/params"
)

var (
	// ErrInvalidChoice is returned for choices outside [1, nChoices].
	ErrInvalidChoice = errors.New("invalid choice")
	// ErrNotInCensus is returned when the voter key is not registered.
	ErrNotInCensus = errors.New("voter is not in the census")
	// ErrMissingRevotingKey is returned when no new revoting key is given.
	ErrMissingRevotingKey = errors.New("a new revoting key is required")
)

// VoteInputs is the witness of the vote circuit. Field names follow the
// circuit signal names so the struct marshals straight into its input JSON.
type VoteInputs struct {
	CensusRoot              *types.BigInt   `json:"CensusRoot"`
	PollID                  *types.BigInt   `json:"PollId"`
	NChoices                *types.BigInt   `json:"N_choices"`
	RevotingKeyNew          []*types.BigInt `json:"RevotingKeyNew"`
	RevotingKeyOld          []*types.BigInt `json:"RevotingKeyOld"`
	RevotingSignaturePoint  []*types.BigInt `json:"RevotingSignaturePoint"`
	RevotingSignatureScalar *types.BigInt   `json:"RevotingSignatureScalar"`
	Key                     []*types.BigInt `json:"Key"`
	SignaturePoint          []*types.BigInt `json:"SignaturePoint"`
	SignatureScalar         *types.BigInt   `json:"SignatureScalar"`
	Path                    []*types.BigInt `json:"Path"`
	PathPos                 []*types.BigInt `json:"PathPos"`
	Choice                  *types.BigInt   `json:"Choice"`
	EphemeralScalar         *types.BigInt   `json:"ephR"`
	CoordinatorPK           []*types.BigInt `json:"CoordinatorPK"`
	RelayerPK               []*types.BigInt `json:"RelayerPK"`
	Nonce                   *types.BigInt   `json:"Nonce"`
	Ciphertext              []*types.BigInt `json:"C_CT"`
	RelayerCiphertext       []*types.BigInt `json:"R_CT"`
}

// VotePublicInputs returns the public inputs of the vote proof in circuit
// order: message hash, relayer ciphertext hash, census root, poll id, number
// of choices, coordinator key and relayer key. Direct votes carry zero
// relayer values.
func VotePublicInputs(msgHash *big.Int, poll *types.Poll) []*big.Int {
	cx, cy := poll.CoordinatorKey.Coordinates()
	return []*big.Int{
		msgHash,
		new(big.Int),
		poll.CensusRoot.BigInt(),
		new(big.Int).SetUint64(uint64(poll.ID)),
		big.NewInt(int64(poll.NChoices)),
		cx, cy,
		new(big.Int), new(big.Int),
	}
}

// Vote is everything a voter needs to cast a ballot.
type Vote struct {
	Ballot      *types.Ballot
	Encrypted   *Encrypted
	Plaintext   *Plaintext
	Nullifier   *Nullifier
	MessageHash *big.Int
	Inputs      *VoteInputs
}

// VoteRequest describes the vote to build. RevotingKeyOld is nil on the
// first vote of the voter in the poll.
type VoteRequest struct {
	Identity       *eddsa.Keypair
	Poll           *types.Poll
	Census         *census.Tree
	RevotingKeyOld *eddsa.Keypair
	RevotingKeyNew *eddsa.Keypair
	Choice         int
}

// Builder assembles ballots and vote circuit inputs.
type Builder struct {
	h     *poseidon.Hasher
	codec *Codec
}

// NewBuilder returns a Builder using h.
func NewBuilder(h *poseidon.Hasher) *Builder {
	return &Builder{h: h, codec: NewCodec(h)}
}

// Build encrypts the vote for the poll coordinator and assembles the vote
// circuit inputs.
func (b *Builder) Build(req *VoteRequest) (*Vote, error) {
	if req.Identity == nil || req.Poll == nil || req.Census == nil {
		return nil, fmt.Errorf("identity, poll and census are required")
	}
	if req.Choice < 1 || req.Choice > int(req.Poll.NChoices) || req.Choice > params.MaxChoices {
		return nil, fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidChoice, req.Choice, req.Poll.NChoices)
	}
	// A zero new key would make the next revote indistinguishable from a
	// first vote.
	if req.RevotingKeyNew == nil || req.RevotingKeyNew.Public().IsZero() {
		return nil, ErrMissingRevotingKey
	}
	coordinator, err := bjj.FromWire(req.Poll.CoordinatorKey)
	if err != nil {
		return nil, fmt.Errorf("coordinator key: %w", err)
	}
	if req.Census.Root().Cmp(req.Poll.CensusRoot.BigInt()) != 0 {
		return nil, fmt.Errorf("census root does not match the poll")
	}

	leaf, err := census.Leaf(b.h, req.Identity.Public())
	if err != nil {
		return nil, err
	}
	idx, err := req.Census.IndexOf(leaf)
	if err != nil {
		return nil, ErrNotInCensus
	}
	proof, err := req.Census.Proof(idx)
	if err != nil {
		return nil, err
	}

	nullifier, err := DeriveNullifier(b.h, req.Identity, req.Poll.ID)
	if err != nil {
		return nil, err
	}
	choice := big.NewInt(int64(req.Choice))
	newKey := req.RevotingKeyNew.Public()
	oldKey := bjj.Zero()
	revotingSig := &eddsa.Signature{R8: bjj.Zero(), S: new(big.Int)}
	if req.RevotingKeyOld != nil {
		oldKey = req.RevotingKeyOld.Public()
		msg, err := RevotingMessage(b.h, nullifier.SigHash, choice, newKey.Coordinates())
		if err != nil {
			return nil, err
		}
		revotingSig = req.RevotingKeyOld.Sign(msg)
	}

	pt := &Plaintext{
		Nullifier:      nullifier.Seed,
		Choice:         choice,
		RevotingKeyOld: oldKey,
		RevotingKeyNew: newKey,
	}
	enc, err := b.codec.Encrypt(pt, coordinator)
	if err != nil {
		return nil, fmt.Errorf("encrypt ballot: %w", err)
	}
	wire, err := enc.Ballot()
	if err != nil {
		return nil, err
	}
	msgHash, err := MessageHash(b.h, enc)
	if err != nil {
		return nil, err
	}

	inputs := &VoteInputs{
		CensusRoot:              types.NewBigInt(req.Census.Root()),
		PollID:                  new(types.BigInt).SetUint64(uint64(req.Poll.ID)),
		NChoices:                types.NewInt(int64(req.Poll.NChoices)),
		RevotingKeyNew:          types.BigInts(newKey.Coordinates()),
		RevotingKeyOld:          types.BigInts(oldKey.Coordinates()),
		RevotingSignaturePoint:  types.BigInts(revotingSig.R8.Coordinates()),
		RevotingSignatureScalar: types.NewBigInt(revotingSig.S),
		Key:                     types.BigInts(req.Identity.Public().Coordinates()),
		SignaturePoint:          types.BigInts(nullifier.Signature.R8.Coordinates()),
		SignatureScalar:         types.NewBigInt(nullifier.Signature.S),
		Path:                    types.BigInts(proof.Siblings[:]),
		PathPos:                 make([]*types.BigInt, params.CensusDepth),
		Choice:                  types.NewBigInt(choice),
		EphemeralScalar:         types.NewBigInt(enc.Randomness),
		CoordinatorPK:           types.BigInts(coordinator.Coordinates()),
		RelayerPK:               []*types.BigInt{types.NewInt(0), types.NewInt(0)},
		Nonce:                   new(types.BigInt).SetUint64(enc.Nonce),
		Ciphertext:              types.BigInts(enc.Ciphertext[:]),
		RelayerCiphertext:       []*types.BigInt{types.NewInt(0), types.NewInt(0), types.NewInt(0), types.NewInt(0)},
	}
	for k, bit := range proof.PathBits {
		inputs.PathPos[k] = types.NewInt(int64(bit))
	}

	return &Vote{
		Ballot:      wire,
		Encrypted:   enc,
		Plaintext:   pt,
		Nullifier:   nullifier,
		MessageHash: msgHash,
		Inputs:      inputs,
	}, nil
}
