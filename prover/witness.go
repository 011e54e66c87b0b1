package prover

import (
	"fmt"

	"github.com/vocdoni/anonvote-node/types"
	"github.com/vocdoni/anonvote-node/types/params"
)

// TallyWitness is the witness of the batch tally circuit. Per ballot arrays
// always hold MaxBatch entries; when the batch is shorter the last real
// entry is repeated. Field names follow the circuit signal names.
type TallyWitness struct {
	RootBefore       *types.BigInt   `json:"Root_before"`
	HashBefore       *types.BigInt   `json:"H_before"`
	CommitmentBefore *types.BigInt   `json:"TallyHash_before"`
	SaltBefore       *types.BigInt   `json:"TallySalt_before"`
	SaltAfter        *types.BigInt   `json:"TallySalt_after"`
	TallyBefore      []*types.BigInt `json:"Tally_before"`
	BatchLen         *types.BigInt   `json:"BatchLen"`
	SecretKey        *types.BigInt   `json:"SK"`

	EphemeralKey  [][]*types.BigInt `json:"EphKey"`
	Nonce         []*types.BigInt   `json:"Nonce"`
	Ciphertext    [][]*types.BigInt `json:"CT"`
	Siblings      [][]*types.BigInt `json:"Siblings"`
	PrevChoice    []*types.BigInt   `json:"PrevChoice"`
	PrevRevoteKey [][]*types.BigInt `json:"RevotingKeyOldActual"`
	NoAux         []*types.BigInt   `json:"NoAux"`
	AuxKey        []*types.BigInt   `json:"AuxKey"`
	AuxValue      []*types.BigInt   `json:"AuxValue"`
	IsPrevEmpty   []*types.BigInt   `json:"IsPrevEmpty"`
}

// Len returns the number of real ballots of the batch.
func (w *TallyWitness) Len() int {
	if w.BatchLen == nil || !w.BatchLen.MathBigInt().IsInt64() {
		return -1
	}
	return int(w.BatchLen.MathBigInt().Int64())
}

// Validate checks the shape of the witness.
func (w *TallyWitness) Validate() error {
	if w.RootBefore == nil || w.HashBefore == nil || w.CommitmentBefore == nil ||
		w.SaltBefore == nil || w.SaltAfter == nil || w.SecretKey == nil {
		return fmt.Errorf("incomplete tally witness")
	}
	if n := w.Len(); n < 1 || n > params.MaxBatch {
		return fmt.Errorf("batch length %d not in [1, %d]", n, params.MaxBatch)
	}
	if len(w.TallyBefore) != params.MaxChoices {
		return fmt.Errorf("tally has %d counters, expected %d", len(w.TallyBefore), params.MaxChoices)
	}
	rows := map[string]int{
		"EphKey":               len(w.EphemeralKey),
		"Nonce":                len(w.Nonce),
		"CT":                   len(w.Ciphertext),
		"Siblings":             len(w.Siblings),
		"PrevChoice":           len(w.PrevChoice),
		"RevotingKeyOldActual": len(w.PrevRevoteKey),
		"NoAux":                len(w.NoAux),
		"AuxKey":               len(w.AuxKey),
		"AuxValue":             len(w.AuxValue),
		"IsPrevEmpty":          len(w.IsPrevEmpty),
	}
	for name, n := range rows {
		if n != params.MaxBatch {
			return fmt.Errorf("%s has %d entries, expected %d", name, n, params.MaxBatch)
		}
	}
	for i := range params.MaxBatch {
		if len(w.EphemeralKey[i]) != 2 || len(w.PrevRevoteKey[i]) != 2 {
			return fmt.Errorf("entry %d: malformed point", i)
		}
		if len(w.Ciphertext[i]) != params.CiphertextLimbs {
			return fmt.Errorf("entry %d: ciphertext has %d limbs", i, len(w.Ciphertext[i]))
		}
		if len(w.Siblings[i]) != params.StateDepth {
			return fmt.Errorf("entry %d: %d siblings", i, len(w.Siblings[i]))
		}
	}
	return nil
}
