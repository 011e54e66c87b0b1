package types

import (
	"encoding/json"
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/fxamacker/cbor/v2"
)

func TestBigMarshalUnmarshalJSON(t *testing.T) {
	c := qt.New(t)
	bi := (*BigInt)(big.NewInt(1234567890))
	data, err := json.Marshal(map[string]*BigInt{"bi": bi})
	c.Assert(err, qt.IsNil)
	c.Assert(string(data), qt.Equals, `{"bi":"1234567890"}`)

	var unmarshaled map[string]*BigInt
	c.Assert(json.Unmarshal(data, &unmarshaled), qt.IsNil)
	c.Assert(unmarshaled["bi"].Equal(bi), qt.IsTrue)
}

func TestBigMarshalUnmarshalCBOR(t *testing.T) {
	c := qt.New(t)
	// larger than any fixed width integer
	huge, ok := new(big.Int).SetString("21888242871839275222246405745257275088548364400416034343698204186575808495616", 10)
	c.Assert(ok, qt.IsTrue)
	data, err := cbor.Marshal(map[string]*BigInt{"bi": (*BigInt)(huge)})
	c.Assert(err, qt.IsNil)

	var unmarshaled map[string]*BigInt
	c.Assert(cbor.Unmarshal(data, &unmarshaled), qt.IsNil)
	c.Assert(unmarshaled["bi"].MathBigInt().Cmp(huge), qt.Equals, 0)
}

func TestBigUnmarshalJSONNumeric(t *testing.T) {
	c := qt.New(t)

	var biString BigInt
	c.Assert(json.Unmarshal([]byte(`"123456789"`), &biString), qt.IsNil)
	c.Assert(biString.String(), qt.Equals, "123456789")

	var biNumeric BigInt
	c.Assert(json.Unmarshal([]byte(`123456789`), &biNumeric), qt.IsNil)
	c.Assert(biNumeric.String(), qt.Equals, "123456789")
}

func TestBigNilHandling(t *testing.T) {
	c := qt.New(t)
	var nilBig *BigInt
	c.Assert(nilBig.String(), qt.Equals, "0")
	c.Assert(nilBig.Clone().Sign(), qt.Equals, 0)
	c.Assert(nilBig.Equal(nil), qt.IsTrue)
	c.Assert(nilBig.Equal(NewInt(0)), qt.IsFalse)

	src := big.NewInt(5)
	cp := NewBigInt(src)
	src.SetInt64(6)
	c.Assert(cp.String(), qt.Equals, "5")
	c.Assert(MathBigInts(BigInts([]*big.Int{big.NewInt(1), big.NewInt(2)}))[1].Int64(), qt.Equals, int64(2))
}
