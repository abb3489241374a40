package witness

import (
	"fmt"
	"math/big"
	"zkrollup-witness/common"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// Params are the circuit parameters used to build and encode the witnesses.
// They are passed explicitly so that witnesses for different circuits can be
// built in the same process.
type Params struct {
	// NLevels is the depth of the account tree
	NLevels int `json:"nLevels"`
	// Modulus of the scalar field of the circuit
	Modulus *big.Int `json:"modulus"`
	// FieldBytes is the byte length of a field element
	FieldBytes int `json:"fieldBytes"`
	// RequireEmptyBalance rejects closing accounts that still hold a
	// non zero balance of any token
	RequireEmptyBalance bool `json:"requireEmptyBalance"`
}

// DefaultParams returns the Params of the BN254 circuit for an account tree
// of nLevels
func DefaultParams(nLevels int) *Params {
	return &Params{
		NLevels:    nLevels,
		Modulus:    fr.Modulus(),
		FieldBytes: fr.Bytes,
	}
}

// Validate checks that the Params are consistent with the pubdata and tree
// layouts
func (p *Params) Validate() error {
	if p.NLevels <= 0 || p.NLevels > 32 { //nolint:gomnd
		return common.Wrap(fmt.Errorf("invalid NLevels %d", p.NLevels))
	}
	if p.Modulus == nil || p.Modulus.Sign() <= 0 {
		return common.Wrap(fmt.Errorf("invalid field modulus"))
	}
	if p.FieldBytes <= common.ChunkBytes || p.FieldBytes <= common.SigMsgBytesLen {
		return common.Wrap(fmt.Errorf("field of %d bytes can not hold a pubdata chunk", p.FieldBytes))
	}
	return nil
}

// InField returns true if v is an element of the scalar field
func (p *Params) InField(v *big.Int) bool {
	return v != nil && v.Sign() >= 0 && v.Cmp(p.Modulus) < 0
}
