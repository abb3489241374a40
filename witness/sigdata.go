package witness

import (
	"fmt"
	"math/big"
	"zkrollup-witness/common"

	"github.com/mitchellh/copystructure"
)

// SigDataInput is the signature of an operation, together with the signed
// message and the signer public key, expressed as the field elements that
// the circuit uses to check the signature
type SigDataInput struct {
	FirstSigMsg  *big.Int `json:"firstSigMsg"`
	SecondSigMsg *big.Int `json:"secondSigMsg"`
	ThirdSigMsg  *big.Int `json:"thirdSigMsg"`
	MsgHash      *big.Int `json:"msgHash"`
	R8x          *big.Int `json:"r8x"`
	R8y          *big.Int `json:"r8y"`
	S            *big.Int `json:"s"`
	PubKeyX      *big.Int `json:"pubKeyX"`
	PubKeyY      *big.Int `json:"pubKeyY"`
}

// NewEmptySigDataInput returns a SigDataInput with all the values at 0, used
// by the operations that are not signed
func NewEmptySigDataInput() *SigDataInput {
	return &SigDataInput{
		FirstSigMsg:  big.NewInt(0),
		SecondSigMsg: big.NewInt(0),
		ThirdSigMsg:  big.NewInt(0),
		MsgHash:      big.NewInt(0),
		R8x:          big.NewInt(0),
		R8y:          big.NewInt(0),
		S:            big.NewInt(0),
		PubKeyX:      big.NewInt(0),
		PubKeyY:      big.NewInt(0),
	}
}

// NewSigDataInputFromCloseOp returns the SigDataInput of the CloseOp. The
// signature is not verified.
func NewSigDataInputFromCloseOp(op *common.CloseOp) (*SigDataInput, error) {
	sig := op.Tx.Signature
	if sig.IsEmpty() {
		return nil, common.Wrap(fmt.Errorf("%w: close of account %d", ErrMissingSignature, op.Idx))
	}
	pk, err := sig.PubKey.Decompress()
	if err != nil {
		return nil, common.Wrap(fmt.Errorf("%w: public key: %v", ErrMalformedSignature, err))
	}
	signature, err := sig.Signature.Decompress()
	if err != nil {
		return nil, common.Wrap(fmt.Errorf("%w: signature: %v", ErrMalformedSignature, err))
	}
	msgs, err := op.Tx.SigMsgs()
	if err != nil {
		return nil, common.Wrap(fmt.Errorf("%w: message: %v", ErrMalformedSignature, err))
	}
	msgHash, err := op.Tx.HashToSign()
	if err != nil {
		return nil, common.Wrap(fmt.Errorf("%w: message hash: %v", ErrMalformedSignature, err))
	}

	s := &SigDataInput{
		FirstSigMsg:  msgs[0],
		SecondSigMsg: msgs[1],
		ThirdSigMsg:  msgs[2],
		MsgHash:      msgHash,
		R8x:          new(big.Int).Set(signature.R8.X),
		R8y:          new(big.Int).Set(signature.R8.Y),
		S:            new(big.Int).Set(signature.S),
		PubKeyX:      new(big.Int).Set(pk.X),
		PubKeyY:      new(big.Int).Set(pk.Y),
	}
	for name, v := range s.fields() {
		if !inField(v) {
			return nil, common.Wrap(fmt.Errorf("%w: %s not inside the finite field",
				ErrMalformedSignature, name))
		}
	}
	return s, nil
}

func (s *SigDataInput) fields() map[string]*big.Int {
	return map[string]*big.Int{
		"firstSigMsg":  s.FirstSigMsg,
		"secondSigMsg": s.SecondSigMsg,
		"thirdSigMsg":  s.ThirdSigMsg,
		"msgHash":      s.MsgHash,
		"r8x":          s.R8x,
		"r8y":          s.R8y,
		"s":            s.S,
		"pubKeyX":      s.PubKeyX,
		"pubKeyY":      s.PubKeyY,
	}
}

// Clone returns a deep copy of the SigDataInput
func (s *SigDataInput) Clone() *SigDataInput {
	return copystructure.Must(copystructure.Copy(s)).(*SigDataInput)
}
