package witness

import (
	"errors"
	"math/big"
	"testing"
	"zkrollup-witness/common"
	"zkrollup-witness/test/til"

	"github.com/iden3/go-iden3-crypto/babyjub"
	"github.com/iden3/go-iden3-crypto/constants"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigDataInputFromCloseOp(t *testing.T) {
	user := til.NewUser(1, "A")
	op := newSignedCloseOp(t, &user)

	s, err := NewSigDataInputFromCloseOp(op)
	require.NoError(t, err)

	msgs, err := op.Tx.SigMsgs()
	require.NoError(t, err)
	assert.Equal(t, msgs[0], s.FirstSigMsg)
	assert.Equal(t, msgs[1], s.SecondSigMsg)
	assert.Equal(t, msgs[2], s.ThirdSigMsg)

	pk := user.BJJ.Public()
	assert.Equal(t, 0, pk.X.Cmp(s.PubKeyX))
	assert.Equal(t, 0, pk.Y.Cmp(s.PubKeyY))

	// the bundle holds a valid signature of the message hash
	sig := &babyjub.Signature{
		R8: &babyjub.Point{X: s.R8x, Y: s.R8y},
		S:  s.S,
	}
	assert.True(t, pk.VerifyPoseidon(s.MsgHash, sig))
}

func TestSigDataInputMissingSignature(t *testing.T) {
	user := til.NewUser(1, "A")
	op := user.CloseOp()

	s, err := NewSigDataInputFromCloseOp(op)
	assert.Nil(t, s)
	assert.True(t, errors.Is(err, ErrMissingSignature))

	op.Tx.Signature = &common.TxSignature{}
	s, err = NewSigDataInputFromCloseOp(op)
	assert.Nil(t, s)
	assert.True(t, errors.Is(err, ErrMissingSignature))
}

func TestSigDataInputMalformedSignature(t *testing.T) {
	user := til.NewUser(1, "A")
	op := newSignedCloseOp(t, &user)

	badKey := *op
	badKey.Tx.Signature = &common.TxSignature{Signature: op.Tx.Signature.Signature}
	for i := range badKey.Tx.Signature.PubKey {
		badKey.Tx.Signature.PubKey[i] = 0xff
	}
	s, err := NewSigDataInputFromCloseOp(&badKey)
	assert.Nil(t, s)
	assert.True(t, errors.Is(err, ErrMalformedSignature))

	badSig := *op
	badSig.Tx.Signature = &common.TxSignature{PubKey: op.Tx.Signature.PubKey}
	for i := 0; i < 32; i++ {
		badSig.Tx.Signature.Signature[i] = 0xff
	}
	s, err = NewSigDataInputFromCloseOp(&badSig)
	assert.Nil(t, s)
	assert.True(t, errors.Is(err, ErrMalformedSignature))
}

func TestSigDataInputClone(t *testing.T) {
	user := til.NewUser(1, "A")
	s, err := NewSigDataInputFromCloseOp(newSignedCloseOp(t, &user))
	require.NoError(t, err)

	c := s.Clone()
	requireSameJSON(t, s, c)
	c.S.Add(c.S, big.NewInt(1))
	assert.NotEqual(t, 0, s.S.Cmp(c.S))

	empty := NewEmptySigDataInput()
	for _, v := range empty.fields() {
		assert.Equal(t, "0", v.String())
	}
}

func TestDefaultParams(t *testing.T) {
	params := DefaultParams(testNLevels)
	require.NoError(t, params.Validate())
	assert.Equal(t, 0, constants.Q.Cmp(params.Modulus))
	assert.Equal(t, 32, params.FieldBytes)
	assert.True(t, params.InField(big.NewInt(0)))
	assert.False(t, params.InField(constants.Q))
	assert.False(t, params.InField(big.NewInt(-1)))
	assert.False(t, params.InField(nil))

	params.NLevels = 0
	assert.Error(t, params.Validate())
	params = DefaultParams(testNLevels)
	params.FieldBytes = common.ChunkBytes
	assert.Error(t, params.Validate())
}
