package common

import (
	"math"
	"math/big"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/iden3/go-iden3-crypto/babyjub"
	"github.com/iden3/go-iden3-crypto/poseidon"
)

const (
	// CloseTxBytesLen is the length of the signed close message
	// [1 type | 20 account | 5 nonce | 8 validFrom | 8 validUntil]
	CloseTxBytesLen = 1 + 20 + NonceBytesLen + 8 + 8
	// SigMsgBytesLen is the number of message bytes packed in each of the
	// signature message field elements
	SigMsgBytesLen = 31
	// NSigMsgs is the number of field elements of a signed message
	NSigMsgs = 3
)

// TimeRange is the validity window of a transaction, in seconds
type TimeRange struct {
	ValidFrom  uint64 `json:"validFrom"`
	ValidUntil uint64 `json:"validUntil"`
}

// AlwaysValid returns a TimeRange without restrictions
func AlwaysValid() TimeRange {
	return TimeRange{ValidFrom: 0, ValidUntil: math.MaxUint64}
}

// TxSignature is the signature of a transaction together with the public
// key of the signer
type TxSignature struct {
	PubKey    babyjub.PublicKeyComp `json:"pubKey"`
	Signature babyjub.SignatureComp `json:"signature"`
}

// IsEmpty returns true if the TxSignature has all its bytes to zero
func (s *TxSignature) IsEmpty() bool {
	return s == nil ||
		(s.PubKey == babyjub.PublicKeyComp{} && s.Signature == babyjub.SignatureComp{})
}

// CloseTx is the user request to close an account
type CloseTx struct {
	Account   ethCommon.Address `json:"account"`
	Nonce     Nonce             `json:"nonce"`
	TimeRange *TimeRange        `json:"timeRange,omitempty"`
	Signature *TxSignature      `json:"signature,omitempty"`
}

// Validity returns the TimeRange of the tx, AlwaysValid if not set
func (tx *CloseTx) Validity() TimeRange {
	if tx.TimeRange == nil {
		return AlwaysValid()
	}
	return *tx.TimeRange
}

// Bytes returns the message that is signed by the account owner
func (tx *CloseTx) Bytes() ([CloseTxBytesLen]byte, error) {
	var b [CloseTxBytesLen]byte
	nonceBytes, err := tx.Nonce.Bytes()
	if err != nil {
		return b, Wrap(err)
	}
	validity := tx.Validity()
	b[0] = byte(OpTypeClose)
	copy(b[1:21], tx.Account.Bytes())
	copy(b[21:26], nonceBytes[:])
	copy(b[26:34], new(big.Int).SetUint64(validity.ValidFrom).FillBytes(make([]byte, 8)))
	copy(b[34:42], new(big.Int).SetUint64(validity.ValidUntil).FillBytes(make([]byte, 8)))
	return b, nil
}

// SigMsgs returns the signed message packed into field elements of
// SigMsgBytesLen bytes each, zero padded at the end
func (tx *CloseTx) SigMsgs() ([NSigMsgs]*big.Int, error) {
	var msgs [NSigMsgs]*big.Int
	b, err := tx.Bytes()
	if err != nil {
		return msgs, Wrap(err)
	}
	var padded [NSigMsgs * SigMsgBytesLen]byte
	copy(padded[:], b[:])
	for i := 0; i < NSigMsgs; i++ {
		msgs[i] = new(big.Int).SetBytes(padded[i*SigMsgBytesLen : (i+1)*SigMsgBytesLen])
	}
	return msgs, nil
}

// HashToSign returns the computed Poseidon hash from the *CloseTx that will
// be signed by the sender
func (tx *CloseTx) HashToSign() (*big.Int, error) {
	msgs, err := tx.SigMsgs()
	if err != nil {
		return nil, Wrap(err)
	}
	return poseidon.Hash(msgs[:])
}

// Sign signs the CloseTx with the given BabyJubJub key
func (tx *CloseTx) Sign(sk *babyjub.PrivateKey) error {
	h, err := tx.HashToSign()
	if err != nil {
		return Wrap(err)
	}
	sig := sk.SignPoseidon(h)
	tx.Signature = &TxSignature{
		PubKey:    sk.Public().Compress(),
		Signature: sig.Compress(),
	}
	return nil
}

// CloseOp is a CloseTx addressed to the account slot that it closes
type CloseOp struct {
	Idx AccountIdx `json:"accountIdx"`
	Tx  CloseTx    `json:"tx"`
}

// OpType returns OpTypeClose
func (op *CloseOp) OpType() OpType {
	return OpTypeClose
}

// AccountIdx returns the slot closed by the operation
func (op *CloseOp) AccountIdx() AccountIdx {
	return op.Idx
}
