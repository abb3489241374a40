// Package witness builds the circuit witness of the rollup operations: the
// state transition applied to the account tree, the pubdata committed
// on-chain and the sequence of circuit operations that proves it.
package witness

import (
	"errors"
	"fmt"
	"math/big"
	"zkrollup-witness/common"
)

var (
	// ErrAccountNotFound is used when the operation addresses an account
	// slot that has never been used
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountNotEmpty is used when closing an account that still holds
	// balance and Params.RequireEmptyBalance is set
	ErrAccountNotEmpty = errors.New("account balance is not empty")
	// ErrAccountIdxOutOfRange is used when the AccountIdx does not fit in
	// the levels of the account tree
	ErrAccountIdxOutOfRange = errors.New("account idx out of the tree range")
	// ErrMissingSignature is used when the transaction carries no signature
	ErrMissingSignature = errors.New("transaction has no signature")
	// ErrMalformedSignature is used when the signature or the public key of
	// the transaction can not be decoded into field elements
	ErrMalformedSignature = errors.New("malformed transaction signature")
	// ErrParamsMismatch is used when the Params do not describe the tree
	// the witness is built on
	ErrParamsMismatch = errors.New("params do not match the account tree")
)

// Witness is the witness of one operation, already applied to the account
// tree
type Witness interface {
	// OpType returns the type of the operation
	OpType() common.OpType
	// Roots returns the account root before and after the operation
	Roots() (before, after *big.Int)
	// GetPubdata returns the on-chain public data of the operation
	GetPubdata() []byte
	// CalculateOperations returns one circuit operation per pubdata chunk
	CalculateOperations(input SigDataInput) []common.Operation
}

// ApplyOp applies the operation to the tree and returns its Witness
func ApplyOp(tree AccountTree, op common.Op, params *Params) (Witness, error) {
	switch o := op.(type) {
	case *common.CloseOp:
		return ApplyCloseTx(tree, o, params)
	default:
		return nil, common.Wrap(fmt.Errorf("%w: %s", common.ErrUnsupportedOp, op.OpType()))
	}
}

// NewSigDataInput returns the signature input of the operation
func NewSigDataInput(op common.Op) (*SigDataInput, error) {
	switch o := op.(type) {
	case *common.CloseOp:
		return NewSigDataInputFromCloseOp(o)
	default:
		return nil, common.Wrap(fmt.Errorf("%w: %s", common.ErrUnsupportedOp, op.OpType()))
	}
}

func checkParams(tree AccountTree, params *Params) error {
	if params == nil {
		return common.Wrap(fmt.Errorf("%w: nil params", ErrParamsMismatch))
	}
	if err := params.Validate(); err != nil {
		return common.Wrap(err)
	}
	if params.NLevels != tree.NLevels() {
		return common.Wrap(fmt.Errorf("%w: params nLevels %d, tree nLevels %d",
			ErrParamsMismatch, params.NLevels, tree.NLevels()))
	}
	return nil
}
