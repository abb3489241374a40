package witness

import (
	"errors"
	"fmt"
	"math/big"
	"zkrollup-witness/common"
	"zkrollup-witness/log"

	"github.com/iden3/go-merkletree/db"
)

// CloseAccountWitness is the witness of a CloseOp: the leaf of the account
// before and after being vacated, together with the account tree roots.
// It carries the Params it was built with, so a witness decoded from JSON
// computes the same operations.
type CloseAccountWitness struct {
	AccountIdx common.AccountIdx `json:"accountIdx"`
	// Account is the record of the account before the close
	Account *common.Account `json:"account"`
	// Before is the leaf of the account and its Merkle path before the
	// close
	Before common.OperationBranch `json:"before"`
	// After is the vacated leaf and its Merkle path after the close
	After      common.OperationBranch    `json:"after"`
	Args       common.OperationArguments `json:"args"`
	BeforeRoot *big.Int                  `json:"beforeRoot"`
	AfterRoot  *big.Int                  `json:"afterRoot"`
	TxType     common.OpType             `json:"txType"`
	Params     Params                    `json:"params"`
}

// ApplyCloseTx vacates the account closed by op in the tree and returns the
// witness of the transition. The tree is not modified when the operation is
// rejected.
func ApplyCloseTx(tree AccountTree, op *common.CloseOp, params *Params) (*CloseAccountWitness, error) {
	if err := checkParams(tree, params); err != nil {
		return nil, common.Wrap(err)
	}
	idx := op.Idx
	if !idx.FitsLevels(params.NLevels) {
		return nil, common.Wrap(fmt.Errorf("%w: idx %d, nLevels %d",
			ErrAccountIdxOutOfRange, idx, params.NLevels))
	}
	account, err := tree.GetAccount(idx)
	if errors.Is(err, db.ErrNotFound) {
		return nil, common.Wrap(fmt.Errorf("%w: idx %d", ErrAccountNotFound, idx))
	} else if err != nil {
		return nil, common.Wrap(err)
	}
	if params.RequireEmptyBalance && account.HasBalance() {
		return nil, common.Wrap(fmt.Errorf("%w: idx %d", ErrAccountNotEmpty, idx))
	}

	beforeRoot := tree.AccountRoot()
	before, err := newOperationBranch(tree, idx, account, params.NLevels)
	if err != nil {
		return nil, common.Wrap(err)
	}

	vacated := common.NewEmptyAccount(idx)
	if _, err := tree.UpdateAccount(idx, vacated); err != nil {
		return nil, common.Wrap(err)
	}
	afterRoot := tree.AccountRoot()
	after, err := newOperationBranch(tree, idx, vacated, params.NLevels)
	if err != nil {
		return nil, common.Wrap(err)
	}

	validity := op.Tx.Validity()
	w := &CloseAccountWitness{
		AccountIdx: idx,
		Account:    account,
		Before:     before,
		After:      after,
		Args: common.OperationArguments{
			EthAddress: common.EthAddrToBigInt(op.Tx.Account),
			Nonce:      op.Tx.Nonce.BigInt(),
			ValidFrom:  new(big.Int).SetUint64(validity.ValidFrom),
			ValidUntil: new(big.Int).SetUint64(validity.ValidUntil),
		},
		BeforeRoot: beforeRoot,
		AfterRoot:  afterRoot,
		TxType:     common.OpTypeClose,
		Params:     *params,
	}
	log.Debugw("close account applied", "idx", idx, "beforeRoot", beforeRoot.String(),
		"afterRoot", afterRoot.String())
	return w, nil
}

// OpType returns OpTypeClose
func (w *CloseAccountWitness) OpType() common.OpType {
	return w.TxType
}

// Roots returns the account root before and after the close
func (w *CloseAccountWitness) Roots() (before, after *big.Int) {
	return w.BeforeRoot, w.AfterRoot
}

// GetPubdata returns the pubdata of the close:
// [1 byte OpTypeClose | 4 bytes AccountIdx | 5 bytes zero padding]
func (w *CloseAccountWitness) GetPubdata() []byte {
	pubdata := make([]byte, common.CloseOpChunks*common.ChunkBytes)
	pubdata[0] = byte(common.OpTypeClose)
	idxBytes := w.AccountIdx.Bytes()
	copy(pubdata[1:1+common.AccountIdxBytesLen], idxBytes[:])
	return pubdata
}

// CalculateOperations returns the CloseOpChunks circuit operations of the
// close, in chunk order. It panics if the witness or the signature input do
// not fit the circuit layout.
func (w *CloseAccountWitness) CalculateOperations(input SigDataInput) []common.Operation {
	pubdata := w.GetPubdata()
	mustBeConsistent(&w.Params, pubdata, common.CloseOpChunks, &input, w.Before, w.After)

	operations := make([]common.Operation, 0, common.CloseOpChunks)
	for i := 0; i < common.CloseOpChunks; i++ {
		operations = append(operations, common.Operation{
			NewRoot:      new(big.Int).Set(w.AfterRoot),
			TxType:       big.NewInt(int64(common.OpTypeClose)),
			Chunk:        big.NewInt(int64(i)),
			PubdataChunk: pubdataChunk(pubdata, i),
			FirstSigMsg:  new(big.Int).Set(input.FirstSigMsg),
			SecondSigMsg: new(big.Int).Set(input.SecondSigMsg),
			ThirdSigMsg:  new(big.Int).Set(input.ThirdSigMsg),
			Signature: common.SignatureData{
				R8x: new(big.Int).Set(input.R8x),
				R8y: new(big.Int).Set(input.R8y),
				S:   new(big.Int).Set(input.S),
			},
			SignerPubKeyX: new(big.Int).Set(input.PubKeyX),
			SignerPubKeyY: new(big.Int).Set(input.PubKeyY),
			Args:          cloneArgs(w.Args),
			Lhs:           cloneBranch(w.Before),
			Rhs:           cloneBranch(w.After),
		})
	}
	return operations
}
