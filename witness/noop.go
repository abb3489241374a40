package witness

import (
	"errors"
	"math/big"
	"zkrollup-witness/common"

	"github.com/iden3/go-merkletree/db"
)

// noopAccountIdx is the account whose path is used by the noop operations
const noopAccountIdx = common.AccountIdx(0)

// NoopWitness is the witness of the padding operation that fills the unused
// chunks of a block. It does not modify the account tree.
type NoopWitness struct {
	Branch common.OperationBranch `json:"branch"`
	Root   *big.Int               `json:"root"`
	Params Params                 `json:"params"`
}

// NewNoopWitness returns the NoopWitness at the current root of the tree
func NewNoopWitness(tree AccountTree, params *Params) (*NoopWitness, error) {
	if err := checkParams(tree, params); err != nil {
		return nil, common.Wrap(err)
	}
	account, err := tree.GetAccount(noopAccountIdx)
	if errors.Is(err, db.ErrNotFound) {
		account = common.NewEmptyAccount(noopAccountIdx)
	} else if err != nil {
		return nil, common.Wrap(err)
	}
	branch, err := newOperationBranch(tree, noopAccountIdx, account, params.NLevels)
	if err != nil {
		return nil, common.Wrap(err)
	}
	return &NoopWitness{
		Branch: branch,
		Root:   tree.AccountRoot(),
		Params: *params,
	}, nil
}

// OpType returns OpTypeNoop
func (w *NoopWitness) OpType() common.OpType {
	return common.OpTypeNoop
}

// Roots returns the current root twice, as the noop does not change the
// tree
func (w *NoopWitness) Roots() (before, after *big.Int) {
	return w.Root, w.Root
}

// GetPubdata returns a zero chunk
func (w *NoopWitness) GetPubdata() []byte {
	return make([]byte, common.NoopOpChunks*common.ChunkBytes)
}

// CalculateOperations returns the noop circuit operation. The signature
// input is ignored, the noop is not signed.
func (w *NoopWitness) CalculateOperations(_ SigDataInput) []common.Operation {
	pubdata := w.GetPubdata()
	input := NewEmptySigDataInput()
	mustBeConsistent(&w.Params, pubdata, common.NoopOpChunks, input, w.Branch)

	operations := make([]common.Operation, 0, common.NoopOpChunks)
	for i := 0; i < common.NoopOpChunks; i++ {
		operations = append(operations, common.Operation{
			NewRoot:       new(big.Int).Set(w.Root),
			TxType:        big.NewInt(int64(common.OpTypeNoop)),
			Chunk:         big.NewInt(int64(i)),
			PubdataChunk:  pubdataChunk(pubdata, i),
			FirstSigMsg:   big.NewInt(0),
			SecondSigMsg:  big.NewInt(0),
			ThirdSigMsg:   big.NewInt(0),
			Signature:     common.SignatureData{R8x: big.NewInt(0), R8y: big.NewInt(0), S: big.NewInt(0)},
			SignerPubKeyX: big.NewInt(0),
			SignerPubKeyY: big.NewInt(0),
			Args: common.OperationArguments{
				EthAddress: big.NewInt(0),
				Nonce:      big.NewInt(0),
				ValidFrom:  big.NewInt(0),
				ValidUntil: big.NewInt(0),
			},
			Lhs: cloneBranch(w.Branch),
			Rhs: cloneBranch(w.Branch),
		})
	}
	return operations
}
