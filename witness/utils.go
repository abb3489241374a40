package witness

import (
	"fmt"
	"math/big"
	"reflect"
	"zkrollup-witness/common"

	cryptoUtils "github.com/iden3/go-iden3-crypto/utils"
	"github.com/iden3/go-merkletree"
	"github.com/mitchellh/copystructure"
)

func init() {
	copystructure.Copiers[reflect.TypeOf(big.Int{})] =
		func(raw interface{}) (interface{}, error) {
			in := raw.(big.Int)
			out := new(big.Int).Set(&in)
			return *out, nil
		}
}

func inField(v *big.Int) bool {
	return v != nil && cryptoUtils.CheckBigIntInField(v)
}

// siblingsToZKInputFormat returns the siblings of a proof as *big.Int,
// padded with zeros to nLevels+1 elements
func siblingsToZKInputFormat(s []*merkletree.Hash, nLevels int) ([]*big.Int, error) {
	if len(s) > nLevels+1 {
		return nil, common.Wrap(fmt.Errorf("proof with %d siblings for a tree of %d levels",
			len(s), nLevels))
	}
	b := common.NewSlice(uint32(nLevels + 1))
	for i := 0; i < len(s); i++ {
		b[i] = s[i].BigInt()
	}
	return b, nil
}

// newOperationBranch returns the OperationBranch of the account at idx with
// the Merkle path at the current root of the tree
func newOperationBranch(tree AccountTree, idx common.AccountIdx, account *common.Account,
	nLevels int) (common.OperationBranch, error) {
	accountWitness, err := common.NewAccountWitness(account)
	if err != nil {
		return common.OperationBranch{}, common.Wrap(err)
	}
	p, err := tree.MTGetProof(idx)
	if err != nil {
		return common.OperationBranch{}, common.Wrap(err)
	}
	siblings, err := siblingsToZKInputFormat(p.Siblings, nLevels)
	if err != nil {
		return common.OperationBranch{}, common.Wrap(err)
	}
	return common.OperationBranch{
		Address:  idx.BigInt(),
		Witness:  accountWitness,
		Siblings: siblings,
	}, nil
}

func cloneBranch(b common.OperationBranch) common.OperationBranch {
	return copystructure.Must(copystructure.Copy(b)).(common.OperationBranch)
}

func cloneArgs(a common.OperationArguments) common.OperationArguments {
	return copystructure.Must(copystructure.Copy(a)).(common.OperationArguments)
}

// pubdataChunk returns the field element of the i-th chunk of the pubdata
func pubdataChunk(pubdata []byte, i int) *big.Int {
	return new(big.Int).SetBytes(pubdata[i*common.ChunkBytes : (i+1)*common.ChunkBytes])
}

// mustBeConsistent panics if the branch or the signature input do not match
// the circuit layout. These are not recoverable errors: the witness and the
// circuit constants are out of sync.
func mustBeConsistent(params *Params, pubdata []byte, chunks int, input *SigDataInput,
	branches ...common.OperationBranch) {
	if len(pubdata) != chunks*common.ChunkBytes {
		panic(fmt.Sprintf("pubdata of %d bytes for %d chunks", len(pubdata), chunks))
	}
	if common.ChunkBytes >= params.FieldBytes {
		panic(fmt.Sprintf("pubdata chunk of %d bytes does not fit a field element of %d bytes",
			common.ChunkBytes, params.FieldBytes))
	}
	for _, b := range branches {
		if len(b.Siblings) != params.NLevels+1 {
			panic(fmt.Sprintf("branch with %d siblings, expected %d",
				len(b.Siblings), params.NLevels+1))
		}
		for _, s := range b.Siblings {
			if !params.InField(s) {
				panic("branch sibling not inside the finite field")
			}
		}
	}
	for name, v := range input.fields() {
		if !params.InField(v) {
			panic(fmt.Sprintf("signature input %s not inside the finite field", name))
		}
	}
}
