package witness

import (
	"math/big"
	"zkrollup-witness/common"

	"github.com/iden3/go-merkletree"
)

// AccountTree is the authenticated mapping from AccountIdx to Account used
// to build the witnesses. It is implemented by *statedb.StateDB.
type AccountTree interface {
	// GetAccount returns the Account at idx, or an error wrapping
	// db.ErrNotFound if the slot was never used
	GetAccount(idx common.AccountIdx) (*common.Account, error)
	// UpdateAccount replaces the leaf at idx
	UpdateAccount(idx common.AccountIdx, account *common.Account) (*merkletree.CircomProcessorProof, error)
	// MTGetProof returns the Merkle path of idx at the current root
	MTGetProof(idx common.AccountIdx) (*merkletree.CircomVerifierProof, error)
	// AccountRoot returns the current root
	AccountRoot() *big.Int
	// NLevels returns the depth of the tree
	NLevels() int
}
