package statedb

import (
	"sort"
	"zkrollup-witness/common"

	"github.com/iden3/go-merkletree"
	"github.com/iden3/go-merkletree/db"
)

// concatKey returns a new key prefix|b without touching the backing array
// of the prefix
func concatKey(prefix, b []byte) []byte {
	key := make([]byte, 0, len(prefix)+len(b))
	key = append(key, prefix...)
	return append(key, b...)
}

func (s *StateDB) checkIdx(idx common.AccountIdx) error {
	if !idx.FitsLevels(s.cfg.NLevels) {
		return common.Wrap(common.ErrIdxOverflow)
	}
	return nil
}

// CreateAccount creates a new Account in the StateDB for the given Idx.  If
// StateDB.MT==nil, MerkleTree is not affected, otherwise updates the
// MerkleTree, returning a CircomProcessorProof.
func (s *StateDB) CreateAccount(idx common.AccountIdx, account *common.Account) (
	*merkletree.CircomProcessorProof, error) {
	if err := s.checkIdx(idx); err != nil {
		return nil, err
	}
	cpp, err := CreateAccountInTreeDB(s.db.DB(), s.AccountTree, idx, account)
	if err != nil {
		return cpp, common.Wrap(err)
	}
	return cpp, nil
}

// CreateAccountInTreeDB is abstracted from StateDB to be used from StateDB and
// from tests.  Creates a new Account in the StateDB for the given Idx.  If
// StateDB.MT==nil, MerkleTree is not affected, otherwise updates the
// MerkleTree, returning a CircomProcessorProof.
func CreateAccountInTreeDB(sto db.Storage, mt *merkletree.MerkleTree, idx common.AccountIdx,
	account *common.Account) (*merkletree.CircomProcessorProof, error) {
	// store at the DB the key: v, and value: leaf.Bytes()
	v, err := account.HashValue()
	if err != nil {
		return nil, common.Wrap(err)
	}
	accountBytes, err := account.Bytes()
	if err != nil {
		return nil, common.Wrap(err)
	}

	// store the Leaf value
	tx, err := sto.NewTx()
	if err != nil {
		return nil, common.Wrap(err)
	}

	idxBytes := idx.Bytes()
	_, err = tx.Get(concatKey(PrefixKeyIdx, idxBytes[:]))
	if common.Unwrap(err) != db.ErrNotFound {
		return nil, common.Wrap(ErrAccountAlreadyExists)
	}

	err = tx.Put(concatKey(PrefixKeyAccHash, v.Bytes()), accountBytes)
	if err != nil {
		return nil, common.Wrap(err)
	}
	err = tx.Put(concatKey(PrefixKeyIdx, idxBytes[:]), v.Bytes())
	if err != nil {
		return nil, common.Wrap(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, common.Wrap(err)
	}

	if mt != nil {
		return mt.AddAndGetCircomProof(idx.BigInt(), v)
	}

	return nil, nil
}

// MTGetProof returns the CircomVerifierProof for a given Idx at the current
// root of the account tree. The Idx does not need to exist in the tree, in
// which case the proof is a proof of non existence.
func (s *StateDB) MTGetProof(idx common.AccountIdx) (*merkletree.CircomVerifierProof, error) {
	if s.AccountTree == nil {
		return nil, common.Wrap(ErrStateDBWithoutMT)
	}
	if err := s.checkIdx(idx); err != nil {
		return nil, err
	}
	p, err := s.AccountTree.GenerateSCVerifierProof(idx.BigInt(), nil)
	if err != nil {
		return nil, common.Wrap(err)
	}
	return p, nil
}

// GetAccount returns the account for the given Idx
func (s *StateDB) GetAccount(idx common.AccountIdx) (*common.Account, error) {
	if err := s.checkIdx(idx); err != nil {
		return nil, err
	}
	return GetAccountInTreeDB(s.db.DB(), idx)
}

// GetAccountInTreeDB is abstracted from StateDB to be used from StateDB and
// from the Last view.  GetAccount returns the account for the given Idx
func GetAccountInTreeDB(sto db.Storage, idx common.AccountIdx) (*common.Account, error) {
	idxBytes := idx.Bytes()
	vBytes, err := sto.Get(concatKey(PrefixKeyIdx, idxBytes[:]))
	if err != nil {
		return nil, common.Wrap(err)
	}
	accBytes, err := sto.Get(concatKey(PrefixKeyAccHash, vBytes))
	if err != nil {
		return nil, common.Wrap(err)
	}
	account, err := common.AccountFromBytes(accBytes)
	if err != nil {
		return nil, common.Wrap(err)
	}
	account.Idx = idx
	return account, nil
}

// UpdateAccount updates the Account in the StateDB for the given Idx.  If
// StateDB.mt==nil, MerkleTree is not affected, otherwise updates the
// MerkleTree, returning a CircomProcessorProof.
func (s *StateDB) UpdateAccount(idx common.AccountIdx, account *common.Account) (
	*merkletree.CircomProcessorProof, error) {
	if err := s.checkIdx(idx); err != nil {
		return nil, err
	}
	return UpdateAccountInTreeDB(s.db.DB(), s.AccountTree, idx, account)
}

// UpdateAccountInTreeDB is abstracted from StateDB to be used from StateDB and
// from tests.  Updates the Account in the StateDB for the given Idx.  If
// StateDB.mt==nil, MerkleTree is not affected, otherwise updates the
// MerkleTree, returning a CircomProcessorProof.
func UpdateAccountInTreeDB(sto db.Storage, mt *merkletree.MerkleTree, idx common.AccountIdx,
	account *common.Account) (*merkletree.CircomProcessorProof, error) {
	// store at the DB the key: v, and value: account.Bytes()
	v, err := account.HashValue()
	if err != nil {
		return nil, common.Wrap(err)
	}
	accountBytes, err := account.Bytes()
	if err != nil {
		return nil, common.Wrap(err)
	}

	tx, err := sto.NewTx()
	if err != nil {
		return nil, common.Wrap(err)
	}
	err = tx.Put(concatKey(PrefixKeyAccHash, v.Bytes()), accountBytes)
	if err != nil {
		return nil, common.Wrap(err)
	}
	idxBytes := idx.Bytes()
	err = tx.Put(concatKey(PrefixKeyIdx, idxBytes[:]), v.Bytes())
	if err != nil {
		return nil, common.Wrap(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, common.Wrap(err)
	}

	if mt != nil {
		proof, err := mt.Update(idx.BigInt(), v)
		return proof, common.Wrap(err)
	}
	return nil, nil
}

// GetAccounts returns all the accounts in the db, sorted by Idx. Use only
// for debugging or testing.
func (s *StateDB) GetAccounts() ([]common.Account, error) {
	idxDB := s.db.StorageWithPrefix(PrefixKeyIdx)
	idxs := []common.AccountIdx{}
	if err := idxDB.Iterate(func(k []byte, v []byte) (bool, error) {
		idx, err := common.AccountIdxFromBytes(k)
		if err != nil {
			return false, common.Wrap(err)
		}
		idxs = append(idxs, idx)
		return true, nil
	}); err != nil {
		return nil, common.Wrap(err)
	}
	sort.Slice(idxs, func(i, j int) bool { return idxs[i] < idxs[j] })
	accs := []common.Account{}
	for i := range idxs {
		acc, err := s.GetAccount(idxs[i])
		if err != nil {
			return nil, common.Wrap(err)
		}
		accs = append(accs, *acc)
	}
	return accs, nil
}
