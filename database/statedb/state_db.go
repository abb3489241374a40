package statedb

import (
	"errors"
	"fmt"
	"math/big"
	"zkrollup-witness/common"
	"zkrollup-witness/database/kvdb"
	"zkrollup-witness/log"

	"github.com/iden3/go-merkletree"
	"github.com/iden3/go-merkletree/db"
)

const (
	// TypeWitness defines a StateDB used standalone to build the witness
	// of single operations
	TypeWitness = "witness"
	// TypeBatchBuilder defines a StateDB used by the BatchBuilder, that
	// generates the ZKInputs when processing the operations
	TypeBatchBuilder = "batchbuilder"
	// MaxNLevels is the maximum value of NLevels for the merkle tree,
	// which comes from the fact that AccountIdx has 32 bits.
	MaxNLevels = 32
)

// Config of the StateDB
type Config struct {
	// Path where the checkpoints will be stored. If empty, the StateDB is
	// kept in memory.
	Path string
	// Keep is the number of old checkpoints to keep.  If 0, all
	// checkpoints are kept.
	Keep int
	// NoLast skips having an opened DB with a checkpoint to the last
	// batchNum for thread-safe reads.
	NoLast bool
	// Type of StateDB
	Type TypeStateDB
	// NLevels is the number of merkle tree levels of the account tree
	NLevels int
}

var (
	// ErrStateDBWithoutMT is used when a method that requires a MerkleTree
	// is called in a StateDB that does not have a MerkleTree defined
	ErrStateDBWithoutMT = errors.New(
		"cannot call method to use MerkleTree in a StateDB without MerkleTree")
	// ErrAccountAlreadyExists is used when CreateAccount is called and the
	// Account already exists
	ErrAccountAlreadyExists = errors.New("cannot CreateAccount becase Account already exists")
	// ErrInvalidNLevels is used when the configured NLevels is not in
	// (0, MaxNLevels]
	ErrInvalidNLevels = fmt.Errorf("nLevels must be in (0, %d]", MaxNLevels)

	// PrefixKeyMTAcc is the key prefix for account merkle tree in the db
	PrefixKeyMTAcc = []byte("ma:")
	// PrefixKeyIdx is the key prefix for idx in the db
	PrefixKeyIdx = []byte("i:")
	// PrefixKeyAccHash is the key prefix for account hash in the db
	PrefixKeyAccHash = []byte("h:")
)

// TypeStateDB determines the type of StateDB
type TypeStateDB string

// StateDB represents the state database with an integrated Merkle tree.
type StateDB struct {
	cfg         Config
	db          *kvdb.KVDB
	AccountTree *merkletree.MerkleTree
}

// Last offers a subset of view methods of the StateDB that can be
// called via the LastRead method of the StateDB in a thread-safe manner to
// obtain a consistent view to the last batch of the StateDB.
type Last struct {
	db db.Storage
}

// GetAccount returns the account for the given Idx
func (s *Last) GetAccount(idx common.AccountIdx) (*common.Account, error) {
	return GetAccountInTreeDB(s.db, idx)
}

// DB returns the underlying storage of Last
func (s *Last) DB() db.Storage {
	return s.db
}

// NewStateDB initializes a new StateDB.
func NewStateDB(cfg Config) (*StateDB, error) {
	if cfg.NLevels <= 0 || cfg.NLevels > MaxNLevels {
		return nil, common.Wrap(ErrInvalidNLevels)
	}
	kv, err := kvdb.NewKVDB(kvdb.Config{Path: cfg.Path, Keep: cfg.Keep, NoLast: cfg.NoLast})
	if err != nil {
		return nil, common.Wrap(err)
	}

	mtAccount, err := merkletree.NewMerkleTree(kv.StorageWithPrefix(PrefixKeyMTAcc), cfg.NLevels)
	if err != nil {
		kv.Close()
		return nil, common.Wrap(err)
	}
	return &StateDB{
		cfg:         cfg,
		db:          kv,
		AccountTree: mtAccount,
	}, nil
}

// Type returns the StateDB configured Type
func (s *StateDB) Type() TypeStateDB {
	return s.cfg.Type
}

// NLevels returns the number of levels of the account tree
func (s *StateDB) NLevels() int {
	return s.cfg.NLevels
}

// AccountRoot returns the root of the account tree
func (s *StateDB) AccountRoot() *big.Int {
	return s.AccountTree.Root().BigInt()
}

// Clone returns an in-memory StateDB with a copy of the current state of the
// StateDB. Changes in the clone are not visible in the StateDB and the other
// way around.
func (s *StateDB) Clone() (*StateDB, error) {
	kv, err := s.db.Snapshot()
	if err != nil {
		return nil, common.Wrap(err)
	}
	mtAccount, err := merkletree.NewMerkleTree(kv.StorageWithPrefix(PrefixKeyMTAcc), s.cfg.NLevels)
	if err != nil {
		return nil, common.Wrap(err)
	}
	cfg := s.cfg
	cfg.Path = ""
	cfg.NoLast = true
	return &StateDB{
		cfg:         cfg,
		db:          kv,
		AccountTree: mtAccount,
	}, nil
}

// LastRead is a thread-safe method to query the last checkpoint of the StateDB
// via the Last type methods
func (s *StateDB) LastRead(fn func(sdbLast *Last) error) error {
	return s.db.LastRead(
		func(sto db.Storage) error {
			return fn(&Last{
				db: sto,
			})
		},
	)
}

// LastGetAccount is a thread-safe method to query an account in the last
// checkpoint of the StateDB.
func (s *StateDB) LastGetAccount(idx common.AccountIdx) (*common.Account, error) {
	var account *common.Account
	if err := s.LastRead(func(sdb *Last) error {
		var err error
		account, err = sdb.GetAccount(idx)
		return err
	}); err != nil {
		return nil, common.Wrap(err)
	}
	return account, nil
}

// Close closes the StateDB.
func (s *StateDB) Close() {
	s.db.Close()
}

// Reset resets the StateDB to the checkpoint at the given batchNum. Reset
// does not delete the checkpoints between old current and the new current,
// those checkpoints will remain in the storage, and eventually will be
// deleted when MakeCheckpoint overwrites them.
func (s *StateDB) Reset(batchNum common.BatchNum) error {
	log.Debugw("Making StateDB Reset", "batch", batchNum, "type", s.cfg.Type)
	if err := s.db.Reset(batchNum); err != nil {
		return common.Wrap(err)
	}
	// open the Account MT for the current s.db
	accountTree, err := merkletree.NewMerkleTree(s.db.StorageWithPrefix(PrefixKeyMTAcc),
		s.AccountTree.MaxLevels())
	if err != nil {
		return common.Wrap(err)
	}
	s.AccountTree = accountTree
	return nil
}

// MakeCheckpoint does a checkpoint at the given batchNum in the defined path.
// Internally this advances & stores the current BatchNum, and then stores a
// Checkpoint of the current state of the StateDB.
func (s *StateDB) MakeCheckpoint() error {
	log.Debugw("Making StateDB checkpoint", "batch", s.CurrentBatch()+1, "type", s.cfg.Type)
	return s.db.MakeCheckpoint()
}

// CurrentBatch returns the current in-memory CurrentBatch of the StateDB.db
func (s *StateDB) CurrentBatch() common.BatchNum {
	return s.db.CurrentBatch
}

// DeleteOldCheckpoints deletes old checkpoints when there are more than
// `cfg.keep` checkpoints
func (s *StateDB) DeleteOldCheckpoints() error {
	return s.db.DeleteOldCheckpoints()
}

// CheckpointExists returns true if the checkpoint exists
func (s *StateDB) CheckpointExists(batchNum common.BatchNum) (bool, error) {
	return s.db.CheckpointExists(batchNum)
}
