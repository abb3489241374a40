package batchbuilder

import (
	"errors"
	"zkrollup-witness/common"
	"zkrollup-witness/database/kvdb"
	"zkrollup-witness/database/statedb"
	"zkrollup-witness/log"
	"zkrollup-witness/txprocessor"
)

// ErrGenesisAlreadyLoaded is used when the genesis accounts are loaded in a
// StateDB that already has batches
var ErrGenesisAlreadyLoaded = errors.New("genesis can only be loaded in an empty StateDB")

// ConfigCircuit contains the circuit configuration
type ConfigCircuit struct {
	BlockChunks  uint32
	SMTLevelsMax uint32
}

// BatchBuilder implements the batch builder type, which contains the
// functionalities
type BatchBuilder struct {
	localStateDB *statedb.StateDB
}

// ConfigBatch contains the batch configuration
type ConfigBatch struct {
	TxProcessorConfig txprocessor.Config
}

// NewBatchBuilder constructs a new BatchBuilder, and executes the bb.Reset
// method. If dbpath is empty, the state is kept in memory.
func NewBatchBuilder(dbpath string, batchNum common.BatchNum, nLevels uint32) (*BatchBuilder, error) {
	localStateDB, err := statedb.NewStateDB(
		statedb.Config{
			Path:    dbpath,
			Keep:    kvdb.DefaultKeep,
			Type:    statedb.TypeBatchBuilder,
			NLevels: int(nLevels),
		})
	if err != nil {
		return nil, common.Wrap(err)
	}

	bb := BatchBuilder{
		localStateDB: localStateDB,
	}

	err = bb.Reset(batchNum)
	return &bb, common.Wrap(err)
}

// Reset tells the BatchBuilder to reset it's internal state to the required
// `batchNum`
func (bb *BatchBuilder) Reset(batchNum common.BatchNum) error {
	return common.Wrap(bb.localStateDB.Reset(batchNum))
}

// LoadGenesis creates the given accounts in the StateDB and makes the first
// checkpoint, so the genesis state is the one of batch 1
func (bb *BatchBuilder) LoadGenesis(accounts []common.Account) error {
	if bb.localStateDB.CurrentBatch() != 0 {
		return common.Wrap(ErrGenesisAlreadyLoaded)
	}
	for i := range accounts {
		if _, err := bb.localStateDB.CreateAccount(accounts[i].Idx, &accounts[i]); err != nil {
			if errReset := bb.Reset(0); errReset != nil {
				log.Errorw("BatchBuilder: resetting after genesis failure", "err", errReset)
			}
			return common.Wrap(err)
		}
	}
	log.Debugw("BatchBuilder: genesis loaded", "accounts", len(accounts),
		"root", bb.localStateDB.AccountRoot())
	return common.Wrap(bb.localStateDB.MakeCheckpoint())
}

// BuildBatch takes the operations and returns the common.ZKInputs of the
// next batch
func (bb *BatchBuilder) BuildBatch(configBatch *ConfigBatch, ops []common.Op) (*common.ZKInputs, error) {
	bbStateDB := bb.localStateDB
	tp := txprocessor.NewTxProcessor(bbStateDB, configBatch.TxProcessorConfig)

	ptOut, err := tp.ProcessOps(ops)
	if err != nil {
		return nil, common.Wrap(err)
	}
	return ptOut.ZKInputs, nil
}

// LocalStateDB returns the underlying LocalStateDB
func (bb *BatchBuilder) LocalStateDB() *statedb.StateDB {
	return bb.localStateDB
}

// Close closes the underlying StateDB
func (bb *BatchBuilder) Close() {
	bb.localStateDB.Close()
}
