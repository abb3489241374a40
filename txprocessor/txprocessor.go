/*
Package txprocessor is the module that takes the operations of a batch and
processes them, closing the Accounts in the StateDB and computing the
ZKInputs of the block.

The main exposed method of the TxProcessor is `ProcessOps`, which as general
lines does:
  - builds the signature input of every operation, so a malformed
    operation is rejected before the StateDB is touched
  - applies each operation to the StateDB in order, which returns the
    witness of the operation and the intermediate account root
  - computes the circuit operations of every witness, in parallel, as
    they only depend on the witness and the signature input
  - fills the unused chunks of the block with noop operations
  - computes the pubdata commitment of the block
  - if everything went fine, makes a checkpoint of the StateDB, otherwise
    resets the StateDB to the last checkpoint

Packages dependency overview:

	  +------------+
	  |BatchBuilder|
	  +-----+------+
		|
		v
	   TxProcessor ----> witness
		+
		|
		v
	     StateDB
		+
	   +----+----+
	   |         |
	   v         v
	 KVDB   MerkleTree
*/
package txprocessor

import (
	"errors"
	"fmt"
	"math/big"
	"time"
	"zkrollup-witness/common"
	"zkrollup-witness/database/statedb"
	"zkrollup-witness/log"
	"zkrollup-witness/metric"
	"zkrollup-witness/witness"

	ethCommon "github.com/ethereum/go-ethereum/common"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/sync/errgroup"
)

// ErrBlockFull is used when the operations of a batch need more chunks than
// the ones available in the block
var ErrBlockFull = errors.New("operations do not fit in the block chunks")

// ErrNoCheckpoint is used when the StateDB has accounts that are not in any
// checkpoint, so a failed batch could not be rolled back without losing them
var ErrNoCheckpoint = errors.New("StateDB current state has no checkpoint")

// TxProcessor represents the TxProcessor object
type TxProcessor struct {
	state *statedb.StateDB
	zki   *common.ZKInputs
	// opIndex is the current operation index in the ZKInputs generation (zki)
	opIndex int
	config  Config
}

// Config contains the TxProcessor configuration parameters
type Config struct {
	// NLevels of the account tree
	NLevels uint32
	// BlockChunks is the number of pubdata chunks of a block, which is
	// the number of operations of the circuit
	BlockChunks uint32
	// Workers is the maximum number of goroutines computing the circuit
	// operations. If 0, one goroutine per witness is used.
	Workers int
	// RequireEmptyBalance rejects the close of accounts with balance
	RequireEmptyBalance bool
}

// ProcessOpsOutput contains the output of the ProcessOps method
type ProcessOpsOutput struct {
	ZKInputs *common.ZKInputs
	// Witnesses of the processed operations, without the noop padding
	Witnesses []witness.Witness
	Batch     common.Batch
}

// NewTxProcessor returns a new TxProcessor with the given *StateDB & Config
func NewTxProcessor(state *statedb.StateDB, config Config) *TxProcessor {
	return &TxProcessor{
		state:   state,
		zki:     nil,
		opIndex: 0,
		config:  config,
	}
}

// StateDB returns the StateDB of the TxProcessor
func (tp *TxProcessor) StateDB() *statedb.StateDB {
	return tp.state
}

// Resets the zkInputs
func (tp *TxProcessor) resetZKInputs() {
	tp.zki = nil
	tp.opIndex = 0
}

func (tp *TxProcessor) params() *witness.Params {
	params := witness.DefaultParams(int(tp.config.NLevels))
	params.RequireEmptyBalance = tp.config.RequireEmptyBalance
	return params
}

// checkRollback returns an error if resetting the StateDB to its current
// batch would not restore the state it has now
func (tp *TxProcessor) checkRollback() error {
	batchNum := tp.state.CurrentBatch()
	if batchNum == 0 {
		// Reset(0) restores an empty tree
		if tp.state.AccountRoot().Sign() != 0 {
			return common.Wrap(fmt.Errorf("%w: batch 0 with root %s",
				ErrNoCheckpoint, tp.state.AccountRoot()))
		}
		return nil
	}
	exists, err := tp.state.CheckpointExists(batchNum)
	if err != nil {
		return common.Wrap(err)
	}
	if !exists {
		return common.Wrap(fmt.Errorf("%w: batch %d", ErrNoCheckpoint, batchNum))
	}
	return nil
}

// usedChunks returns the number of chunks needed by the operations
func usedChunks(ops []common.Op) (int, error) {
	n := 0
	for _, op := range ops {
		chunks := op.OpType().Chunks()
		if chunks == 0 || op.OpType() == common.OpTypeNoop {
			return 0, common.Wrap(fmt.Errorf("%w: %s", common.ErrUnsupportedOp, op.OpType()))
		}
		n += chunks
	}
	return n, nil
}

// ProcessOps processes the given operations applying the needed updates to
// the StateDB, and returns the ZKInputs of the block that contains them.
// If any of the operations fails, the StateDB is reset to the last
// checkpoint and no checkpoint is made. The StateDB must be at a checkpoint,
// or empty at batch 0, otherwise ErrNoCheckpoint is returned and nothing is
// processed.
func (tp *TxProcessor) ProcessOps(ops []common.Op) (ptOut *ProcessOpsOutput, err error) {
	start := time.Now()
	defer metric.MeasureDuration(metric.ProcessDuration, start, "process_ops")

	if tp.zki != nil {
		return nil, common.Wrap(
			errors.New("expected TxProcessor.zki==nil, something went wrong and it's not empty"))
	}
	defer tp.resetZKInputs()

	if tp.config.NLevels != uint32(tp.state.NLevels()) {
		return nil, common.Wrap(fmt.Errorf("%w: config nLevels %d, StateDB nLevels %d",
			witness.ErrParamsMismatch, tp.config.NLevels, tp.state.NLevels()))
	}
	if err := tp.checkRollback(); err != nil {
		return nil, common.Wrap(err)
	}
	used, err := usedChunks(ops)
	if err != nil {
		return nil, common.Wrap(err)
	}
	if used > int(tp.config.BlockChunks) {
		return nil, common.Wrap(fmt.Errorf("%w: operations use %d chunks, block has %d",
			ErrBlockFull, used, tp.config.BlockChunks))
	}

	// the signature inputs do not depend on the state, so all of them are
	// built before modifying the StateDB
	sigInputs := make([]*witness.SigDataInput, len(ops))
	for i, op := range ops {
		sigInputs[i], err = witness.NewSigDataInput(op)
		if err != nil {
			metric.WitnessErrors.WithLabelValues(op.OpType().String()).Inc()
			return nil, common.Wrap(fmt.Errorf("operation %d: %w", i, err))
		}
	}

	batchNum := tp.state.CurrentBatch() + 1
	tp.zki = common.NewZKInputs(tp.config.BlockChunks, tp.config.NLevels, batchNum.BigInt())
	tp.zki.OldRoot = tp.state.AccountRoot()

	defer func() {
		if err == nil {
			err = tp.state.MakeCheckpoint()
			return
		}
		if errReset := tp.state.Reset(tp.state.CurrentBatch()); errReset != nil {
			log.Errorw("TxProcessor: resetting StateDB after failure", "err", errReset)
		}
	}()

	params := tp.params()
	witnesses := make([]witness.Witness, 0, len(ops))
	for i, op := range ops {
		w, err := witness.ApplyOp(tp.state, op, params)
		if err != nil {
			metric.WitnessErrors.WithLabelValues(op.OpType().String()).Inc()
			return nil, common.Wrap(fmt.Errorf("operation %d: %w", i, err))
		}
		witnesses = append(witnesses, w)
		_, after := w.Roots()
		tp.zki.ISAccountRoot = append(tp.zki.ISAccountRoot, after)
		tp.zki.Metadata.OpTypes = append(tp.zki.Metadata.OpTypes, op.OpType())
		tp.zki.Metadata.AccountIdxs = append(tp.zki.Metadata.AccountIdxs, op.AccountIdx())
		tp.opIndex++
		metric.WitnessesBuilt.WithLabelValues(op.OpType().String()).Inc()
	}
	tp.zki.Metadata.NumOps = uint32(tp.opIndex)

	operations, err := tp.calculateOperations(witnesses, sigInputs)
	if err != nil {
		return nil, common.Wrap(err)
	}
	for i, w := range witnesses {
		tp.zki.Operations = append(tp.zki.Operations, operations[i]...)
		tp.zki.Pubdata = append(tp.zki.Pubdata, w.GetPubdata()...)
	}

	// fill the unused chunks with noop operations
	if used < int(tp.config.BlockChunks) {
		noop, err := witness.NewNoopWitness(tp.state, params)
		if err != nil {
			return nil, common.Wrap(err)
		}
		noopInput := witness.NewEmptySigDataInput()
		for i := used; i < int(tp.config.BlockChunks); i += common.NoopOpChunks {
			tp.zki.Operations = append(tp.zki.Operations, noop.CalculateOperations(*noopInput)...)
			tp.zki.Pubdata = append(tp.zki.Pubdata, noop.GetPubdata()...)
		}
	}

	tp.zki.NewRoot = tp.state.AccountRoot()
	tp.zki.PubdataCommitment = PubdataCommitment(tp.zki.OldRoot, tp.zki.NewRoot, tp.zki.Pubdata)

	closed := make([]common.AccountIdx, 0, len(ops))
	for _, op := range ops {
		if op.OpType() == common.OpTypeClose {
			closed = append(closed, op.AccountIdx())
		}
	}

	log.Debugw("TxProcessor: batch processed", "batch", batchNum, "ops", len(ops),
		"usedChunks", used, "newRoot", tp.zki.NewRoot)
	metric.BatchesProcessed.Inc()
	metric.LastBatchNum.Set(float64(batchNum))
	metric.UsedChunks.Set(float64(used))

	return &ProcessOpsOutput{
		ZKInputs:  tp.zki,
		Witnesses: witnesses,
		Batch: common.Batch{
			BatchNum:          batchNum,
			OldStateRoot:      tp.zki.OldRoot,
			NewStateRoot:      tp.zki.NewRoot,
			NumOps:            len(ops),
			ClosedAccounts:    closed,
			PubdataCommitment: tp.zki.PubdataCommitment,
		},
	}, nil
}

// calculateOperations computes the circuit operations of each witness. The
// witnesses are already applied, so the computation only reads them and is
// done in parallel.
func (tp *TxProcessor) calculateOperations(witnesses []witness.Witness,
	sigInputs []*witness.SigDataInput) ([][]common.Operation, error) {
	start := time.Now()
	defer metric.MeasureDuration(metric.ProcessDuration, start, "calculate_operations")

	operations := make([][]common.Operation, len(witnesses))
	var g errgroup.Group
	if tp.config.Workers > 0 {
		g.SetLimit(tp.config.Workers)
	}
	for i := range witnesses {
		i := i
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = common.Wrap(fmt.Errorf("operation %d: inconsistent witness: %v", i, r))
				}
			}()
			operations[i] = witnesses[i].CalculateOperations(*sigInputs[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, common.Wrap(err)
	}
	return operations, nil
}

// PubdataCommitment returns keccak256(oldRoot | newRoot | pubdata), where
// each root is encoded in 32 bytes big-endian
func PubdataCommitment(oldRoot, newRoot *big.Int, pubdata []byte) ethCommon.Hash {
	return ethCrypto.Keccak256Hash(
		ethCommon.LeftPadBytes(oldRoot.Bytes(), 32), //nolint:gomnd
		ethCommon.LeftPadBytes(newRoot.Bytes(), 32), //nolint:gomnd
		pubdata,
	)
}
