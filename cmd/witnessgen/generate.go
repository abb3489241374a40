package main

import (
	"encoding/json"
	"fmt"
	"io"
	"zkrollup-witness/batchbuilder"
	"zkrollup-witness/common"
	"zkrollup-witness/config"
	"zkrollup-witness/log"
	"zkrollup-witness/txprocessor"
)

// Input is the content of the input file: the genesis accounts and the
// close operations of the batch
type Input struct {
	Accounts []common.Account `json:"accounts"`
	CloseOps []common.CloseOp `json:"closeOps"`
}

// Output is the content of the output file
type Output struct {
	Batch    common.Batch     `json:"batch"`
	ZKInputs *common.ZKInputs `json:"zkInputs"`
}

func readInput(r io.Reader) (*Input, error) {
	var input Input
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&input); err != nil {
		return nil, common.Wrap(fmt.Errorf("error decoding input: %w", err))
	}
	return &input, nil
}

// generate loads the genesis accounts of the input in a new StateDB, builds
// the batch with the close operations and writes the Output
func generate(cfg *config.Node, r io.Reader, w io.Writer) error {
	input, err := readInput(r)
	if err != nil {
		return common.Wrap(err)
	}

	bb, err := batchbuilder.NewBatchBuilder(cfg.StateDB.Path, 0, cfg.Circuit.NLevels)
	if err != nil {
		return common.Wrap(err)
	}
	defer bb.Close()
	if err := bb.LoadGenesis(input.Accounts); err != nil {
		return common.Wrap(fmt.Errorf("error loading genesis: %w", err))
	}

	ops := make([]common.Op, len(input.CloseOps))
	for i := range input.CloseOps {
		ops[i] = &input.CloseOps[i]
	}
	tp := txprocessor.NewTxProcessor(bb.LocalStateDB(), txprocessor.Config{
		NLevels:             cfg.Circuit.NLevels,
		BlockChunks:         cfg.Circuit.BlockChunks,
		Workers:             cfg.Workers.Num,
		RequireEmptyBalance: cfg.Circuit.RequireEmptyBalance,
	})
	ptOut, err := tp.ProcessOps(ops)
	if err != nil {
		return common.Wrap(fmt.Errorf("error processing operations: %w", err))
	}
	log.Infow("batch witness generated", "batch", ptOut.Batch.BatchNum,
		"ops", ptOut.Batch.NumOps, "newRoot", ptOut.Batch.NewStateRoot,
		"commitment", ptOut.Batch.PubdataCommitment.Hex())

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return common.Wrap(enc.Encode(Output{
		Batch:    ptOut.Batch,
		ZKInputs: ptOut.ZKInputs,
	}))
}
