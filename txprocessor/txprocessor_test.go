package txprocessor

import (
	"encoding/json"
	"errors"
	"testing"
	"zkrollup-witness/common"
	"zkrollup-witness/database/statedb"
	"zkrollup-witness/test/til"
	"zkrollup-witness/witness"

	ethCommon "github.com/ethereum/go-ethereum/common"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testNLevels = 16

func newGenesisStateDB(t *testing.T, accounts []*common.Account) *statedb.StateDB {
	sdb, err := statedb.NewStateDB(statedb.Config{
		Type:    statedb.TypeBatchBuilder,
		NLevels: testNLevels,
	})
	require.NoError(t, err)
	for _, account := range accounts {
		_, err := sdb.CreateAccount(account.Idx, account)
		require.NoError(t, err)
	}
	require.NoError(t, sdb.MakeCheckpoint())
	return sdb
}

func signedCloseOps(t *testing.T, users ...*til.User) []common.Op {
	ops := make([]common.Op, 0, len(users))
	for _, user := range users {
		op := user.CloseOp()
		require.NoError(t, op.Tx.Sign(user.BJJ))
		ops = append(ops, op)
	}
	return ops
}

func testConfig(blockChunks uint32, workers int) Config {
	return Config{
		NLevels:     testNLevels,
		BlockChunks: blockChunks,
		Workers:     workers,
	}
}

func TestProcessOps(t *testing.T) {
	users, accounts := til.GenerateAccounts(4)
	sdb := newGenesisStateDB(t, accounts)
	defer sdb.Close()
	oldRoot := sdb.AccountRoot()

	tp := NewTxProcessor(sdb, testConfig(4, 2))
	ptOut, err := tp.ProcessOps(signedCloseOps(t, users[0], users[2]))
	require.NoError(t, err)
	zki := ptOut.ZKInputs

	assert.Equal(t, common.BatchNum(2), sdb.CurrentBatch())
	assert.Equal(t, "2", zki.CurrentNumBatch.String())
	assert.Equal(t, 0, oldRoot.Cmp(zki.OldRoot))
	assert.Equal(t, 0, sdb.AccountRoot().Cmp(zki.NewRoot))
	assert.NotEqual(t, 0, zki.OldRoot.Cmp(zki.NewRoot))

	require.Equal(t, 2, len(zki.ISAccountRoot))
	assert.Equal(t, 0, zki.NewRoot.Cmp(zki.ISAccountRoot[1]))
	assert.Equal(t, uint32(2), zki.Metadata.NumOps)
	assert.Equal(t, []common.AccountIdx{1, 3}, zki.Metadata.AccountIdxs)
	assert.Equal(t, []common.OpType{common.OpTypeClose, common.OpTypeClose}, zki.Metadata.OpTypes)

	require.Equal(t, 4, len(zki.Operations))
	require.Equal(t, 4*common.ChunkBytes, len(zki.Pubdata))
	assert.Equal(t, "04000000010000000000"+"04000000030000000000"+
		"00000000000000000000"+"00000000000000000000",
		ethCommon.Bytes2Hex(zki.Pubdata))

	assert.Equal(t, int64(common.OpTypeClose), zki.Operations[0].TxType.Int64())
	assert.Equal(t, "1", zki.Operations[0].Lhs.Address.String())
	assert.Equal(t, 0, zki.ISAccountRoot[0].Cmp(zki.Operations[0].NewRoot))
	assert.Equal(t, "3", zki.Operations[1].Lhs.Address.String())
	for _, op := range zki.Operations[2:] {
		assert.Equal(t, int64(common.OpTypeNoop), op.TxType.Int64())
		assert.Equal(t, 0, zki.NewRoot.Cmp(op.NewRoot))
		assert.Equal(t, testNLevels+1, len(op.Lhs.Siblings))
	}

	expected := ethCrypto.Keccak256Hash(
		ethCommon.LeftPadBytes(zki.OldRoot.Bytes(), 32),
		ethCommon.LeftPadBytes(zki.NewRoot.Bytes(), 32),
		zki.Pubdata)
	assert.Equal(t, expected, zki.PubdataCommitment)

	assert.Equal(t, common.BatchNum(2), ptOut.Batch.BatchNum)
	assert.Equal(t, []common.AccountIdx{1, 3}, ptOut.Batch.ClosedAccounts)
	assert.Equal(t, zki.PubdataCommitment, ptOut.Batch.PubdataCommitment)
	require.Equal(t, 2, len(ptOut.Witnesses))

	for _, idx := range []common.AccountIdx{1, 3} {
		account, err := sdb.GetAccount(idx)
		require.NoError(t, err)
		assert.True(t, account.IsEmpty())
	}
	account, err := sdb.GetAccount(2)
	require.NoError(t, err)
	assert.Equal(t, "2000", account.Balance(0).String())

	// the last checkpoint has the accounts closed
	account, err = sdb.LastGetAccount(1)
	require.NoError(t, err)
	assert.True(t, account.IsEmpty())
}

func TestProcessOpsParallelEqualsSequential(t *testing.T) {
	users, accounts := til.GenerateAccounts(8)
	ops := signedCloseOps(t, users[1], users[3], users[4], users[7])

	var results [][]byte
	for _, workers := range []int{1, 4, 0} {
		sdb := newGenesisStateDB(t, accounts)
		tp := NewTxProcessor(sdb, testConfig(6, workers))
		ptOut, err := tp.ProcessOps(ops)
		require.NoError(t, err)
		b, err := json.Marshal(ptOut.ZKInputs)
		require.NoError(t, err)
		results = append(results, b)
		sdb.Close()
	}
	assert.Equal(t, string(results[0]), string(results[1]))
	assert.Equal(t, string(results[0]), string(results[2]))
}

func TestProcessOpsBlockFull(t *testing.T) {
	users, accounts := til.GenerateAccounts(3)
	sdb := newGenesisStateDB(t, accounts)
	defer sdb.Close()
	root := sdb.AccountRoot()

	tp := NewTxProcessor(sdb, testConfig(2, 0))
	_, err := tp.ProcessOps(signedCloseOps(t, users...))
	assert.True(t, errors.Is(err, ErrBlockFull))
	assert.Equal(t, root, sdb.AccountRoot())
	assert.Equal(t, common.BatchNum(1), sdb.CurrentBatch())

	// a full block has no noop padding
	tp = NewTxProcessor(sdb, testConfig(3, 0))
	ptOut, err := tp.ProcessOps(signedCloseOps(t, users...))
	require.NoError(t, err)
	for _, op := range ptOut.ZKInputs.Operations {
		assert.Equal(t, int64(common.OpTypeClose), op.TxType.Int64())
	}
}

func TestProcessOpsEmpty(t *testing.T) {
	_, accounts := til.GenerateAccounts(2)
	sdb := newGenesisStateDB(t, accounts)
	defer sdb.Close()

	tp := NewTxProcessor(sdb, testConfig(2, 0))
	ptOut, err := tp.ProcessOps(nil)
	require.NoError(t, err)
	zki := ptOut.ZKInputs
	assert.Equal(t, 0, zki.OldRoot.Cmp(zki.NewRoot))
	assert.Equal(t, 0, len(zki.ISAccountRoot))
	assert.Equal(t, make([]byte, 2*common.ChunkBytes), []byte(zki.Pubdata))
	assert.Equal(t, 2, len(zki.Operations))
}

func TestProcessOpsRollback(t *testing.T) {
	users, accounts := til.GenerateAccounts(3)
	sdb := newGenesisStateDB(t, accounts)
	defer sdb.Close()
	root := sdb.AccountRoot()

	// the second op closes an account that does not exist, so the close of
	// the first one is discarded
	missing := til.NewUser(9, "Z")
	ops := signedCloseOps(t, users[0], &missing)
	tp := NewTxProcessor(sdb, testConfig(4, 0))
	_, err := tp.ProcessOps(ops)
	assert.True(t, errors.Is(err, witness.ErrAccountNotFound))
	assert.Equal(t, 0, root.Cmp(sdb.AccountRoot()))
	assert.Equal(t, common.BatchNum(1), sdb.CurrentBatch())
	account, err := sdb.GetAccount(1)
	require.NoError(t, err)
	assert.False(t, account.IsEmpty())

	// the TxProcessor can be used again after a failure
	ptOut, err := tp.ProcessOps(ops[:1])
	require.NoError(t, err)
	assert.Equal(t, 0, root.Cmp(ptOut.ZKInputs.OldRoot))
	assert.Equal(t, common.BatchNum(2), sdb.CurrentBatch())
}

func TestProcessOpsWithoutCheckpoint(t *testing.T) {
	users, accounts := til.GenerateAccounts(3)
	sdb, err := statedb.NewStateDB(statedb.Config{
		Type:    statedb.TypeBatchBuilder,
		NLevels: testNLevels,
	})
	require.NoError(t, err)
	defer sdb.Close()
	for _, account := range accounts {
		_, err := sdb.CreateAccount(account.Idx, account)
		require.NoError(t, err)
	}
	root := sdb.AccountRoot()

	// a failure could not be rolled back, so nothing is processed
	missing := til.NewUser(999, "Z")
	tp := NewTxProcessor(sdb, testConfig(4, 0))
	_, err = tp.ProcessOps(signedCloseOps(t, users[0], &missing))
	assert.True(t, errors.Is(err, ErrNoCheckpoint))
	assert.Equal(t, 0, root.Cmp(sdb.AccountRoot()))
	assert.Equal(t, common.BatchNum(0), sdb.CurrentBatch())
	for _, idx := range []common.AccountIdx{1, 2, 3} {
		account, err := sdb.GetAccount(idx)
		require.NoError(t, err)
		assert.False(t, account.IsEmpty())
	}

	// the empty StateDB at batch 0 can be rolled back
	empty, err := statedb.NewStateDB(statedb.Config{
		Type:    statedb.TypeBatchBuilder,
		NLevels: testNLevels,
	})
	require.NoError(t, err)
	defer empty.Close()
	ptOut, err := NewTxProcessor(empty, testConfig(1, 0)).ProcessOps(nil)
	require.NoError(t, err)
	assert.Equal(t, common.BatchNum(1), ptOut.Batch.BatchNum)

	// once checkpointed the batch is processed
	require.NoError(t, sdb.MakeCheckpoint())
	_, err = tp.ProcessOps(signedCloseOps(t, users[0]))
	require.NoError(t, err)
	assert.Equal(t, common.BatchNum(2), sdb.CurrentBatch())
}

func TestProcessOpsMissingSignature(t *testing.T) {
	users, accounts := til.GenerateAccounts(2)
	sdb := newGenesisStateDB(t, accounts)
	defer sdb.Close()
	root := sdb.AccountRoot()

	ops := append(signedCloseOps(t, users[0]), users[1].CloseOp())
	tp := NewTxProcessor(sdb, testConfig(4, 0))
	_, err := tp.ProcessOps(ops)
	assert.True(t, errors.Is(err, witness.ErrMissingSignature))
	assert.Equal(t, root, sdb.AccountRoot())
	assert.Equal(t, common.BatchNum(1), sdb.CurrentBatch())
}

func TestProcessOpsNLevelsMismatch(t *testing.T) {
	users, accounts := til.GenerateAccounts(1)
	sdb := newGenesisStateDB(t, accounts)
	defer sdb.Close()

	cfg := testConfig(2, 0)
	cfg.NLevels = testNLevels + 1
	tp := NewTxProcessor(sdb, cfg)
	_, err := tp.ProcessOps(signedCloseOps(t, users[0]))
	assert.True(t, errors.Is(err, witness.ErrParamsMismatch))
}

func TestPubdataCommitmentStable(t *testing.T) {
	users, accounts := til.GenerateAccounts(2)
	ops := signedCloseOps(t, users[1])

	var commitments []ethCommon.Hash
	for i := 0; i < 2; i++ {
		sdb := newGenesisStateDB(t, accounts)
		ptOut, err := NewTxProcessor(sdb, testConfig(2, 0)).ProcessOps(ops)
		require.NoError(t, err)
		commitments = append(commitments, ptOut.ZKInputs.PubdataCommitment)
		sdb.Close()
	}
	assert.Equal(t, commitments[0], commitments[1])

	zki := common.NewZKInputs(1, testNLevels, common.BatchNum(1).BigInt())
	c0 := PubdataCommitment(zki.OldRoot, zki.NewRoot, make([]byte, common.ChunkBytes))
	c1 := PubdataCommitment(zki.OldRoot, zki.NewRoot, []byte{4, 0, 0, 0, 1, 0, 0, 0, 0, 0})
	assert.NotEqual(t, c0, c1)
	assert.Equal(t, ethCrypto.Keccak256Hash(make([]byte, 64+common.ChunkBytes)), c0)
}
