package statedb

import (
	"encoding/hex"
	"math/big"
	"os"
	"testing"
	"zkrollup-witness/common"
	"zkrollup-witness/log"

	ethCrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/iden3/go-iden3-crypto/babyjub"
	"github.com/iden3/go-merkletree/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var deleteme []string

func init() {
	log.Init("debug", []string{"stdout"})
}
func TestMain(m *testing.M) {
	exitVal := 0
	exitVal = m.Run()
	for _, dir := range deleteme {
		if err := os.RemoveAll(dir); err != nil {
			panic(err)
		}
	}
	os.Exit(exitVal)
}

func newAccount(t *testing.T, i int) *common.Account {
	var sk babyjub.PrivateKey
	_, err := hex.Decode(sk[:],
		[]byte("0001020304050607080900010203040506070809000102030405060708090001"))
	require.NoError(t, err)
	pk := sk.Public()

	key, err := ethCrypto.GenerateKey()
	require.NoError(t, err)
	address := ethCrypto.PubkeyToAddress(key.PublicKey)

	return &common.Account{
		Idx:   common.AccountIdx(256 + i),
		Nonce: common.Nonce(i),
		Balances: map[common.TokenID]*big.Int{
			0:                     big.NewInt(1000),
			common.TokenID(i + 1): big.NewInt(int64(10 * (i + 1))),
		},
		BJJ:     pk.Compress(),
		EthAddr: address,
	}
}

func newTestStateDB(t *testing.T, onDisk bool, nLevels int) *StateDB {
	cfg := Config{Keep: 128, Type: TypeWitness, NLevels: nLevels}
	if onDisk {
		dir, err := os.MkdirTemp("", "tmpdb")
		require.NoError(t, err)
		deleteme = append(deleteme, dir)
		cfg.Path = dir
	}
	sdb, err := NewStateDB(cfg)
	require.NoError(t, err)
	return sdb
}

func TestNewStateDBInvalidNLevels(t *testing.T) {
	_, err := NewStateDB(Config{NLevels: 0})
	assert.Equal(t, ErrInvalidNLevels, common.Unwrap(err))
	_, err = NewStateDB(Config{NLevels: MaxNLevels + 1})
	assert.Equal(t, ErrInvalidNLevels, common.Unwrap(err))
}

func testAccountInStateDB(t *testing.T, sdb *StateDB) {
	// create test accounts
	var accounts []*common.Account
	for i := 0; i < 4; i++ {
		accounts = append(accounts, newAccount(t, i))
	}

	// get non-existing account, expecting an error
	unexistingAccount := common.AccountIdx(1)
	_, err := sdb.GetAccount(unexistingAccount)
	assert.NotNil(t, err)
	assert.Equal(t, db.ErrNotFound, common.Unwrap(err))

	// add test accounts
	for i := 0; i < len(accounts); i++ {
		_, err = sdb.CreateAccount(accounts[i].Idx, accounts[i])
		require.NoError(t, err)
	}

	for i := 0; i < len(accounts); i++ {
		existingAccount := accounts[i].Idx
		accGetted, err := sdb.GetAccount(existingAccount)
		require.NoError(t, err)
		assert.Equal(t, accounts[i], accGetted)
	}

	// try already existing idx and get error
	existingAccount := common.AccountIdx(256)
	_, err = sdb.GetAccount(existingAccount) // check that exist
	require.NoError(t, err)
	_, err = sdb.CreateAccount(common.AccountIdx(256), accounts[1]) // check that can not be created twice
	assert.NotNil(t, err)
	assert.Equal(t, ErrAccountAlreadyExists, common.Unwrap(err))

	p, err := sdb.MTGetProof(common.AccountIdx(256))
	require.NoError(t, err)
	assert.Equal(t, 0, p.Fnc) // inclusion proof

	// update accounts
	for i := 0; i < len(accounts); i++ {
		accounts[i].Nonce = accounts[i].Nonce + 1
		existingAccount = accounts[i].Idx
		rootBefore := sdb.AccountRoot()
		proof, err := sdb.UpdateAccount(existingAccount, accounts[i])
		require.NoError(t, err)
		assert.Equal(t, rootBefore, proof.OldRoot.BigInt())
		assert.Equal(t, sdb.AccountRoot(), proof.NewRoot.BigInt())
		assert.NotEqual(t, rootBefore, sdb.AccountRoot())
	}

	accs, err := sdb.GetAccounts()
	require.NoError(t, err)
	require.Equal(t, len(accounts), len(accs))
	for i := range accs {
		assert.Equal(t, *accounts[i], accs[i])
	}
}

func TestAccountInStateDB(t *testing.T) {
	sdb := newTestStateDB(t, true, 32)
	testAccountInStateDB(t, sdb)
	sdb.Close()
}

func TestAccountInMemoryStateDB(t *testing.T) {
	sdb := newTestStateDB(t, false, 32)
	testAccountInStateDB(t, sdb)
	sdb.Close()
}

func TestIdxOverflow(t *testing.T) {
	sdb := newTestStateDB(t, false, 8)
	defer sdb.Close()

	account := newAccount(t, 0)
	account.Idx = 255
	_, err := sdb.CreateAccount(account.Idx, account)
	require.NoError(t, err)
	root := sdb.AccountRoot()

	_, err = sdb.CreateAccount(256, account)
	assert.Equal(t, common.ErrIdxOverflow, common.Unwrap(err))
	_, err = sdb.UpdateAccount(256, account)
	assert.Equal(t, common.ErrIdxOverflow, common.Unwrap(err))
	_, err = sdb.GetAccount(256)
	assert.Equal(t, common.ErrIdxOverflow, common.Unwrap(err))
	_, err = sdb.MTGetProof(256)
	assert.Equal(t, common.ErrIdxOverflow, common.Unwrap(err))
	assert.Equal(t, root, sdb.AccountRoot())
}

func TestMTGetProofSiblings(t *testing.T) {
	nLevels := 16
	sdb := newTestStateDB(t, false, nLevels)
	defer sdb.Close()

	for i := 0; i < 8; i++ {
		account := newAccount(t, i)
		_, err := sdb.CreateAccount(account.Idx, account)
		require.NoError(t, err)
	}
	p, err := sdb.MTGetProof(257)
	require.NoError(t, err)
	assert.Equal(t, sdb.AccountRoot(), p.Root.BigInt())
	assert.LessOrEqual(t, len(p.Siblings), nLevels+1)

	// proof of non existence
	p, err = sdb.MTGetProof(3)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Fnc)
}

func TestClone(t *testing.T) {
	for _, onDisk := range []bool{false, true} {
		sdb := newTestStateDB(t, onDisk, 32)
		for i := 0; i < 3; i++ {
			account := newAccount(t, i)
			_, err := sdb.CreateAccount(account.Idx, account)
			require.NoError(t, err)
		}
		root := sdb.AccountRoot()

		clone, err := sdb.Clone()
		require.NoError(t, err)
		assert.Equal(t, root, clone.AccountRoot())
		assert.Equal(t, sdb.NLevels(), clone.NLevels())

		acc, err := clone.GetAccount(256)
		require.NoError(t, err)
		_, err = clone.UpdateAccount(256, common.NewEmptyAccount(256))
		require.NoError(t, err)
		assert.NotEqual(t, root, clone.AccountRoot())

		// the original StateDB is not affected by the clone
		assert.Equal(t, root, sdb.AccountRoot())
		accOrig, err := sdb.GetAccount(256)
		require.NoError(t, err)
		assert.Equal(t, acc, accOrig)

		clone.Close()
		sdb.Close()
	}
}

func TestCheckpoints(t *testing.T) {
	for _, onDisk := range []bool{false, true} {
		sdb := newTestStateDB(t, onDisk, 32)

		account := newAccount(t, 0)
		_, err := sdb.CreateAccount(account.Idx, account)
		require.NoError(t, err)
		require.NoError(t, sdb.MakeCheckpoint())
		assert.Equal(t, common.BatchNum(1), sdb.CurrentBatch())
		rootBatch1 := sdb.AccountRoot()

		_, err = sdb.UpdateAccount(account.Idx, common.NewEmptyAccount(account.Idx))
		require.NoError(t, err)
		require.NoError(t, sdb.MakeCheckpoint())
		assert.Equal(t, common.BatchNum(2), sdb.CurrentBatch())
		assert.NotEqual(t, rootBatch1, sdb.AccountRoot())

		lastAcc, err := sdb.LastGetAccount(account.Idx)
		require.NoError(t, err)
		assert.True(t, lastAcc.IsEmpty())

		exists, err := sdb.CheckpointExists(1)
		require.NoError(t, err)
		assert.True(t, exists)

		require.NoError(t, sdb.Reset(1))
		assert.Equal(t, common.BatchNum(1), sdb.CurrentBatch())
		assert.Equal(t, rootBatch1, sdb.AccountRoot())
		acc, err := sdb.GetAccount(account.Idx)
		require.NoError(t, err)
		assert.Equal(t, account, acc)

		exists, err = sdb.CheckpointExists(2)
		require.NoError(t, err)
		assert.False(t, exists)

		require.NoError(t, sdb.Reset(0))
		assert.Equal(t, common.BatchNum(0), sdb.CurrentBatch())
		assert.Equal(t, "0", sdb.AccountRoot().String())

		sdb.Close()
	}
}
