package kvdb

import (
	"fmt"
	"os"
	"testing"
	"zkrollup-witness/common"

	"github.com/iden3/go-merkletree/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addTestKV(t *testing.T, k *KVDB, key, value []byte) {
	tx, err := k.db.NewTx()
	require.NoError(t, err)

	err = tx.Put(key, value)
	require.NoError(t, err)

	assert.NoError(t, tx.Commit())
}

func printCheckpoints(t *testing.T, path string) {
	files, err := os.ReadDir(path)
	assert.NoError(t, err)

	fmt.Println(path)
	for _, f := range files {
		fmt.Println("     " + f.Name())
	}
}

func newTestKVDB(t *testing.T, onDisk bool, keep int) *KVDB {
	cfg := Config{Keep: keep}
	if onDisk {
		dir, err := os.MkdirTemp("", "tmpdb")
		require.NoError(t, err)
		t.Cleanup(func() { require.NoError(t, os.RemoveAll(dir)) })
		cfg.Path = dir
	}
	k, err := NewKVDB(cfg)
	require.NoError(t, err)
	return k
}

func TestCheckpoints(t *testing.T) {
	for _, onDisk := range []bool{false, true} {
		k := newTestKVDB(t, onDisk, 128)

		// add test key-values
		for i := 0; i < 10; i++ {
			addTestKV(t, k, []byte{byte(i), byte(i)}, []byte{byte(i), byte(i)})
		}

		// do checkpoints and check that currentBatch is correct
		for i := 0; i < 4; i++ {
			err := k.MakeCheckpoint()
			require.NoError(t, err)
			cb, err := k.GetCurrentBatch()
			require.NoError(t, err)
			assert.Equal(t, common.BatchNum(i+1), cb)
		}

		// add a key that is not in any checkpoint
		addTestKV(t, k, []byte("new"), []byte("value"))

		checkpoints, err := k.ListCheckpoints()
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2, 3, 4}, checkpoints)

		// reset checkpoint
		err = k.Reset(3)
		require.NoError(t, err)

		// check that reset can be repeated (as there exist the 'current' and
		// 'BatchNum3', from where the 'current' is a copy)
		err = k.Reset(3)
		require.NoError(t, err)

		// check that currentBatch is as expected after Reset
		cb, err := k.GetCurrentBatch()
		require.NoError(t, err)
		assert.Equal(t, common.BatchNum(3), cb)

		// the key added after the checkpoints is not in the reset storage
		_, err = k.db.Get([]byte("new"))
		assert.Equal(t, db.ErrNotFound, common.Unwrap(err))
		v, err := k.db.Get([]byte{9, 9})
		require.NoError(t, err)
		assert.Equal(t, []byte{9, 9}, v)

		checkpoints, err = k.ListCheckpoints()
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2, 3}, checkpoints)

		err = k.LastRead(func(sto db.Storage) error {
			v, err := sto.Get([]byte{1, 1})
			if err != nil {
				return err
			}
			assert.Equal(t, []byte{1, 1}, v)
			return nil
		})
		require.NoError(t, err)

		if onDisk {
			printCheckpoints(t, k.cfg.Path)
		}
		k.Close()
	}
}

func TestDeleteOldCheckpoints(t *testing.T) {
	for _, onDisk := range []bool{false, true} {
		keep := 16
		k := newTestKVDB(t, onDisk, keep)

		numCheckpoints := 32
		// do checkpoints and check that the number of checkpoints is as
		// expected.
		for i := 0; i < numCheckpoints; i++ {
			err := k.MakeCheckpoint()
			require.NoError(t, err)
			err = k.DeleteOldCheckpoints()
			require.NoError(t, err)
			checkpoints, err := k.ListCheckpoints()
			assert.NoError(t, err)
			assert.LessOrEqual(t, len(checkpoints), keep)
		}
		k.Close()
	}
}

func TestSnapshot(t *testing.T) {
	for _, onDisk := range []bool{false, true} {
		k := newTestKVDB(t, onDisk, 128)
		addTestKV(t, k, []byte("a"), []byte("1"))
		require.NoError(t, k.MakeCheckpoint())

		snapshot, err := k.Snapshot()
		require.NoError(t, err)
		assert.True(t, snapshot.InMemory())
		assert.Equal(t, k.CurrentBatch, snapshot.CurrentBatch)

		v, err := snapshot.DB().Get([]byte("a"))
		require.NoError(t, err)
		assert.Equal(t, []byte("1"), v)

		// writes on the snapshot are not visible in the source
		addTestKV(t, snapshot, []byte("b"), []byte("2"))
		_, err = k.DB().Get([]byte("b"))
		assert.Equal(t, db.ErrNotFound, common.Unwrap(err))

		// the snapshot has no Last view
		err = snapshot.LastRead(func(sto db.Storage) error { return nil })
		assert.Equal(t, ErrNoLast, common.Unwrap(err))

		snapshot.Close()
		k.Close()
	}
}
