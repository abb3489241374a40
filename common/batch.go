package common

import (
	"encoding/binary"
	"fmt"
	"math/big"

	ethCommon "github.com/ethereum/go-ethereum/common"
)

const batchNumBytesLen = 8

// BatchNum identifies a batch of operations and the StateDB checkpoint
// created after processing it
type BatchNum int64

// Bytes returns a byte array of length 8 representing the BatchNum
func (bn BatchNum) Bytes() []byte {
	var batchNumBytes [batchNumBytesLen]byte
	binary.BigEndian.PutUint64(batchNumBytes[:], uint64(bn))
	return batchNumBytes[:]
}

// BatchNumFromBytes returns BatchNum from a []byte
func BatchNumFromBytes(b []byte) (BatchNum, error) {
	if len(b) != batchNumBytesLen {
		return 0,
			Wrap(fmt.Errorf("can not parse BatchNumFromBytes, bytes len %d, expected %d",
				len(b), batchNumBytesLen))
	}
	batchNum := binary.BigEndian.Uint64(b[:batchNumBytesLen])
	return BatchNum(batchNum), nil
}

// BigInt returns a *big.Int representing the BatchNum
func (bn BatchNum) BigInt() *big.Int {
	return big.NewInt(int64(bn))
}

// Batch is the summary of a processed batch of operations
type Batch struct {
	BatchNum BatchNum `json:"batchNum"`
	// OldStateRoot is the account tree root before the batch
	OldStateRoot *big.Int `json:"oldStateRoot"`
	// NewStateRoot is the account tree root after the batch
	NewStateRoot      *big.Int       `json:"newStateRoot"`
	NumOps            int            `json:"numOps"`
	ClosedAccounts    []AccountIdx   `json:"closedAccounts"`
	PubdataCommitment ethCommon.Hash `json:"pubdataCommitment"`
}
