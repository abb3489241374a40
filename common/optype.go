package common

import (
	"encoding/json"
	"fmt"
	"strings"
)

// OpType is the type of a rollup operation
type OpType uint8

const (
	// OpTypeNoop is the padding operation used to fill a block
	OpTypeNoop OpType = 0
	// OpTypeDeposit moves funds from L1 into an account
	OpTypeDeposit OpType = 1
	// OpTypeTransferToNew transfers funds into a new account
	OpTypeTransferToNew OpType = 2
	// OpTypeWithdraw moves funds from an account to L1
	OpTypeWithdraw OpType = 3
	// OpTypeClose vacates an account slot
	OpTypeClose OpType = 4
	// OpTypeTransfer transfers funds between existing accounts
	OpTypeTransfer OpType = 5
	// OpTypeFullExit is the L1 forced exit
	OpTypeFullExit OpType = 6
	// OpTypeChangePubKey sets the signing key of an account
	OpTypeChangePubKey OpType = 7
)

var opTypeNames = map[OpType]string{
	OpTypeNoop:          "Noop",
	OpTypeDeposit:       "Deposit",
	OpTypeTransferToNew: "TransferToNew",
	OpTypeWithdraw:      "Withdraw",
	OpTypeClose:         "Close",
	OpTypeTransfer:      "Transfer",
	OpTypeFullExit:      "FullExit",
	OpTypeChangePubKey:  "ChangePubKey",
}

const (
	// ChunkBytes is the number of pubdata bytes carried by each chunk
	ChunkBytes = 10
	// NoopOpChunks is the number of chunks of a noop operation
	NoopOpChunks = 1
	// CloseOpChunks is the number of chunks of a close operation
	CloseOpChunks = 1
)

// Chunks returns the number of pubdata chunks used by an operation of the
// given type, 0 for the types that have no witness in this module
func (t OpType) Chunks() int {
	switch t {
	case OpTypeNoop:
		return NoopOpChunks
	case OpTypeClose:
		return CloseOpChunks
	default:
		return 0
	}
}

// String returns the name of the OpType
func (t OpType) String() string {
	if name, ok := opTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("OpType(%d)", uint8(t))
}

// MarshalJSON encodes the OpType by name
func (t OpType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes the OpType from its name
func (t *OpType) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return Wrap(err)
	}
	for opType, n := range opTypeNames {
		if strings.EqualFold(n, name) {
			*t = opType
			return nil
		}
	}
	return Wrap(fmt.Errorf("%w: %q", ErrUnsupportedOp, name))
}

// Op is a rollup operation that can be applied to the account tree
type Op interface {
	OpType() OpType
	AccountIdx() AccountIdx
}
