package common

import (
	"encoding/binary"
	"fmt"
	"math/big"
)

// TokenIDBytesLen is the length of the TokenID byte encoding
const TokenIDBytesLen = 4

// TokenID is the unique identifier of the token, as set in the smart contract
type TokenID uint32

// Bytes returns a byte array of length 4 representing the TokenID
func (t TokenID) Bytes() []byte {
	var tokenIDBytes [TokenIDBytesLen]byte
	binary.BigEndian.PutUint32(tokenIDBytes[:], uint32(t))
	return tokenIDBytes[:]
}

// BigInt returns a *big.Int representing the TokenID
func (t TokenID) BigInt() *big.Int {
	return new(big.Int).SetUint64(uint64(t))
}

// TokenIDFromBytes returns TokenID from a byte array
func TokenIDFromBytes(b []byte) (TokenID, error) {
	if len(b) != TokenIDBytesLen {
		return 0, Wrap(fmt.Errorf("can not parse TokenID, bytes len %d, expected %d",
			len(b), TokenIDBytesLen))
	}
	return TokenID(binary.BigEndian.Uint32(b)), nil
}
