package common

import (
	"encoding/binary"
	"math/big"
)

const (
	// MaxNonceValue is the maximum value that the Account.Nonce can have
	// (40 bits: MaxNonceValue=2**40-1)
	MaxNonceValue = 0xffffffffff
	// NonceBytesLen is the length of the Nonce byte encoding
	NonceBytesLen = 5
)

// Nonce represents the nonce value in a uint64, which has the method Bytes
// that returns a byte array of length 5 (40 bits).
type Nonce uint64

// Bytes returns a byte array of length 5 representing the Nonce
func (n Nonce) Bytes() ([NonceBytesLen]byte, error) {
	if n > MaxNonceValue {
		return [NonceBytesLen]byte{}, Wrap(ErrNonceOverflow)
	}
	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], uint64(n))
	var b [NonceBytesLen]byte
	copy(b[:], nonceBytes[3:])
	return b, nil
}

// BigInt returns the *big.Int representation of the Nonce value
func (n Nonce) BigInt() *big.Int {
	return new(big.Int).SetUint64(uint64(n))
}

// NonceFromBytes returns Nonce from a [5]byte
func NonceFromBytes(b [NonceBytesLen]byte) Nonce {
	var nonceBytes [8]byte
	copy(nonceBytes[3:], b[:])
	return Nonce(binary.BigEndian.Uint64(nonceBytes[:]))
}
