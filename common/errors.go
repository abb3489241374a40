package common

import (
	"errors"

	"github.com/hermeznetwork/tracerr"
)

// ErrNotInFF is used when the *big.Int does not fit inside the Finite Field
var ErrNotInFF = errors.New("BigInt not inside the Finite Field")

// ErrNumOverflow is used when a given value overflows the maximum capacity of the parameter
var ErrNumOverflow = errors.New("Value overflows the type")

// ErrNonceOverflow is used when a given nonce overflows the maximum capacity of the Nonce (2**40-1)
var ErrNonceOverflow = errors.New("Nonce overflow, max value: 2**40 -1")

// ErrIdxOverflow is used when a given idx does not fit in the levels of the
// account tree that it addresses
var ErrIdxOverflow = errors.New("idx overflow, does not fit in the tree levels")

// ErrUnsupportedOp is used when an operation type has no witness builder
var ErrUnsupportedOp = errors.New("unsupported operation type")

// Wrap annotates the error with the stack trace of the caller
func Wrap(err error) error {
	return tracerr.Wrap(err)
}

// Unwrap returns the original error of a wrapped error
func Unwrap(err error) error {
	return tracerr.Unwrap(err)
}
