package common

import (
	"math/big"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/iden3/go-iden3-crypto/babyjub"
)

// EthAddrToBigInt returns a *big.Int from a given ethereum common.Address.
func EthAddrToBigInt(a ethCommon.Address) *big.Int {
	return new(big.Int).SetBytes(a.Bytes())
}

// BigIntToEthAddr returns the ethereum common.Address of a *big.Int
func BigIntToEthAddr(b *big.Int) ethCommon.Address {
	return ethCommon.BigToAddress(b)
}

// NewAccountWitness returns the AccountWitness of the leaf of the Account
func NewAccountWitness(a *Account) (AccountWitness, error) {
	balanceRoot, err := a.BalanceRoot()
	if err != nil {
		return AccountWitness{}, Wrap(err)
	}
	sign, ay := babyjub.UnpackSignY(a.BJJ)
	return AccountWitness{
		Nonce:       a.Nonce.BigInt(),
		Sign:        sign,
		Ay:          ay,
		EthAddr:     EthAddrToBigInt(a.EthAddr),
		BalanceRoot: balanceRoot,
	}, nil
}
