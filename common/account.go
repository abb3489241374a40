package common

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"
	"sort"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/iden3/go-iden3-crypto/babyjub"
	"github.com/iden3/go-iden3-crypto/constants"
	"github.com/iden3/go-iden3-crypto/poseidon"
	cryptoUtils "github.com/iden3/go-iden3-crypto/utils"
	"github.com/iden3/go-merkletree"
	"github.com/iden3/go-merkletree/db/memory"
)

// Account is a struct that gives information of the holdings of an address.
// Is the data structure that generates the Value stored in the leaf of the
// account MerkleTree. The Balances are committed through the root of a
// balance subtree keyed by TokenID.
type Account struct {
	Idx      AccountIdx            `json:"idx"`
	BJJ      babyjub.PublicKeyComp `json:"bjj"`
	EthAddr  ethCommon.Address     `json:"ethAddr"`
	Nonce    Nonce                 `json:"nonce"`
	Balances map[TokenID]*big.Int  `json:"balances"` // max of 192 bits used per balance
}

// AccountIdx represents the account Index in the MerkleTree
type AccountIdx uint32

const (
	// NLeafElems is the number of elements for a leaf
	NLeafElems = 4

	// AccountIdxBytesLen idx bytes
	AccountIdxBytesLen = 4

	// BalanceNLevels is the number of levels of the balance subtree of
	// each account, enough to address every TokenID
	BalanceNLevels = 32

	// maxBalanceBytes is the maximum bytes that can use each balance
	maxBalanceBytes = 24

	// accountLeafBytesLen is the length of the fixed part of the
	// Account bytes, which is the leaf representation
	accountLeafBytesLen = 32 * NLeafElems

	// balanceEntryBytesLen is the length of each [TokenID|Balance] entry
	// appended after the leaf representation
	balanceEntryBytesLen = TokenIDBytesLen + maxBalanceBytes
)

var (
	// EmptyAddr is used to check if an ethereum address is 0
	EmptyAddr = ethCommon.HexToAddress("0x0000000000000000000000000000000000000000")
	// EmptyBJJComp contains the 32 byte array of a empty BabyJubJub
	// PublicKey Compressed. It is a valid point in the BabyJubJub curve,
	// so does not give errors when being decompressed.
	EmptyBJJComp = babyjub.PublicKeyComp([32]byte{})
)

// Bytes returns a byte array representing the AccountIdx
func (idx AccountIdx) Bytes() [AccountIdxBytesLen]byte {
	var b [AccountIdxBytesLen]byte
	binary.BigEndian.PutUint32(b[:], uint32(idx))
	return b
}

// BigInt returns a *big.Int representing the AccountIdx
func (idx AccountIdx) BigInt() *big.Int {
	return new(big.Int).SetUint64(uint64(idx))
}

// FitsLevels returns true if the AccountIdx can address a leaf of a tree
// with the given number of levels
func (idx AccountIdx) FitsLevels(nLevels int) bool {
	if nLevels >= 32 { //nolint:gomnd
		return true
	}
	return uint64(idx) < uint64(1)<<uint(nLevels)
}

// AccountIdxFromBytes returns AccountIdx from a byte array
func AccountIdxFromBytes(b []byte) (AccountIdx, error) {
	if len(b) != AccountIdxBytesLen {
		return 0, Wrap(fmt.Errorf("can not parse AccountIdx, bytes len %d, expected %d",
			len(b), AccountIdxBytesLen))
	}
	return AccountIdx(binary.BigEndian.Uint32(b)), nil
}

// NewEmptyAccount returns the vacated Account that occupies the slot of a
// closed account
func NewEmptyAccount(idx AccountIdx) *Account {
	return &Account{
		Idx:      idx,
		BJJ:      EmptyBJJComp,
		EthAddr:  EmptyAddr,
		Nonce:    0,
		Balances: make(map[TokenID]*big.Int),
	}
}

// IsEmpty returns true if the Account is a vacated slot
func (a *Account) IsEmpty() bool {
	return a.BJJ == EmptyBJJComp && a.EthAddr == EmptyAddr && a.Nonce == 0 &&
		!a.HasBalance()
}

// HasBalance returns true if any of the token balances is not zero
func (a *Account) HasBalance() bool {
	for _, b := range a.Balances {
		if b != nil && b.Sign() != 0 {
			return true
		}
	}
	return false
}

// Balance returns the balance of the given token, zero if the account does
// not hold it
func (a *Account) Balance(tokenID TokenID) *big.Int {
	if b, ok := a.Balances[tokenID]; ok && b != nil {
		return new(big.Int).Set(b)
	}
	return big.NewInt(0)
}

// sortedTokens returns the tokens with non zero balance in ascending order
func (a *Account) sortedTokens() []TokenID {
	tokens := make([]TokenID, 0, len(a.Balances))
	for tokenID, b := range a.Balances {
		if b != nil && b.Sign() != 0 {
			tokens = append(tokens, tokenID)
		}
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i] < tokens[j] })
	return tokens
}

// BalanceRoot returns the root of the balance subtree of the Account, where
// each leaf is keyed by TokenID and holds the token balance. Zero balances
// are not part of the tree, so an Account without balances has a zero root.
func (a *Account) BalanceRoot() (*big.Int, error) {
	mt, err := merkletree.NewMerkleTree(memory.NewMemoryStorage(), BalanceNLevels)
	if err != nil {
		return nil, Wrap(err)
	}
	for _, tokenID := range a.sortedTokens() {
		balance := a.Balances[tokenID]
		if balance.Sign() < 0 || len(balance.Bytes()) > maxBalanceBytes {
			return nil, Wrap(fmt.Errorf("%w: balance of token %d", ErrNumOverflow, tokenID))
		}
		if err := mt.Add(tokenID.BigInt(), balance); err != nil {
			return nil, Wrap(err)
		}
	}
	return mt.Root().BigInt(), nil
}

// Bytes returns the bytes representing the Account. The first 128 bytes are
// the leaf representation, in a way that each BigInt is represented by 32
// bytes, in spite of the BigInt could be represented in less bytes (due a
// small big.Int), so in this way each BigInt is always 32 bytes and can be
// automatically parsed from a byte array. After the leaf, each non zero
// balance is appended as [4 bytes TokenID | 24 bytes Balance].
func (a *Account) Bytes() ([]byte, error) {
	tokens := a.sortedTokens()
	b := make([]byte, accountLeafBytesLen+len(tokens)*balanceEntryBytesLen)

	nonceBytes, err := a.Nonce.Bytes()
	if err != nil {
		return nil, Wrap(err)
	}
	copy(b[23:28], nonceBytes[:])

	pkSign, pkY := babyjub.UnpackSignY(a.BJJ)
	if pkSign {
		b[22] = 1
	}

	balanceRoot, err := a.BalanceRoot()
	if err != nil {
		return nil, Wrap(err)
	}
	balanceRootBytes := balanceRoot.Bytes()
	copy(b[64-len(balanceRootBytes):64], balanceRootBytes)

	// Check if there is possibility of finite field overflow
	ayBytes := pkY.Bytes()
	if len(ayBytes) == 32 { //nolint:gomnd
		ayBytes[0] = ayBytes[0] & 0x3f //nolint:gomnd
		pkY = new(big.Int).SetBytes(ayBytes)
	}
	pkY = new(big.Int).Mod(pkY, constants.Q)
	ayBytes = pkY.Bytes()
	copy(b[96-len(ayBytes):96], ayBytes)
	copy(b[108:128], a.EthAddr.Bytes())

	for i, tokenID := range tokens {
		offset := accountLeafBytesLen + i*balanceEntryBytesLen
		copy(b[offset:offset+TokenIDBytesLen], tokenID.Bytes())
		balanceBytes := a.Balances[tokenID].Bytes()
		end := offset + balanceEntryBytesLen
		copy(b[end-len(balanceBytes):end], balanceBytes)
	}
	return b, nil
}

// BigInts returns the [4]*big.Int, where each *big.Int is inside the Finite
// Field: [sign|nonce, balanceRoot, ay, ethAddr]
func (a *Account) BigInts() ([NLeafElems]*big.Int, error) {
	e := [NLeafElems]*big.Int{}

	b, err := a.Bytes()
	if err != nil {
		return e, Wrap(err)
	}

	e[0] = new(big.Int).SetBytes(b[0:32])
	e[1] = new(big.Int).SetBytes(b[32:64])
	e[2] = new(big.Int).SetBytes(b[64:96])
	e[3] = new(big.Int).SetBytes(b[96:128])

	return e, nil
}

// HashValue returns the value of the Account, which is the Poseidon hash of
// its *big.Int representation
func (a *Account) HashValue() (*big.Int, error) {
	bi, err := a.BigInts()
	if err != nil {
		return nil, Wrap(err)
	}
	return poseidon.Hash(bi[:])
}

// AccountFromBytes returns a Account from a byte array
func AccountFromBytes(b []byte) (*Account, error) {
	if len(b) < accountLeafBytesLen || (len(b)-accountLeafBytesLen)%balanceEntryBytesLen != 0 {
		return nil, Wrap(fmt.Errorf("can not parse Account, bytes len %d", len(b)))
	}
	var nonceBytes [NonceBytesLen]byte
	copy(nonceBytes[:], b[23:28])
	nonce := NonceFromBytes(nonceBytes)
	sign := b[22] == 1

	ay := new(big.Int).SetBytes(b[64:96])
	if !cryptoUtils.CheckBigIntInField(ay) {
		return nil, Wrap(ErrNotInFF)
	}
	publicKeyComp := babyjub.PackSignY(sign, ay)
	ethAddr := ethCommon.BytesToAddress(b[108:128])

	balances := make(map[TokenID]*big.Int)
	for offset := accountLeafBytesLen; offset < len(b); offset += balanceEntryBytesLen {
		tokenID, err := TokenIDFromBytes(b[offset : offset+TokenIDBytesLen])
		if err != nil {
			return nil, Wrap(err)
		}
		balance := new(big.Int).SetBytes(b[offset+TokenIDBytesLen : offset+balanceEntryBytesLen])
		if !cryptoUtils.CheckBigIntInField(balance) {
			return nil, Wrap(ErrNotInFF)
		}
		balances[tokenID] = balance
	}

	if bytes.Equal(publicKeyComp[:], EmptyBJJComp[:]) {
		publicKeyComp = EmptyBJJComp
	}
	return &Account{
		Nonce:    nonce,
		BJJ:      publicKeyComp,
		EthAddr:  ethAddr,
		Balances: balances,
	}, nil
}

// String returns a human readable representation of the Account
func (a *Account) String() string {
	buf := bytes.NewBufferString("")
	fmt.Fprintf(buf, "Idx: %v, ", a.Idx)
	fmt.Fprintf(buf, "BJJ: %s..., ", a.BJJ.String()[:10])
	fmt.Fprintf(buf, "EthAddr: %s, ", a.EthAddr.Hex())
	fmt.Fprintf(buf, "Nonce: %d, ", a.Nonce)
	fmt.Fprintf(buf, "Balances: %v", a.Balances)
	return buf.String()
}
