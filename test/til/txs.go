package til

import (
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"
	"math/big"
	"sort"
	"zkrollup-witness/common"
	"zkrollup-witness/log"

	ethCommon "github.com/ethereum/go-ethereum/common"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/iden3/go-iden3-crypto/babyjub"
)

// InstructionType is the type of a test Instruction
type InstructionType string

const (
	// TypeCreateAccount creates the account of the user in the genesis
	// state, with the Amount of TokenID as balance
	TypeCreateAccount InstructionType = "CreateAccount"
	// TypeDeposit adds Amount of TokenID to the genesis balance of the
	// user
	TypeDeposit InstructionType = "Deposit"
	// TypeClose generates a signed CloseOp of the user account
	TypeClose InstructionType = "Close"
	// TypeCloseUnsigned generates a CloseOp without signature
	TypeCloseUnsigned InstructionType = "CloseUnsigned"
)

// Instruction is one step of a test set
type Instruction struct {
	LineNum int
	Typ     InstructionType
	From    string
	TokenID common.TokenID
	Amount  *big.Int
}

// Context contains the data of the test
type Context struct {
	instructions []Instruction
	userNames    []string
	Users        map[string]*User // Name -> *User
	UsersByIdx   map[common.AccountIdx]*User
	genesis      map[common.AccountIdx]*common.Account
}

// NewContext returns a new Context
func NewContext() *Context {
	return &Context{
		Users:      make(map[string]*User),
		UsersByIdx: make(map[common.AccountIdx]*User),
		genesis:    make(map[common.AccountIdx]*common.Account),
	}
}

// User contains the keys and the state of a test user
type User struct {
	Name  string
	Idx   common.AccountIdx
	Addr  ethCommon.Address
	BJJ   *babyjub.PrivateKey
	EthSk *ecdsa.PrivateKey
	Nonce common.Nonce
}

// Set is the output of a set of instructions: the genesis accounts, sorted
// by Idx, and the operations in instruction order
type Set struct {
	Accounts []*common.Account
	Ops      []common.Op
}

// GenerateSet returns the genesis accounts and the operations of the given
// set of instructions. It uses the users (keys & nonces) of the Context.
func (tc *Context) GenerateSet(set []Instruction) (*Set, error) {
	userNames := []string{}
	addedNames := make(map[string]bool)
	for _, inst := range set {
		if _, ok := addedNames[inst.From]; !ok && inst.From != "" {
			// If the name wasn't already added
			userNames = append(userNames, inst.From)
			addedNames[inst.From] = true
		}
	}
	tc.userNames = userNames
	tc.instructions = set
	tc.GenerateKeys(tc.userNames)

	s := &Set{}
	for _, inst := range tc.instructions {
		user := tc.Users[inst.From]
		switch inst.Typ {
		case TypeCreateAccount:
			if _, ok := tc.genesis[user.Idx]; ok {
				return nil, common.Wrap(fmt.Errorf("line %d: account %s already created",
					inst.LineNum, inst.From))
			}
			account := user.Account()
			if inst.Amount != nil {
				account.Balances[inst.TokenID] = new(big.Int).Set(inst.Amount)
			}
			tc.genesis[user.Idx] = account
		case TypeDeposit:
			account, ok := tc.genesis[user.Idx]
			if !ok {
				return nil, common.Wrap(fmt.Errorf("line %d: account %s does not exist",
					inst.LineNum, inst.From))
			}
			account.Balances[inst.TokenID] = new(big.Int).Add(account.Balance(inst.TokenID),
				inst.Amount)
		case TypeClose, TypeCloseUnsigned:
			op := user.CloseOp()
			if inst.Typ == TypeClose {
				if err := op.Tx.Sign(user.BJJ); err != nil {
					return nil, common.Wrap(err)
				}
			}
			user.Nonce++
			s.Ops = append(s.Ops, op)
		default:
			log.Errorw("unexpected instruction type", "line", inst.LineNum, "type", inst.Typ)
			return nil, common.Wrap(fmt.Errorf("line %d: unexpected type: %s",
				inst.LineNum, inst.Typ))
		}
	}
	for _, account := range tc.genesis {
		s.Accounts = append(s.Accounts, account)
	}
	sort.Slice(s.Accounts, func(i, j int) bool { return s.Accounts[i].Idx < s.Accounts[j].Idx })
	return s, nil
}

// GenerateKeys generates BabyJubJub & Address keys for the given list of user
// names in a deterministic way. This means, that for the same given
// 'userNames' in a certain order, the keys will be always the same.
func (tc *Context) GenerateKeys(userNames []string) {
	for i := 1; i < len(userNames)+1; i++ {
		if _, ok := tc.Users[userNames[i-1]]; ok {
			// user already created
			continue
		}

		u := NewUser(i, userNames[i-1])
		tc.Users[userNames[i-1]] = &u
		tc.UsersByIdx[u.Idx] = &u
	}
}

// NewUser creates a User deriving its keys at the path keyDerivationIndex.
// The Idx of the account of the User is the keyDerivationIndex.
func NewUser(keyDerivationIndex int, name string) User {
	// babyjubjub key
	var sk babyjub.PrivateKey
	var iBytes [8]byte
	binary.LittleEndian.PutUint64(iBytes[:], uint64(keyDerivationIndex))
	copy(sk[:], iBytes[:]) // only for testing

	// eth address
	var key ecdsa.PrivateKey
	key.D = big.NewInt(int64(keyDerivationIndex)) // only for testing
	key.PublicKey.X, key.PublicKey.Y = ethCrypto.S256().ScalarBaseMult(key.D.Bytes())
	key.Curve = ethCrypto.S256()
	addr := ethCrypto.PubkeyToAddress(key.PublicKey)

	return User{
		Name:  name,
		Idx:   common.AccountIdx(keyDerivationIndex),
		Addr:  addr,
		BJJ:   &sk,
		EthSk: &key,
		Nonce: common.Nonce(0),
	}
}

// Account returns the Account of the User, without balances
func (u *User) Account() *common.Account {
	return &common.Account{
		Idx:      u.Idx,
		BJJ:      u.BJJ.Public().Compress(),
		EthAddr:  u.Addr,
		Nonce:    u.Nonce,
		Balances: make(map[common.TokenID]*big.Int),
	}
}

// CloseOp returns an unsigned CloseOp of the User account at the current
// User nonce
func (u *User) CloseOp() *common.CloseOp {
	return &common.CloseOp{
		Idx: u.Idx,
		Tx: common.CloseTx{
			Account: u.Addr,
			Nonce:   u.Nonce,
		},
	}
}

// GenerateAccounts returns n users named "A0".."A(n-1)" with a deterministic
// balance of token 0, and their accounts
func GenerateAccounts(n int) ([]*User, []*common.Account) {
	tc := NewContext()
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("A%d", i)
	}
	tc.GenerateKeys(names)
	users := make([]*User, n)
	accounts := make([]*common.Account, n)
	for i, name := range names {
		users[i] = tc.Users[name]
		accounts[i] = users[i].Account()
		accounts[i].Balances[0] = big.NewInt(int64(1000 * (i + 1)))
	}
	return users, accounts
}
