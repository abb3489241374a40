// Package common zk.go contains the zkSnark inputs used to generate the proof
// of a block of rollup operations
package common

import (
	"math/big"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// AccountWitness is the leaf state of an account, with each element
// expressed as a field element
type AccountWitness struct {
	Nonce       *big.Int `json:"nonce"`       // uint64 (max 40 bits)
	Sign        bool     `json:"sign"`        // bool
	Ay          *big.Int `json:"ay"`          // big.Int
	EthAddr     *big.Int `json:"ethAddr"`     // ethCommon.Address
	BalanceRoot *big.Int `json:"balanceRoot"` // Hash
}

// OperationBranch is the authenticated leaf of an account at one side
// (before or after) of an operation
type OperationBranch struct {
	// Address is the AccountIdx of the leaf
	Address *big.Int       `json:"address"`
	Witness AccountWitness `json:"witness"`
	// Siblings of the leaf, len: [nLevels + 1]
	Siblings []*big.Int `json:"siblings"`
}

// OperationArguments are the operation specific arguments that the circuit
// checks against the signed message
type OperationArguments struct {
	EthAddress *big.Int `json:"ethAddress"`
	Nonce      *big.Int `json:"nonce"`
	ValidFrom  *big.Int `json:"validFrom"`
	ValidUntil *big.Int `json:"validUntil"`
}

// SignatureData is the eddsa signature decomposed in field elements
type SignatureData struct {
	R8x *big.Int `json:"r8x"`
	R8y *big.Int `json:"r8y"`
	S   *big.Int `json:"s"`
}

// Operation is one circuit round, which processes one pubdata chunk
type Operation struct {
	// NewRoot is the account root once the round is processed
	NewRoot *big.Int `json:"newRoot"`
	TxType  *big.Int `json:"txType"`
	Chunk   *big.Int `json:"chunk"`
	// PubdataChunk is the field element of the ChunkBytes of pubdata
	// processed in the round
	PubdataChunk  *big.Int           `json:"pubdataChunk"`
	FirstSigMsg   *big.Int           `json:"firstSigMsg"`
	SecondSigMsg  *big.Int           `json:"secondSigMsg"`
	ThirdSigMsg   *big.Int           `json:"thirdSigMsg"`
	Signature     SignatureData      `json:"signature"`
	SignerPubKeyX *big.Int           `json:"signerPubKeyX"`
	SignerPubKeyY *big.Int           `json:"signerPubKeyY"`
	Args          OperationArguments `json:"args"`
	Lhs           OperationBranch    `json:"lhs"`
	Rhs           OperationBranch    `json:"rhs"`
}

// ZKMetadata contains ZKInputs metadata that is not used directly in the
// ZKInputs result, but to calculate values for the block commitment
type ZKMetadata struct {
	NLevels     uint32       `json:"nLevels"`
	BlockChunks uint32       `json:"blockChunks"`
	NumOps      uint32       `json:"numOps"`
	OpTypes     []OpType     `json:"opTypes"`
	AccountIdxs []AccountIdx `json:"accountIdxs"`
}

// ZKInputs represents the inputs that will be used to generate the zkSNARK
// proof of a block
type ZKInputs struct {
	Metadata ZKMetadata `json:"-"`

	// CurrentNumBatch is the current batch number processed
	CurrentNumBatch *big.Int `json:"currentNumBatch"`
	// OldRoot is the account merkle tree root before the block
	OldRoot *big.Int `json:"oldRoot"`
	// NewRoot is the account merkle tree root after the block
	NewRoot *big.Int `json:"newRoot"`
	// Pubdata of the block, padded with noop chunks, len: [blockChunks *
	// ChunkBytes]
	Pubdata hexutil.Bytes `json:"pubdata"`
	// PubdataCommitment is keccak256(oldRoot | newRoot | pubdata)
	PubdataCommitment ethCommon.Hash `json:"pubdataCommitment"`
	// Operations, one per chunk, len: [blockChunks]
	Operations []Operation `json:"operations"`

	//
	// Intermediate States
	//

	// ISAccountRoot is the account root once each operation is processed,
	// len: [numOps]
	ISAccountRoot []*big.Int `json:"imAccountRoot"`
}

// NewZKInputs returns a pointer to an initialized struct of ZKInputs
func NewZKInputs(blockChunks, nLevels uint32, currentNumBatch *big.Int) *ZKInputs {
	zki := &ZKInputs{}
	zki.Metadata.NLevels = nLevels
	zki.Metadata.BlockChunks = blockChunks
	zki.CurrentNumBatch = currentNumBatch
	zki.OldRoot = big.NewInt(0)
	zki.NewRoot = big.NewInt(0)
	zki.Pubdata = make([]byte, 0, blockChunks*ChunkBytes)
	zki.Operations = make([]Operation, 0, blockChunks)
	zki.ISAccountRoot = make([]*big.Int, 0)
	return zki
}

// NewOperationBranch returns an OperationBranch with all the values
// initialized at 0 and nLevels+1 siblings
func NewOperationBranch(nLevels uint32) OperationBranch {
	return OperationBranch{
		Address: big.NewInt(0),
		Witness: AccountWitness{
			Nonce:       big.NewInt(0),
			Ay:          big.NewInt(0),
			EthAddr:     big.NewInt(0),
			BalanceRoot: big.NewInt(0),
		},
		Siblings: NewSlice(nLevels + 1),
	}
}

// NewSlice returns a []*big.Int slice of length n with values initialized at
// 0.
// Is used to initialize all *big.Ints of the ZKInputs data structure, so when
// the operations are processed and the ZKInputs filled, there is no need to
// set all the elements, and if an operation does not use a parameter, can be
// leaved as it is in the ZKInputs, as will be 0, so later when using the
// ZKInputs to generate the zkSnark proof there is no 'nil'/'null' values.
func NewSlice(n uint32) []*big.Int {
	s := make([]*big.Int, n)
	for i := 0; i < len(s); i++ {
		s[i] = big.NewInt(0)
	}
	return s
}
