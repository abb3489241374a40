package config

import (
	"fmt"
	"zkrollup-witness/common"

	"github.com/go-playground/validator"
)

// DefaultValues is the default configuration of the Node, overwritten by
// the configuration file and the environment variables
const DefaultValues = `
[Log]
Level = "info"
Out = ["stdout"]

[StateDB]
Path = ""
Keep = 128

[Circuit]
NLevels = 24
BlockChunks = 64
RequireEmptyBalance = false

[Workers]
Num = 0
`

// Log is the logger configuration
type Log struct {
	// Level is the minimum level printed: debug, info, warn, error
	Level string   `validate:"required,oneof=debug info warn error" env:"WITNESS_LOG_LEVEL"`
	Out   []string `validate:"required" env:"WITNESS_LOG_OUT" envSeparator:","`
}

// StateDB is the configuration of the account tree storage
type StateDB struct {
	// Path where the StateDB is stored. If empty, the StateDB is kept in
	// memory.
	Path string `env:"WITNESS_STATEDB_PATH"`
	// Keep is the number of checkpoints to keep
	Keep int `validate:"min=0" env:"WITNESS_STATEDB_KEEP"`
}

// Circuit is the configuration of the circuit the witness is built for
type Circuit struct {
	// NLevels of the account tree
	NLevels uint32 `validate:"required,min=1,max=32" env:"WITNESS_CIRCUIT_NLEVELS"`
	// BlockChunks is the number of pubdata chunks of a block
	BlockChunks uint32 `validate:"required,min=1" env:"WITNESS_CIRCUIT_BLOCKCHUNKS"`
	// RequireEmptyBalance rejects the close of accounts with balance
	RequireEmptyBalance bool `env:"WITNESS_CIRCUIT_REQUIREEMPTYBALANCE"`
}

// Workers is the configuration of the goroutines computing the circuit
// operations
type Workers struct {
	// Num of goroutines, 0 means one per operation
	Num int `validate:"min=0" env:"WITNESS_WORKERS"`
}

// Node is the configuration of the witness generator
type Node struct {
	Log     Log
	StateDB StateDB
	Circuit Circuit
	Workers Workers
}

// LoadNode loads the Node configuration from the defaults, the file at
// path (if not empty) and the environment, and validates it
func LoadNode(path string) (*Node, error) {
	var cfg Node
	if err := LoadConfig(path, DefaultValues, &cfg); err != nil {
		return nil, common.Wrap(err)
	}
	for _, section := range []interface{}{&cfg.Log, &cfg.StateDB, &cfg.Circuit, &cfg.Workers} {
		if err := loadEnv(section); err != nil {
			return nil, common.Wrap(fmt.Errorf("error loading environment variables: %w", err))
		}
	}
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, common.Wrap(fmt.Errorf("error validating configuration: %w", err))
	}
	logParams(&cfg)
	return &cfg, nil
}
