// Package ledger implements the deterministic account/validator/delegation
// state machine: apply_transaction, slashing, unbonding maturation, and the
// snapshot/state_root contract.
package ledger

import "math/big"

// Config holds the ledger's policy parameters, loaded from genesis.
type Config struct {
	MinStake        *big.Int
	MinSelfStake    *big.Int
	UnbondBlocks    uint64
	StakeUnit       *big.Int // STAKE amount must be a multiple of this
}

// DefaultConfig is used by tests and by genesis.Default.
func DefaultConfig() Config {
	return Config{
		MinStake:     big.NewInt(100),
		MinSelfStake: big.NewInt(100),
		UnbondBlocks: 1_814_400,
		StakeUnit:    big.NewInt(1),
	}
}
