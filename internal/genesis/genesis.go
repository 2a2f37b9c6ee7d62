// Package genesis loads the chain's starting configuration: initial
// allocations, validator set, and the policy constants handed to the
// ledger, consensus, and chain packages at startup. Grounded on the
// teacher's GenesisConfig JSON load/save idiom, generalized from
// hard-coded GYDS tokenomics constants to the §6 genesis field list.
package genesis

import (
	"encoding/json"
	"math/big"
	"os"

	"chaincore/internal/chain"
	"chaincore/internal/chainerr"
	"chaincore/internal/consensus"
	"chaincore/internal/crypto"
	"chaincore/internal/ledger"
	"chaincore/internal/types"
)

// Allocation is a single pre-funded address at genesis.
type Allocation struct {
	Address string   `json:"address"`
	Balance *big.Int `json:"balance"`
}

// ValidatorSeed describes a validator already bonded at genesis.
type ValidatorSeed struct {
	Address           string           `json:"address"`
	PublicKey         crypto.PublicKey `json:"public_key"`
	Stake             *big.Int         `json:"stake"`
	CommissionRateBps uint32           `json:"commission_rate_bps"`
}

// Config is the complete genesis file contract of §6.
type Config struct {
	ChainID                string          `json:"chain_id"`
	GenesisTime             int64           `json:"genesis_time"`
	Allocations             []Allocation    `json:"allocations"`
	Validators              []ValidatorSeed `json:"validators"`
	MinStake                *big.Int        `json:"min_stake"`
	MinSelfStake            *big.Int        `json:"min_self_stake"`
	StakeUnit               *big.Int        `json:"stake_unit"`
	UnbondBlocks            uint64          `json:"unbond_blocks"`
	FinalityDepth           uint64          `json:"finality_depth"`
	SupermajorityThreshold  float64         `json:"supermajority_threshold"`
	DoubleSignFraction      float64         `json:"double_sign_fraction"`
	MissFraction            float64         `json:"miss_fraction"`
	BlockReward             *big.Int        `json:"block_reward"`
	MaxTxsPerBlock          int             `json:"max_txs_per_block"`
}

// Default returns a minimal single-validator genesis suitable for local
// development and tests: one funded allocation, one bonded validator, and
// spec-documented defaults everywhere else (§6: unbond_blocks 1,814,400,
// finality_depth 10, supermajority 2/3, max_txs_per_block 100).
func Default(validatorAddr string, validatorPubkey crypto.PublicKey) *Config {
	return &Config{
		ChainID:     "chaincore-devnet",
		GenesisTime: 1700000000,
		Allocations: []Allocation{
			{Address: validatorAddr, Balance: big.NewInt(1_000_000)},
		},
		Validators: []ValidatorSeed{
			{Address: validatorAddr, PublicKey: validatorPubkey, Stake: big.NewInt(100_000)},
		},
		MinStake:               big.NewInt(100),
		MinSelfStake:           big.NewInt(100),
		StakeUnit:              big.NewInt(1),
		UnbondBlocks:           1_814_400,
		FinalityDepth:          10,
		SupermajorityThreshold: 2.0 / 3.0,
		DoubleSignFraction:     0.05,
		MissFraction:           0.001,
		BlockReward:            big.NewInt(10),
		MaxTxsPerBlock:         100,
	}
}

// LoadFromFile reads a genesis config from a JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, chainerr.Wrap(chainerr.Storage, "read genesis file", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, chainerr.Wrap(chainerr.Validation, "parse genesis file", err)
	}
	return &cfg, nil
}

// SaveToFile writes cfg as indented JSON.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return chainerr.Wrap(chainerr.Storage, "marshal genesis config", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// LedgerConfig projects the ledger-relevant policy fields.
func (c *Config) LedgerConfig() ledger.Config {
	return ledger.Config{
		MinStake:     c.MinStake,
		MinSelfStake: c.MinSelfStake,
		UnbondBlocks: c.UnbondBlocks,
		StakeUnit:    c.StakeUnit,
	}
}

// FinalityConfig projects the finality-relevant policy fields.
func (c *Config) FinalityConfig() consensus.FinalityConfig {
	return consensus.FinalityConfig{
		FinalityDepth:          c.FinalityDepth,
		SupermajorityThreshold: big.NewRat(1, 1).SetFloat64(c.SupermajorityThreshold),
	}
}

// SlashingConfig projects the slashing-relevant policy fields, filling in
// the sliding-window and jail-duration parameters the genesis file doesn't
// carry (§6 only pins the two fractions) with the package's defaults.
func (c *Config) SlashingConfig() consensus.SlashingConfig {
	cfg := consensus.DefaultSlashingConfig()
	cfg.DoubleSignFraction = big.NewRat(1, 1).SetFloat64(c.DoubleSignFraction)
	cfg.MissFraction = big.NewRat(1, 1).SetFloat64(c.MissFraction)
	return cfg
}

// ChainConfig projects the chain-driver-relevant policy fields.
func (c *Config) ChainConfig() chain.Config {
	maxTxs := c.MaxTxsPerBlock
	if maxTxs <= 0 {
		maxTxs = 100
	}
	return chain.Config{MaxTxsPerBlock: maxTxs, BlockReward: nonNil(c.BlockReward), Seed: c.ChainID}
}

// BuildLedger constructs a ledger.State seeded with every allocation and
// validator this config names.
func (c *Config) BuildLedger() *ledger.State {
	st := ledger.New(c.LedgerConfig())
	for _, a := range c.Allocations {
		st.SeedAccount(a.Address, a.Balance)
	}
	for _, v := range c.Validators {
		st.SeedValidator(types.ValidatorInfo{
			Address:           v.Address,
			PublicKey:         v.PublicKey,
			Stake:             nonNil(v.Stake),
			DelegatedStake:    big.NewInt(0),
			CommissionRateBps: v.CommissionRateBps,
			CreatedAt:         c.GenesisTime,
		})
	}
	return st
}

// BuildGenesisBlock constructs height-0's block: an empty, unsigned block
// carrying the genesis timestamp and a zero prev_hash, with its Merkle root
// and hash computed. The
// caller (cmd/chaincored) is responsible for persisting it before the
// driver starts.
func (c *Config) BuildGenesisBlock() (*types.Block, error) {
	b := &types.Block{
		Height:    0,
		Timestamp: c.GenesisTime,
	}
	if err := b.ComputeMerkleRoot(); err != nil {
		return nil, err
	}
	if err := b.ComputeHash(); err != nil {
		return nil, err
	}
	return b, nil
}

func nonNil(n *big.Int) *big.Int {
	if n == nil {
		return big.NewInt(0)
	}
	return n
}
