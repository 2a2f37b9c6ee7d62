package types

import (
	"math/big"

	"chaincore/internal/crypto"
)

// ValidatorInfo is a registered proof-of-stake validator.
type ValidatorInfo struct {
	Address             string           `json:"address"`
	PublicKey           crypto.PublicKey `json:"public_key"`
	Stake               *big.Int         `json:"stake"`
	DelegatedStake      *big.Int         `json:"delegated_stake"`
	CommissionRateBps    uint32          `json:"commission_rate_bps"` // basis points, 0..10000
	Jailed              bool             `json:"jailed"`
	JailedUntil         uint64           `json:"jailed_until"`
	TotalBlocksProposed uint64           `json:"total_blocks_proposed"`
	TotalBlocksMissed   uint64           `json:"total_blocks_missed"`
	LastBlockTime       int64            `json:"last_block_time"`
	CreatedAt           int64            `json:"created_at"`
}

// TotalStake returns self-stake plus delegated stake.
func (v *ValidatorInfo) TotalStake() *big.Int {
	return new(big.Int).Add(v.Stake, v.DelegatedStake)
}

// ActiveAt reports whether the validator is eligible for selection at
// height h: not jailed (or past its jail term) and meeting minStake.
func (v *ValidatorInfo) ActiveAt(h uint64, minStake *big.Int) bool {
	if v.Jailed && h < v.JailedUntil {
		return false
	}
	return v.TotalStake().Cmp(minStake) >= 0
}

// Clone deep-copies a ValidatorInfo so sandboxed ledger mutation never
// aliases the committed copy.
func (v *ValidatorInfo) Clone() *ValidatorInfo {
	cp := *v
	cp.Stake = new(big.Int).Set(v.Stake)
	cp.DelegatedStake = new(big.Int).Set(v.DelegatedStake)
	return &cp
}
