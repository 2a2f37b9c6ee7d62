// Package consensus implements proposer selection, finality voting, and
// slashing coordination on top of the ledger's validator table.
package consensus

import (
	"math/big"
	"sort"

	"chaincore/internal/canon"
	"chaincore/internal/chainerr"
	"chaincore/internal/crypto"
	"chaincore/internal/types"
)

// Selector picks a block proposer deterministically from the active
// validator set, weighted by stake. It holds no state of its own beyond
// min_stake: the validator table lives in the ledger and is passed in per
// call, keeping the ledger the single owner of mutable state.
type Selector struct {
	minStake *big.Int
}

// NewSelector returns a selector that uses minStake as the weight unit: a
// validator's weight is its total stake divided by minStake (at least 1).
func NewSelector(minStake *big.Int) *Selector {
	return &Selector{minStake: minStake}
}

// weight assigns each active validator weight = max(1, floor(total_stake /
// min_stake)), per the proposer-selection contract.
func (s *Selector) weight(v types.ValidatorInfo) *big.Int {
	if s.minStake.Sign() <= 0 {
		return big.NewInt(1)
	}
	w := new(big.Int).Quo(v.TotalStake(), s.minStake)
	if w.Sign() <= 0 {
		return big.NewInt(1)
	}
	return w
}

// SelectProposer deterministically picks a proposer from the given
// validators (already filtered to active-at-height by the caller) weighted
// by stake. Validators are sorted by address before the cumulative weight
// table is built so the same inputs always produce the same table
// regardless of map iteration order. Returns ("", false) when no validator
// is active — callers must treat this as a stalled chain.
func (s *Selector) SelectProposer(height uint64, seed string, active []types.ValidatorInfo) (string, bool) {
	if len(active) == 0 {
		return "", false
	}
	sorted := make([]types.ValidatorInfo, len(active))
	copy(sorted, active)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Address < sorted[j].Address })

	weights := make([]*big.Int, len(sorted))
	totalWeight := big.NewInt(0)
	for i, v := range sorted {
		weights[i] = s.weight(v)
		totalWeight.Add(totalWeight, weights[i])
	}
	if totalWeight.Sign() <= 0 {
		return "", false
	}

	seedValue, err := proposerSeed(height, seed)
	if err != nil {
		return "", false
	}
	index := new(big.Int).Mod(seedValue, totalWeight)

	cumulative := big.NewInt(0)
	for i, v := range sorted {
		cumulative.Add(cumulative, weights[i])
		if cumulative.Cmp(index) > 0 {
			return v.Address, true
		}
	}
	return sorted[len(sorted)-1].Address, true
}

// proposerSeed derives a deterministic big integer from hash(height ‖ seed),
// using the chain-wide canonical encoding and hash so every implementation
// of this contract produces identical rotation tables given identical
// inputs (resolves the mixed SHA-256/SHA3-256 open question in favor of a
// single hash family used everywhere, including here).
func proposerSeed(height uint64, seed string) (*big.Int, error) {
	digest, err := crypto.HashObject(canon.Map{
		"height": height,
		"seed":   seed,
	})
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(digest[:]), nil
}

// ValidateProposer checks that addr is both registered and active at
// height, the proposer-eligibility check block validation rule (iii)
// requires before signature verification.
func ValidateProposer(addr string, height uint64, minStake *big.Int, v types.ValidatorInfo, exists bool) error {
	if !exists {
		return chainerr.New(chainerr.Protocol, "unknown validator").WithAddress(addr).WithHeight(height)
	}
	if !v.ActiveAt(height, minStake) {
		return chainerr.New(chainerr.Protocol, "proposer not active at height").WithAddress(addr).WithHeight(height)
	}
	return nil
}
