package types

import "math/big"

// UnbondingEntry is a delayed-release claim created by UNSTAKE or
// UNDELEGATE. Validator is empty for a self-unstake entry and set to the
// delegated validator's address for an undelegate entry; both mature and
// credit identically (spec.md resolves UNDELEGATE to the same unbonding
// policy as UNSTAKE rather than an immediate return).
type UnbondingEntry struct {
	ID               uint64   `json:"id"`
	Address          string   `json:"address"`
	Validator        string   `json:"validator,omitempty"`
	Amount           *big.Int `json:"amount"`
	CompletionHeight uint64   `json:"completion_height"`
	CreatedAt        int64    `json:"created_at"`
}

// Mature reports whether the entry is ready to be credited back at height h.
func (u *UnbondingEntry) Mature(h uint64) bool {
	return h >= u.CompletionHeight
}

func (u *UnbondingEntry) Clone() *UnbondingEntry {
	cp := *u
	cp.Amount = new(big.Int).Set(u.Amount)
	return &cp
}
