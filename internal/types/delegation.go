package types

import "math/big"

// Delegation is keyed by (Delegator, Validator); one record per pair,
// present only while Amount > 0.
type Delegation struct {
	Delegator string   `json:"delegator"`
	Validator string   `json:"validator"`
	Amount    *big.Int `json:"amount"`
}

// DelegationKey identifies a Delegation by its (delegator, validator) pair.
type DelegationKey struct {
	Delegator string
	Validator string
}

func (d *Delegation) Key() DelegationKey {
	return DelegationKey{Delegator: d.Delegator, Validator: d.Validator}
}

func (d *Delegation) Clone() *Delegation {
	cp := *d
	cp.Amount = new(big.Int).Set(d.Amount)
	return &cp
}
