package types

import "math/big"

// Account holds an address's balance, nonce, and staked amount. An account
// exists logically for every address but is only materialized (persisted)
// when at least one field is nonzero.
type Account struct {
	Balance *big.Int `json:"balance"`
	Nonce   uint64   `json:"nonce"`
	Staked  *big.Int `json:"staked"`
}

// NewAccount returns a zero-valued account, matching the default every
// address has before first use.
func NewAccount() *Account {
	return &Account{Balance: big.NewInt(0), Staked: big.NewInt(0)}
}

// IsZero reports whether the account needs no materialization: balance,
// staked, and nonce are all zero.
func (a *Account) IsZero() bool {
	return a.Nonce == 0 && a.Balance.Sign() == 0 && a.Staked.Sign() == 0
}

func (a *Account) Clone() *Account {
	return &Account{
		Balance: new(big.Int).Set(a.Balance),
		Nonce:   a.Nonce,
		Staked:  new(big.Int).Set(a.Staked),
	}
}
