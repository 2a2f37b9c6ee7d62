// Package types holds the canonical data model: transactions, blocks,
// validators, delegations, unbonding entries, accounts, votes, and evidence.
package types

import (
	"math/big"
	"time"

	"chaincore/internal/canon"
	"chaincore/internal/chainerr"
	"chaincore/internal/crypto"
)

// TxType enumerates the transaction kinds the ledger can apply.
type TxType string

const (
	TxTransfer         TxType = "TRANSFER"
	TxStake            TxType = "STAKE"
	TxUnstake          TxType = "UNSTAKE"
	TxDelegate         TxType = "DELEGATE"
	TxUndelegate       TxType = "UNDELEGATE"
	TxCreateValidator  TxType = "CREATE_VALIDATOR"
	TxEditValidator    TxType = "EDIT_VALIDATOR"
	TxVote             TxType = "VOTE"
)

// Transaction is a signed instruction against ledger state. TxID is computed
// over every field except Signature; SenderPubkey is part of the signed
// payload so a signature can never be rebound to a different key.
type Transaction struct {
	Sender       string         `json:"sender"`
	SenderPubkey crypto.PublicKey `json:"sender_pubkey"`
	Nonce        uint64         `json:"nonce"`
	Type         TxType         `json:"tx_type"`
	Amount       *big.Int       `json:"amount"`
	Recipient    string         `json:"recipient,omitempty"`
	Fee          *big.Int       `json:"fee"`
	GasLimit     uint64         `json:"gas_limit"`
	Data         map[string]any `json:"data,omitempty"`
	Timestamp    int64          `json:"timestamp"`
	Signature    crypto.Signature `json:"signature"`
}

// signedPayload returns the canonical value of every field except Signature;
// this is what TxID hashes and what Sign/Verify operate over.
func (t *Transaction) signedPayload() canon.Value {
	data := canon.Map{}
	for k, v := range t.Data {
		data[k] = v
	}
	return canon.Map{
		"sender":        t.Sender,
		"sender_pubkey": t.SenderPubkey.Bytes(),
		"nonce":         t.Nonce,
		"tx_type":       string(t.Type),
		"amount":        t.Amount,
		"recipient":     t.Recipient,
		"fee":           t.Fee,
		"gas_limit":     t.GasLimit,
		"data":          data,
		"timestamp":     t.Timestamp,
	}
}

// TxID computes the transaction's identifying hash over the signed payload.
func (t *Transaction) TxID() (crypto.Digest, error) {
	return crypto.HashObject(t.signedPayload())
}

// Sign signs the transaction's payload with priv and sets t.Signature. The
// caller is responsible for ensuring priv corresponds to t.SenderPubkey.
func (t *Transaction) Sign(priv crypto.PrivateKey) error {
	sig, err := crypto.SignObject(priv, t.signedPayload())
	if err != nil {
		return err
	}
	t.Signature = sig
	return nil
}

// VerifySignature checks t.Signature against t.SenderPubkey over the signed
// payload. Failure is reported as a bool, never an exception.
func (t *Transaction) VerifySignature() (bool, error) {
	return crypto.VerifyObject(t.SenderPubkey, t.signedPayload(), t.Signature)
}

// Validate checks the construction-time invariants of §3: valid addresses,
// non-negative amounts, non-negative nonce.
func (t *Transaction) Validate() error {
	if !crypto.ValidAddress(t.Sender) {
		return chainerr.New(chainerr.Validation, "invalid sender address").WithAddress(t.Sender)
	}
	if t.Recipient != "" && !crypto.ValidAddress(t.Recipient) {
		return chainerr.New(chainerr.Validation, "invalid recipient address").WithAddress(t.Recipient)
	}
	if t.Amount != nil && t.Amount.Sign() < 0 {
		return chainerr.New(chainerr.Validation, "amount must be non-negative")
	}
	if t.Fee != nil && t.Fee.Sign() < 0 {
		return chainerr.New(chainerr.Validation, "fee must be non-negative")
	}
	return nil
}

// NewTimestampedTx returns the current wall-clock time in Unix nanoseconds.
func NewTimestampedTx() int64 {
	return time.Now().UnixNano()
}
