package types

import "chaincore/internal/canon"
import "chaincore/internal/crypto"

// Vote is a validator's finality vote for a specific block. Dedup identity
// is the (BlockHash, Validator) pair.
type Vote struct {
	Validator string           `json:"validator"`
	Height    uint64           `json:"height"`
	BlockHash crypto.Digest    `json:"block_hash"`
	Timestamp int64            `json:"timestamp"`
	Signature crypto.Signature `json:"signature"`
}

func (v *Vote) signedPayload() canon.Value {
	return canon.Map{
		"validator":  v.Validator,
		"height":     v.Height,
		"block_hash": v.BlockHash.Hex(),
		"timestamp":  v.Timestamp,
	}
}

// Sign signs the vote payload.
func (v *Vote) Sign(priv crypto.PrivateKey) error {
	sig, err := crypto.SignObject(priv, v.signedPayload())
	if err != nil {
		return err
	}
	v.Signature = sig
	return nil
}

// VerifySignature verifies the vote payload against the given public key
// (the caller looks up the validator's registered key).
func (v *Vote) VerifySignature(pub crypto.PublicKey) (bool, error) {
	return crypto.VerifyObject(pub, v.signedPayload(), v.Signature)
}
