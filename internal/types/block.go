package types

import (
	"math/big"

	"chaincore/internal/canon"
	"chaincore/internal/crypto"
)

// Block is a signed batch of transactions applied atomically to ledger
// state. The header is every field below except Transactions, Signature,
// and Hash, plus the derived TxCount/TxMerkleRoot.
type Block struct {
	Height               uint64             `json:"height"`
	PrevHash             crypto.Digest      `json:"prev_hash"`
	Timestamp            int64              `json:"timestamp"`
	Proposer             string             `json:"proposer"`
	ProposerPubkey       crypto.PublicKey   `json:"proposer_pubkey"`
	Transactions         []Transaction      `json:"transactions"`
	TxMerkleRoot         crypto.Digest      `json:"tx_merkle_root"`
	StateRoot            crypto.Digest      `json:"state_root"`
	ValidatorSetHash     crypto.Digest      `json:"validator_set_hash"`
	NextValidatorSetHash crypto.Digest      `json:"next_validator_set_hash"`
	ConsensusHash        crypto.Digest      `json:"consensus_hash"`
	AppHash              crypto.Digest      `json:"app_hash"`
	TotalFees            *big.Int           `json:"total_fees"`
	BlockReward          *big.Int           `json:"block_reward"`
	Signature            crypto.Signature   `json:"signature"`
	Hash                 crypto.Digest      `json:"hash"`
}

// headerValue returns the canonical form of the header fields: every field
// except Transactions, Signature, and Hash, plus derived tx_count and
// tx_merkle_root. This is what Sign and VerifySignature operate over and
// what the block hash is ultimately computed over (together with the
// signature).
func (b *Block) headerValue() canon.Value {
	return canon.Map{
		"height":                  b.Height,
		"prev_hash":               b.PrevHash.Hex(),
		"timestamp":               b.Timestamp,
		"proposer":                b.Proposer,
		"proposer_pubkey":         b.ProposerPubkey.Bytes(),
		"tx_count":                len(b.Transactions),
		"tx_merkle_root":          b.TxMerkleRoot.Hex(),
		"state_root":              b.StateRoot.Hex(),
		"validator_set_hash":      b.ValidatorSetHash.Hex(),
		"next_validator_set_hash": b.NextValidatorSetHash.Hex(),
		"consensus_hash":          b.ConsensusHash.Hex(),
		"app_hash":                b.AppHash.Hex(),
		"total_fees":              b.TotalFees,
		"block_reward":            b.BlockReward,
	}
}

// ComputeMerkleRoot computes and sets TxMerkleRoot from the current
// Transactions list, using txids as leaves.
func (b *Block) ComputeMerkleRoot() error {
	leaves := make([]crypto.Digest, len(b.Transactions))
	for i := range b.Transactions {
		id, err := b.Transactions[i].TxID()
		if err != nil {
			return err
		}
		leaves[i] = id
	}
	b.TxMerkleRoot = crypto.MerkleRoot(leaves)
	return nil
}

// Sign signs the header (everything but Transactions, Signature,
// Hash) with the proposer's key.
func (b *Block) Sign(priv crypto.PrivateKey) error {
	sig, err := crypto.SignObject(priv, b.headerValue())
	if err != nil {
		return err
	}
	b.Signature = sig
	return nil
}

// VerifySignature checks the block signature against ProposerPubkey.
func (b *Block) VerifySignature() (bool, error) {
	return crypto.VerifyObject(b.ProposerPubkey, b.headerValue(), b.Signature)
}

// ComputeHash computes and sets Hash = hash(header ⊕ signature). Block hash
// therefore depends on the signature by design (§3/§9): a block's identity
// is only fixed once it has been signed.
func (b *Block) ComputeHash() error {
	v := canon.Map{
		"header":    b.headerValue(),
		"signature": b.Signature[:],
	}
	h, err := crypto.HashObject(v)
	if err != nil {
		return err
	}
	b.Hash = h
	return nil
}
