package types

import (
	"encoding/json"
	"math/big"
	"testing"

	"chaincore/internal/crypto"
)

func testBlock(t *testing.T) (*Block, crypto.Keypair) {
	t.Helper()
	kp, err := crypto.GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	b := &Block{
		Height:         1,
		Timestamp:      1700000000,
		Proposer:       crypto.AddressFromPubkey(kp.Public),
		ProposerPubkey: kp.Public,
		Transactions:   []Transaction{},
		TotalFees:      big.NewInt(0),
		BlockReward:    big.NewInt(100),
	}
	if err := b.ComputeMerkleRoot(); err != nil {
		t.Fatal(err)
	}
	if err := b.Sign(kp.Private); err != nil {
		t.Fatal(err)
	}
	if err := b.ComputeHash(); err != nil {
		t.Fatal(err)
	}
	return b, kp
}

func TestBlockSignAndHash(t *testing.T) {
	b, _ := testBlock(t)
	ok, err := b.VerifySignature()
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected block signature to verify")
	}
	if b.Hash.IsZero() {
		t.Fatal("expected non-zero block hash")
	}
}

func TestBlockHashDependsOnSignature(t *testing.T) {
	b, kp := testBlock(t)
	h1 := b.Hash

	// Re-sign with a different key (changes signature) and recompute hash.
	other, err := crypto.GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	_ = kp
	if err := b.Sign(other.Private); err != nil {
		t.Fatal(err)
	}
	if err := b.ComputeHash(); err != nil {
		t.Fatal(err)
	}
	if b.Hash == h1 {
		t.Fatal("block hash must depend on the signature per spec")
	}
}

func TestEmptyBlockMerkleRoot(t *testing.T) {
	b, _ := testBlock(t)
	if b.TxMerkleRoot != crypto.Hash([]byte("EMPTY_BLOCK")) {
		t.Fatal("empty transaction list should produce the EMPTY_BLOCK root")
	}
}

func TestBlockJSONRoundtrip(t *testing.T) {
	b, _ := testBlock(t)
	data, err := json.Marshal(b)
	if err != nil {
		t.Fatal(err)
	}
	var out Block
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out.Hash != b.Hash || out.Height != b.Height || out.Proposer != b.Proposer {
		t.Fatalf("round trip mismatch: %+v vs %+v", out, b)
	}
}
