package types

import (
	"encoding/json"
	"math/big"
	"testing"

	"chaincore/internal/crypto"
)

// fakeAddress pads a short hex fragment into a valid 40-hex-character
// address for test fixtures.
func fakeAddress(frag string) string {
	pad := ""
	for len(frag)+len(pad) < 40 {
		pad += "0"
	}
	return pad + frag
}

func signedTestTx(t *testing.T) (*Transaction, crypto.Keypair) {
	t.Helper()
	kp, err := crypto.GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	sender := crypto.AddressFromPubkey(kp.Public)
	tx := &Transaction{
		Sender:       sender,
		SenderPubkey: kp.Public,
		Nonce:        0,
		Type:         TxTransfer,
		Amount:       big.NewInt(200),
		Recipient:    fakeAddress("b"),
		Fee:          big.NewInt(10),
		GasLimit:     21000,
		Timestamp:    1700000000,
	}
	if err := tx.Sign(kp.Private); err != nil {
		t.Fatal(err)
	}
	return tx, kp
}

func TestTransactionSignVerify(t *testing.T) {
	tx, _ := signedTestTx(t)
	ok, err := tx.VerifySignature()
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected valid signature to verify")
	}
}

func TestTransactionPubkeyBinding(t *testing.T) {
	tx, _ := signedTestTx(t)
	other, err := crypto.GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	// Rebinding the signature to a different sender_pubkey must fail since
	// the pubkey is part of the signed payload.
	tx.SenderPubkey = other.Public
	ok, _ := tx.VerifySignature()
	if ok {
		t.Fatal("signature must not verify after rebinding sender_pubkey")
	}
}

func TestTransactionTxIDExcludesSignature(t *testing.T) {
	tx, kp := signedTestTx(t)
	id1, err := tx.TxID()
	if err != nil {
		t.Fatal(err)
	}
	// Re-signing (same payload, Ed25519 deterministic) should not change
	// the signature, but even if it did, txid must be stable since it
	// excludes the signature field entirely.
	if err := tx.Sign(kp.Private); err != nil {
		t.Fatal(err)
	}
	id2, err := tx.TxID()
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Fatal("txid must not depend on signature")
	}
}

func TestTransactionValidate(t *testing.T) {
	tx, _ := signedTestTx(t)
	if err := tx.Validate(); err != nil {
		t.Fatalf("expected valid tx, got %v", err)
	}

	bad := *tx
	bad.Sender = "not-an-address"
	if err := bad.Validate(); err == nil {
		t.Fatal("expected invalid sender to fail validation")
	}

	bad2 := *tx
	bad2.Amount = big.NewInt(-1)
	if err := bad2.Validate(); err == nil {
		t.Fatal("expected negative amount to fail validation")
	}
}

func TestTransactionJSONRoundtrip(t *testing.T) {
	tx, _ := signedTestTx(t)
	b, err := json.Marshal(tx)
	if err != nil {
		t.Fatal(err)
	}
	var out Transaction
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatal(err)
	}
	if out.Sender != tx.Sender || out.Amount.Cmp(tx.Amount) != 0 || out.Signature != tx.Signature {
		t.Fatalf("round trip mismatch: %+v vs %+v", out, tx)
	}
}
