package chain

import (
	"math/big"
	"testing"

	"chaincore/internal/crypto"
	"chaincore/internal/types"
)

func signedMempoolTx(t *testing.T, nonce uint64) *types.Transaction {
	t.Helper()
	kp, err := crypto.GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	other, err := crypto.GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	tx := &types.Transaction{
		Sender:       crypto.AddressFromPubkey(kp.Public),
		SenderPubkey: kp.Public,
		Nonce:        nonce,
		Type:         types.TxTransfer,
		Amount:       big.NewInt(1),
		Recipient:    crypto.AddressFromPubkey(other.Public),
		Fee:          big.NewInt(0),
		Timestamp:    1700000000,
	}
	if err := tx.Sign(kp.Private); err != nil {
		t.Fatal(err)
	}
	return tx
}

func TestMempoolFIFOOrder(t *testing.T) {
	mp := NewMempool()
	a := signedMempoolTx(t, 0)
	b := signedMempoolTx(t, 0)
	c := signedMempoolTx(t, 0)
	for _, tx := range []*types.Transaction{a, b, c} {
		if err := mp.Add(tx); err != nil {
			t.Fatal(err)
		}
	}
	drained := mp.Drain(2)
	if len(drained) != 2 {
		t.Fatalf("expected 2 drained, got %d", len(drained))
	}
	idA, _ := a.TxID()
	idB, _ := b.TxID()
	gotA, _ := drained[0].TxID()
	gotB, _ := drained[1].TxID()
	if gotA != idA || gotB != idB {
		t.Fatal("expected FIFO drain order")
	}
	if mp.Len() != 1 {
		t.Fatalf("expected 1 remaining, got %d", mp.Len())
	}
}

func TestMempoolDuplicateDropped(t *testing.T) {
	mp := NewMempool()
	tx := signedMempoolTx(t, 0)
	if err := mp.Add(tx); err != nil {
		t.Fatal(err)
	}
	if err := mp.Add(tx); err != nil {
		t.Fatal(err)
	}
	if mp.Len() != 1 {
		t.Fatalf("expected duplicate to be dropped, got len %d", mp.Len())
	}
}
