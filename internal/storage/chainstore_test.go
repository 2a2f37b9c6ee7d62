package storage

import (
	"math/big"
	"testing"

	"chaincore/internal/crypto"
	"chaincore/internal/ledger"
	"chaincore/internal/types"
)

func newTestStore(t *testing.T) *ChainStore {
	t.Helper()
	db, err := OpenMemLevelDB()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return NewChainStore(db)
}

func testBlockAt(t *testing.T, height uint64) *types.Block {
	t.Helper()
	kp, err := crypto.GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	b := &types.Block{
		Height:         height,
		Timestamp:      1700000000,
		Proposer:       crypto.AddressFromPubkey(kp.Public),
		ProposerPubkey: kp.Public,
		Transactions:   []types.Transaction{},
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
	return b
}

func TestSaveAndLoadBlockByHeightAndHash(t *testing.T) {
	cs := newTestStore(t)
	b := testBlockAt(t, 1)

	if err := cs.SaveBlock(b); err != nil {
		t.Fatal(err)
	}
	byHeight, err := cs.LoadBlock(1)
	if err != nil {
		t.Fatal(err)
	}
	if byHeight.Hash != b.Hash {
		t.Fatal("loaded-by-height block hash mismatch")
	}

	byHash, err := cs.LoadBlockByHash(b.Hash)
	if err != nil {
		t.Fatal(err)
	}
	if byHash.Height != b.Height {
		t.Fatal("loaded-by-hash block height mismatch")
	}
}

func TestLoadMissingBlockFails(t *testing.T) {
	cs := newTestStore(t)
	if _, err := cs.LoadBlock(99); err == nil {
		t.Fatal("expected an error loading a block that was never saved")
	}
}

func TestSaveAndLoadState(t *testing.T) {
	cs := newTestStore(t)
	st := ledger.New(ledger.DefaultConfig())
	snap := st.Snapshot()

	if err := cs.SaveState(snap); err != nil {
		t.Fatal(err)
	}
	loaded, err := cs.LoadState()
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Accounts) != len(snap.Accounts) {
		t.Fatal("loaded snapshot account count mismatch")
	}
}

func TestSaveAndGetMetadata(t *testing.T) {
	cs := newTestStore(t)
	m := Metadata{Height: 5, LatestHash: "abc", GenesisTime: 1700000000}
	if err := cs.SaveMetadata(m); err != nil {
		t.Fatal(err)
	}
	loaded, err := cs.GetMetadata()
	if err != nil {
		t.Fatal(err)
	}
	if loaded != m {
		t.Fatalf("metadata round trip mismatch: %+v vs %+v", loaded, m)
	}
}

func TestCheckpointRoundtrip(t *testing.T) {
	cs := newTestStore(t)
	if err := cs.CreateCheckpoint("pre-upgrade", 42); err != nil {
		t.Fatal(err)
	}
	cp, err := cs.GetCheckpoint("pre-upgrade")
	if err != nil {
		t.Fatal(err)
	}
	if cp.Height != 42 || cp.Name != "pre-upgrade" {
		t.Fatalf("unexpected checkpoint: %+v", cp)
	}
}
