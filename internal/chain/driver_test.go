package chain

import (
	"math/big"
	"testing"

	"chaincore/internal/consensus"
	"chaincore/internal/crypto"
	"chaincore/internal/ledger"
	"chaincore/internal/storage"
	"chaincore/internal/types"
)

func newTestDriver(t *testing.T) (*Driver, crypto.Keypair) {
	t.Helper()
	propKp, err := crypto.GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	propAddr := crypto.AddressFromPubkey(propKp.Public)

	cfg := ledger.DefaultConfig()
	cfg.MinStake = big.NewInt(100)
	st := ledger.New(cfg)
	st.SeedValidator(types.ValidatorInfo{
		Address:   propAddr,
		PublicKey: propKp.Public,
		Stake:     big.NewInt(1000),
	})

	genesis := &types.Block{Height: 0}
	if err := genesis.ComputeMerkleRoot(); err != nil {
		t.Fatal(err)
	}
	if err := genesis.Sign(propKp.Private); err != nil {
		t.Fatal(err)
	}
	if err := genesis.ComputeHash(); err != nil {
		t.Fatal(err)
	}

	db, err := storage.OpenMemLevelDB()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	store := storage.NewChainStore(db)
	if err := store.SaveBlock(genesis); err != nil {
		t.Fatal(err)
	}

	selector := consensus.NewSelector(cfg.MinStake)
	finality := consensus.NewFinalityTracker(consensus.DefaultFinalityConfig())

	d := NewDriver(DefaultConfig(), st, genesis, cfg.MinStake, store, selector, finality, nil)
	return d, propKp
}

func TestCreateAndAddBlockCommitsState(t *testing.T) {
	d, propKp := newTestDriver(t)
	propAddr := crypto.AddressFromPubkey(propKp.Public)

	senderKp, err := crypto.GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	senderAddr := crypto.AddressFromPubkey(senderKp.Public)
	d.Ledger().SeedAccount(senderAddr, big.NewInt(1000))

	recipientKp, err := crypto.GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	recipientAddr := crypto.AddressFromPubkey(recipientKp.Public)

	tx := &types.Transaction{
		Sender:       senderAddr,
		SenderPubkey: senderKp.Public,
		Nonce:        0,
		Type:         types.TxTransfer,
		Amount:       big.NewInt(200),
		Recipient:    recipientAddr,
		Fee:          big.NewInt(10),
		Timestamp:    1700000000,
	}
	if err := tx.Sign(senderKp.Private); err != nil {
		t.Fatal(err)
	}
	if err := d.AddTransaction(tx); err != nil {
		t.Fatal(err)
	}

	block := d.CreateBlock(propAddr, propKp.Public, 1700000010)
	if len(block.Transactions) != 1 {
		t.Fatalf("expected 1 transaction drained into the block, got %d", len(block.Transactions))
	}
	if err := block.ComputeMerkleRoot(); err != nil {
		t.Fatal(err)
	}
	if err := block.Sign(propKp.Private); err != nil {
		t.Fatal(err)
	}
	if err := block.ComputeHash(); err != nil {
		t.Fatal(err)
	}

	if err := d.AddBlock(block); err != nil {
		t.Fatal(err)
	}

	if d.Head().Height != 1 {
		t.Fatalf("expected head height 1, got %d", d.Head().Height)
	}
	acc := d.Ledger().GetAccount(senderAddr)
	if acc.Balance.Cmp(big.NewInt(790)) != 0 {
		t.Fatalf("expected sender balance 790, got %s", acc.Balance)
	}
	v, ok := d.Ledger().GetValidator(propAddr)
	if !ok {
		t.Fatal("expected proposer to still be a registered validator")
	}
	if v.TotalBlocksProposed != 1 {
		t.Fatalf("expected total_blocks_proposed 1, got %d", v.TotalBlocksProposed)
	}
	if v.LastBlockTime != block.Timestamp {
		t.Fatalf("expected last_block_time %d, got %d", block.Timestamp, v.LastBlockTime)
	}
}

func TestAddBlockRejectsWrongHeight(t *testing.T) {
	d, propKp := newTestDriver(t)
	propAddr := crypto.AddressFromPubkey(propKp.Public)

	block := d.CreateBlock(propAddr, propKp.Public, 1700000010)
	block.Height = 5 // wrong: must be latest+1
	if err := block.ComputeMerkleRoot(); err != nil {
		t.Fatal(err)
	}
	if err := block.Sign(propKp.Private); err != nil {
		t.Fatal(err)
	}
	if err := block.ComputeHash(); err != nil {
		t.Fatal(err)
	}

	if err := d.AddBlock(block); err == nil {
		t.Fatal("expected height mismatch to be rejected")
	}
	if d.Head().Height != 0 {
		t.Fatal("rejected block must not advance the head")
	}
}

// TestAddBlockRecordsMissedBlockAttendance exercises ObserveAttendance
// through the production commit path (not just the manager's own unit
// test): a height's expected proposer, computed the same way the selector
// would for any honest proposer, is recorded as having missed when a
// different validator actually signs the block.
func TestAddBlockRecordsMissedBlockAttendance(t *testing.T) {
	propKp, err := crypto.GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	otherKp, err := crypto.GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	propAddr := crypto.AddressFromPubkey(propKp.Public)
	otherAddr := crypto.AddressFromPubkey(otherKp.Public)

	cfg := ledger.DefaultConfig()
	cfg.MinStake = big.NewInt(100)
	st := ledger.New(cfg)
	st.SeedValidator(types.ValidatorInfo{Address: propAddr, PublicKey: propKp.Public, Stake: big.NewInt(1000)})
	st.SeedValidator(types.ValidatorInfo{Address: otherAddr, PublicKey: otherKp.Public, Stake: big.NewInt(1000)})

	genesis := &types.Block{Height: 0}
	if err := genesis.ComputeMerkleRoot(); err != nil {
		t.Fatal(err)
	}
	if err := genesis.Sign(propKp.Private); err != nil {
		t.Fatal(err)
	}
	if err := genesis.ComputeHash(); err != nil {
		t.Fatal(err)
	}

	db, err := storage.OpenMemLevelDB()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	store := storage.NewChainStore(db)
	if err := store.SaveBlock(genesis); err != nil {
		t.Fatal(err)
	}

	selector := consensus.NewSelector(cfg.MinStake)
	finality := consensus.NewFinalityTracker(consensus.DefaultFinalityConfig())
	slashing := consensus.NewSlashingManager(consensus.DefaultSlashingConfig(), st)

	driverCfg := DefaultConfig()
	driverCfg.Seed = "test-seed"
	d := NewDriver(driverCfg, st, genesis, cfg.MinStake, store, selector, finality, slashing)

	active := []types.ValidatorInfo{
		{Address: propAddr, Stake: big.NewInt(1000), DelegatedStake: big.NewInt(0)},
		{Address: otherAddr, Stake: big.NewInt(1000), DelegatedStake: big.NewInt(0)},
	}
	expected, ok := selector.SelectProposer(1, driverCfg.Seed, active)
	if !ok {
		t.Fatal("expected a proposer to be selectable")
	}
	actualKp, actualAddr := propKp, propAddr
	if expected == propAddr {
		actualKp, actualAddr = otherKp, otherAddr
	}

	block := d.CreateBlock(actualAddr, actualKp.Public, 1700000010)
	if err := block.ComputeMerkleRoot(); err != nil {
		t.Fatal(err)
	}
	if err := block.Sign(actualKp.Private); err != nil {
		t.Fatal(err)
	}
	if err := block.ComputeHash(); err != nil {
		t.Fatal(err)
	}
	if err := d.AddBlock(block); err != nil {
		t.Fatal(err)
	}

	v, ok := d.Ledger().GetValidator(expected)
	if !ok {
		t.Fatal("expected the missed proposer to still be registered")
	}
	if !v.Jailed {
		t.Fatal("expected the validator that missed its proposal slot to be jailed")
	}
}

func TestAddBlockRejectsUnknownProposer(t *testing.T) {
	d, propKp := newTestDriver(t)
	_ = propKp

	strangerKp, err := crypto.GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	strangerAddr := crypto.AddressFromPubkey(strangerKp.Public)

	block := d.CreateBlock(strangerAddr, strangerKp.Public, 1700000010)
	if err := block.ComputeMerkleRoot(); err != nil {
		t.Fatal(err)
	}
	if err := block.Sign(strangerKp.Private); err != nil {
		t.Fatal(err)
	}
	if err := block.ComputeHash(); err != nil {
		t.Fatal(err)
	}

	if err := d.AddBlock(block); err == nil {
		t.Fatal("expected a non-validator proposer to be rejected")
	}
}
