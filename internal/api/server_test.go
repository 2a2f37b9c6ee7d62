package api

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http/httptest"
	"testing"

	"chaincore/internal/chain"
	"chaincore/internal/consensus"
	"chaincore/internal/crypto"
	"chaincore/internal/ledger"
	"chaincore/internal/storage"
	"chaincore/internal/types"
)

func newTestServer(t *testing.T) (*Server, crypto.Keypair) {
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
	st.SeedAccount(propAddr, big.NewInt(5000))

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
	d := chain.NewDriver(chain.DefaultConfig(), st, genesis, cfg.MinStake, store, selector, finality, nil)

	return NewServer(d, Config{Addr: ":0"}), propKp
}

func rpcCall(t *testing.T, s *Server, method string, params any) Response {
	t.Helper()
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		t.Fatal(err)
	}
	req := Request{Method: method, Params: paramsJSON, ID: 1}
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	r := httptest.NewRequest("POST", "/", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.handleRPC(w, r)

	var resp Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestGetHeightReturnsGenesis(t *testing.T) {
	s, _ := newTestServer(t)
	resp := rpcCall(t, s, "get_height", nil)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	if resp.Result.(float64) != 0 {
		t.Fatalf("expected height 0, got %v", resp.Result)
	}
}

func TestGetBalanceReturnsSeededAccount(t *testing.T) {
	s, propKp := newTestServer(t)
	addr := crypto.AddressFromPubkey(propKp.Public)
	resp := rpcCall(t, s, "get_balance", balanceParams{Address: addr})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	m := resp.Result.(map[string]any)
	if m["balance"] != "5000" {
		t.Fatalf("expected balance 5000, got %v", m["balance"])
	}
}

func TestAddTransactionAdmitsValidTx(t *testing.T) {
	s, propKp := newTestServer(t)
	senderAddr := crypto.AddressFromPubkey(propKp.Public)
	recipientKp, err := crypto.GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}

	tx := &types.Transaction{
		Sender:       senderAddr,
		SenderPubkey: propKp.Public,
		Nonce:        0,
		Type:         types.TxTransfer,
		Amount:       big.NewInt(100),
		Recipient:    crypto.AddressFromPubkey(recipientKp.Public),
		Fee:          big.NewInt(1),
		Timestamp:    1700000000,
	}
	if err := tx.Sign(propKp.Private); err != nil {
		t.Fatal(err)
	}
	txJSON, err := json.Marshal(tx)
	if err != nil {
		t.Fatal(err)
	}

	req := Request{Method: "add_transaction", Params: txJSON, ID: 1}
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	r := httptest.NewRequest("POST", "/", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.handleRPC(w, r)

	var resp Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	if resp.Result != true {
		t.Fatalf("expected true, got %v", resp.Result)
	}
}

func TestGetActiveValidatorsReturnsSeededValidator(t *testing.T) {
	s, propKp := newTestServer(t)
	addr := crypto.AddressFromPubkey(propKp.Public)
	resp := rpcCall(t, s, "get_active_validators", nil)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	list := resp.Result.([]any)
	if len(list) != 1 {
		t.Fatalf("expected 1 validator, got %d", len(list))
	}
	v := list[0].(map[string]any)
	if v["address"] != addr {
		t.Fatalf("expected validator address %s, got %v", addr, v["address"])
	}
}

func TestGetBlockByHeightReturnsGenesis(t *testing.T) {
	s, _ := newTestServer(t)
	zero := uint64(0)
	resp := rpcCall(t, s, "get_block", blockParams{Height: &zero})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	b := resp.Result.(map[string]any)
	if b["height"].(float64) != 0 {
		t.Fatalf("expected height 0, got %v", b["height"])
	}
}
