// Package chain ties the ledger, consensus, and storage packages together:
// mempool admission, block assembly, the validation pipeline, and the
// commit protocol, grounded on the teacher's Blockchain/TxPool pairing in
// internal/blockchain/blockchain.go.
package chain

import (
	"math/big"
	"sync"
	"sync/atomic"

	"chaincore/internal/chainerr"
	"chaincore/internal/consensus"
	"chaincore/internal/crypto"
	"chaincore/internal/ledger"
	"chaincore/internal/storage"
	"chaincore/internal/types"
)

// Config holds the chain driver's block-production parameters.
type Config struct {
	MaxTxsPerBlock int
	BlockReward    *big.Int
	Seed           string // proposer-selection seed, mixed into hash(height ‖ seed)
}

// DefaultConfig matches §6's documented default.
func DefaultConfig() Config {
	return Config{MaxTxsPerBlock: 100, BlockReward: big.NewInt(0), Seed: "chaincore-devnet"}
}

// Driver is the single-threaded-at-the-commit-boundary coordinator: at most
// one block is applied at a time (guarded by mu), while reads of the
// committed state may proceed concurrently via the atomic pointer in
// committed, per §5's concurrency model.
type Driver struct {
	cfg      Config
	mempool  *Mempool
	store    *storage.ChainStore
	selector *consensus.Selector
	finality *consensus.FinalityTracker
	slashing *consensus.SlashingManager

	mu        sync.Mutex // serializes AddBlock/CreateBlock against each other
	committed atomic.Pointer[committedState]
}

type committedState struct {
	ledger   *ledger.State
	head     *types.Block
	minStake *big.Int
}

// NewDriver wires a driver over an initialized ledger and an empty genesis
// block already persisted by the caller (see internal/genesis).
func NewDriver(cfg Config, initial *ledger.State, genesisBlock *types.Block, minStake *big.Int, store *storage.ChainStore, selector *consensus.Selector, finality *consensus.FinalityTracker, slashing *consensus.SlashingManager) *Driver {
	d := &Driver{
		cfg:      cfg,
		mempool:  NewMempool(),
		store:    store,
		selector: selector,
		finality: finality,
		slashing: slashing,
	}
	d.committed.Store(&committedState{ledger: initial, head: genesisBlock, minStake: minStake})
	return d
}

// Head returns the most recently committed block.
func (d *Driver) Head() *types.Block {
	return d.committed.Load().head
}

// GetBlockByHeight returns a persisted block by height, independent of the
// currently committed head.
func (d *Driver) GetBlockByHeight(height uint64) (*types.Block, error) {
	return d.store.LoadBlock(height)
}

// GetBlockByHash returns a persisted block by hash.
func (d *Driver) GetBlockByHash(hash crypto.Digest) (*types.Block, error) {
	return d.store.LoadBlockByHash(hash)
}

// Ledger returns the committed ledger state for read-only queries
// (get_balance, get_active_validators). Concurrent with block application
// per §5: queries observe the last fully-committed state.
func (d *Driver) Ledger() *ledger.State {
	return d.committed.Load().ledger
}

// AddTransaction verifies tx's signature and admits it to the mempool,
// silently dropping duplicates by txid.
func (d *Driver) AddTransaction(tx *types.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	ok, err := tx.VerifySignature()
	if err != nil {
		return chainerr.Wrap(chainerr.Validation, "signature check failed", err)
	}
	if !ok {
		return chainerr.New(chainerr.Validation, "invalid signature").WithAddress(tx.Sender)
	}
	return d.mempool.Add(tx)
}

// CreateBlock drains up to MaxTxsPerBlock pending transactions in FIFO
// order and assembles an unsigned candidate block; the caller (the node's
// own proposer logic) signs it before calling AddBlock.
func (d *Driver) CreateBlock(proposer string, proposerPubkey crypto.PublicKey, timestamp int64) *types.Block {
	cur := d.committed.Load()
	txs := d.mempool.Drain(d.cfg.MaxTxsPerBlock)
	pending := make([]types.Transaction, len(txs))
	for i, tx := range txs {
		pending[i] = *tx
	}
	return &types.Block{
		Height:         cur.head.Height + 1,
		PrevHash:       cur.head.Hash,
		Timestamp:      timestamp,
		Proposer:       proposer,
		ProposerPubkey: proposerPubkey,
		Transactions:   pending,
		TotalFees:      big.NewInt(0),
		BlockReward:    new(big.Int).Set(d.cfg.BlockReward),
	}
}

// AddBlock validates block against the current head, applies it to a
// sandbox clone of the ledger, and on success commits storage in the §4.7
// order (save_block, save_state, save_metadata) before swapping the
// committed pointer. The proposer's total_blocks_proposed/last_block_time
// are recorded inside the sandbox; after the commit the slashing manager is
// told who signed the block and whether the selector's expected proposer
// was the one that did. The finality tracker is consulted only for the
// reorg guard in validate and is not notified of committed blocks.
func (d *Driver) AddBlock(block *types.Block) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cur := d.committed.Load()

	if err := d.validate(block, cur); err != nil {
		return err
	}

	sandbox := cur.ledger.Clone()
	totalFees := big.NewInt(0)
	for i := range block.Transactions {
		tx := &block.Transactions[i]
		if err := sandbox.ApplyTransaction(tx, block.Height); err != nil {
			return chainerr.Wrap(chainerr.Protocol, "transaction rejected, block discarded", err).WithHeight(block.Height)
		}
		totalFees.Add(totalFees, nonNilFee(tx.Fee))
	}
	sandbox.ApplyBlockReward(block.Proposer, new(big.Int).Add(nonNilFee(block.BlockReward), totalFees))
	sandbox.ProcessMatureUnbonding(block.Height)
	if err := sandbox.RecordProposal(block.Proposer, block.Height, block.Timestamp); err != nil {
		return chainerr.Wrap(chainerr.Consistency, "record proposal", err).WithHeight(block.Height)
	}

	root, err := sandbox.StateRoot()
	if err != nil {
		return chainerr.Wrap(chainerr.Consistency, "compute state root", err).WithHeight(block.Height)
	}
	if !block.StateRoot.IsZero() && block.StateRoot != root {
		return chainerr.New(chainerr.Consistency, "state root mismatch").WithHeight(block.Height).WithHash(root.Hex())
	}
	block.StateRoot = root
	block.TotalFees = totalFees

	if err := d.store.SaveBlock(block); err != nil {
		return err
	}
	if err := d.store.SaveState(sandbox.Snapshot()); err != nil {
		return err
	}
	if err := d.store.SaveMetadata(storage.Metadata{Height: block.Height, LatestHash: block.Hash.Hex()}); err != nil {
		return err
	}

	d.committed.Store(&committedState{ledger: sandbox, head: block, minStake: cur.minStake})

	if d.slashing != nil {
		if err := d.slashing.ObserveSignedBlock(block.Proposer, block.Height, block.Hash, block.Timestamp); err != nil {
			return err
		}
		if expected, ok := d.selector.SelectProposer(block.Height, d.cfg.Seed, activeAt(cur, block.Height)); ok {
			if err := d.slashing.ObserveAttendance(expected, block.Height, expected == block.Proposer, block.Timestamp); err != nil {
				return err
			}
		}
	}
	return nil
}

// activeAt returns cur's validator set filtered to those active at height,
// the same eligibility rule select_proposer is always evaluated against.
func activeAt(cur *committedState, height uint64) []types.ValidatorInfo {
	all := cur.ledger.Validators()
	active := make([]types.ValidatorInfo, 0, len(all))
	for _, v := range all {
		if v.ActiveAt(height, cur.minStake) {
			active = append(active, v)
		}
	}
	return active
}

// validate runs the block.8 validation rules, in order, against the
// currently committed head.
func (d *Driver) validate(block *types.Block, cur *committedState) error {
	if block.Height != cur.head.Height+1 {
		return chainerr.New(chainerr.Consistency, "height must be latest+1").WithHeight(block.Height)
	}
	if block.PrevHash != cur.head.Hash {
		return chainerr.New(chainerr.Consistency, "prev_hash does not match chain head").WithHeight(block.Height)
	}
	if d.finality != nil && !d.finality.CanReorgTo(block.Height) {
		return chainerr.New(chainerr.FinalityViolation, "attempted reorg at or below the finalized height").WithHeight(block.Height)
	}

	v, exists := cur.ledger.GetValidator(block.Proposer)
	if err := consensus.ValidateProposer(block.Proposer, block.Height, cur.minStake, v, exists); err != nil {
		return err
	}

	ok, err := block.VerifySignature()
	if err != nil {
		return chainerr.Wrap(chainerr.Validation, "block signature check failed", err).WithHeight(block.Height)
	}
	if !ok {
		return chainerr.New(chainerr.Validation, "invalid block signature").WithHeight(block.Height)
	}

	for i := range block.Transactions {
		tx := &block.Transactions[i]
		txOK, err := tx.VerifySignature()
		if err != nil {
			return chainerr.Wrap(chainerr.Validation, "transaction signature check failed", err).WithHeight(block.Height)
		}
		if !txOK {
			return chainerr.New(chainerr.Validation, "invalid transaction signature").WithAddress(tx.Sender).WithHeight(block.Height)
		}
	}
	return nil
}

func nonNilFee(f *big.Int) *big.Int {
	if f == nil {
		return big.NewInt(0)
	}
	return f
}
