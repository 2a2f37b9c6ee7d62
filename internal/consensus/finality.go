package consensus

import (
	"math/big"
	"sync"

	"chaincore/internal/chainerr"
	"chaincore/internal/crypto"
	"chaincore/internal/types"
)

// FinalityConfig mirrors the genesis fields governing finalization.
type FinalityConfig struct {
	FinalityDepth          uint64
	SupermajorityThreshold *big.Rat // e.g. big.NewRat(2, 3)
}

// DefaultFinalityConfig matches spec defaults: depth 10, threshold 2/3.
func DefaultFinalityConfig() FinalityConfig {
	return FinalityConfig{
		FinalityDepth:          10,
		SupermajorityThreshold: big.NewRat(2, 3),
	}
}

// FinalityTracker accumulates votes per block hash and finalizes blocks once
// a stake-weighted supermajority has voted and the finality depth has
// elapsed. It owns no ledger state; callers supply the stake table for each
// query so the tracker stays a pure function of (votes, stakes).
type FinalityTracker struct {
	cfg FinalityConfig

	mu                    sync.RWMutex
	votesByBlock          map[crypto.Digest]map[string]types.Vote // block_hash -> validator -> vote
	finalizedBlocks       map[uint64]crypto.Digest
	latestFinalizedHeight uint64
}

// NewFinalityTracker creates an empty tracker under cfg.
func NewFinalityTracker(cfg FinalityConfig) *FinalityTracker {
	return &FinalityTracker{
		cfg:             cfg,
		votesByBlock:    make(map[crypto.Digest]map[string]types.Vote),
		finalizedBlocks: make(map[uint64]crypto.Digest),
	}
}

// AddVote records v, idempotent with respect to (block_hash, validator): a
// validator that already voted for this hash is a no-op, not an error. The
// caller (the chain driver, which holds the validator's registered public
// key) is responsible for signature verification before calling this — the
// tracker's job is vote bookkeeping and quorum arithmetic only.
func (f *FinalityTracker) AddVote(v types.Vote) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.votesByBlock[v.BlockHash]
	if !ok {
		set = make(map[string]types.Vote)
		f.votesByBlock[v.BlockHash] = set
	}
	if _, already := set[v.Validator]; already {
		return
	}
	set[v.Validator] = v
}

// votedStake sums stakes[validator] for every distinct validator that voted
// for blockHash. Must be called with f.mu held.
func (f *FinalityTracker) votedStake(blockHash crypto.Digest, stakes map[string]*big.Int) *big.Int {
	total := big.NewInt(0)
	for addr := range f.votesByBlock[blockHash] {
		if s, ok := stakes[addr]; ok {
			total.Add(total, s)
		}
	}
	return total
}

func totalStakeOf(stakes map[string]*big.Int) *big.Int {
	total := big.NewInt(0)
	for _, s := range stakes {
		total.Add(total, s)
	}
	return total
}

// HasSupermajority reports whether the voted stake on blockHash divided by
// total stake meets or exceeds the configured threshold.
func (f *FinalityTracker) HasSupermajority(blockHash crypto.Digest, stakes map[string]*big.Int) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.hasSupermajorityLocked(blockHash, stakes)
}

func (f *FinalityTracker) hasSupermajorityLocked(blockHash crypto.Digest, stakes map[string]*big.Int) bool {
	total := totalStakeOf(stakes)
	if total.Sign() <= 0 {
		return false
	}
	voted := f.votedStake(blockHash, stakes)
	lhs := new(big.Rat).SetFrac(voted, total)
	return lhs.Cmp(f.cfg.SupermajorityThreshold) >= 0
}

// TryFinalizeBlock finalizes blockHash at blockHeight if it is not already
// finalized at that height, the finality depth has elapsed
// (current_height - block_height >= finality_depth), and a supermajority
// has voted. On success, latest_finalized_height advances monotonically and
// the vote set for the hash is dropped (no longer needed).
func (f *FinalityTracker) TryFinalizeBlock(blockHash crypto.Digest, blockHeight, currentHeight uint64, stakes map[string]*big.Int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if existing, ok := f.finalizedBlocks[blockHeight]; ok {
		if existing == blockHash {
			return true, nil
		}
		return false, chainerr.New(chainerr.FinalityViolation, "height already finalized to a different block").WithHeight(blockHeight)
	}
	if currentHeight < blockHeight || currentHeight-blockHeight < f.cfg.FinalityDepth {
		return false, nil
	}
	if !f.hasSupermajorityLocked(blockHash, stakes) {
		return false, nil
	}

	f.finalizedBlocks[blockHeight] = blockHash
	if blockHeight > f.latestFinalizedHeight {
		f.latestFinalizedHeight = blockHeight
	}
	delete(f.votesByBlock, blockHash)
	return true, nil
}

// CanReorgTo reports whether forkHeight is still open to a competing chain,
// i.e. strictly above the latest finalized height. Reorgs at or below that
// height are a fatal protocol violation (§7).
func (f *FinalityTracker) CanReorgTo(forkHeight uint64) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return forkHeight > f.latestFinalizedHeight
}

// LatestFinalizedHeight returns the highest finalized height (0 if none).
func (f *FinalityTracker) LatestFinalizedHeight() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.latestFinalizedHeight
}

// IsFinalized reports whether height has ever been finalized.
func (f *FinalityTracker) IsFinalized(height uint64) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.finalizedBlocks[height]
	return ok
}

// FinalizedHash returns the block hash finalized at height, if any.
func (f *FinalityTracker) FinalizedHash(height uint64) (crypto.Digest, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	h, ok := f.finalizedBlocks[height]
	return h, ok
}
