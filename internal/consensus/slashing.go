package consensus

import (
	"math/big"
	"sync"

	"chaincore/internal/crypto"
	"chaincore/internal/types"
)

// SlashingConfig mirrors the genesis penalty/window parameters.
type SlashingConfig struct {
	DoubleSignFraction *big.Rat // fraction of total_stake slashed for equivocation
	DoubleSignJail     uint64   // blocks jailed after a double-sign
	MissFraction       *big.Rat // fraction slashed for excessive missed blocks
	MissJail           uint64   // blocks jailed after a missed-block penalty
	MissWindow         uint64   // sliding window size, in heights
	MissThreshold      *big.Rat // miss ratio over the window that triggers a penalty
}

// DefaultSlashingConfig mirrors values spec.md leaves as genesis-configurable
// but does not pin numerically; these are conservative production-style
// defaults, overridable from the genesis file.
func DefaultSlashingConfig() SlashingConfig {
	return SlashingConfig{
		DoubleSignFraction: big.NewRat(5, 100),
		DoubleSignJail:     100_000,
		MissFraction:       big.NewRat(1, 1000),
		MissJail:           10_000,
		MissWindow:         100,
		MissThreshold:      big.NewRat(1, 2),
	}
}

// slashSink is the ledger contract the manager drives; a narrow interface
// keeps the manager testable without a full ledger.State.
type slashSink interface {
	SlashValidator(addr string, fraction *big.Rat) (*big.Int, error)
	JailValidator(addr string, until uint64) error
}

// signedBlock records one validator's signature on one block at one height,
// for equivocation detection.
type signedBlock struct {
	height    uint64
	blockHash crypto.Digest
}

// attendance is a validator's sliding window of proposal/miss observations.
type attendance struct {
	window []bool // true = proposed, false = missed, oldest first
}

func (a *attendance) record(present bool, size uint64) {
	a.window = append(a.window, present)
	if uint64(len(a.window)) > size {
		a.window = a.window[uint64(len(a.window))-size:]
	}
}

func (a *attendance) missRatio() *big.Rat {
	if len(a.window) == 0 {
		return big.NewRat(0, 1)
	}
	misses := 0
	for _, present := range a.window {
		if !present {
			misses++
		}
	}
	return big.NewRat(int64(misses), int64(len(a.window)))
}

// SlashingManager watches signed-block and proposer-attendance observations for validator
// misbehavior — equivocation (double-signing) and excessive missed blocks —
// and drives ledger penalties accordingly. It maintains a short-term memory
// of (validator, height) -> signed block_hash to detect equivocation, and a
// per-validator sliding attendance window for the miss-ratio check.
type SlashingManager struct {
	cfg  SlashingConfig
	sink slashSink

	mu         sync.Mutex
	seenSigned map[string]map[uint64]signedBlock // validator -> height -> first-seen signature
	attendance map[string]*attendance
	evidence   []types.Evidence
}

// NewSlashingManager creates a manager under cfg, driving penalties through
// sink (normally the ledger's State).
func NewSlashingManager(cfg SlashingConfig, sink slashSink) *SlashingManager {
	return &SlashingManager{
		cfg:        cfg,
		sink:       sink,
		seenSigned: make(map[string]map[uint64]signedBlock),
		attendance: make(map[string]*attendance),
	}
}

// Evidence returns a copy of all evidence recorded so far, oldest first.
func (m *SlashingManager) Evidence() []types.Evidence {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Evidence, len(m.evidence))
	copy(out, m.evidence)
	return out
}

// ObserveSignedBlock records that validator signed blockHash at height, and
// slashes+jails it for equivocation if it previously signed a different
// block_hash at the same height.
func (m *SlashingManager) ObserveSignedBlock(validator string, height uint64, blockHash crypto.Digest, timestamp int64) error {
	m.mu.Lock()
	byHeight, ok := m.seenSigned[validator]
	if !ok {
		byHeight = make(map[uint64]signedBlock)
		m.seenSigned[validator] = byHeight
	}
	prior, seen := byHeight[height]
	byHeight[height] = signedBlock{height: height, blockHash: blockHash}

	if !seen || prior.blockHash == blockHash {
		m.mu.Unlock()
		return nil
	}
	m.evidence = append(m.evidence, types.Evidence{
		Kind:      types.EvidenceDoubleSign,
		Validator: validator,
		Height:    height,
		Timestamp: timestamp,
		Data: map[string]any{
			"first_hash":  prior.blockHash.Hex(),
			"second_hash": blockHash.Hex(),
		},
	})
	m.mu.Unlock()

	if _, err := m.sink.SlashValidator(validator, m.cfg.DoubleSignFraction); err != nil {
		return err
	}
	return m.sink.JailValidator(validator, height+m.cfg.DoubleSignJail)
}

// ObserveAttendance records whether validator proposed its expected block at
// height, and slashes+jails it if its miss ratio over the sliding window
// exceeds the configured threshold.
func (m *SlashingManager) ObserveAttendance(validator string, height uint64, proposed bool, timestamp int64) error {
	m.mu.Lock()
	a, ok := m.attendance[validator]
	if !ok {
		a = &attendance{}
		m.attendance[validator] = a
	}
	a.record(proposed, m.cfg.MissWindow)
	ratio := a.missRatio()
	exceeds := ratio.Cmp(m.cfg.MissThreshold) > 0
	if exceeds {
		m.evidence = append(m.evidence, types.Evidence{
			Kind:      types.EvidenceMissedBlocks,
			Validator: validator,
			Height:    height,
			Timestamp: timestamp,
			Data: map[string]any{
				"miss_ratio": ratio.FloatString(4),
			},
		})
		// Reset the window so a single triggered penalty doesn't
		// immediately retrigger on the very next observation.
		a.window = nil
	}
	m.mu.Unlock()

	if !exceeds {
		return nil
	}
	if _, err := m.sink.SlashValidator(validator, m.cfg.MissFraction); err != nil {
		return err
	}
	return m.sink.JailValidator(validator, height+m.cfg.MissJail)
}
