package storage

import (
	"encoding/json"
	"fmt"

	"chaincore/internal/chainerr"
	"chaincore/internal/crypto"
	"chaincore/internal/ledger"
	"chaincore/internal/types"
)

// Key layout, per §6: block:<decimal height>, hash:<hex block_hash>,
// meta:blockchain, state:current, checkpoint:<name>.

func blockKey(height uint64) []byte       { return []byte(fmt.Sprintf("block:%d", height)) }
func hashKey(hash crypto.Digest) []byte   { return []byte("hash:" + hash.Hex()) }
func checkpointKey(name string) []byte    { return []byte("checkpoint:" + name) }

const (
	metadataKey = "meta:blockchain"
	stateKey    = "state:current"
)

// Metadata is the chain's persisted head pointer.
type Metadata struct {
	Height      uint64 `json:"height"`
	LatestHash  string `json:"latest_hash"`
	GenesisTime int64  `json:"genesis_time,omitempty"`
}

// Checkpoint is a copy-on-write reference to the state at a height: it does
// not duplicate the snapshot, it names the state_key that held it at that
// point in time, relying on the fact that save_state is only ever called
// with the latest snapshot, so a checkpoint's usefulness is as an audit
// trail pointer rather than a restorable artifact without replay.
type Checkpoint struct {
	Name    string `json:"name"`
	Height  uint64 `json:"height"`
	StateKey string `json:"state_key"`
}

// ChainStore is the durable store the chain driver commits to, implementing
// §4.7's contract over a Database.
type ChainStore struct {
	db Database
}

// NewChainStore wraps db with the block/state/metadata key layout.
func NewChainStore(db Database) *ChainStore {
	return &ChainStore{db: db}
}

// SaveBlock writes block:<height> and hash:<hash> atomically as a pair via
// a single batch write.
func (cs *ChainStore) SaveBlock(b *types.Block) error {
	data, err := json.Marshal(b)
	if err != nil {
		return chainerr.Wrap(chainerr.Storage, "marshal block", err)
	}
	batch := cs.db.NewBatch()
	if err := batch.Put(blockKey(b.Height), data); err != nil {
		return chainerr.Wrap(chainerr.Storage, "stage block write", err)
	}
	if err := batch.Put(hashKey(b.Hash), []byte(fmt.Sprintf("%d", b.Height))); err != nil {
		return chainerr.Wrap(chainerr.Storage, "stage hash index write", err)
	}
	if err := batch.Write(); err != nil {
		return chainerr.Wrap(chainerr.Storage, "commit block batch", err)
	}
	return nil
}

// LoadBlock reads the block stored at height.
func (cs *ChainStore) LoadBlock(height uint64) (*types.Block, error) {
	data, err := cs.db.Get(blockKey(height))
	if err != nil {
		return nil, chainerr.Wrap(chainerr.Storage, "load block", err).WithHeight(height)
	}
	var b types.Block
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, chainerr.Wrap(chainerr.Storage, "unmarshal block", err).WithHeight(height)
	}
	return &b, nil
}

// LoadBlockByHash resolves hash to a height via the hash index, then loads
// the block.
func (cs *ChainStore) LoadBlockByHash(hash crypto.Digest) (*types.Block, error) {
	raw, err := cs.db.Get(hashKey(hash))
	if err != nil {
		return nil, chainerr.Wrap(chainerr.Storage, "resolve hash index", err).WithHash(hash.Hex())
	}
	var height uint64
	if _, err := fmt.Sscanf(string(raw), "%d", &height); err != nil {
		return nil, chainerr.Wrap(chainerr.Storage, "parse hash index value", err).WithHash(hash.Hex())
	}
	return cs.LoadBlock(height)
}

// SaveState writes the single state:current slot.
func (cs *ChainStore) SaveState(snapshot ledger.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return chainerr.Wrap(chainerr.Storage, "marshal state snapshot", err)
	}
	if err := cs.db.Put([]byte(stateKey), data); err != nil {
		return chainerr.Wrap(chainerr.Storage, "write state snapshot", err)
	}
	return nil
}

// LoadState reads the latest persisted snapshot.
func (cs *ChainStore) LoadState() (ledger.Snapshot, error) {
	data, err := cs.db.Get([]byte(stateKey))
	if err != nil {
		return ledger.Snapshot{}, chainerr.Wrap(chainerr.Storage, "load state snapshot", err)
	}
	var snap ledger.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return ledger.Snapshot{}, chainerr.Wrap(chainerr.Storage, "unmarshal state snapshot", err)
	}
	return snap, nil
}

// SaveMetadata writes meta:blockchain.
func (cs *ChainStore) SaveMetadata(m Metadata) error {
	data, err := json.Marshal(m)
	if err != nil {
		return chainerr.Wrap(chainerr.Storage, "marshal metadata", err)
	}
	if err := cs.db.Put([]byte(metadataKey), data); err != nil {
		return chainerr.Wrap(chainerr.Storage, "write metadata", err)
	}
	return nil
}

// GetMetadata reads meta:blockchain.
func (cs *ChainStore) GetMetadata() (Metadata, error) {
	data, err := cs.db.Get([]byte(metadataKey))
	if err != nil {
		return Metadata{}, chainerr.Wrap(chainerr.Storage, "load metadata", err)
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}, chainerr.Wrap(chainerr.Storage, "unmarshal metadata", err)
	}
	return m, nil
}

// CreateCheckpoint records a named pointer to the state at height. Since
// state:current is the only state slot, the checkpoint records where to
// look (state_key) and at what height it was taken; restoring an old
// checkpoint after further commits requires replay, per §4.7's recovery
// note, not a stored historical copy.
func (cs *ChainStore) CreateCheckpoint(name string, height uint64) error {
	cp := Checkpoint{Name: name, Height: height, StateKey: stateKey}
	data, err := json.Marshal(cp)
	if err != nil {
		return chainerr.Wrap(chainerr.Storage, "marshal checkpoint", err)
	}
	if err := cs.db.Put(checkpointKey(name), data); err != nil {
		return chainerr.Wrap(chainerr.Storage, "write checkpoint", err)
	}
	return nil
}

// GetCheckpoint reads a named checkpoint.
func (cs *ChainStore) GetCheckpoint(name string) (Checkpoint, error) {
	data, err := cs.db.Get(checkpointKey(name))
	if err != nil {
		return Checkpoint{}, chainerr.Wrap(chainerr.Storage, "load checkpoint", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, chainerr.Wrap(chainerr.Storage, "unmarshal checkpoint", err)
	}
	return cp, nil
}
