// Package storage implements the persistent block/state/metadata store the
// chain driver depends on: block-by-height and block-by-hash indexes, a
// single latest-state slot, chain metadata, and named checkpoints, backed by
// goleveldb with an atomic per-pair write contract.
package storage

import (
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
	ldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrNotFound is returned when a key has no value, matching the teacher's
// Database contract shape so callers can keep using errors.Is.
var ErrNotFound = errors.New("storage: key not found")

// Database is the narrow key/value contract every higher-level store
// (block store, state store) is built on.
type Database interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	Iterate(prefix []byte, fn func(key, value []byte) error) error
	NewBatch() Batch
	Close() error
}

// Batch groups writes for an atomic commit, the mechanism save_block uses to
// write its block and hash-index entries as a single unit.
type Batch interface {
	Put(key, value []byte) error
	Delete(key []byte)
	Write() error
	Reset()
}

// LevelDB implements Database over a real on-disk goleveldb store — the
// teacher declared this dependency in go.mod but its own LevelDB type was an
// in-memory map; this wires the dependency to its actual library.
type LevelDB struct {
	db *leveldb.DB
}

// OpenLevelDB opens (creating if absent) a goleveldb store rooted at dir.
func OpenLevelDB(dir string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// OpenMemLevelDB opens an in-memory goleveldb store, used by package tests
// and by short-lived tooling that should not touch disk.
func OpenMemLevelDB() (*LevelDB, error) {
	db, err := leveldb.Open(ldbstorage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Get(key []byte) ([]byte, error) {
	v, err := l.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	return v, err
}

func (l *LevelDB) Put(key, value []byte) error {
	return l.db.Put(key, value, nil)
}

func (l *LevelDB) Delete(key []byte) error {
	return l.db.Delete(key, nil)
}

func (l *LevelDB) Has(key []byte) (bool, error) {
	return l.db.Has(key, nil)
}

// Iterate calls fn for every key with the given prefix, in key order,
// stopping at the first error fn returns.
func (l *LevelDB) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	it := l.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()
	for it.Next() {
		if err := fn(it.Key(), it.Value()); err != nil {
			return err
		}
	}
	return it.Error()
}

func (l *LevelDB) NewBatch() Batch {
	return &levelDBBatch{db: l.db, batch: new(leveldb.Batch)}
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}

type levelDBBatch struct {
	db    *leveldb.DB
	batch *leveldb.Batch
}

func (b *levelDBBatch) Put(key, value []byte) error {
	b.batch.Put(key, value)
	return nil
}

func (b *levelDBBatch) Delete(key []byte) {
	b.batch.Delete(key)
}

func (b *levelDBBatch) Write() error {
	return b.db.Write(b.batch, nil)
}

func (b *levelDBBatch) Reset() {
	b.batch.Reset()
}
