// Package kvstore is the embedded key/value store behind the registry, the
// transaction index, trade history and the block journal.
package kvstore

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/syndtr/goleveldb/leveldb"
	lverrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Store is the KV surface the rest of the module depends on.
type Store interface {
	// Get returns nil, nil for a missing key.
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	NewBatch() Batch
	// Iterate visits keys with the given prefix in ascending order until fn
	// returns false.
	Iterate(prefix []byte, fn func(key, value []byte) bool) error
	// IterateRange visits [start, end) ascending; a nil end is unbounded.
	IterateRange(start, end []byte, fn func(key, value []byte) bool) error
	// ReverseIterate visits keys with the prefix in descending order.
	ReverseIterate(prefix []byte, fn func(key, value []byte) bool) error
	Close() error
}

// Batch groups writes that land atomically.
type Batch interface {
	Set(key, value []byte)
	Delete(key []byte)
	Write() error
	Len() int
}

var _ Store = (*LevelDB)(nil)

// LevelDB implements Store on goleveldb.
type LevelDB struct {
	db *leveldb.DB
}

// Open opens (or creates) dir/name.db.
func Open(dir, name string) (*LevelDB, error) {
	path := filepath.Join(dir, name+".db")
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

// NewMemDB returns a store backed by memory only.
func NewMemDB() *LevelDB {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		panic(fmt.Sprintf("FATAL: open memory leveldb: %v", err))
	}
	return &LevelDB{db: db}
}

func (s *LevelDB) Get(key []byte) ([]byte, error) {
	res, err := s.db.Get(key, nil)
	if err != nil {
		if errors.Is(err, lverrors.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return res, nil
}

func (s *LevelDB) Has(key []byte) (bool, error) {
	return s.db.Has(key, nil)
}

func (s *LevelDB) Set(key, value []byte) error {
	return s.db.Put(key, value, &opt.WriteOptions{Sync: true})
}

func (s *LevelDB) Delete(key []byte) error {
	return s.db.Delete(key, &opt.WriteOptions{Sync: true})
}

func (s *LevelDB) NewBatch() Batch {
	return &levelBatch{db: s.db, batch: new(leveldb.Batch)}
}

func (s *LevelDB) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	return walk(s.db.NewIterator(util.BytesPrefix(prefix), nil), false, fn)
}

func (s *LevelDB) IterateRange(start, end []byte, fn func(key, value []byte) bool) error {
	return walk(s.db.NewIterator(&util.Range{Start: start, Limit: end}, nil), false, fn)
}

func (s *LevelDB) ReverseIterate(prefix []byte, fn func(key, value []byte) bool) error {
	return walk(s.db.NewIterator(util.BytesPrefix(prefix), nil), true, fn)
}

func (s *LevelDB) Close() error {
	return s.db.Close()
}

func walk(itr iterator.Iterator, reverse bool, fn func(key, value []byte) bool) error {
	defer itr.Release()

	next := itr.Next
	ok := itr.First()
	if reverse {
		next = itr.Prev
		ok = itr.Last()
	}
	for ; ok; ok = next() {
		// goleveldb reuses the buffers between steps
		key := append([]byte(nil), itr.Key()...)
		value := append([]byte(nil), itr.Value()...)
		if !fn(key, value) {
			break
		}
	}
	return itr.Error()
}

type levelBatch struct {
	db    *leveldb.DB
	batch *leveldb.Batch
}

func (b *levelBatch) Set(key, value []byte) { b.batch.Put(key, value) }
func (b *levelBatch) Delete(key []byte)     { b.batch.Delete(key) }
func (b *levelBatch) Len() int              { return b.batch.Len() }

func (b *levelBatch) Write() error {
	return b.db.Write(b.batch, &opt.WriteOptions{Sync: true})
}
