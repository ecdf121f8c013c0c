package storage

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	ethleveldb "github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/syndtr/goleveldb/leveldb"
)

// ErrNotFound is returned by Get when the key has never been written.
var ErrNotFound = errors.New("storage: key not found")

const (
	levelDBCacheMB = 16
	levelDBHandles = 64
)

// Database is the key-value store backing the ledger. Raw keys hold node
// metadata (head root, receipts); the trie database shares the same backend
// for market state.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	TrieDB() *triedb.Database
	Close()
}

// --- In-Memory DB (for testing) ---

type MemDB struct {
	kv     ethdb.KeyValueStore
	trieDB *triedb.Database
}

func NewMemDB() *MemDB {
	kv := memorydb.New()
	return &MemDB{
		kv:     kv,
		trieDB: triedb.NewDatabase(rawdb.NewDatabase(kv), triedb.HashDefaults),
	}
}

func (db *MemDB) Put(key []byte, value []byte) error {
	return db.kv.Put(key, value)
}

func (db *MemDB) Get(key []byte) ([]byte, error) {
	ok, err := db.kv.Has(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return db.kv.Get(key)
}

func (db *MemDB) TrieDB() *triedb.Database { return db.trieDB }

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() {
	_ = db.kv.Close()
}

// --- Persistent DB ---

// LevelDB is a persistent key-value store using LevelDB.
type LevelDB struct {
	kv     *ethleveldb.Database
	trieDB *triedb.Database
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	kv, err := ethleveldb.New(path, levelDBCacheMB, levelDBHandles, "hmchain/db/", false)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelDB{
		kv:     kv,
		trieDB: triedb.NewDatabase(rawdb.NewDatabase(kv), triedb.HashDefaults),
	}, nil
}

// Put inserts or updates a key-value pair.
func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.kv.Put(key, value)
}

// Get retrieves a value for a given key.
func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := ldb.kv.Get(key)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

func (ldb *LevelDB) TrieDB() *triedb.Database { return ldb.trieDB }

// Close flushes the trie database and closes the LevelDB handle.
func (ldb *LevelDB) Close() {
	_ = ldb.trieDB.Close()
	_ = ldb.kv.Close()
}
