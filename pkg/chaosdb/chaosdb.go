// Package chaosdb is the embeddable facade in front of pkg/store: an
// ordered, on-disk, mmap-backed key/value store addressed by a directory
// and a database name. It validates key/value sizes and owns the
// background auto-flush goroutine; pkg/store implements the tree itself.
package chaosdb

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"go-dbms/config"
	"go-dbms/pkg/store"
	"go-dbms/util/helpers"
)

const (
	// DefaultName is used when Open is given an empty name.
	DefaultName = "chaos"

	indexExt = ".db"
	dataExt  = ".data"
)

// MaxKeySize and MaxValueSize are the largest key and value this store
// accepts, respectively (a value pays for a checksum prefix internally, so
// its ceiling is slightly below a key's).
const (
	MaxKeySize   = store.MaxKVSize
	MaxValueSize = store.MaxValueSize
)

// DB is a single opened database. It is safe for concurrent use: every
// operation is serialized behind one mutex; the engine underneath stays
// single-threaded.
type DB struct {
	mu   sync.Mutex
	tree *store.Tree

	stopAutoFlush chan struct{}
	autoFlushDone chan struct{}
}

// Open opens (or creates) the database named name inside rootDir, i.e.
// rootDir/name.db and rootDir/name.data. An empty name defaults to
// "chaos". rootDir is created if it does not exist.
func Open(rootDir, name string, opts *config.Options) (*DB, error) {
	if name == "" {
		name = DefaultName
	}
	if opts == nil {
		opts = config.DefaultOptions()
	}

	if err := helpers.CreateDir(rootDir); err != nil {
		return nil, errors.Wrap(err, "failed to create database directory")
	}

	indexPath := filepath.Join(rootDir, name+indexExt)
	dataPath := filepath.Join(rootDir, name+dataExt)

	tree, err := store.Open(indexPath, dataPath, opts)
	if err != nil {
		return nil, err
	}

	db := &DB{tree: tree}
	if opts.AutoFlushInterval > 0 {
		db.startAutoFlush(opts.AutoFlushInterval)
	}
	return db, nil
}

func (db *DB) startAutoFlush(interval time.Duration) {
	db.stopAutoFlush = make(chan struct{})
	db.autoFlushDone = make(chan struct{})

	go func() {
		defer close(db.autoFlushDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				db.mu.Lock()
				_ = db.tree.Flush()
				db.mu.Unlock()
			case <-db.stopAutoFlush:
				return
			}
		}
	}()
}

// Put inserts key/val, rejecting a key already present. It returns false,
// nil if key already exists (never overwrites).
func (db *DB) Put(key, val []byte) (bool, error) {
	if err := validateSize(key, val); err != nil {
		return false, err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.tree.Put(key, val)
}

// Get returns the value stored for key, and whether it was present.
func (db *DB) Get(key []byte) ([]byte, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.tree.Get(key)
}

// Contains reports whether key is present.
func (db *DB) Contains(key []byte) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.tree.Contains(key)
}

// Del removes key. Deleting an absent key is a no-op.
func (db *DB) Del(key []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.tree.Del(key)
}

// Range returns an iterator over [from, to] (see store.Tree.Range for the
// exact endpoint semantics). The iterator is only valid while db remains
// open and must not be used concurrently with a mutating call.
func (db *DB) Range(from, to []byte) (*store.Iterator, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.tree.Range(from, to)
}

// Flush persists all pending writes to disk.
func (db *DB) Flush() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.tree.Flush()
}

// Items returns the persisted key count in O(1).
func (db *DB) Items() uint64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.tree.Items()
}

// Count recomputes the key count by walking the tree; a diagnostic, not
// the hot path (use Items for that).
func (db *DB) Count() (uint64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.tree.Count()
}

// Validate runs the tree's structural consistency checker.
func (db *DB) Validate() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.tree.Validate()
}

// Close stops any auto-flush goroutine and closes the underlying files.
func (db *DB) Close() error {
	if db.stopAutoFlush != nil {
		close(db.stopAutoFlush)
		<-db.autoFlushDone
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.tree.Close()
}

func validateSize(key, val []byte) error {
	switch {
	case len(key) == 0:
		return store.ErrEmptyKey
	case len(val) == 0:
		return store.ErrEmptyValue
	case len(key) > MaxKeySize:
		return store.ErrKeyTooLarge
	case len(val) > MaxValueSize:
		return store.ErrValueTooLarge
	}
	return nil
}
