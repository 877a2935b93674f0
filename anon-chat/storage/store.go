// Package storage wraps the Pebble database shared by identities, counters
// and message lists.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/pebble/v2"
	"github.com/cockroachdb/pebble/v2/vfs"
)

var ErrNotFound = errors.New("storage: key not found")

// DB is a Pebble key-value store. Update serializes read-modify-write cycles
// so counters and list appends stay consistent within the process.
type DB struct {
	db *pebble.DB
	mu sync.Mutex
}

// Open opens a Pebble database at dir. An empty dir keeps everything in memory.
func Open(dir string) (*DB, error) {
	if dir == "" {
		return OpenMemory()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble db: %w", err)
	}
	return &DB{db: db}, nil
}

// OpenMemory opens a database backed by an in-memory filesystem.
func OpenMemory() (*DB, error) {
	db, err := pebble.Open("anon-chat", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("open memory pebble db: %w", err)
	}
	return &DB{db: db}, nil
}

// Get returns a copy of the value stored under key.
func (d *DB) Get(key []byte) ([]byte, error) {
	data, closer, err := d.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()
	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, nil
}

func (d *DB) Set(key, value []byte) error {
	return d.db.Set(key, value, pebble.Sync)
}

func (d *DB) Delete(key []byte) error {
	return d.db.Delete(key, pebble.Sync)
}

// Update loads the current value of key (nil when absent), passes it to fn and
// stores the result. A nil result deletes the key.
func (d *DB) Update(key []byte, fn func(cur []byte) ([]byte, error)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cur, err := d.Get(key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	next, err := fn(cur)
	if err != nil {
		return err
	}
	if next == nil {
		return d.Delete(key)
	}
	return d.Set(key, next)
}

// Scan calls fn for every key under prefix in ascending order until fn returns false.
func (d *DB) Scan(prefix []byte, fn func(key, value []byte) bool) error {
	it, err := d.db.NewIter(prefixOptions(prefix))
	if err != nil {
		return err
	}
	defer func() { _ = it.Close() }()
	for ok := it.First(); ok; ok = it.Next() {
		if !fn(it.Key(), it.Value()) {
			break
		}
	}
	return it.Error()
}

// ScanReverse is Scan in descending key order.
func (d *DB) ScanReverse(prefix []byte, fn func(key, value []byte) bool) error {
	it, err := d.db.NewIter(prefixOptions(prefix))
	if err != nil {
		return err
	}
	defer func() { _ = it.Close() }()
	for ok := it.Last(); ok; ok = it.Prev() {
		if !fn(it.Key(), it.Value()) {
			break
		}
	}
	return it.Error()
}

// DeletePrefix removes every key under prefix and reports how many were removed.
func (d *DB) DeletePrefix(prefix []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var n int
	if err := d.Scan(prefix, func(_, _ []byte) bool {
		n++
		return true
	}); err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	if err := d.db.DeleteRange(prefix, prefixEnd(prefix), pebble.Sync); err != nil {
		return 0, fmt.Errorf("delete range: %w", err)
	}
	return n, nil
}

func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

func prefixOptions(prefix []byte) *pebble.IterOptions {
	return &pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	}
}

// prefixEnd returns the smallest key greater than every key with the prefix.
func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
