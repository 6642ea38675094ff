// Package kv is the embedded ledger store used when STORE_BACKEND=leveldb.
//
// Records are JSON values under composite keys whose parts are joined with a
// NUL separator, so a patient or principal containing "/" or ":" cannot
// collide with a sibling prefix. Multi-record mutations go through Write,
// which commits a single leveldb batch: either every put lands or none do.
package kv

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const sep = "\x00"

// Key joins parts into a composite key.
func Key(parts ...string) string {
	return strings.Join(parts, sep)
}

// Prefix returns the key prefix matching every key that starts with parts.
func Prefix(parts ...string) string {
	return Key(parts...) + sep
}

// Seq renders n so that lexical key order equals numeric order.
func Seq(n int64) string {
	return fmt.Sprintf("%020d", n)
}

// Store wraps a leveldb handle.
type Store struct {
	db *leveldb.DB
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// GetJSON decodes the value at key into v. It reports false when the key is absent.
func (s *Store) GetJSON(key string, v interface{}) (bool, error) {
	data, err := s.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("kv get: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("kv decode %q: %w", key, err)
	}
	return true, nil
}

// Has reports whether key exists.
func (s *Store) Has(key string) (bool, error) {
	ok, err := s.db.Has([]byte(key), nil)
	if err != nil {
		return false, fmt.Errorf("kv has: %w", err)
	}
	return ok, nil
}

// Scan calls fn for every key under prefix in key order.
func (s *Store) Scan(prefix string, fn func(key string, value []byte) error) error {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()
	for iter.Next() {
		if err := fn(string(iter.Key()), iter.Value()); err != nil {
			return err
		}
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("kv scan: %w", err)
	}
	return nil
}

// Batch collects puts and deletes for one atomic write.
type Batch struct {
	b leveldb.Batch
}

// PutJSON stages v at key.
func (b *Batch) PutJSON(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kv encode %q: %w", key, err)
	}
	b.b.Put([]byte(key), data)
	return nil
}

// Delete stages the removal of key.
func (b *Batch) Delete(key string) {
	b.b.Delete([]byte(key))
}

// Len returns the number of staged operations.
func (b *Batch) Len() int {
	return b.b.Len()
}

// Write stages operations through fn and commits them as one synced batch. Nothing
// is written when fn fails.
func (s *Store) Write(fn func(b *Batch) error) error {
	var b Batch
	if err := fn(&b); err != nil {
		return err
	}
	if b.Len() == 0 {
		return nil
	}
	if err := s.db.Write(&b.b, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("kv write: %w", err)
	}
	return nil
}
