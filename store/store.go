// Package store provides the key-value backends the pool persists into and the
// View overlay that makes one invocation commit or vanish as a unit.
package store

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound = errors.New("store: key not found")
	ErrClosed   = errors.New("store: closed")
)

// Reader reads committed or pending state. Missing keys return ErrNotFound.
type Reader interface {
	Get(key []byte) ([]byte, error)
}

// Write is a single mutation produced by a View.
type Write struct {
	Key    []byte
	Value  []byte
	Delete bool
}

// Snapshot is a consistent point-in-time reader over a backend. Writes
// applied after it was taken are invisible to it.
type Snapshot interface {
	Reader
	Release()
}

// Backend is a durable (or in-memory) key-value store that applies a set of
// writes atomically.
type Backend interface {
	Reader
	// Apply commits all writes or none of them.
	Apply(writes []Write) error
	// Iterate visits keys with the given prefix in ascending order until fn
	// returns false.
	Iterate(prefix []byte, fn func(key, value []byte) bool) error
	// Snapshot pins the current state for reads that span several keys.
	Snapshot() (Snapshot, error)
	Close() error
}

// Backend kinds accepted by Open.
const (
	KindMemory  = "memory"
	KindPebble  = "pebble"
	KindLevelDB = "leveldb"
)

// Open creates a backend of the requested kind rooted at path.
func Open(kind, path string) (Backend, error) {
	switch strings.ToLower(kind) {
	case "", KindMemory:
		return NewMemory(), nil
	case KindPebble:
		return OpenPebble(path)
	case KindLevelDB:
		return OpenLevelDB(path)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", kind)
	}
}

// prefixEnd returns the smallest key greater than every key with the prefix,
// or nil when no such bound exists.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
