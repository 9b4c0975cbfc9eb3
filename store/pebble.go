package store

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// Pebble is a durable backend on top of cockroachdb/pebble.
type Pebble struct {
	db *pebble.DB
}

// OpenPebble opens (or creates) a pebble database at path.
func OpenPebble(path string) (*Pebble, error) {
	if path == "" {
		return nil, fmt.Errorf("pebble backend requires a path")
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", path, err)
	}
	return &Pebble{db: db}, nil
}

func (p *Pebble) Get(key []byte) ([]byte, error) {
	if p.db == nil {
		return nil, ErrClosed
	}

	val, closer, err := p.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()

	return copyBytes(val), nil
}

func (p *Pebble) Apply(writes []Write) error {
	if p.db == nil {
		return ErrClosed
	}

	batch := p.db.NewBatch()
	defer batch.Close()

	for _, w := range writes {
		if w.Delete {
			if err := batch.Delete(w.Key, nil); err != nil {
				return err
			}
			continue
		}
		if err := batch.Set(w.Key, w.Value, nil); err != nil {
			return err
		}
	}

	return batch.Commit(pebble.Sync)
}

func (p *Pebble) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	if p.db == nil {
		return ErrClosed
	}

	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for valid := iter.First(); valid; valid = iter.Next() {
		if !fn(copyBytes(iter.Key()), copyBytes(iter.Value())) {
			break
		}
	}
	return iter.Error()
}

func (p *Pebble) Snapshot() (Snapshot, error) {
	if p.db == nil {
		return nil, ErrClosed
	}
	return &pebbleSnapshot{snap: p.db.NewSnapshot()}, nil
}

type pebbleSnapshot struct {
	snap *pebble.Snapshot
}

func (s *pebbleSnapshot) Get(key []byte) ([]byte, error) {
	val, closer, err := s.snap.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()

	return copyBytes(val), nil
}

func (s *pebbleSnapshot) Release() {
	_ = s.snap.Close()
}

func (p *Pebble) Close() error {
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}
