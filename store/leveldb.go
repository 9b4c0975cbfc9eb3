package store

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB is a durable backend using goleveldb.
type LevelDB struct {
	db *leveldb.DB
}

// OpenLevelDB creates or opens a LevelDB database at the specified path.
func OpenLevelDB(path string) (*LevelDB, error) {
	if path == "" {
		return nil, fmt.Errorf("leveldb backend requires a path")
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb at %s: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Get(key []byte) ([]byte, error) {
	if l.db == nil {
		return nil, ErrClosed
	}
	value, err := l.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

func (l *LevelDB) Apply(writes []Write) error {
	if l.db == nil {
		return ErrClosed
	}

	batch := new(leveldb.Batch)
	for _, w := range writes {
		if w.Delete {
			batch.Delete(w.Key)
			continue
		}
		batch.Put(w.Key, w.Value)
	}
	return l.db.Write(batch, &opt.WriteOptions{Sync: true})
}

func (l *LevelDB) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	if l.db == nil {
		return ErrClosed
	}

	iter := l.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	for iter.Next() {
		if !fn(copyBytes(iter.Key()), copyBytes(iter.Value())) {
			break
		}
	}
	return iter.Error()
}

func (l *LevelDB) Snapshot() (Snapshot, error) {
	if l.db == nil {
		return nil, ErrClosed
	}
	snap, err := l.db.GetSnapshot()
	if err != nil {
		return nil, err
	}
	return levelDBSnapshot{snap: snap}, nil
}

type levelDBSnapshot struct {
	snap *leveldb.Snapshot
}

func (s levelDBSnapshot) Get(key []byte) ([]byte, error) {
	value, err := s.snap.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

func (s levelDBSnapshot) Release() {
	s.snap.Release()
}

func (l *LevelDB) Close() error {
	if l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	return err
}
