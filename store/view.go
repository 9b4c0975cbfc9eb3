package store

import (
	"errors"
	"sort"
)

// action records what a View did to a key relative to its base
type action int

const (
	// actionCache means the entry was read but not modified
	actionCache action = iota
	// actionInsert means a new entry was created
	actionInsert
	// actionModify means an existing entry was modified
	actionModify
	// actionErase means an existing entry was deleted
	actionErase
)

type trackedEntry struct {
	action   action
	original []byte // nil for inserts
	current  []byte
}

// View wraps a Reader and tracks every modification made during one
// invocation. Nothing reaches the base until the caller applies Writes() to a
// Backend; dropping the View discards all changes.
//
// A View is not safe for concurrent use.
type View struct {
	base  Reader
	items map[string]*trackedEntry
}

// NewView creates a View over base.
func NewView(base Reader) *View {
	return &View{
		base:  base,
		items: make(map[string]*trackedEntry),
	}
}

// Get returns the current value of key as seen by this view.
func (v *View) Get(key []byte) ([]byte, error) {
	if entry, ok := v.items[string(key)]; ok {
		if entry.action == actionErase {
			return nil, ErrNotFound
		}
		return copyBytes(entry.current), nil
	}

	data, err := v.base.Get(key)
	if err != nil {
		return nil, err
	}
	v.items[string(key)] = &trackedEntry{
		action:   actionCache,
		original: data,
		current:  data,
	}
	return copyBytes(data), nil
}

// Has reports whether key exists in this view.
func (v *View) Has(key []byte) (bool, error) {
	_, err := v.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Put inserts or replaces the value stored under key.
func (v *View) Put(key, value []byte) error {
	value = copyBytes(value)
	if value == nil {
		value = []byte{}
	}

	if entry, ok := v.items[string(key)]; ok {
		switch entry.action {
		case actionCache:
			entry.action = actionModify
		case actionErase:
			// Re-inserting a deleted entry becomes a modify
			entry.action = actionModify
		}
		entry.current = value
		return nil
	}

	original, err := v.base.Get(key)
	switch {
	case errors.Is(err, ErrNotFound):
		v.items[string(key)] = &trackedEntry{action: actionInsert, current: value}
		return nil
	case err != nil:
		return err
	}

	v.items[string(key)] = &trackedEntry{
		action:   actionModify,
		original: original,
		current:  value,
	}
	return nil
}

// Delete removes key. Deleting a missing key returns ErrNotFound.
func (v *View) Delete(key []byte) error {
	if entry, ok := v.items[string(key)]; ok {
		switch entry.action {
		case actionErase:
			return ErrNotFound
		case actionInsert:
			// Inserting then deleting = no change
			delete(v.items, string(key))
			return nil
		}
		entry.action = actionErase
		return nil
	}

	original, err := v.base.Get(key)
	if err != nil {
		return err
	}
	v.items[string(key)] = &trackedEntry{
		action:   actionErase,
		original: original,
		current:  original,
	}
	return nil
}

// Dirty reports whether the view holds any pending mutation.
func (v *View) Dirty() bool {
	for _, entry := range v.items {
		if entry.action != actionCache {
			return true
		}
	}
	return false
}

// Writes returns the pending mutations ordered by key.
func (v *View) Writes() []Write {
	keys := make([]string, 0, len(v.items))
	for k, entry := range v.items {
		if entry.action != actionCache {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	writes := make([]Write, 0, len(keys))
	for _, k := range keys {
		entry := v.items[k]
		if entry.action == actionErase {
			writes = append(writes, Write{Key: []byte(k), Delete: true})
			continue
		}
		writes = append(writes, Write{Key: []byte(k), Value: copyBytes(entry.current)})
	}
	return writes
}

// Commit applies the pending mutations to backend in one batch.
func (v *View) Commit(backend Backend) error {
	writes := v.Writes()
	if len(writes) == 0 {
		return nil
	}
	return backend.Apply(writes)
}
