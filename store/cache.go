package store

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// Cached fronts a Backend with an LRU read cache. Writes go straight through
// and refresh the cached copy of every key they touch.
type Cached struct {
	Backend
	cache *lru.Cache
	mu    sync.RWMutex
}

// NewCached wraps backend with a read cache holding up to size entries.
func NewCached(backend Backend, size int) (*Cached, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	return &Cached{
		Backend: backend,
		cache:   cache,
	}, nil
}

func (c *Cached) Get(key []byte) ([]byte, error) {
	c.mu.RLock()
	if v, ok := c.cache.Get(string(key)); ok {
		c.mu.RUnlock()
		return copyBytes(v.([]byte)), nil
	}
	c.mu.RUnlock()

	// Fill under the write lock so a concurrent Apply cannot be overwritten
	// with a stale value.
	c.mu.Lock()
	defer c.mu.Unlock()

	value, err := c.Backend.Get(key)
	if err != nil {
		return nil, err
	}
	c.cache.Add(string(key), copyBytes(value))

	return value, nil
}

func (c *Cached) Apply(writes []Write) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.Backend.Apply(writes); err != nil {
		// The backend may have applied part of the batch
		c.cache.Purge()
		return err
	}

	for _, w := range writes {
		if w.Delete {
			c.cache.Remove(string(w.Key))
			continue
		}
		c.cache.Add(string(w.Key), copyBytes(w.Value))
	}
	return nil
}

// Len returns the number of cached entries.
func (c *Cached) Len() int {
	return c.cache.Len()
}

func (c *Cached) Close() error {
	c.mu.Lock()
	c.cache.Purge()
	c.mu.Unlock()
	return c.Backend.Close()
}
