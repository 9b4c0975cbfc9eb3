package flashloan

import (
	"sync"
	"sync/atomic"
)

// ReentrancyGuard is the single lock shared by every mutating pool
// operation. Entering while it is held fails at once; there is no waiting.
// A concurrent goroutine is refused exactly like a nested call and is
// expected to retry.
type ReentrancyGuard struct {
	held atomic.Bool
}

// GuardToken proves the guard is held. Release it with defer.
type GuardToken struct {
	guard *ReentrancyGuard
	once  sync.Once
}

// Enter acquires the guard or returns ErrReentrant.
func (g *ReentrancyGuard) Enter() (*GuardToken, error) {
	if !g.held.CompareAndSwap(false, true) {
		return nil, ErrReentrant
	}
	return &GuardToken{guard: g}, nil
}

// Held reports whether some operation currently holds the guard.
func (g *ReentrancyGuard) Held() bool {
	return g.held.Load()
}

// Release frees the guard. Extra calls are no-ops.
func (t *GuardToken) Release() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		t.guard.held.Store(false)
	})
}
