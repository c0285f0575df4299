package coordinator

import (
	"context"
	"sync"

	"github.com/clodo/orchestrate/pkg/errdefs"
)

// Well-known shared keys for one orchestration run
const (
	KeySessionToken = "session-token"
	KeyRateLimiter  = "rate-limiter"
	KeyDryRun       = "dry-run"
)

// entry is one shared value with its waiter list
type entry struct {
	value   any
	set     bool
	writer  string
	waiters []chan any
}

// Coordinator provides a per-portfolio namespace of deployment intents and
// shared values. One writer owns each key for its lifetime; readers block
// in Await until the value is shared or the context ends.
type Coordinator struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty coordinator for one portfolio run
func New() *Coordinator {
	return &Coordinator{
		entries: make(map[string]*entry),
	}
}

// Share publishes value under key on behalf of writer. Sharing a key that
// a different writer holds live violates the single-writer invariant.
func (c *Coordinator) Share(key, writer string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	if e.set && e.writer != writer {
		return errdefs.Invariant("key %q already shared by %q", key, e.writer)
	}

	e.value = value
	e.set = true
	e.writer = writer

	for _, waiter := range e.waiters {
		waiter <- value
		close(waiter)
	}
	e.waiters = nil
	return nil
}

// Await returns the value under key, blocking until it is shared or ctx
// ends.
func (c *Coordinator) Await(ctx context.Context, key string) (any, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	if e.set {
		value := e.value
		c.mu.Unlock()
		return value, nil
	}

	waiter := make(chan any, 1)
	e.waiters = append(e.waiters, waiter)
	c.mu.Unlock()

	select {
	case value := <-waiter:
		return value, nil
	case <-ctx.Done():
		c.removeWaiter(key, waiter)
		return nil, ctx.Err()
	}
}

// Get returns the value under key without blocking
func (c *Coordinator) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !e.set {
		return nil, false
	}
	return e.value, true
}

// Release clears key, allowing a new writer to claim it. Pending waiters
// keep waiting for the next Share.
func (c *Coordinator) Release(key, writer string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || !e.set {
		return nil
	}
	if e.writer != writer {
		return errdefs.Invariant("key %q held by %q, not %q", key, e.writer, writer)
	}
	e.value = nil
	e.set = false
	e.writer = ""
	return nil
}

func (c *Coordinator) removeWaiter(key string, waiter chan any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return
	}
	for i, w := range e.waiters {
		if w == waiter {
			e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
			return
		}
	}
}
