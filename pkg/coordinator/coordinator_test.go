package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/clodo/orchestrate/pkg/errdefs"
)

// TestShareGet tests the non-blocking read path
func TestShareGet(t *testing.T) {
	c := New()

	if _, ok := c.Get(KeySessionToken); ok {
		t.Error("Get() found a value before any Share")
	}
	if err := c.Share(KeySessionToken, "runtime", "tok-1"); err != nil {
		t.Fatalf("Share() error = %v", err)
	}
	value, ok := c.Get(KeySessionToken)
	if !ok || value != "tok-1" {
		t.Errorf("Get() = (%v, %v), want (tok-1, true)", value, ok)
	}
}

// TestAwaitBlocksUntilShare tests that waiters wake on Share
func TestAwaitBlocksUntilShare(t *testing.T) {
	c := New()

	done := make(chan any, 1)
	go func() {
		value, err := c.Await(context.Background(), KeyRateLimiter)
		if err != nil {
			done <- err
			return
		}
		done <- value
	}()

	select {
	case v := <-done:
		t.Fatalf("Await() returned %v before Share", v)
	case <-time.After(20 * time.Millisecond):
	}

	if err := c.Share(KeyRateLimiter, "runtime", 42); err != nil {
		t.Fatal(err)
	}
	select {
	case v := <-done:
		if v != 42 {
			t.Errorf("Await() = %v, want 42", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Await() did not wake after Share")
	}
}

// TestAwaitAlreadySet tests the fast path when the value exists
func TestAwaitAlreadySet(t *testing.T) {
	c := New()
	if err := c.Share("k", "w", "v"); err != nil {
		t.Fatal(err)
	}
	value, err := c.Await(context.Background(), "k")
	if err != nil || value != "v" {
		t.Errorf("Await() = (%v, %v), want (v, nil)", value, err)
	}
}

// TestAwaitContextCancelled tests waiter cleanup on cancellation
func TestAwaitContextCancelled(t *testing.T) {
	c := New()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Await(ctx, "k")
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Errorf("Await() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Await() did not return after cancellation")
	}

	c.mu.Lock()
	waiters := len(c.entries["k"].waiters)
	c.mu.Unlock()
	if waiters != 0 {
		t.Errorf("waiter list depth = %d after cancel, want 0", waiters)
	}
}

// TestSingleWriter tests that a second writer cannot steal a live key
func TestSingleWriter(t *testing.T) {
	c := New()
	if err := c.Share("k", "alpha", 1); err != nil {
		t.Fatal(err)
	}

	err := c.Share("k", "beta", 2)
	if !errdefs.IsInvariant(err) {
		t.Errorf("second writer Share() error = %v, want invariant", err)
	}

	// the holder may update its own key
	if err := c.Share("k", "alpha", 3); err != nil {
		t.Errorf("holder re-Share() error = %v", err)
	}
	value, _ := c.Get("k")
	if value != 3 {
		t.Errorf("Get() = %v, want 3", value)
	}
}

// TestRelease tests holder checks and re-claiming
func TestRelease(t *testing.T) {
	c := New()
	if err := c.Share("k", "alpha", 1); err != nil {
		t.Fatal(err)
	}

	if err := c.Release("k", "beta"); !errdefs.IsInvariant(err) {
		t.Errorf("non-holder Release() error = %v, want invariant", err)
	}
	if err := c.Release("k", "alpha"); err != nil {
		t.Fatalf("holder Release() error = %v", err)
	}
	if _, ok := c.Get("k"); ok {
		t.Error("Get() found a value after Release")
	}

	// released keys accept a new writer
	if err := c.Share("k", "beta", 2); err != nil {
		t.Errorf("Share() after Release error = %v", err)
	}

	// releasing an unset key is a no-op
	if err := c.Release("missing", "anyone"); err != nil {
		t.Errorf("Release(missing) error = %v", err)
	}
}

// TestMultipleWaiters tests that every waiter receives the shared value
func TestMultipleWaiters(t *testing.T) {
	c := New()

	const n = 5
	results := make(chan any, n)
	for i := 0; i < n; i++ {
		go func() {
			value, err := c.Await(context.Background(), "k")
			if err != nil {
				results <- err
				return
			}
			results <- value
		}()
	}
	time.Sleep(20 * time.Millisecond)

	if err := c.Share("k", "runtime", "broadcast"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < n; i++ {
		select {
		case v := <-results:
			if v != "broadcast" {
				t.Errorf("waiter received %v, want broadcast", v)
			}
		case <-time.After(time.Second):
			t.Fatal("waiter never woke")
		}
	}
}
