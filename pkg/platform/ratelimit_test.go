package platform

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clodo/orchestrate/pkg/types"
)

func testLimits(perMinute int) map[types.APIClass]ClassLimit {
	return map[types.APIClass]ClassLimit{
		types.ClassWorkers: {
			PerMinute: perMinute,
			PerHour:   perMinute * 10,
			BaseDelay: 10 * time.Millisecond,
			MaxDelay:  100 * time.Millisecond,
			// no spacing so tests run fast
			MinSpacing: 0,
		},
	}
}

// TestAcquireWithinWindow tests that calls under the budget never block long
func TestAcquireWithinWindow(t *testing.T) {
	rl := NewRateLimiter(testLimits(10))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 10; i++ {
		if err := rl.Acquire(ctx, types.ClassWorkers, types.PriorityNormalReq); err != nil {
			t.Fatalf("Acquire() %d error = %v", i, err)
		}
	}
	minute, hour := rl.Counts(types.ClassWorkers)
	if minute != 10 || hour != 10 {
		t.Errorf("Counts() = (%d, %d), want (10, 10)", minute, hour)
	}
}

// TestWindowBound tests that dispatches never exceed the per-minute budget
func TestWindowBound(t *testing.T) {
	rl := NewRateLimiter(testLimits(5))
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	granted := 0
	for i := 0; i < 8; i++ {
		if err := rl.Acquire(ctx, types.ClassWorkers, types.PriorityNormalReq); err != nil {
			break // the sixth call blocks until the window resets
		}
		granted++
	}
	if granted != 5 {
		t.Errorf("granted %d dispatches in one window, want 5", granted)
	}
	minute, _ := rl.Counts(types.ClassWorkers)
	if minute > 5 {
		t.Errorf("minute count %d exceeds budget 5", minute)
	}
}

// TestPriorityOrder tests high > normal > low with FIFO within a priority
func TestPriorityOrder(t *testing.T) {
	rl := NewRateLimiter(testLimits(1))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// exhaust the window so the next acquires queue
	if err := rl.Acquire(ctx, types.ClassWorkers, types.PriorityNormalReq); err != nil {
		t.Fatal(err)
	}

	order := make(chan string, 3)
	start := func(name string, p types.Priority) {
		go func() {
			if err := rl.Acquire(context.Background(), types.ClassWorkers, p); err == nil {
				order <- name
			}
		}()
		time.Sleep(20 * time.Millisecond) // deterministic enqueue order
	}
	start("low", types.PriorityLowReq)
	start("normal", types.PriorityNormalReq)
	start("high", types.PriorityHighReq)

	rl.mu.Lock()
	q := rl.queues[types.ClassWorkers]
	got := make([]types.Priority, len(q))
	for i, w := range q {
		got[i] = w.priority
	}
	rl.mu.Unlock()

	want := []types.Priority{types.PriorityHighReq, types.PriorityNormalReq, types.PriorityLowReq}
	if len(got) != 3 {
		t.Fatalf("queue depth = %d, want 3", len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("queue[%d] priority = %d, want %d", i, got[i], want[i])
		}
	}
}

// TestAcquireCancellation tests that a cancelled context releases the waiter
func TestAcquireCancellation(t *testing.T) {
	rl := NewRateLimiter(testLimits(1))
	if err := rl.Acquire(context.Background(), types.ClassWorkers, types.PriorityNormalReq); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- rl.Acquire(ctx, types.ClassWorkers, types.PriorityNormalReq)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Acquire() after cancel error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Acquire() did not return after cancellation")
	}

	rl.mu.Lock()
	depth := len(rl.queues[types.ClassWorkers])
	rl.mu.Unlock()
	if depth != 0 {
		t.Errorf("queue depth after cancel = %d, want 0", depth)
	}
}

// TestBackoff tests exponential growth with a cap and jitter bound
func TestBackoff(t *testing.T) {
	rl := NewRateLimiter(DefaultLimits())

	tests := []struct {
		class   types.APIClass
		attempt int
		min     time.Duration
		max     time.Duration
	}{
		{types.ClassWorkers, 0, 1 * time.Second, 2 * time.Second},
		{types.ClassWorkers, 2, 4 * time.Second, 5 * time.Second},
		{types.ClassD1, 1, 4 * time.Second, 5 * time.Second},
		// far past the cap
		{types.ClassWorkers, 30, 5 * time.Minute, 5*time.Minute + time.Second},
		{types.ClassGeneral, 20, 15 * time.Minute, 15*time.Minute + time.Second},
	}
	for _, tt := range tests {
		got := rl.Backoff(tt.class, tt.attempt)
		if got < tt.min || got > tt.max {
			t.Errorf("Backoff(%s, %d) = %v, want in [%v, %v]", tt.class, tt.attempt, got, tt.min, tt.max)
		}
	}
}

// TestUnknownClass tests acquisition against an unconfigured class
func TestUnknownClass(t *testing.T) {
	rl := NewRateLimiter(testLimits(1))
	err := rl.Acquire(context.Background(), types.APIClass("bogus"), types.PriorityNormalReq)
	var ucErr *UnknownClassError
	if !errors.As(err, &ucErr) {
		t.Errorf("Acquire(bogus) error = %v, want UnknownClassError", err)
	}
	if rl.TryAcquire(types.APIClass("bogus")) {
		t.Error("TryAcquire(bogus) = true, want false")
	}
}

// TestOnWaitCallback tests that queued requests fire the wait hook
func TestOnWaitCallback(t *testing.T) {
	rl := NewRateLimiter(testLimits(1))
	var waits int32
	rl.OnWait(func(class types.APIClass) {
		if class == types.ClassWorkers {
			atomic.AddInt32(&waits, 1)
		}
	})

	// exhaust the window, then pile two waiters into the queue
	if err := rl.Acquire(context.Background(), types.ClassWorkers, types.PriorityNormalReq); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = rl.Acquire(ctx, types.ClassWorkers, types.PriorityNormalReq)
		}()
	}
	wg.Wait()

	if atomic.LoadInt32(&waits) == 0 {
		t.Error("no wait callback fired for queued requests")
	}
}

// TestMinSpacing tests the inter-request spacing floor
func TestMinSpacing(t *testing.T) {
	limits := testLimits(100)
	limit := limits[types.ClassWorkers]
	limit.MinSpacing = 50 * time.Millisecond
	limits[types.ClassWorkers] = limit
	rl := NewRateLimiter(limits)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := rl.Acquire(ctx, types.ClassWorkers, types.PriorityNormalReq); err != nil {
			t.Fatalf("Acquire() %d error = %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("three dispatches took %v, want >= 100ms of spacing", elapsed)
	}
}
