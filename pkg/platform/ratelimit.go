package platform

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/clodo/orchestrate/pkg/log"
	"github.com/clodo/orchestrate/pkg/metrics"
	"github.com/clodo/orchestrate/pkg/types"
)

// ClassLimit holds the rate-limit budget for one API class
type ClassLimit struct {
	PerMinute  int
	PerHour    int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MinSpacing time.Duration
}

// DefaultLimits returns the per-class budgets for the upstream platform
func DefaultLimits() map[types.APIClass]ClassLimit {
	return map[types.APIClass]ClassLimit{
		types.ClassWorkers: {
			PerMinute:  100,
			PerHour:    1000,
			BaseDelay:  1 * time.Second,
			MaxDelay:   5 * time.Minute,
			MinSpacing: 100 * time.Millisecond,
		},
		types.ClassD1: {
			PerMinute:  50,
			PerHour:    1000,
			BaseDelay:  2 * time.Second,
			MaxDelay:   10 * time.Minute,
			MinSpacing: 100 * time.Millisecond,
		},
		types.ClassGeneral: {
			PerMinute:  30,
			PerHour:    500,
			BaseDelay:  3 * time.Second,
			MaxDelay:   15 * time.Minute,
			MinSpacing: 100 * time.Millisecond,
		},
	}
}

// counter tracks sliding per-minute and per-hour dispatch counts.
// Windows reset when their elapsed time passes; counts are process-local.
type counter struct {
	minuteStart  time.Time
	minuteCount  int
	hourStart    time.Time
	hourCount    int
	lastDispatch time.Time
}

func (c *counter) roll(now time.Time) {
	if now.Sub(c.minuteStart) >= time.Minute {
		c.minuteStart = now
		c.minuteCount = 0
	}
	if now.Sub(c.hourStart) >= time.Hour {
		c.hourStart = now
		c.hourCount = 0
	}
}

type waiter struct {
	priority types.Priority
	seq      uint64
	ready    chan struct{}
}

// RateLimiter enforces per-class quota windows with priority queueing.
// It is shared across all per-domain pipelines of a run; all state is
// mutated under a single mutex.
type RateLimiter struct {
	mu       sync.Mutex
	limits   map[types.APIClass]ClassLimit
	counters map[types.APIClass]*counter
	queues   map[types.APIClass][]*waiter
	seq      uint64
	now      func() time.Time
	onWait   func(types.APIClass)
}

// NewRateLimiter creates a limiter with the given per-class budgets.
// Pass DefaultLimits() for production use.
func NewRateLimiter(limits map[types.APIClass]ClassLimit) *RateLimiter {
	rl := &RateLimiter{
		limits:   limits,
		counters: make(map[types.APIClass]*counter),
		queues:   make(map[types.APIClass][]*waiter),
		now:      time.Now,
	}
	for class := range limits {
		rl.counters[class] = &counter{}
	}
	return rl
}

// Acquire blocks until a dispatch slot is available for class, honoring the
// per-minute and per-hour windows, the minimum inter-request spacing, and
// the priority order (high > normal > low, FIFO within a priority).
// The slot is counted at dispatch so the window bound holds regardless of
// when the reply arrives.
func (rl *RateLimiter) Acquire(ctx context.Context, class types.APIClass, priority types.Priority) error {
	rl.mu.Lock()
	if _, ok := rl.limits[class]; !ok {
		rl.mu.Unlock()
		return errUnknownClass(class)
	}

	rl.seq++
	w := &waiter{priority: priority, seq: rl.seq, ready: make(chan struct{})}
	rl.enqueue(class, w)
	queued := len(rl.queues[class]) > 1
	rl.mu.Unlock()

	if queued {
		metrics.RateLimitWaits.WithLabelValues(string(class)).Inc()
		logger := log.WithComponent("ratelimit")
		logger.Debug().
			Str("class", string(class)).
			Msg("request queued")
		if rl.onWait != nil {
			rl.onWait(class)
		}
	}

	rl.dispatch(class)

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		rl.remove(class, w)
		return ctx.Err()
	}
}

// OnWait registers a callback fired whenever a request has to queue
// behind another waiter. Set before the limiter is shared; it is read
// without the lock.
func (rl *RateLimiter) OnWait(fn func(types.APIClass)) {
	rl.onWait = fn
}

// TryAcquire reports whether a slot is immediately available without
// blocking or consuming one. Used by the assessment engine to annotate
// quota pressure.
func (rl *RateLimiter) TryAcquire(class types.APIClass) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	limit, ok := rl.limits[class]
	if !ok {
		return false
	}
	c := rl.counters[class]
	c.roll(rl.now())
	return c.minuteCount < limit.PerMinute && c.hourCount < limit.PerHour
}

// Backoff computes the retry delay after attempt consecutive quota errors:
// min(base * 2^attempt, maxDelay) plus up to one second of jitter.
func (rl *RateLimiter) Backoff(class types.APIClass, attempt int) time.Duration {
	limit := rl.limits[class]
	delay := limit.BaseDelay << uint(attempt)
	if delay > limit.MaxDelay || delay <= 0 {
		delay = limit.MaxDelay
	}
	return delay + time.Duration(rand.Int63n(int64(time.Second)))
}

// Counts returns the current (minute, hour) dispatch counts for class.
func (rl *RateLimiter) Counts(class types.APIClass) (int, int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	c, ok := rl.counters[class]
	if !ok {
		return 0, 0
	}
	c.roll(rl.now())
	return c.minuteCount, c.hourCount
}

func (rl *RateLimiter) enqueue(class types.APIClass, w *waiter) {
	q := rl.queues[class]
	// Insert before the first waiter with strictly lower priority;
	// equal priorities stay FIFO by sequence.
	pos := len(q)
	for i, existing := range q {
		if existing.priority < w.priority {
			pos = i
			break
		}
	}
	q = append(q, nil)
	copy(q[pos+1:], q[pos:])
	q[pos] = w
	rl.queues[class] = q
	metrics.RateLimitQueueDepth.WithLabelValues(string(class)).Set(float64(len(q)))
}

func (rl *RateLimiter) remove(class types.APIClass, w *waiter) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	q := rl.queues[class]
	for i, existing := range q {
		if existing == w {
			rl.queues[class] = append(q[:i], q[i+1:]...)
			break
		}
	}
	metrics.RateLimitQueueDepth.WithLabelValues(string(class)).Set(float64(len(rl.queues[class])))
}

// dispatch releases as many queued waiters as the window and spacing allow,
// then schedules itself for the next eligible instant.
func (rl *RateLimiter) dispatch(class types.APIClass) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limit := rl.limits[class]
	c := rl.counters[class]

	for len(rl.queues[class]) > 0 {
		now := rl.now()
		c.roll(now)

		if c.minuteCount >= limit.PerMinute || c.hourCount >= limit.PerHour {
			rl.scheduleKick(class, rl.nextWindowReset(c, limit, now).Sub(now))
			return
		}
		if wait := limit.MinSpacing - now.Sub(c.lastDispatch); wait > 0 {
			rl.scheduleKick(class, wait)
			return
		}

		w := rl.queues[class][0]
		rl.queues[class] = rl.queues[class][1:]
		metrics.RateLimitQueueDepth.WithLabelValues(string(class)).Set(float64(len(rl.queues[class])))

		if c.minuteCount == 0 {
			c.minuteStart = now
		}
		if c.hourCount == 0 {
			c.hourStart = now
		}
		c.minuteCount++
		c.hourCount++
		c.lastDispatch = now
		close(w.ready)
	}
}

func (rl *RateLimiter) nextWindowReset(c *counter, limit ClassLimit, now time.Time) time.Time {
	reset := c.minuteStart.Add(time.Minute)
	if c.hourCount >= limit.PerHour {
		hourReset := c.hourStart.Add(time.Hour)
		if hourReset.After(reset) {
			reset = hourReset
		}
	}
	if reset.Before(now) {
		return now
	}
	return reset
}

func (rl *RateLimiter) scheduleKick(class types.APIClass, after time.Duration) {
	if after <= 0 {
		after = time.Millisecond
	}
	time.AfterFunc(after, func() { rl.dispatch(class) })
}

func errUnknownClass(class types.APIClass) error {
	return &UnknownClassError{Class: class}
}

// UnknownClassError is returned for an API class with no configured budget
type UnknownClassError struct {
	Class types.APIClass
}

func (e *UnknownClassError) Error() string {
	return "unknown API class: " + string(e.Class)
}
