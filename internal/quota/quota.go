// Package quota enforces a process-wide daily ceiling on backend calls.
//
// Every call increments a shared counter before any network I/O; once the
// counter passes the configured limit the call is refused. Counters live in
// memory by default or in Redis when several processes share one API account.
package quota

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrQuotaExceeded is returned once the daily ceiling has been passed.
var ErrQuotaExceeded = errors.New("quota: daily call limit exceeded")

// Counter is a monotonically increasing call counter.
type Counter interface {
	// Increment atomically adds one and returns the new value.
	Increment(ctx context.Context) (int64, error)
	// Current returns the value without incrementing.
	Current(ctx context.Context) (int64, error)
}

// DailyQuota refuses calls once the counter exceeds Limit.
// A zero Limit disables the ceiling.
type DailyQuota struct {
	counter Counter
	limit   int64
}

// NewDailyQuota wraps counter with a ceiling of limit calls.
func NewDailyQuota(counter Counter, limit int64) *DailyQuota {
	return &DailyQuota{counter: counter, limit: limit}
}

// Allow records one call attempt. It returns ErrQuotaExceeded when the new
// count is above the limit; the attempt still counts, so every later call
// keeps failing until the counter resets.
func (q *DailyQuota) Allow(ctx context.Context) error {
	if q == nil || q.limit <= 0 {
		return nil
	}
	n, err := q.counter.Increment(ctx)
	if err != nil {
		return err
	}
	if n > q.limit {
		return ErrQuotaExceeded
	}
	return nil
}

// Used returns the current count.
func (q *DailyQuota) Used(ctx context.Context) (int64, error) {
	if q == nil {
		return 0, nil
	}
	return q.counter.Current(ctx)
}

// Limit returns the configured ceiling.
func (q *DailyQuota) Limit() int64 {
	if q == nil {
		return 0
	}
	return q.limit
}

// MemoryCounter is an in-process Counter. With daily reset enabled the count
// drops to zero at the first increment after UTC midnight; otherwise it lives
// for the whole process.
type MemoryCounter struct {
	mu         sync.Mutex
	count      int64
	dailyReset bool
	resetAt    time.Time
	now        func() time.Time
}

var _ Counter = (*MemoryCounter)(nil)

// NewMemoryCounter creates an in-memory counter.
func NewMemoryCounter(dailyReset bool) *MemoryCounter {
	return newMemoryCounter(dailyReset, time.Now)
}

func newMemoryCounter(dailyReset bool, now func() time.Time) *MemoryCounter {
	return &MemoryCounter{
		dailyReset: dailyReset,
		now:        now,
		resetAt:    nextMidnightUTC(now().UTC()),
	}
}

// Increment adds one to the counter.
func (c *MemoryCounter) Increment(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maybeReset()
	c.count++
	return c.count, nil
}

// Current returns the counter value.
func (c *MemoryCounter) Current(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maybeReset()
	return c.count, nil
}

func (c *MemoryCounter) maybeReset() {
	if !c.dailyReset {
		return
	}
	now := c.now().UTC()
	if !now.Before(c.resetAt) {
		c.count = 0
		c.resetAt = nextMidnightUTC(now)
	}
}

func nextMidnightUTC(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
}
