package rate

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"testing/quick"
	"time"
)

// fakeClock 的 Sleep 直接推进时间。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Advance(d)
	return nil
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now = c.now.Add(d)
	}
}

func TestLimiterAdmitsUpToMax(t *testing.T) {
	clk := newFakeClock()
	l := NewLimiter(3, time.Minute, clk)
	start := clk.Now()

	for i := 0; i < 3; i++ {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatalf("Wait %d: %v", i, err)
		}
	}
	if !clk.Now().Equal(start) {
		t.Fatalf("first maxCalls waits should not sleep, clock moved %v", clk.Now().Sub(start))
	}

	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := clk.Now().Sub(start); got != time.Minute {
		t.Errorf("fourth call should wait a full period, waited %v", got)
	}
}

func TestLimiterWaitsForOldestOnly(t *testing.T) {
	clk := newFakeClock()
	l := NewLimiter(2, 10*time.Second, clk)
	start := clk.Now()

	_ = l.Wait(context.Background())
	clk.Advance(4 * time.Second)
	_ = l.Wait(context.Background())

	// 窗口满：等待最早的时间戳过期（10s - 4s = 6s）
	_ = l.Wait(context.Background())
	if got := clk.Now().Sub(start); got != 10*time.Second {
		t.Errorf("expected admission at +10s, got +%v", got)
	}
	if n := l.InWindow(); n != 2 {
		t.Errorf("expected 2 calls in window, got %d", n)
	}
}

// 任意调用序列下，任何长度为 period 的窗口内都不超过 maxCalls 次。
func TestLimiterSlidingWindowProperty(t *testing.T) {
	prop := func(maxCalls uint8, gaps []uint16) bool {
		limit := int(maxCalls%8) + 1
		period := 5 * time.Second
		clk := newFakeClock()
		l := NewLimiter(limit, period, clk)

		var admitted []time.Time
		for _, g := range gaps {
			clk.Advance(time.Duration(g%3000) * time.Millisecond)
			if err := l.Wait(context.Background()); err != nil {
				return false
			}
			admitted = append(admitted, clk.Now())
		}

		for i, ti := range admitted {
			count := 0
			for _, tj := range admitted[:i+1] {
				if ti.Sub(tj) < period {
					count++
				}
			}
			if count > limit {
				return false
			}
		}
		return true
	}

	cfg := &quick.Config{MaxCount: 200, Rand: rand.New(rand.NewSource(42))}
	if err := quick.Check(prop, cfg); err != nil {
		t.Error(err)
	}
}

func TestLimiterWaitCancel(t *testing.T) {
	l := NewLimiter(1, time.Hour, nil)
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if err := l.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestLimiterConcurrentRealClock(t *testing.T) {
	const (
		limit   = 3
		period  = 60 * time.Millisecond
		workers = 9
	)
	l := NewLimiter(limit, period, nil)

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Wait(context.Background()); err != nil {
				t.Errorf("Wait: %v", err)
			}
		}()
	}
	wg.Wait()

	// 9 次调用至少跨越两个完整窗口
	if elapsed := time.Since(start); elapsed < 2*period {
		t.Errorf("9 calls at 3/%v finished in %v", period, elapsed)
	}
}

func TestLimiterDisabled(t *testing.T) {
	l := NewLimiter(0, time.Hour, nil)
	for i := 0; i < 100; i++ {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatalf("disabled limiter should never block: %v", err)
		}
	}
}

func TestLimiterDo(t *testing.T) {
	l := NewLimiter(1, time.Hour, newFakeClock())
	called := false
	err := l.Do(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("Do: err=%v called=%v", err, called)
	}
}
