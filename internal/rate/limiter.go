// Package rate bounds the rate of outbound backend calls with a sliding-window log.
package rate

import (
	"context"
	"sync"
	"time"
)

// Clock 抽象时间源，测试中可替换为假时钟。
type Clock interface {
	Now() time.Time
	// Sleep 阻塞 d 或直到 ctx 取消。
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Limiter 滑动窗口限流：任意长度为 period 的窗口内最多放行 maxCalls 次。
// 并发安全；等待期间不持有锁，其它 worker 仍可检查窗口。
type Limiter struct {
	mu       sync.Mutex
	calls    []time.Time // 按时间升序
	maxCalls int
	period   time.Duration
	clk      Clock
}

// NewLimiter 构造限流器；clk 为空则使用真实时钟。maxCalls <= 0 表示不限流。
func NewLimiter(maxCalls int, period time.Duration, clk Clock) *Limiter {
	if clk == nil {
		clk = realClock{}
	}
	return &Limiter{
		maxCalls: maxCalls,
		period:   period,
		clk:      clk,
		calls:    make([]time.Time, 0, max(maxCalls, 0)),
	}
}

// Wait 阻塞直到窗口有空位并登记本次调用，或 ctx 取消。
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.maxCalls <= 0 {
		return ctx.Err()
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.mu.Lock()
		now := l.clk.Now()
		l.prune(now)
		if len(l.calls) < l.maxCalls {
			l.calls = append(l.calls, now)
			l.mu.Unlock()
			return nil
		}
		wait := l.period - now.Sub(l.calls[0])
		l.mu.Unlock()

		// 醒来后重新检查：同一空位可能已被其它 worker 占用
		if err := l.clk.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Do 在获得放行后执行 fn。
func (l *Limiter) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := l.Wait(ctx); err != nil {
		return err
	}
	return fn(ctx)
}

// InWindow 返回当前窗口内已登记的调用数（诊断用）。
func (l *Limiter) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.clk.Now())
	return len(l.calls)
}

// prune 丢弃 now-period 及更早的时间戳。调用方需持有锁。
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.period)
	i := 0
	for i < len(l.calls) && !l.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.calls = append(l.calls[:0], l.calls[i:]...)
	}
}
