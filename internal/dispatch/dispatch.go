// Package dispatch fans a batch out over a bounded worker pool and collects
// the results in input order.
package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"pdf-translator/internal/logger"
)

// DefaultWorkers is the pool size when Options.Workers is not positive.
const DefaultWorkers = 20

// Options configures Map.
type Options struct {
	Workers int
	// Name labels log entries, e.g. "page 3".
	Name string
	// OnProgress is called after each completion with the number done so
	// far. Calls are serialized.
	OnProgress func(done, total int)
}

// Result is the outcome for one input. Err is set when op failed or panicked;
// Value is then the zero value.
type Result[R any] struct {
	Value R
	Err   error
}

// OK reports whether the slot holds a value.
func (r Result[R]) OK() bool { return r.Err == nil }

// PanicError wraps a panic recovered from op.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("dispatch: panic: %v", e.Value) }

// Map runs op over every input with at most opts.Workers in flight.
// result[i] always corresponds to inputs[i]. A failing or panicking op only
// affects its own slot; it is logged and never aborts siblings. Inputs not yet
// started when ctx is cancelled get ctx.Err().
func Map[T, R any](ctx context.Context, opts Options, inputs []T, op func(ctx context.Context, i int, in T) (R, error)) []Result[R] {
	results := make([]Result[R], len(inputs))
	if len(inputs) == 0 {
		return results
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	sem := make(chan struct{}, workers)
	done := make(chan int, len(inputs))
	var wg sync.WaitGroup

	for i, in := range inputs {
		wg.Add(1)
		go func(idx int, in T) {
			defer wg.Done()
			defer func() { done <- idx }()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[idx] = Result[R]{Err: ctx.Err()}
				return
			}
			defer func() { <-sem }()

			results[idx] = runOne(ctx, idx, in, op)
		}(i, in)
	}

	// completions arrive out of order; each slot is written by exactly one goroutine
	for n := 1; n <= len(inputs); n++ {
		idx := <-done
		if err := results[idx].Err; err != nil {
			logger.Error("dispatch slot failed", err,
				logger.String("batch", opts.Name),
				logger.Int("index", idx))
		}
		if opts.OnProgress != nil {
			opts.OnProgress(n, len(inputs))
		}
	}
	wg.Wait()

	return results
}

func runOne[T, R any](ctx context.Context, idx int, in T, op func(context.Context, int, T) (R, error)) (res Result[R]) {
	defer func() {
		if r := recover(); r != nil {
			res = Result[R]{Err: &PanicError{Value: r, Stack: debug.Stack()}}
		}
	}()
	v, err := op(ctx, idx, in)
	if err != nil {
		return Result[R]{Err: err}
	}
	return Result[R]{Value: v}
}
