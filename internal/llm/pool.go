package llm

import (
	"context"
	"net/http"
	"time"
)

// ClientPool hands out at most size *http.Client handles at a time. Clients
// are created lazily and reused after Release.
type ClientPool struct {
	slots   chan struct{}
	idle    chan *http.Client
	timeout time.Duration
}

// NewClientPool creates a pool of size clients with the given request timeout.
func NewClientPool(size int, timeout time.Duration) *ClientPool {
	if size < 1 {
		size = 1
	}
	return &ClientPool{
		slots:   make(chan struct{}, size),
		idle:    make(chan *http.Client, size),
		timeout: timeout,
	}
}

// Acquire blocks until a client is free or ctx is done.
func (p *ClientPool) Acquire(ctx context.Context) (*http.Client, error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case c := <-p.idle:
		return c, nil
	default:
		return &http.Client{Timeout: p.timeout}, nil
	}
}

// Release returns c to the pool.
func (p *ClientPool) Release(c *http.Client) {
	select {
	case p.idle <- c:
	default:
	}
	<-p.slots
}

// Size returns the pool capacity.
func (p *ClientPool) Size() int { return cap(p.slots) }
