package app

import (
	"context"
	"sync"

	"ilview/internal/engine/resolver"
)

// Chooser answers an interactive resolution request on the foreground
// goroutine.
type Chooser interface {
	Choose(ctx context.Context, req resolver.Request) resolver.Response
}

type ChooserFunc func(ctx context.Context, req resolver.Request) resolver.Response

func (f ChooserFunc) Choose(ctx context.Context, req resolver.Request) resolver.Response {
	return f(ctx, req)
}

// dispatcher queues work for the foreground goroutine. Post never blocks, so
// the worker can publish while nobody is draining.
type dispatcher struct {
	mu      sync.Mutex
	pending []func()
	ready   chan struct{}
}

func newDispatcher() *dispatcher {
	return &dispatcher{ready: make(chan struct{}, 1)}
}

func (d *dispatcher) Post(fn func()) {
	d.mu.Lock()
	d.pending = append(d.pending, fn)
	d.mu.Unlock()
	select {
	case d.ready <- struct{}{}:
	default:
	}
}

func (d *dispatcher) Ready() <-chan struct{} { return d.ready }

// Drain runs everything posted so far in order and returns how many ran.
func (d *dispatcher) Drain() int {
	d.mu.Lock()
	batch := d.pending
	d.pending = nil
	d.mu.Unlock()
	for _, fn := range batch {
		fn()
	}
	return len(batch)
}
