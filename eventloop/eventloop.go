// Package eventloop provides the normal-context executor that runs deferred
// completion handlers for the go-chardev driver.
//
// The loop drains posted handlers one at a time on a single goroutine; that
// goroutine is the driver's "normal context". Handlers are posted either
// from normal context (Post) or from interrupt context (PostFromISR). Both
// paths are non-blocking and report whether the handler was accepted; the
// driver treats a rejected post as a fatal provisioning error, so size the
// loop for the maximum number of in-flight completions.
package eventloop

import (
	"context"
	"sync"
)

// Loop is a fixed-capacity deferred-invocation executor.
type Loop struct {
	work chan func()

	quitOnce sync.Once
	quit     chan struct{}
}

// New returns a loop that can hold up to capacity pending handlers.
func New(capacity int) *Loop {
	if capacity <= 0 {
		panic("eventloop: capacity must be positive")
	}
	return &Loop{
		work: make(chan func(), capacity),
		quit: make(chan struct{}),
	}
}

// Post submits a handler from normal context. It never blocks and returns
// false if the loop is full.
func (l *Loop) Post(fn func()) bool {
	return l.enqueue(fn)
}

// PostFromISR submits a handler from interrupt context. It never blocks and
// returns false if the loop is full.
func (l *Loop) PostFromISR(fn func()) bool {
	return l.enqueue(fn)
}

func (l *Loop) enqueue(fn func()) bool {
	if fn == nil {
		panic("eventloop: post of nil handler")
	}
	select {
	case l.work <- fn:
		return true
	default:
		return false
	}
}

// Pending returns the number of handlers waiting to run.
func (l *Loop) Pending() int { return len(l.work) }

// Run invokes posted handlers one at a time until the context is done or
// Stop is called. It is the caller's normal-context goroutine; nothing else
// in the driver invokes completion handlers.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case fn := <-l.work:
			fn()
		case <-ctx.Done():
			return
		case <-l.quit:
			return
		}
	}
}

// RunOnce drains and runs all handlers currently queued, then returns the
// number it ran. Useful for deterministic stepping in tests and in
// superloop-style applications without a dedicated goroutine.
func (l *Loop) RunOnce() int {
	ran := 0
	for {
		select {
		case fn := <-l.work:
			fn()
			ran++
		default:
			return ran
		}
	}
}

// Stop makes Run return. Handlers still queued are not invoked. Safe to
// call more than once.
func (l *Loop) Stop() {
	l.quitOnce.Do(func() { close(l.quit) })
}
