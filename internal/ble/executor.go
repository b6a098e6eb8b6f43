package ble

import (
	"context"
	"fmt"
	"sync"
)

// Executor runs submitted functions one at a time, in submission order.
type Executor interface {
	Submit(fn func())
}

// Inline runs each function synchronously on the caller's goroutine.
// It is meant for tests and single-goroutine drivers.
type Inline struct{}

// Submit runs fn immediately.
func (Inline) Submit(fn func()) { fn() }

// Loop is an Executor backed by a single goroutine and an unbounded FIFO.
// Submit never blocks, so driver goroutines can post events freely.
//
// Thread Safety:
//   - Submit and Close are safe from any goroutine, including from a
//     function the Loop is running.
//   - Submitted functions must not block. Anything that waits on the
//     network belongs on another goroutine, or it delays every radio event
//     queued behind it.
//   - A panicking function is logged and the Loop keeps running.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}

	logger Logger
}

// NewLoop creates a Loop. Call Run to start processing.
func NewLoop() *Loop {
	return &Loop{
		wake:   make(chan struct{}, 1),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger used to report recovered panics.
func (l *Loop) SetLogger(logger Logger) {
	l.logger = logger
}

// Submit queues fn. Functions submitted after Close are dropped.
func (l *Loop) Submit(fn func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run processes queued functions until ctx is cancelled or Close is called.
func (l *Loop) Run(ctx context.Context) {
	for {
		for {
			fn, ok := l.next()
			if !ok {
				break
			}
			l.runSafe(fn)
		}

		l.mu.Lock()
		closed := l.closed
		l.mu.Unlock()
		if closed {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}
	}
}

// Close stops accepting work. Run drains what is already queued and returns.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

func (l *Loop) runSafe(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("executor task panicked", "panic", fmt.Sprint(r))
		}
	}()
	fn()
}
