// Package uiloop provides a single-goroutine executor that stands in for a UI
// thread when relive runs without a terminal.
package uiloop

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
)

// PanicError is returned by Run when a posted function panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("uiloop: posted function panicked: %v", e.Value)
}

// Loop runs posted functions one at a time, in posting order, on the
// goroutine that called Run.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stopped bool
	done    chan struct{}
	once    sync.Once
}

// New returns a loop that is ready to accept work. Nothing runs until Run is
// called.
func New() *Loop {
	return &Loop{wake: make(chan struct{}, 1), done: make(chan struct{})}
}

// Post queues fn. It never blocks and reports false once the loop stopped.
func (l *Loop) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Do posts fn and waits until it ran. It returns false without waiting when
// the loop is stopped.
func (l *Loop) Do(fn func()) bool {
	ran := make(chan struct{})
	if !l.Post(func() {
		defer close(ran)
		fn()
	}) {
		return false
	}
	select {
	case <-ran:
		return true
	case <-l.done:
		return false
	}
}

// Run executes queued work until Stop is called or ctx is cancelled. Work
// queued before Stop is drained first. A panicking function stops the loop:
// the remaining work is dropped and Run returns a *PanicError.
func (l *Loop) Run(ctx context.Context) error {
	defer l.once.Do(func() { close(l.done) })
	for {
		for _, fn := range l.take() {
			if err := call(fn); err != nil {
				l.Stop()
				l.drop()
				return err
			}
		}
		l.mu.Lock()
		finished := l.stopped && len(l.queue) == 0
		l.mu.Unlock()
		if finished {
			return nil
		}
		select {
		case <-ctx.Done():
			l.Stop()
			l.drop()
			return nil
		case <-l.wake:
		}
	}
}

func call(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	fn()
	return nil
}

// Stop refuses further work and lets Run return after draining.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Done is closed once Run returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) take() []func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	batch := l.queue
	l.queue = nil
	return batch
}

func (l *Loop) drop() {
	l.mu.Lock()
	l.queue = nil
	l.mu.Unlock()
}
