// Copyright (C) 2025 The Sleekd Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package waiter matches asynchronous responses to pending requests by key.
//
// A consumer enqueues a wait for a key and receives exactly one result on
// the returned channel: a value, an error, a timeout, or a cancellation.
// A producer satisfies the oldest pending wait for the key. Waits for the
// same key resolve in the order they were enqueued.
package waiter

import (
	"context"
	"errors"
	"strings"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

var (
	ErrTimeout   = errors.New("wait timed out")
	ErrCancelled = errors.New("wait cancelled")
	ErrClosed    = errors.New("waiter closed")
)

// DefaultTimeout applies to waits enqueued with Wait.
const DefaultTimeout = 5000 * time.Millisecond

// A Key identifies a rendezvous. Composite keys join their components with
// a colon; equality is plain string equality.
type Key string

func NewKey(parts ...string) Key {
	return Key(strings.Join(parts, ":"))
}

// Result is the single outcome of a wait.
type Result[T any] struct {
	Value T
	Err   error
}

type pending[T any] struct {
	ch chan Result[T]

	mut     stdsync.Mutex
	done    bool
	timer   *time.Timer
	stopCtx func() bool
}

// finalize delivers the result unless the wait is already finalized. The
// first caller wins; hooks are disarmed before delivery.
func (p *pending[T]) finalize(res Result[T]) bool {
	p.mut.Lock()
	if p.done {
		p.mut.Unlock()
		return false
	}
	p.done = true
	timer, stop := p.timer, p.stopCtx
	p.mut.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if stop != nil {
		stop()
	}
	p.ch <- res
	return true
}

// arm attaches the timeout and cancellation hooks, or disarms them right
// away if the wait was finalized before they were registered.
func (p *pending[T]) arm(timer *time.Timer, stop func() bool) {
	p.mut.Lock()
	if p.done {
		p.mut.Unlock()
		if timer != nil {
			timer.Stop()
		}
		if stop != nil {
			stop()
		}
		return
	}
	p.timer, p.stopCtx = timer, stop
	p.mut.Unlock()
}

// entry is the pending queue for one key. Once removed is set the entry is
// detached from the map and must not be reused; enqueuers retry and get a
// fresh one.
type entry[T any] struct {
	mut     stdsync.Mutex
	waits   []*pending[T]
	removed bool
}

// A Waiter hands results from producers to keyed, FIFO-ordered consumers.
//
// The zero value is not usable; call New.
type Waiter[T any] struct {
	entries *xsync.MapOf[Key, *entry[T]]
	closed  atomic.Bool
}

func New[T any]() *Waiter[T] {
	return &Waiter[T]{
		entries: xsync.NewMapOf[Key, *entry[T]](),
	}
}

// Wait enqueues a wait with the default timeout.
func (w *Waiter[T]) Wait(ctx context.Context, key Key) <-chan Result[T] {
	return w.enqueue(ctx, key, DefaultTimeout)
}

// WaitFor enqueues a wait with an explicit timeout. A non-positive timeout
// means no timeout.
func (w *Waiter[T]) WaitFor(ctx context.Context, key Key, timeout time.Duration) <-chan Result[T] {
	return w.enqueue(ctx, key, timeout)
}

// WaitIndefinitely enqueues a wait without a timeout. It resolves on
// Complete, Throw, Cancel, Expire, context cancellation or Close.
func (w *Waiter[T]) WaitIndefinitely(ctx context.Context, key Key) <-chan Result[T] {
	return w.enqueue(ctx, key, 0)
}

func (w *Waiter[T]) enqueue(ctx context.Context, key Key, timeout time.Duration) <-chan Result[T] {
	p := &pending[T]{ch: make(chan Result[T], 1)}
	if w.closed.Load() {
		p.ch <- Result[T]{Err: ErrClosed}
		return p.ch
	}

	for {
		e, _ := w.entries.LoadOrStore(key, &entry[T]{})
		e.mut.Lock()
		if e.removed {
			e.mut.Unlock()
			continue
		}
		e.waits = append(e.waits, p)
		e.mut.Unlock()
		break
	}
	l.Debugf("enqueued wait for %s (timeout %v)", key, timeout)

	// Hooks are registered only after the wait is queued, so a hook that
	// fires instantly still finds the wait it is meant to kill.
	var timer *time.Timer
	if timeout > 0 {
		timer = time.AfterFunc(timeout, func() {
			if w.remove(key, p) && p.finalize(Result[T]{Err: ErrTimeout}) {
				l.Debugf("wait for %s timed out after %v", key, timeout)
			}
		})
	}
	var stop func() bool
	if ctx.Done() != nil {
		stop = context.AfterFunc(ctx, func() {
			if w.remove(key, p) {
				p.finalize(Result[T]{Err: ErrCancelled})
			}
		})
	}
	p.arm(timer, stop)

	// Close might have swept the map before the wait was queued.
	if w.closed.Load() && w.remove(key, p) {
		p.finalize(Result[T]{Err: ErrClosed})
	}
	return p.ch
}

// Complete resolves the oldest pending wait for the key with a value. It
// reports whether a wait was resolved.
func (w *Waiter[T]) Complete(key Key, value T) bool {
	return w.dispose(key, Result[T]{Value: value})
}

// Throw resolves the oldest pending wait for the key with an error.
func (w *Waiter[T]) Throw(key Key, err error) bool {
	return w.dispose(key, Result[T]{Err: err})
}

// Cancel resolves the oldest pending wait for the key with ErrCancelled.
func (w *Waiter[T]) Cancel(key Key) bool {
	return w.dispose(key, Result[T]{Err: ErrCancelled})
}

// Expire resolves the oldest pending wait for the key with ErrTimeout.
func (w *Waiter[T]) Expire(key Key) bool {
	return w.dispose(key, Result[T]{Err: ErrTimeout})
}

func (w *Waiter[T]) dispose(key Key, res Result[T]) bool {
	for {
		e, ok := w.entries.Load(key)
		if !ok {
			return false
		}
		e.mut.Lock()
		if e.removed {
			e.mut.Unlock()
			continue
		}
		resolved := false
		for len(e.waits) > 0 && !resolved {
			p := e.waits[0]
			e.waits = e.waits[1:]
			resolved = p.finalize(res)
		}
		if len(e.waits) == 0 {
			e.removed = true
			w.entries.Delete(key)
		}
		e.mut.Unlock()
		return resolved
	}
}

// remove takes a specific wait out of its queue, reporting whether it was
// still queued. The mapping goes away with the last wait.
func (w *Waiter[T]) remove(key Key, p *pending[T]) bool {
	e, ok := w.entries.Load(key)
	if !ok {
		return false
	}
	e.mut.Lock()
	defer e.mut.Unlock()
	for i, q := range e.waits {
		if q == p {
			e.waits = append(e.waits[:i], e.waits[i+1:]...)
			if len(e.waits) == 0 && !e.removed {
				e.removed = true
				w.entries.Delete(key)
			}
			return true
		}
	}
	return false
}

// CancelAll resolves every pending wait with ErrCancelled.
func (w *Waiter[T]) CancelAll() {
	w.entries.Range(func(key Key, e *entry[T]) bool {
		e.mut.Lock()
		waits := e.waits
		e.waits = nil
		if !e.removed {
			e.removed = true
			w.entries.Delete(key)
		}
		e.mut.Unlock()
		for _, p := range waits {
			p.finalize(Result[T]{Err: ErrCancelled})
		}
		return true
	})
}

// IsWaitingFor reports whether at least one wait is pending for the key.
func (w *Waiter[T]) IsWaitingFor(key Key) bool {
	return w.Waiting(key) > 0
}

// Waiting returns the number of pending waits for the key.
func (w *Waiter[T]) Waiting(key Key) int {
	e, ok := w.entries.Load(key)
	if !ok {
		return 0
	}
	e.mut.Lock()
	defer e.mut.Unlock()
	return len(e.waits)
}

// Close cancels all pending waits. Waits enqueued afterwards resolve
// immediately with ErrClosed.
func (w *Waiter[T]) Close() {
	if !w.closed.CompareAndSwap(false, true) {
		return
	}
	w.CancelAll()
}
