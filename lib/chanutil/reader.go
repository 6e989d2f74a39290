// Copyright (C) 2025 The Sleekd Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package chanutil implements channel consumption helpers.
package chanutil

import (
	"github.com/sleekd/sleekd/lib/sync"
)

// A Reader consumes a channel, invoking a handler per received item. The
// first handler error is kept and ends handling, but the reader drains the
// channel to completion so senders never block on a failed consumer.
type Reader[T any] struct {
	// OnError, when set before Start, is invoked once with the first
	// handler error.
	OnError func(error)

	name      string
	ch        <-chan T
	handler   func(T) error
	completed chan struct{}
	mut       sync.Mutex
	err       error
}

// NewReader returns a Reader for the given channel and handler. The name
// identifies the reader in debug logging.
func NewReader[T any](name string, ch <-chan T, handler func(T) error) *Reader[T] {
	return &Reader[T]{
		name:      name,
		ch:        ch,
		handler:   handler,
		completed: make(chan struct{}),
		mut:       sync.NewMutex(),
	}
}

// Start launches the consuming goroutine. It must be called exactly once.
func (r *Reader[T]) Start() {
	go r.run()
}

// Completed returns a channel that is closed once the input channel has
// closed and draining has finished.
func (r *Reader[T]) Completed() <-chan struct{} {
	return r.completed
}

// Err returns the first handler error, or nil. Definitive once Completed
// is closed.
func (r *Reader[T]) Err() error {
	r.mut.Lock()
	defer r.mut.Unlock()
	return r.err
}

func (r *Reader[T]) run() {
	defer close(r.completed)

	var failed bool
	for item := range r.ch {
		if failed {
			continue
		}
		if err := r.handler(item); err != nil {
			failed = true
			r.mut.Lock()
			r.err = err
			r.mut.Unlock()
			l.Debugf("%s: handler failed, draining: %v", r.name, err)
			if r.OnError != nil {
				r.OnError(err)
			}
		}
	}
	l.Debugf("%s: channel closed, done", r.name)
}
