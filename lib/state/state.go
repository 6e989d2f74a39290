// Copyright (C) 2025 The Sleekd Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package state implements an observable value with change callbacks.
package state

import (
	"github.com/sleekd/sleekd/lib/sliceutil"
	"github.com/sleekd/sleekd/lib/sync"
)

// A Monitor holds a value of type T and notifies registered listeners
// whenever the value is replaced. Reads, writes and notifications are
// serialized by the monitor's lock: a listener always sees transitions in
// the order they happened, and no Set proceeds until the previous one's
// listeners have returned. Listeners must not call back into the monitor.
type Monitor[T any] struct {
	mut       sync.Mutex
	val       T
	clone     func(T) T
	listeners []listener[T]
	nextID    int
}

type listener[T any] struct {
	id int
	fn func(prev, cur T)
}

// An Option modifies the behavior of a Monitor.
type Option[T any] func(*Monitor[T])

// WithClone supplies a deep copy function, used to detach the values handed
// to Value() and to listeners from the monitor's own copy. Without it values
// are copied by assignment, which is correct for flat value types.
func WithClone[T any](fn func(T) T) Option[T] {
	return func(m *Monitor[T]) {
		m.clone = fn
	}
}

func NewMonitor[T any](initial T, opts ...Option[T]) *Monitor[T] {
	m := &Monitor[T]{
		mut: sync.NewMutex(),
		val: initial,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Value returns the current value.
func (m *Monitor[T]) Value() T {
	m.mut.Lock()
	defer m.mut.Unlock()
	return m.copyOf(m.val)
}

// Set applies fn to the current value and stores the result, notifying all
// listeners with the previous and new values before returning them.
func (m *Monitor[T]) Set(fn func(T) T) (prev, cur T) {
	m.mut.Lock()
	defer m.mut.Unlock()

	prev = m.copyOf(m.val)
	m.val = fn(m.copyOf(m.val))
	cur = m.copyOf(m.val)

	for _, li := range m.listeners {
		li.fn(m.copyOf(prev), m.copyOf(cur))
	}
	return prev, cur
}

// OnChange registers a listener and returns a function that removes it
// again. Listeners are called in registration order.
func (m *Monitor[T]) OnChange(fn func(prev, cur T)) (remove func()) {
	m.mut.Lock()
	defer m.mut.Unlock()

	id := m.nextID
	m.nextID++
	m.listeners = append(m.listeners, listener[T]{id: id, fn: fn})

	return func() {
		m.mut.Lock()
		defer m.mut.Unlock()
		for i, li := range m.listeners {
			if li.id == id {
				m.listeners = sliceutil.RemoveAndZero(m.listeners, i)
				break
			}
		}
	}
}

func (m *Monitor[T]) copyOf(v T) T {
	if m.clone != nil {
		return m.clone(v)
	}
	return v
}
