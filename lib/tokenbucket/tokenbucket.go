// Copyright (C) 2025 The Sleekd Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package tokenbucket implements a fixed-window token bucket. The bucket
// refills to capacity on a timer rather than continuously; callers starved
// of tokens wait for the next reset in arrival order.
package tokenbucket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrClosed = errors.New("token bucket closed")

type Bucket struct {
	interval time.Duration

	// gate serializes starved getters so tokens hand out in arrival
	// order across resets.
	gate chan struct{}

	mut          sync.Mutex
	capacity     int64
	nextCapacity int64
	available    int64
	refilled     chan struct{}
	closed       bool

	stop chan struct{}
}

// New returns a running bucket holding capacity tokens, refilled to
// capacity every interval.
func New(capacity int, interval time.Duration) (*Bucket, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("capacity must be at least 1, got %d", capacity)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %v", interval)
	}
	b := &Bucket{
		interval:     interval,
		gate:         make(chan struct{}, 1),
		capacity:     int64(capacity),
		nextCapacity: int64(capacity),
		available:    int64(capacity),
		refilled:     make(chan struct{}),
		stop:         make(chan struct{}),
	}
	go b.run()
	return b, nil
}

// Get takes up to count tokens, returning how many were granted: the lesser
// of count and what the bucket holds. When the bucket is empty it waits for
// the next reset. Get never grants zero tokens except on error.
func (b *Bucket) Get(ctx context.Context, count int) (int, error) {
	if count <= 0 {
		return 0, nil
	}

	select {
	case b.gate <- struct{}{}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	defer func() { <-b.gate }()

	for {
		b.mut.Lock()
		if b.closed {
			b.mut.Unlock()
			return 0, ErrClosed
		}
		if b.available > 0 {
			n := min(int64(count), b.available)
			b.available -= n
			b.mut.Unlock()
			return int(n), nil
		}
		refilled := b.refilled
		b.mut.Unlock()

		select {
		case <-refilled:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// Return gives tokens back, capped at the capacity. Within one interval
// this allows getting up to twice the capacity when earlier tokens went
// unused.
func (b *Bucket) Return(count int) {
	if count <= 0 {
		return
	}
	b.mut.Lock()
	defer b.mut.Unlock()
	if b.closed {
		return
	}
	b.available = min(b.capacity, b.available+int64(count))
}

// SetCapacity changes the capacity, taking effect at the next reset.
func (b *Bucket) SetCapacity(capacity int) error {
	if capacity < 1 {
		return fmt.Errorf("capacity must be at least 1, got %d", capacity)
	}
	b.mut.Lock()
	defer b.mut.Unlock()
	b.nextCapacity = int64(capacity)
	return nil
}

// Close stops the refill timer and releases waiting getters with ErrClosed.
func (b *Bucket) Close() {
	b.mut.Lock()
	defer b.mut.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.stop)
	close(b.refilled)
}

func (b *Bucket) run() {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.mut.Lock()
			if b.closed {
				b.mut.Unlock()
				return
			}
			b.capacity = b.nextCapacity
			b.available = b.capacity
			refilled := b.refilled
			b.refilled = make(chan struct{})
			close(refilled)
			b.mut.Unlock()
		case <-b.stop:
			return
		}
	}
}
