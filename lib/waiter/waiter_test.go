// Copyright (C) 2025 The Sleekd Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package waiter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestCompleteResolvesFIFO(t *testing.T) {
	w := New[int]()
	ctx := context.Background()
	key := NewKey("peer", "42")

	chans := make([]<-chan Result[int], 10)
	for i := range chans {
		chans[i] = w.WaitIndefinitely(ctx, key)
	}
	for i := range chans {
		if !w.Complete(key, i) {
			t.Fatalf("complete %d found no pending wait", i)
		}
	}
	for i, ch := range chans {
		res := <-ch
		if res.Err != nil {
			t.Fatalf("wait %d: %v", i, res.Err)
		}
		if res.Value != i {
			t.Errorf("wait %d resolved to %d", i, res.Value)
		}
	}
	if w.IsWaitingFor(key) {
		t.Error("key still has pending waits")
	}
}

func TestWaitTimeout(t *testing.T) {
	w := New[string]()
	key := NewKey("t")

	res := <-w.WaitFor(context.Background(), key, 10*time.Millisecond)
	if !errors.Is(res.Err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", res.Err)
	}
	if n := w.Waiting(key); n != 0 {
		t.Errorf("%d waits left after timeout", n)
	}
	if w.entries.Size() != 0 {
		t.Error("mapping not cleaned up after timeout")
	}
}

func TestWaitContextCancel(t *testing.T) {
	w := New[string]()
	key := NewKey("c")

	ctx, cancel := context.WithCancel(context.Background())
	ch := w.WaitIndefinitely(ctx, key)
	cancel()

	res := <-ch
	if !errors.Is(res.Err, ErrCancelled) {
		t.Errorf("err = %v, want ErrCancelled", res.Err)
	}
	if w.entries.Size() != 0 {
		t.Error("mapping not cleaned up after cancel")
	}
}

func TestWaitPreCancelledContext(t *testing.T) {
	w := New[string]()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The hook fires during registration; the wait must still resolve.
	res := <-w.WaitIndefinitely(ctx, NewKey("pre"))
	if !errors.Is(res.Err, ErrCancelled) {
		t.Errorf("err = %v, want ErrCancelled", res.Err)
	}
	if w.entries.Size() != 0 {
		t.Error("mapping not cleaned up")
	}
}

func TestThrowAndCancelAndExpire(t *testing.T) {
	w := New[int]()
	ctx := context.Background()
	key := NewKey("ops")

	errBoom := errors.New("boom")

	c1 := w.WaitIndefinitely(ctx, key)
	c2 := w.WaitIndefinitely(ctx, key)
	c3 := w.WaitIndefinitely(ctx, key)

	if !w.Throw(key, errBoom) {
		t.Fatal("throw found no wait")
	}
	if !w.Cancel(key) {
		t.Fatal("cancel found no wait")
	}
	if !w.Expire(key) {
		t.Fatal("expire found no wait")
	}

	if res := <-c1; !errors.Is(res.Err, errBoom) {
		t.Errorf("first wait: %v", res.Err)
	}
	if res := <-c2; !errors.Is(res.Err, ErrCancelled) {
		t.Errorf("second wait: %v", res.Err)
	}
	if res := <-c3; !errors.Is(res.Err, ErrTimeout) {
		t.Errorf("third wait: %v", res.Err)
	}
	if w.entries.Size() != 0 {
		t.Error("mapping not cleaned up")
	}
}

func TestDispositionWithoutWaiters(t *testing.T) {
	w := New[int]()
	key := NewKey("nobody")

	if w.Complete(key, 1) || w.Throw(key, errors.New("x")) || w.Cancel(key) || w.Expire(key) {
		t.Error("disposition succeeded with no pending waits")
	}
}

func TestTimeoutDoesNotStealCompletion(t *testing.T) {
	w := New[int]()
	key := NewKey("race")

	ch := w.WaitFor(context.Background(), key, 50*time.Millisecond)
	if !w.Complete(key, 7) {
		t.Fatal("complete found no wait")
	}
	res := <-ch
	if res.Err != nil || res.Value != 7 {
		t.Errorf("got (%d, %v), want (7, nil)", res.Value, res.Err)
	}

	// Give a stale timer a chance to misbehave.
	time.Sleep(80 * time.Millisecond)
}

func TestCancelAll(t *testing.T) {
	w := New[int]()
	ctx := context.Background()

	var chans []<-chan Result[int]
	for _, key := range []Key{NewKey("a"), NewKey("b"), NewKey("c")} {
		chans = append(chans, w.WaitIndefinitely(ctx, key), w.WaitIndefinitely(ctx, key))
	}

	w.CancelAll()
	for i, ch := range chans {
		if res := <-ch; !errors.Is(res.Err, ErrCancelled) {
			t.Errorf("wait %d: %v", i, res.Err)
		}
	}
	if w.entries.Size() != 0 {
		t.Error("mappings not cleaned up")
	}
}

func TestCloseRejectsNewWaits(t *testing.T) {
	w := New[int]()
	ctx := context.Background()
	key := NewKey("closing")

	pending := w.WaitIndefinitely(ctx, key)
	w.Close()

	if res := <-pending; !errors.Is(res.Err, ErrCancelled) {
		t.Errorf("pending wait: %v", res.Err)
	}
	if res := <-w.WaitIndefinitely(ctx, key); !errors.Is(res.Err, ErrClosed) {
		t.Errorf("new wait: %v", res.Err)
	}
}

func TestConcurrentWaitsConserveValues(t *testing.T) {
	const n = 100
	w := New[int]()
	ctx := context.Background()
	key := NewKey("many")

	results := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := <-w.WaitFor(ctx, key, 10*time.Second)
			if res.Err != nil {
				t.Errorf("wait: %v", res.Err)
				return
			}
			results <- res.Value
		}()
	}

	for w.Waiting(key) < n {
		time.Sleep(time.Millisecond)
	}
	for i := 0; i < n; i++ {
		if !w.Complete(key, i) {
			t.Fatalf("complete %d found no wait", i)
		}
	}
	wg.Wait()
	close(results)

	seen := make(map[int]bool, n)
	for v := range results {
		if seen[v] {
			t.Errorf("value %d delivered twice", v)
		}
		seen[v] = true
	}
	if len(seen) != n {
		t.Errorf("got %d distinct values, want %d", len(seen), n)
	}
	if w.entries.Size() != 0 {
		t.Error("mapping not cleaned up")
	}
}

func TestKeyComposition(t *testing.T) {
	if k := NewKey("transfer", "bob", "file.mp3"); k != "transfer:bob:file.mp3" {
		t.Errorf("unexpected key %q", k)
	}
	if k := NewKey("single"); k != "single" {
		t.Errorf("unexpected key %q", k)
	}
}
