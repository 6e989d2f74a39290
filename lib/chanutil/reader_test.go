// Copyright (C) 2025 The Sleekd Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package chanutil

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestReaderProcessesAll(t *testing.T) {
	ch := make(chan int)
	var sum int
	r := NewReader("test", ch, func(v int) error {
		sum += v
		return nil
	})
	r.Start()

	want := 0
	for v := 1; v <= 100; v++ {
		ch <- v
		want += v
	}
	close(ch)

	<-r.Completed()
	if sum != want {
		t.Errorf("sum = %d, want %d", sum, want)
	}
	if err := r.Err(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestReaderDrainsAfterError(t *testing.T) {
	errStop := errors.New("stop")
	ch := make(chan int)
	var handled int
	r := NewReader("test", ch, func(v int) error {
		handled++
		if v == 3 {
			return errStop
		}
		return nil
	})
	r.Start()

	// The channel is unbuffered, so these sends only complete if the
	// reader keeps draining past the error.
	for v := 1; v <= 100; v++ {
		ch <- v
	}
	close(ch)

	<-r.Completed()
	if handled != 3 {
		t.Errorf("handler ran %d times, want 3", handled)
	}
	if err := r.Err(); !errors.Is(err, errStop) {
		t.Errorf("Err() = %v, want %v", err, errStop)
	}
}

func TestReaderOnErrorFiresOnce(t *testing.T) {
	ch := make(chan int)
	var hooks int
	r := NewReader("test", ch, func(v int) error {
		return errors.New("always")
	})
	r.OnError = func(error) { hooks++ }
	r.Start()

	for v := 1; v <= 10; v++ {
		ch <- v
	}
	close(ch)

	<-r.Completed()
	if hooks != 1 {
		t.Errorf("OnError ran %d times, want 1", hooks)
	}
}

func TestReaderCompletesOnEmptyClose(t *testing.T) {
	ch := make(chan string)
	r := NewReader("test", ch, func(string) error { return nil })
	r.Start()
	close(ch)

	select {
	case <-r.Completed():
	case <-time.After(time.Second):
		t.Fatal("reader did not complete")
	}
	if err := r.Err(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
