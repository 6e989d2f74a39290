// Copyright (C) 2025 The Sleekd Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package sync

import (
	"strings"
	stdsync "sync"
	"testing"
	"time"

	"github.com/sleekd/sleekd/lib/logger"
)

const (
	logThreshold = 100 * time.Millisecond
	shortWait    = 5 * time.Millisecond
	longWait     = 125 * time.Millisecond
)

var skipTimingTests = false

func init() {
	// Check a few times that a short sleep does not in fact overrun the log
	// threshold. If it does, the timer accuracy is crap or the host is
	// overloaded and we can't reliably run the tests in here. In the normal
	// case this takes just 25*5 = 125 ms.
	for i := 0; i < 25; i++ {
		t0 := time.Now()
		time.Sleep(shortWait)
		if time.Since(t0) > logThreshold {
			skipTimingTests = true
			return
		}
	}
}

// withDebug enables lock logging for the duration of the test and collects
// the debug messages it produces.
func withDebug(t *testing.T) func() []string {
	t.Helper()
	if skipTimingTests {
		t.Skip("insufficient timer accuracy")
	}

	debug = true
	l.SetDebug("sync", true)
	threshold = logThreshold
	t.Cleanup(func() {
		debug = false
		l.SetDebug("sync", false)
	})

	var mut stdsync.Mutex
	var messages []string
	l.AddHandler(logger.LevelDebug, func(_ logger.LogLevel, message string) {
		mut.Lock()
		messages = append(messages, message)
		mut.Unlock()
	})
	return func() []string {
		mut.Lock()
		defer mut.Unlock()
		return append([]string(nil), messages...)
	}
}

func TestTypes(t *testing.T) {
	debug = false
	l.SetDebug("sync", false)

	if _, ok := NewMutex().(*stdsync.Mutex); !ok {
		t.Error("expected a plain mutex without debugging")
	}
	if _, ok := NewRWMutex().(*stdsync.RWMutex); !ok {
		t.Error("expected a plain rwmutex without debugging")
	}
	if _, ok := NewWaitGroup().(*stdsync.WaitGroup); !ok {
		t.Error("expected a plain waitgroup without debugging")
	}

	debug = true
	l.SetDebug("sync", true)
	defer func() {
		debug = false
		l.SetDebug("sync", false)
	}()

	if _, ok := NewMutex().(*loggedMutex); !ok {
		t.Error("expected a logged mutex with debugging")
	}
	if _, ok := NewRWMutex().(*loggedRWMutex); !ok {
		t.Error("expected a logged rwmutex with debugging")
	}
	if _, ok := NewWaitGroup().(*loggedWaitGroup); !ok {
		t.Error("expected a logged waitgroup with debugging")
	}
}

func TestMutexLogsLongHolds(t *testing.T) {
	logged := withDebug(t)

	mut := NewMutex()
	mut.Lock()
	time.Sleep(shortWait)
	mut.Unlock()

	if n := len(logged()); n > 0 {
		t.Errorf("got %d messages for a short hold, expected none", n)
	}

	mut.Lock()
	time.Sleep(longWait)
	mut.Unlock()

	if n := len(logged()); n != 1 {
		t.Errorf("got %d messages for a long hold, expected 1", n)
	}
}

func TestRWMutexLogsLongHolds(t *testing.T) {
	logged := withDebug(t)

	mut := NewRWMutex()
	mut.Lock()
	time.Sleep(shortWait)
	mut.Unlock()

	if n := len(logged()); n > 0 {
		t.Errorf("got %d messages for a short hold, expected none", n)
	}

	mut.Lock()
	time.Sleep(longWait)
	mut.Unlock()

	if n := len(logged()); n != 1 {
		t.Errorf("got %d messages for a long hold, expected 1", n)
	}
}

func TestRWMutexReportsBlockingReaders(t *testing.T) {
	logged := withDebug(t)

	mut := NewRWMutex()
	mut.RLock()
	go func() {
		time.Sleep(longWait)
		mut.RUnlock()
	}()

	mut.Lock()
	_ = 1 // skip empty critical section check
	mut.Unlock()

	messages := logged()
	if len(messages) != 1 {
		t.Fatalf("got %d messages, expected 1", len(messages))
	}
	if !strings.Contains(messages[0], "RUnlockers while locking:\nat sync") || !strings.Contains(messages[0], "sync_test.go:") {
		t.Errorf("message does not name the blocking reader: %q", messages[0])
	}
}

func TestRWMutexNestedReaders(t *testing.T) {
	_ = withDebug(t)

	// Several read locks held by the same goroutine must unwind cleanly.
	mut := NewRWMutex()
	mut.RLock()
	mut.RLock()
	mut.RLock()
	_ = 1 // skip empty critical section check
	mut.RUnlock()
	mut.RUnlock()
	mut.RUnlock()
}

func TestWaitGroupLogsLongWaits(t *testing.T) {
	logged := withDebug(t)

	wg := NewWaitGroup()
	wg.Add(1)
	go func() {
		time.Sleep(shortWait)
		wg.Done()
	}()
	wg.Wait()

	if n := len(logged()); n > 0 {
		t.Errorf("got %d messages for a short wait, expected none", n)
	}

	wg = NewWaitGroup()
	wg.Add(1)
	go func() {
		time.Sleep(longWait)
		wg.Done()
	}()
	wg.Wait()

	if n := len(logged()); n != 1 {
		t.Errorf("got %d messages for a long wait, expected 1", n)
	}
}
