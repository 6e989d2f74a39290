// Copyright (C) 2025 The Sleekd Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package state

import (
	"sync"
	"testing"
)

type scanState struct {
	Filling  bool
	Progress float64
}

func TestValueAndSet(t *testing.T) {
	m := NewMonitor(scanState{})

	if v := m.Value(); v.Filling {
		t.Error("fresh monitor should hold the initial value")
	}

	prev, cur := m.Set(func(s scanState) scanState {
		s.Filling = true
		s.Progress = 0.5
		return s
	})

	if prev.Filling || prev.Progress != 0 {
		t.Errorf("unexpected previous value: %+v", prev)
	}
	if !cur.Filling || cur.Progress != 0.5 {
		t.Errorf("unexpected current value: %+v", cur)
	}
	if v := m.Value(); v != cur {
		t.Errorf("Value() disagrees with Set result: %+v != %+v", v, cur)
	}
}

func TestListeners(t *testing.T) {
	m := NewMonitor(scanState{})

	var calls []scanState
	remove := m.OnChange(func(prev, cur scanState) {
		calls = append(calls, cur)
	})

	m.Set(func(s scanState) scanState { s.Progress = 0.1; return s })
	m.Set(func(s scanState) scanState { s.Progress = 0.2; return s })

	if len(calls) != 2 {
		t.Fatalf("expected 2 listener calls, got %d", len(calls))
	}
	if calls[0].Progress != 0.1 || calls[1].Progress != 0.2 {
		t.Errorf("listener saw transitions out of order: %+v", calls)
	}

	remove()
	m.Set(func(s scanState) scanState { s.Progress = 0.3; return s })
	if len(calls) != 2 {
		t.Error("removed listener was still called")
	}
}

func TestListenerOrder(t *testing.T) {
	m := NewMonitor(0)

	var order []int
	m.OnChange(func(_, _ int) { order = append(order, 1) })
	m.OnChange(func(_, _ int) { order = append(order, 2) })
	m.OnChange(func(_, _ int) { order = append(order, 3) })

	m.Set(func(v int) int { return v + 1 })

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("listeners called out of registration order: %v", order)
	}
}

func TestWithClone(t *testing.T) {
	type deep struct {
		counts map[string]int
	}
	m := NewMonitor(deep{counts: map[string]int{}}, WithClone(func(d deep) deep {
		cp := deep{counts: make(map[string]int, len(d.counts))}
		for k, v := range d.counts {
			cp.counts[k] = v
		}
		return cp
	}))

	v := m.Value()
	v.counts["dirs"] = 42

	if got := m.Value(); got.counts["dirs"] != 0 {
		t.Error("mutation of a returned value leaked into the monitor")
	}
}

func TestConcurrentSet(t *testing.T) {
	m := NewMonitor(0)

	const goroutines = 8
	const each = 100

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < each; j++ {
				m.Set(func(v int) int { return v + 1 })
			}
		}()
	}
	wg.Wait()

	if v := m.Value(); v != goroutines*each {
		t.Errorf("lost updates: %d != %d", v, goroutines*each)
	}
}

func TestTransitionsAreConsistent(t *testing.T) {
	m := NewMonitor(0)

	last := 0
	m.OnChange(func(prev, cur int) {
		if prev != last {
			t.Errorf("transition out of order: prev %d, expected %d", prev, last)
		}
		last = cur
	})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				m.Set(func(v int) int { return v + 1 })
			}
		}()
	}
	wg.Wait()

	if last != 200 {
		t.Errorf("final listener value %d, expected 200", last)
	}
}
