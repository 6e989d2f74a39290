// Copyright (C) 2025 The Sleekd Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package events provides the pub/sub bus for daemon events: scan
// lifecycle, share state transitions, configuration changes and host
// updates.
package events

import (
	"errors"
	"time"

	"github.com/sleekd/sleekd/lib/sliceutil"
	"github.com/sleekd/sleekd/lib/sync"
)

type EventType int

const (
	Ping EventType = 1 << iota
	Starting
	StartupComplete
	StateChanged
	ConfigSaved
	ScanStarted
	ScanProgress
	ScanCompleted
	ScanCancelled
	ScanFailed
	LocalIndexUpdated
	ResolveMiss
	HostUpdated

	AllEvents = (1 << iota) - 1
)

func (t EventType) String() string {
	switch t {
	case Ping:
		return "Ping"
	case Starting:
		return "Starting"
	case StartupComplete:
		return "StartupComplete"
	case StateChanged:
		return "StateChanged"
	case ConfigSaved:
		return "ConfigSaved"
	case ScanStarted:
		return "ScanStarted"
	case ScanProgress:
		return "ScanProgress"
	case ScanCompleted:
		return "ScanCompleted"
	case ScanCancelled:
		return "ScanCancelled"
	case ScanFailed:
		return "ScanFailed"
	case LocalIndexUpdated:
		return "LocalIndexUpdated"
	case ResolveMiss:
		return "ResolveMiss"
	case HostUpdated:
		return "HostUpdated"
	default:
		return "Unknown"
	}
}

func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// BufferSize is the number of events a subscription buffers before Log
// starts dropping events for it.
const BufferSize = 64

// A Logger distributes events to subscribers. Logging never blocks: a
// subscriber that does not keep up loses the events that overflow its
// buffer.
type Logger struct {
	subs         []*Subscription
	nextGlobalID int
	mutex        sync.Mutex
}

type Event struct {
	// Per-subscription sequential event ID.
	SubscriptionID int `json:"id"`
	// Global ID of the event across all subscriptions
	GlobalID int         `json:"globalID"`
	Time     time.Time   `json:"time"`
	Type     EventType   `json:"type"`
	Data     interface{} `json:"data"`
}

// A Subscription receives the events matching its mask, in the order they
// were logged.
type Subscription struct {
	mask   EventType
	nextID int
	events chan Event
}

var (
	ErrTimeout = errors.New("timeout")
	ErrClosed  = errors.New("closed")
)

func NewLogger() *Logger {
	return &Logger{
		mutex: sync.NewMutex(),
	}
}

// Log sends the event to every subscription whose mask matches t.
func (l *Logger) Log(t EventType, data interface{}) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	dl.Debugln("log", l.nextGlobalID, t, data)
	l.nextGlobalID++

	e := Event{
		GlobalID: l.nextGlobalID,
		Time:     time.Now(),
		Type:     t,
		Data:     data,
	}

	for _, s := range l.subs {
		if s.mask&t == 0 {
			continue
		}
		e.SubscriptionID = s.nextID
		s.nextID++

		select {
		case s.events <- e:
		default:
			// The subscription is full; drop the event rather than
			// stall everyone else.
		}
	}
}

func (l *Logger) Subscribe(mask EventType) *Subscription {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	dl.Debugln("subscribe", mask)
	s := &Subscription{
		mask:   mask,
		nextID: 1,
		events: make(chan Event, BufferSize),
	}
	l.subs = append(l.subs, s)
	return s
}

// Unsubscribe closes the subscription's channel. Events logged afterwards
// are not delivered to it, and a pending Poll returns ErrClosed.
func (l *Logger) Unsubscribe(s *Subscription) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	dl.Debugln("unsubscribe")
	for i, ss := range l.subs {
		if s == ss {
			l.subs = sliceutil.RemoveAndZero(l.subs, i)
			break
		}
	}
	close(s.events)
}

// Poll returns the next event from the subscription, or an error when the
// timeout elapses or the subscription is closed. Poll must not be called
// concurrently for a single subscription.
func (s *Subscription) Poll(timeout time.Duration) (Event, error) {
	dl.Debugln("poll", timeout)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case e, ok := <-s.events:
		if !ok {
			return e, ErrClosed
		}
		return e, nil
	case <-timer.C:
		return Event{}, ErrTimeout
	}
}

// C exposes the subscription's event channel, for callers that select
// rather than poll. The channel is closed by Unsubscribe.
func (s *Subscription) C() <-chan Event {
	return s.events
}

// Error returns a string pointer suitable for JSON marshalling errors. It
// retains the "null on success" semantics, but ensures the error result is a
// string regardless of the underlying concrete error type.
func Error(err error) *string {
	if err == nil {
		return nil
	}
	str := err.Error()
	return &str
}
