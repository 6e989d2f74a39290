// Copyright (C) 2025 The Sleekd Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sleekd/sleekd/lib/events"
)

type requiresRestart struct {
	committed chan struct{}
}

func (requiresRestart) VerifyConfiguration(_, _ Configuration) error {
	return nil
}

func (c requiresRestart) CommitConfiguration(_, _ Configuration) bool {
	select {
	case c.committed <- struct{}{}:
	default:
	}
	return false
}

func (requiresRestart) String() string {
	return "requiresRestart"
}

type validationError struct{}

func (validationError) VerifyConfiguration(_, _ Configuration) error {
	return errors.New("some error")
}

func (validationError) CommitConfiguration(_, _ Configuration) bool {
	return true
}

func (validationError) String() string {
	return "validationError"
}

func TestReplaceCommit(t *testing.T) {
	w := Wrap("/dev/null", New(), events.NewLogger())

	// Replace config. We should get back a clean response and the config
	// should change.

	to := w.RawCopy()
	to.Shares = []ShareConfiguration{{Raw: "/data/music"}}
	if err := w.Replace(to); err != nil {
		t.Fatal(err)
	}
	if w.RequiresRestart() {
		t.Fatal("should not require restart")
	}
	if len(w.RawCopy().Shares) != 1 {
		t.Fatal("config should have changed")
	}

	// Now with a subscriber requiring restart. We should get a clean
	// response but with the restart flag set, and the config should change.

	sub0 := requiresRestart{committed: make(chan struct{}, 1)}
	w.Subscribe(sub0)

	to = w.RawCopy()
	to.Options.ScanWorkers = 8
	if err := w.Replace(to); err != nil {
		t.Fatal(err)
	}
	<-sub0.committed
	if !w.RequiresRestart() {
		t.Fatal("should require restart")
	}
	if w.RawCopy().Options.ScanWorkers != 8 {
		t.Fatal("config should have changed")
	}

	// Now with a subscriber that throws a validation error. The config
	// should not change.

	w.Subscribe(validationError{})

	to = w.RawCopy()
	to.Options.ScanWorkers = 16
	if err := w.Replace(to); err == nil {
		t.Fatal("should have a validation error")
	}
	if w.RawCopy().Options.ScanWorkers != 8 {
		t.Fatal("config should not have changed")
	}
}

func TestUnsubscribe(t *testing.T) {
	w := Wrap("/dev/null", New(), events.NewLogger())

	sub := requiresRestart{committed: make(chan struct{}, 1)}
	w.Subscribe(sub)
	w.Unsubscribe(sub)

	to := w.RawCopy()
	to.Options.ScanWorkers = 8
	if err := w.Replace(to); err != nil {
		t.Fatal(err)
	}

	select {
	case <-sub.committed:
		t.Fatal("unsubscribed committer should not be called")
	case <-time.After(50 * time.Millisecond):
	}
	if w.RequiresRestart() {
		t.Fatal("should not require restart")
	}
}

func TestCommitterSeesBothConfigs(t *testing.T) {
	type change struct {
		fromWorkers, toWorkers int
	}
	changes := make(chan change, 1)

	w := Wrap("/dev/null", New(), events.NewLogger())
	w.Subscribe(committerFunc(func(from, to Configuration) bool {
		changes <- change{from.Options.ScanWorkers, to.Options.ScanWorkers}
		return true
	}))

	to := w.RawCopy()
	to.Options.ScanWorkers = 8
	if err := w.Replace(to); err != nil {
		t.Fatal(err)
	}

	select {
	case ch := <-changes:
		if ch.fromWorkers != 4 || ch.toWorkers != 8 {
			t.Errorf("unexpected change %+v", ch)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for commit")
	}
}

type committerFunc func(from, to Configuration) bool

func (committerFunc) VerifyConfiguration(_, _ Configuration) error { return nil }

func (f committerFunc) CommitConfiguration(from, to Configuration) bool {
	return f(from, to)
}

func (committerFunc) String() string { return "committerFunc" }

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.xml")
	evLogger := events.NewLogger()
	sub := evLogger.Subscribe(events.ConfigSaved)
	defer evLogger.Unsubscribe(sub)

	cfg := New()
	cfg.Shares = []ShareConfiguration{{Raw: "[flac]/data/flac"}}
	cfg.Options.SearchRateLimit = 10

	w := Wrap(path, cfg, evLogger)
	if err := w.Save(); err != nil {
		t.Fatal(err)
	}

	if _, err := sub.Poll(time.Second); err != nil {
		t.Fatal("expected a ConfigSaved event:", err)
	}

	// No temporaries may remain next to the config.
	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".sleekd.tmp.*"))
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) > 0 {
		t.Errorf("temporary files left behind: %v", matches)
	}

	w2, err := Load(path, evLogger)
	if err != nil {
		t.Fatal(err)
	}
	got := w2.RawCopy()
	if len(got.Shares) != 1 || got.Shares[0].Raw != "[flac]/data/flac" {
		t.Errorf("unexpected shares after reload: %v", got.Shares)
	}
	if got.Options.SearchRateLimit != 10 {
		t.Errorf("unexpected rate limit after reload: %d", got.Options.SearchRateLimit)
	}

	// The file is the canonical XML rendering, which starts with the
	// configuration element.
	bs, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(bs) == 0 || bs[0] != '<' {
		t.Errorf("unexpected file contents: %q", bs)
	}
}
