// Copyright (C) 2025 The Sleekd Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package config

import (
	"os"
	"sync/atomic"

	"github.com/sleekd/sleekd/lib/events"
	"github.com/sleekd/sleekd/lib/osutil"
	"github.com/sleekd/sleekd/lib/sliceutil"
	"github.com/sleekd/sleekd/lib/sync"
)

// A Committer subscribes to configuration changes. Changes are applied in
// two phases. First every subscriber gets VerifyConfiguration with the old
// and the new configuration; any returned error vetoes the change and is
// passed back to whoever proposed it. Once all subscribers have verified,
// the new configuration takes effect and each subscriber gets
// CommitConfiguration. A subscriber that cannot apply the change live
// returns false from CommitConfiguration, which marks the wrapper as
// requiring a restart. The change remains in effect regardless.
//
// String identifies the subscriber in debug output.
type Committer interface {
	VerifyConfiguration(from, to Configuration) error
	CommitConfiguration(from, to Configuration) (handled bool)
	String() string
}

// A Wrapper holds the live Configuration, ties it to a file on disk, and
// relays changes to subscribed Committers.
type Wrapper struct {
	cfg      Configuration
	path     string
	evLogger *events.Logger

	subs []Committer
	mut  sync.Mutex

	requiresRestart atomic.Bool
}

// Wrap creates a Wrapper around the given configuration, tied to the given
// path. Nothing is written to disk by this call.
func Wrap(path string, cfg Configuration, evLogger *events.Logger) *Wrapper {
	return &Wrapper{
		cfg:      cfg,
		path:     path,
		evLogger: evLogger,
		mut:      sync.NewMutex(),
	}
}

// Load reads the configuration at the given path and wraps it.
func Load(path string, evLogger *events.Logger) (*Wrapper, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fd.Close()

	cfg, err := ReadXML(fd)
	if err != nil {
		return nil, err
	}
	return Wrap(path, cfg, evLogger), nil
}

// ConfigPath returns the path the configuration is saved to.
func (w *Wrapper) ConfigPath() string {
	return w.path
}

// Subscribe registers a Committer for verification and commit of future
// configuration changes.
func (w *Wrapper) Subscribe(c Committer) {
	w.mut.Lock()
	w.subs = append(w.subs, c)
	w.mut.Unlock()
}

// Unsubscribe removes a previously registered Committer. It sees no
// further changes.
func (w *Wrapper) Unsubscribe(c Committer) {
	w.mut.Lock()
	for i := range w.subs {
		if w.subs[i] == c {
			w.subs = sliceutil.RemoveAndZero(w.subs, i)
			break
		}
	}
	w.mut.Unlock()
}

// RawCopy returns a copy of the current configuration, suitable for
// modifying and passing back to Replace.
func (w *Wrapper) RawCopy() Configuration {
	w.mut.Lock()
	defer w.mut.Unlock()
	return w.cfg.Copy()
}

// Replace proposes cfg as the new configuration. If any subscriber rejects
// the change an error is returned and the current configuration stays in
// place.
func (w *Wrapper) Replace(cfg Configuration) error {
	w.mut.Lock()
	defer w.mut.Unlock()
	return w.replaceLocked(cfg)
}

func (w *Wrapper) replaceLocked(to Configuration) error {
	if err := to.clean(); err != nil {
		return err
	}

	from := w.cfg
	for _, sub := range w.subs {
		l.Debugln(sub, "verifying configuration")
		if err := sub.VerifyConfiguration(from, to); err != nil {
			l.Debugln(sub, "rejected configuration:", err)
			return err
		}
	}

	w.cfg = to
	for _, sub := range w.subs {
		// Commits run on their own goroutines, on copies, so a slow
		// subscriber or one calling back into the wrapper cannot
		// deadlock us.
		go w.commit(sub, from.Copy(), to.Copy())
	}
	return nil
}

func (w *Wrapper) commit(sub Committer, from, to Configuration) {
	l.Debugln(sub, "committing configuration")
	if !sub.CommitConfiguration(from, to) {
		l.Debugln(sub, "needs a restart to apply the change")
		w.requiresRestart.Store(true)
	}
}

// Options returns a copy of the current options.
func (w *Wrapper) Options() OptionsConfiguration {
	w.mut.Lock()
	defer w.mut.Unlock()
	return w.cfg.Options.Copy()
}

// SetOptions replaces the options, running the change through the usual
// verify and commit cycle.
func (w *Wrapper) SetOptions(opts OptionsConfiguration) error {
	w.mut.Lock()
	defer w.mut.Unlock()
	cfg := w.cfg.Copy()
	cfg.Options = opts
	return w.replaceLocked(cfg)
}

// Save atomically writes the configuration to disk and emits a ConfigSaved
// event.
func (w *Wrapper) Save() error {
	w.mut.Lock()
	defer w.mut.Unlock()

	l.Debugln("saving configuration to", w.path)
	fd, err := osutil.CreateAtomic(w.path)
	if err != nil {
		return err
	}
	if err := w.cfg.WriteXML(fd); err != nil {
		fd.Close()
		return err
	}
	if err := fd.Close(); err != nil {
		return err
	}

	w.evLogger.Log(events.ConfigSaved, w.cfg)
	return nil
}

// RequiresRestart returns whether some committed change could not be
// applied live and needs a process restart to take effect.
func (w *Wrapper) RequiresRestart() bool {
	return w.requiresRestart.Load()
}
