// Copyright (C) 2025 The Sleekd Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package logger implements the daemon's leveled logging with pluggable
// message handlers and per-facility debug gating.
package logger

import (
	"fmt"
	"io"
	"log"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
)

// The mutexes in lib/sync log through this package, so this package sticks
// to stdlib sync to avoid the obvious cycle.

type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	NumLevels
)

const (
	defaultFlags = log.Ltime | log.Ldate
	debugFlags   = log.Ltime | log.Ldate | log.Lmicroseconds | log.Lshortfile
)

var prefixes = [NumLevels]string{"DEBUG: ", "INFO: ", "WARNING: "}

// A MessageHandler receives the level and text of each message logged at
// its registered level or above.
type MessageHandler func(l LogLevel, msg string)

type Logger interface {
	AddHandler(level LogLevel, h MessageHandler)
	Debugln(vals ...interface{})
	Debugf(format string, vals ...interface{})
	Infoln(vals ...interface{})
	Infof(format string, vals ...interface{})
	Warnln(vals ...interface{})
	Warnf(format string, vals ...interface{})
	ShouldDebug(facility string) bool
	SetDebug(facility string, enabled bool)
	Facilities() map[string]string
	NewFacility(facility, description string) Logger
}

type logger struct {
	out        *log.Logger
	handlers   [NumLevels][]MessageHandler
	facilities map[string]string   // name => description
	debugging  map[string]struct{} // facilities with debug output enabled
	traced     []string            // sorted SLKTRACE facilities, or ["all"]
	mut        sync.Mutex
}

// DefaultLogger logs to standard output with a timestamp prefix. Setting
// the LOGGER_DISCARD environment variable silences it entirely, which keeps
// benchmark output readable.
var DefaultLogger = New()

func New() Logger {
	if os.Getenv("LOGGER_DISCARD") != "" {
		return newLogger(io.Discard)
	}
	return newLogger(controlStripper{os.Stdout})
}

func newLogger(w io.Writer) *logger {
	return &logger{
		out:        log.New(w, "", defaultFlags),
		traced:     tracedFacilities(),
		facilities: make(map[string]string),
		debugging:  make(map[string]struct{}),
	}
}

// tracedFacilities parses the SLKTRACE environment variable, a list of
// facility names separated by commas, semicolons or spaces. The name "all"
// covers every facility.
func tracedFacilities() []string {
	names := strings.FieldsFunc(os.Getenv("SLKTRACE"), func(r rune) bool {
		return strings.ContainsRune(",; ", r)
	})
	if slices.Contains(names, "all") {
		return []string{"all"}
	}
	slices.Sort(names)
	return names
}

// AddHandler registers h to be called for each message logged at the given
// level or above.
func (l *logger) AddHandler(level LogLevel, h MessageHandler) {
	l.mut.Lock()
	defer l.mut.Unlock()
	l.handlers[level] = append(l.handlers[level], h)
}

// output writes the line with its level prefix and hands it to the matching
// handlers. calldepth attributes file and line to the original caller when
// file flags are enabled.
func (l *logger) output(calldepth int, level LogLevel, s string) {
	l.mut.Lock()
	defer l.mut.Unlock()
	l.out.Output(calldepth, prefixes[level]+s)
	l.dispatch(level, s)
}

func (l *logger) dispatch(level LogLevel, s string) {
	s = strings.TrimSpace(s)
	for ll := LevelDebug; ll <= level; ll++ {
		for _, h := range l.handlers[ll] {
			h(level, s)
		}
	}
}

// Debugln logs a line with a DEBUG prefix.
func (l *logger) Debugln(vals ...interface{}) {
	l.debugln(4, vals...)
}

func (l *logger) debugln(calldepth int, vals ...interface{}) {
	l.output(calldepth, LevelDebug, fmt.Sprintln(vals...))
}

// Debugf logs a formatted line with a DEBUG prefix.
func (l *logger) Debugf(format string, vals ...interface{}) {
	l.debugf(4, format, vals...)
}

func (l *logger) debugf(calldepth int, format string, vals ...interface{}) {
	l.output(calldepth, LevelDebug, fmt.Sprintf(format, vals...))
}

// Infoln logs a line with an INFO prefix.
func (l *logger) Infoln(vals ...interface{}) {
	l.output(3, LevelInfo, fmt.Sprintln(vals...))
}

// Infof logs a formatted line with an INFO prefix.
func (l *logger) Infof(format string, vals ...interface{}) {
	l.output(3, LevelInfo, fmt.Sprintf(format, vals...))
}

// Warnln logs a line with a WARNING prefix.
func (l *logger) Warnln(vals ...interface{}) {
	l.output(3, LevelWarn, fmt.Sprintln(vals...))
}

// Warnf logs a formatted line with a WARNING prefix.
func (l *logger) Warnf(format string, vals ...interface{}) {
	l.output(3, LevelWarn, fmt.Sprintf(format, vals...))
}

// ShouldDebug returns whether debug output is enabled for the facility.
func (l *logger) ShouldDebug(facility string) bool {
	l.mut.Lock()
	defer l.mut.Unlock()
	_, ok := l.debugging[facility]
	return ok
}

// SetDebug enables or disables debug output for the facility. While any
// facility is being debugged the output includes microseconds and file
// locations.
func (l *logger) SetDebug(facility string, enabled bool) {
	l.mut.Lock()
	defer l.mut.Unlock()
	_, ok := l.debugging[facility]
	switch {
	case enabled && !ok:
		l.debugging[facility] = struct{}{}
		l.out.SetFlags(debugFlags)
	case !enabled && ok:
		delete(l.debugging, facility)
		if len(l.debugging) == 0 {
			l.out.SetFlags(defaultFlags)
		}
	}
}

// isTraced returns whether SLKTRACE names the facility.
func (l *logger) isTraced(facility string) bool {
	if len(l.traced) == 0 {
		return false
	}
	if l.traced[0] == "all" {
		return true
	}
	_, found := slices.BinarySearch(l.traced, facility)
	return found
}

// Facilities returns the name and description of every registered facility.
func (l *logger) Facilities() map[string]string {
	l.mut.Lock()
	defer l.mut.Unlock()
	return maps.Clone(l.facilities)
}

// NewFacility registers the named facility and returns a logger whose debug
// output is dropped unless the facility has debugging enabled.
func (l *logger) NewFacility(facility, description string) Logger {
	l.SetDebug(facility, l.isTraced(facility))

	l.mut.Lock()
	l.facilities[facility] = description
	l.mut.Unlock()

	return &facilityLogger{logger: l, facility: facility}
}

// A facilityLogger passes everything to its parent, except that debug
// output is gated on the facility.
type facilityLogger struct {
	*logger
	facility string
}

func (l *facilityLogger) Debugln(vals ...interface{}) {
	if !l.ShouldDebug(l.facility) {
		return
	}
	l.logger.debugln(4, vals...)
}

func (l *facilityLogger) Debugf(format string, vals ...interface{}) {
	if !l.ShouldDebug(l.facility) {
		return
	}
	l.logger.debugf(4, format, vals...)
}

// controlStripper replaces ASCII control characters, except line breaks,
// with spaces before passing the data on.
type controlStripper struct {
	io.Writer
}

func (s controlStripper) Write(data []byte) (int, error) {
	for i, b := range data {
		if b < 32 && b != '\n' && b != '\r' {
			data[i] = ' '
		}
	}
	return s.Writer.Write(data)
}
