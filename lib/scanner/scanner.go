// Copyright (C) 2025 The Sleekd Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package scanner walks the shared directories and fills the share index.
package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/sleekd/sleekd/lib/chanutil"
	"github.com/sleekd/sleekd/lib/db"
	"github.com/sleekd/sleekd/lib/events"
	"github.com/sleekd/sleekd/lib/share"
	"github.com/sleekd/sleekd/lib/state"
	"github.com/sleekd/sleekd/lib/sync"
	"github.com/sleekd/sleekd/lib/util"
)

// ErrScanInProgress is returned by Scan when another scan holds the slot.
var ErrScanInProgress = errors.New("scan already in progress")

// dirChannelCap bounds the directory queue between the walker and the
// workers.
const dirChannelCap = 1000

// defaultWorkers is the consumer count when Options leaves it unset: one
// per core, but no more than eight. Directory scanning saturates the
// repository writer long before it saturates a modern CPU.
func defaultWorkers() int {
	n := runtime.NumCPU()
	if n > 8 {
		n = 8
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Options describe one scan.
type Options struct {
	// Shares is the parsed share list, included and excluded entries
	// both, sorted for longest prefix resolution.
	Shares share.List
	// Filters holds regular expressions matched against local file
	// paths; a match drops the file from the index.
	Filters []string
	// Workers is the number of directory consumers. Zero means the
	// default.
	Workers int
}

// CacheState is the observable scanner state. Filling and Filled are never
// both set at rest.
type CacheState struct {
	Filling             bool
	Filled              bool
	Faulted             bool
	Cancelled           bool
	FillProgress        float64
	Directories         int
	Files               int
	ExcludedDirectories int
}

// A Scanner fills the share index from the filesystem. At most one scan
// runs at a time; the slot is claimed without blocking.
type Scanner struct {
	repo     *db.Instance
	factory  share.FileFactory
	evLogger *events.Logger
	state    *state.Monitor[CacheState]

	busy chan struct{}

	cancelMut sync.Mutex
	cancel    context.CancelFunc
}

func New(repo *db.Instance, factory share.FileFactory, evLogger *events.Logger) *Scanner {
	return &Scanner{
		repo:      repo,
		factory:   factory,
		evLogger:  evLogger,
		state:     state.NewMonitor(CacheState{}),
		busy:      make(chan struct{}, 1),
		cancelMut: sync.NewMutex(),
	}
}

// State returns the scanner's observable state.
func (s *Scanner) State() *state.Monitor[CacheState] {
	return s.state
}

// Cancel aborts the running scan, if any, and reports whether there was
// one. Workers finish the directory at hand and drain the rest unhandled.
func (s *Scanner) Cancel() bool {
	s.cancelMut.Lock()
	defer s.cancelMut.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

// Scan walks all included shares and brings the index in line with the
// filesystem. It fails fast with ErrScanInProgress when a scan is already
// running, and returns the context error when cancelled. The prune of
// stale rows is skipped on cancellation so a partial scan never shrinks
// the index.
func (s *Scanner) Scan(ctx context.Context, opts Options) error {
	select {
	case s.busy <- struct{}{}:
	default:
		return ErrScanInProgress
	}
	defer func() { <-s.busy }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.cancelMut.Lock()
	s.cancel = cancel
	s.cancelMut.Unlock()
	defer func() {
		s.cancelMut.Lock()
		s.cancel = nil
		s.cancelMut.Unlock()
	}()

	start := time.Now()
	err := s.scan(ctx, opts)
	metricScanSeconds.Add(time.Since(start).Seconds())

	switch {
	case err == nil:
		st := s.state.Value()
		metricScansTotal.WithLabelValues("completed").Inc()
		metricLastScanDirectories.Set(float64(st.Directories))
		metricLastScanFiles.Set(float64(st.Files))
		metricLastScanExcluded.Set(float64(st.ExcludedDirectories))
		metricLastScanTimestamp.SetToCurrentTime()
		s.evLogger.Log(events.ScanCompleted, map[string]interface{}{
			"directories": st.Directories,
			"files":       st.Files,
			"duration":    time.Since(start).String(),
		})
		s.evLogger.Log(events.LocalIndexUpdated, map[string]interface{}{
			"directories": st.Directories,
			"files":       st.Files,
		})

	case errors.Is(err, context.Canceled):
		metricScansTotal.WithLabelValues("cancelled").Inc()
		s.state.Set(func(st CacheState) CacheState {
			st.Filling = false
			st.Filled = false
			st.Cancelled = true
			return st
		})
		l.Infof("Scan cancelled")
		s.evLogger.Log(events.ScanCancelled, nil)

	default:
		metricScansTotal.WithLabelValues("failed").Inc()
		s.state.Set(func(st CacheState) CacheState {
			st.Filling = false
			st.Filled = false
			st.Faulted = true
			st.FillProgress = 0
			return st
		})
		l.Warnf("Scan failed: %v", err)
		s.evLogger.Log(events.ScanFailed, map[string]interface{}{
			"error": events.Error(err),
		})
	}
	return err
}

func (s *Scanner) scan(ctx context.Context, opts Options) error {
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers()
	}

	s.state.Set(func(CacheState) CacheState {
		return CacheState{Filling: true}
	})

	included := opts.Shares.Included()
	l.Infof("Scanning %d shares with %d workers", len(included), workers)
	s.evLogger.Log(events.ScanStarted, map[string]interface{}{
		"shares":  len(included),
		"workers": workers,
	})

	if problems, ok := s.repo.Validate(); !ok {
		l.Infof("Recreating share index, schema validation failed: %v", problems)
		if err := s.repo.Create(true); err != nil {
			return err
		}
	}

	filters, err := compileFilters(opts.Filters)
	if err != nil {
		return err
	}

	startedAt := time.Now().UnixMilli()
	raws := make([]string, len(opts.Shares))
	for n, sh := range opts.Shares {
		raws[n] = sh.Raw
	}
	optionsJSON, err := json.Marshal(map[string]interface{}{
		"shares":  raws,
		"filters": opts.Filters,
		"workers": workers,
	})
	if err != nil {
		return err
	}
	if err := s.repo.InsertScan(startedAt, string(optionsJSON)); err != nil {
		return err
	}

	dirs, excluded, err := s.enumerate(ctx, opts.Shares)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	total := len(dirs)
	s.state.Set(func(st CacheState) CacheState {
		st.Directories = total
		st.ExcludedDirectories = excluded
		return st
	})
	l.Infof("Found %d directories to scan, %d excluded", total, excluded)

	ch := make(chan string, dirChannelCap)
	var processed, files atomic.Int64
	progress := rate.Sometimes{First: 1, Interval: 5 * time.Second}

	handler := func(dir string) error {
		if ctx.Err() != nil {
			return nil
		}
		if err := s.scanDirectory(opts.Shares, filters, dir, startedAt, &files); err != nil {
			l.Infof("Scanning %s: %v", dir, err)
		}
		done := processed.Add(1)
		indexed := files.Load()
		s.state.Set(func(st CacheState) CacheState {
			st.FillProgress = float64(done) / float64(total)
			st.Files = int(indexed)
			return st
		})
		progress.Do(func() {
			l.Infof("Scanned %d of %d directories (%d files)", done, total, indexed)
			s.evLogger.Log(events.ScanProgress, map[string]interface{}{
				"processed": done,
				"total":     total,
				"files":     indexed,
			})
		})
		return nil
	}

	readers := make([]*chanutil.Reader[string], workers)
	for n := range readers {
		readers[n] = chanutil.NewReader(fmt.Sprintf("scan-%d", n), ch, handler)
		readers[n].Start()
	}

send:
	for _, dir := range dirs {
		select {
		case ch <- dir:
		case <-ctx.Done():
			break send
		}
	}
	close(ch)

	for _, r := range readers {
		<-r.Completed()
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	prunedFiles, err := s.repo.PruneFiles(startedAt)
	if err != nil {
		return err
	}
	prunedDirs, err := s.repo.PruneDirectories(startedAt)
	if err != nil {
		return err
	}
	if prunedFiles > 0 || prunedDirs > 0 {
		l.Infof("Pruned %d files and %d directories no longer present", prunedFiles, prunedDirs)
	}

	endedAt := time.Now().UnixMilli()
	if err := s.repo.UpdateScan(startedAt, endedAt); err != nil {
		return err
	}

	dirCount := s.repo.CountDirectories("")
	fileCount := s.repo.CountFiles("")
	s.state.Set(func(st CacheState) CacheState {
		st.Filling = false
		st.Filled = true
		st.FillProgress = 1
		st.Directories = dirCount
		st.Files = fileCount
		return st
	})

	l.Infof("Scan completed in %s: %d directories, %d files",
		util.NiceDurationString(time.Duration(endedAt-startedAt)*time.Millisecond), dirCount, fileCount)
	return nil
}

// enumerate walks every included share and returns the union of reachable
// directories, roots themselves included, minus those claimed by an
// excluded share. Hidden directories and unreadable subtrees are skipped.
func (s *Scanner) enumerate(ctx context.Context, shares share.List) ([]string, int, error) {
	seen := make(map[string]struct{})
	for _, sh := range shares.Included() {
		err := filepath.WalkDir(sh.LocalPath, func(path string, d fs.DirEntry, err error) error {
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			if err != nil {
				l.Infof("Enumerating %s: %v", path, err)
				return nil
			}
			if !d.IsDir() {
				return nil
			}
			if path != sh.LocalPath && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			seen[path] = struct{}{}
			return nil
		})
		if err != nil {
			return nil, 0, err
		}
	}

	dirs := make([]string, 0, len(seen))
	excluded := 0
	for path := range seen {
		if shares.LocalExcluded(path) {
			excluded++
			continue
		}
		dirs = append(dirs, path)
	}
	slices.Sort(dirs)
	return dirs, excluded, nil
}

// scanDirectory indexes one directory: the directory row itself, then its
// regular files, masked into the owning share.
func (s *Scanner) scanDirectory(shares share.List, filters []*regexp.Regexp, dir string, timestamp int64, files *atomic.Int64) error {
	sh, ok := shares.ShareFor(dir)
	if !ok {
		return fmt.Errorf("no share covers %s", dir)
	}
	masked, ok := sh.MaskPath(dir)
	if !ok {
		return fmt.Errorf("cannot mask %s within %v", dir, sh)
	}
	if err := s.repo.InsertDirectory(masked, timestamp); err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

entries:
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		path := filepath.Join(dir, name)
		for _, re := range filters {
			if re.MatchString(path) {
				l.Debugf("filtered %s", path)
				continue entries
			}
		}
		info, err := entry.Info()
		if err != nil {
			l.Debugf("indexing %s: %v", path, err)
			continue
		}
		f, err := s.factory.File(path, sh.LocalPath, sh.RemotePath)
		if err != nil {
			l.Debugf("indexing %s: %v", path, err)
			continue
		}
		if err := s.repo.InsertFile(f, info.ModTime(), timestamp); err != nil {
			l.Infof("Indexing %s: %v", path, err)
			continue
		}
		files.Add(1)
	}
	return nil
}

func compileFilters(patterns []string) ([]*regexp.Regexp, error) {
	filters := make([]*regexp.Regexp, 0, len(patterns))
	for _, pat := range patterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, fmt.Errorf("bad filter %q: %w", pat, err)
		}
		filters = append(filters, re)
	}
	return filters, nil
}
