// Copyright (C) 2025 The Sleekd Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package model implements the share service, the long running component
// that owns the host table, drives scans into the index and answers the
// browse, search and resolve queries made on behalf of remote peers.
package model

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sleekd/sleekd/lib/config"
	"github.com/sleekd/sleekd/lib/db"
	"github.com/sleekd/sleekd/lib/events"
	"github.com/sleekd/sleekd/lib/scanner"
	"github.com/sleekd/sleekd/lib/share"
	"github.com/sleekd/sleekd/lib/state"
	"github.com/sleekd/sleekd/lib/sync"
	"github.com/sleekd/sleekd/lib/tokenbucket"
	"github.com/sleekd/sleekd/lib/util"
)

var (
	// ErrScanInProgress is returned when a scan is requested while another
	// one is still running.
	ErrScanInProgress = scanner.ErrScanInProgress

	// ErrShareInitialization is returned when neither the primary nor the
	// backup store can bring the index up.
	ErrShareInitialization = errors.New("share initialization failed")

	// ErrNotFound is returned when a masked filename does not resolve to a
	// servable local file.
	ErrNotFound = errors.New("file not found")
)

// Periodic rescans are disabled at interval zero; the timer is parked.
const rescanDisabled = 365 * 24 * time.Hour

// ShareState is the externally observable state of the share service.
type ShareState struct {
	Ready        bool    `json:"ready"`
	Scanning     bool    `json:"scanning"`
	Faulted      bool    `json:"faulted"`
	Cancelled    bool    `json:"cancelled"`
	ScanPending  bool    `json:"scanPending"`
	ScanProgress float64 `json:"scanProgress"`
	Directories  int     `json:"directories"`
	Files        int     `json:"files"`
}

// A BrowsedDirectory is one directory of the index as sent to a browsing
// peer: the full masked directory name and its files, base names only.
type BrowsedDirectory struct {
	Name  string       `json:"name"`
	Files []share.File `json:"files"`
}

type resolved struct {
	original string
	size     int64
}

// Service ties the index, the scanner and the configuration together. It
// implements suture.Service for its periodic work and config.Committer for
// live reconfiguration.
type Service struct {
	cfg        *config.Wrapper
	repo       *db.Instance
	backupPath string
	sc         *scanner.Scanner
	evLogger   *events.Logger

	shareState *state.Monitor[ShareState]
	resolves   *lru.Cache[string, resolved]

	mut         sync.RWMutex
	local       *share.Host
	hosts       map[string]*share.Host
	shareHash   uint64
	searchGate  *tokenbucket.Bucket
	serveCtx    context.Context
	rescheduled chan struct{}
}

// NewService wires a share service around an open index. The backup path
// receives a copy of the index after every successful scan and is the
// restore source when the primary store is unusable.
func NewService(cfg *config.Wrapper, repo *db.Instance, backupPath string, sc *scanner.Scanner, evLogger *events.Logger) *Service {
	s := &Service{
		cfg:         cfg,
		repo:        repo,
		backupPath:  backupPath,
		sc:          sc,
		evLogger:    evLogger,
		shareState:  state.NewMonitor(ShareState{}),
		mut:         sync.NewRWMutex(),
		hosts:       make(map[string]*share.Host),
		rescheduled: make(chan struct{}, 1),
	}

	opts := cfg.Options()
	s.local = share.NewHost(opts.InstanceName)
	s.local.SetState(share.HostOnline)
	s.hosts[s.local.Name()] = s.local

	if opts.ResolveCacheSize > 0 {
		s.resolves, _ = lru.New[string, resolved](opts.ResolveCacheSize)
	}

	s.applyShares(cfg.RawCopy(), false)
	s.setSearchLimit(opts.SearchRateLimit)

	s.shareState.OnChange(func(prev, cur ShareState) {
		s.evLogger.Log(events.StateChanged, map[string]interface{}{
			"from": prev,
			"to":   cur,
		})
		recordStateMetrics(cur)
	})

	// The scanner's cache state drives ours while a scan runs.
	s.sc.State().OnChange(func(_, cur scanner.CacheState) {
		s.shareState.Set(func(st ShareState) ShareState {
			st.Scanning = cur.Filling
			st.Faulted = cur.Faulted
			st.Cancelled = cur.Cancelled
			st.ScanProgress = cur.FillProgress
			st.Directories = cur.Directories
			st.Files = cur.Files
			if cur.Filled {
				st.Ready = true
				st.ScanPending = false
			}
			if cur.Faulted {
				st.Ready = false
			}
			return st
		})
	})

	return s
}

func (s *Service) String() string {
	return fmt.Sprintf("model@%p", s)
}

// Serve runs periodic rescans until the context is cancelled. The context
// also bounds every scan started while serving.
func (s *Service) Serve(ctx context.Context) error {
	s.mut.Lock()
	s.serveCtx = ctx
	s.mut.Unlock()

	l.Debugln(s, "serving")
	defer l.Debugln(s, "stopped")

	rescan := time.NewTimer(s.rescanIn())
	defer rescan.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-s.rescheduled:
			if !rescan.Stop() {
				select {
				case <-rescan.C:
				default:
				}
			}
			rescan.Reset(s.rescanIn())

		case <-rescan.C:
			if err := s.Scan(); err != nil && !errors.Is(err, ErrScanInProgress) {
				l.Warnf("Periodic rescan: %v", err)
			}
			rescan.Reset(s.rescanIn())
		}
	}
}

func (s *Service) rescanIn() time.Duration {
	if iv := s.cfg.Options().RescanIntervalS; iv > 0 {
		return time.Duration(iv) * time.Second
	}
	return rescanDisabled
}

// Initialize brings the index up so queries can be served. With forceRescan
// set, or in memory mode, or when the primary store fails validation, the
// index is rebuilt or restored from backup. Any failure is retried once
// with a forced rescan before giving up.
func (s *Service) Initialize(forceRescan bool) error {
	err := s.initialize(forceRescan)
	if err != nil && !forceRescan {
		l.Infof("Share index initialization failed (%v); retrying with a full rescan", err)
		err = s.initialize(true)
	}
	if err != nil {
		return err
	}

	dirs := s.repo.CountDirectories("")
	files := s.repo.CountFiles("")
	s.shareState.Set(func(st ShareState) ShareState {
		st.Ready = true
		st.Scanning = false
		st.Faulted = false
		st.Cancelled = false
		st.ScanProgress = 1
		st.Directories = dirs
		st.Files = files
		return st
	})
	s.evLogger.Log(events.StartupComplete, map[string]interface{}{
		"directories": dirs,
		"files":       files,
	})
	l.Infof("Share index ready: %d directories, %d files", dirs, files)
	return nil
}

func (s *Service) initialize(forceRescan bool) error {
	if forceRescan {
		return s.Scan()
	}

	if s.repo.Memory() {
		// The in memory store starts empty; the backup is the only
		// source that avoids a full rescan.
		if _, ok := db.ValidateFile(s.backupPath); !ok {
			return fmt.Errorf("%w: no usable backup at %s", ErrShareInitialization, s.backupPath)
		}
		l.Infof("Restoring share index from %s", s.backupPath)
		return s.repo.RestoreFrom(s.backupPath)
	}

	problems, ok := s.repo.Validate()
	if ok {
		return nil
	}
	l.Warnf("Share index failed validation: %s", strings.Join(problems, "; "))

	if _, ok := db.ValidateFile(s.backupPath); ok {
		l.Infof("Restoring share index from %s", s.backupPath)
		return s.repo.RestoreFrom(s.backupPath)
	}
	return fmt.Errorf("%w: no usable primary or backup store", ErrShareInitialization)
}

// Scan walks the configured shares into the index, then backs the index up.
// At most one scan runs at a time; a second caller gets ErrScanInProgress.
// Cancellation is not an error here, it is observable as share state.
func (s *Service) Scan() error {
	opts := s.scanOptions()
	if len(opts.Shares.Included()) == 0 {
		return errors.New("no shares configured")
	}

	start := time.Now()
	if err := s.sc.Scan(s.scanContext(), opts); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	if err := s.repo.BackupTo(s.backupPath); err != nil {
		return fmt.Errorf("backing up share index: %w", err)
	}
	s.purgeResolves()
	l.Infof("Scan and backup took %s", util.NiceDurationString(time.Since(start)))
	return nil
}

// TryCancelScan requests cancellation of the running scan and reports
// whether one was running. Rows already written remain in the index.
func (s *Service) TryCancelScan() bool {
	return s.sc.Cancel()
}

func (s *Service) scanOptions() scanner.Options {
	opts := s.cfg.Options()
	return scanner.Options{
		Shares:  s.local.Shares(),
		Filters: opts.ScanFilters,
		Workers: opts.ScanWorkers,
	}
}

func (s *Service) scanContext() context.Context {
	s.mut.RLock()
	defer s.mut.RUnlock()
	if s.serveCtx != nil {
		return s.serveCtx
	}
	return context.Background()
}

// Browse returns every directory in the index, empty ones included,
// optionally restricted to the share with the given alias. Browsing during
// a scan serves whatever rows have been committed so far.
func (s *Service) Browse(shareAlias string) ([]BrowsedDirectory, error) {
	var prefix string
	if shareAlias != "" {
		sh, ok := s.shareByAlias(shareAlias)
		if !ok {
			return nil, fmt.Errorf("share %q: %w", shareAlias, ErrNotFound)
		}
		prefix = sh.RemotePath
	}

	dirs := s.repo.Directories(prefix)
	files := s.repo.FilesWithPrefix(prefix)
	return groupBrowse(dirs, files), nil
}

// ListDirectory returns the files directly inside one masked directory,
// base names only. An unknown directory simply lists empty.
func (s *Service) ListDirectory(dir string) BrowsedDirectory {
	dir = share.ToWire(dir)
	files := s.repo.FilesInDirectory(dir, false)
	if files == nil {
		files = []share.File{}
	}
	return BrowsedDirectory{Name: dir, Files: files}
}

// Search runs the query against the filename index. With a search rate
// limit configured the caller blocks until the limiter grants a slot.
// Masked names keep their backslash separators on egress.
func (s *Service) Search(q db.SearchQuery) []share.File {
	if gate := s.searchLimiter(); gate != nil {
		if _, err := gate.Get(s.scanContext(), 1); err != nil {
			l.Debugln("search limiter:", err)
			return nil
		}
	}
	metricSearches.Inc()
	return s.repo.Search(q)
}

// ResolveFile maps a masked filename back to its local path and size for
// serving. Resolving an indexed file that has since vanished from disk
// flags the latest scan suspect and marks a rescan pending.
func (s *Service) ResolveFile(masked string) (string, int64, error) {
	masked = share.ToWire(masked)

	r, cached := s.cachedResolve(masked)
	if !cached {
		original, size, ok := s.repo.FindFileInfo(masked)
		if !ok {
			return "", 0, fmt.Errorf("%q: %w", masked, ErrNotFound)
		}
		r = resolved{original: original, size: size}
		s.cacheResolve(masked, r)
	}

	if _, err := os.Stat(r.original); err != nil {
		s.dropResolve(masked)
		metricResolveMisses.Inc()
		if dbErr := s.repo.FlagLatestScanSuspect(); dbErr != nil {
			l.Warnf("Flagging scan suspect: %v", dbErr)
		}
		s.shareState.Set(func(st ShareState) ShareState {
			st.ScanPending = true
			return st
		})
		s.evLogger.Log(events.ResolveMiss, map[string]interface{}{
			"maskedFilename":   masked,
			"originalFilename": r.original,
		})
		l.Infof("Indexed file missing on disk, rescan pending: %s", r.original)
		return "", 0, fmt.Errorf("%q: %w", masked, ErrNotFound)
	}

	return r.original, r.size, nil
}

// SummarizeShare counts the indexed directories and files under one share.
func (s *Service) SummarizeShare(sh *share.Share) (directories, files int) {
	return s.repo.CountDirectories(sh.RemotePath), s.repo.CountFiles(sh.RemotePath)
}

// Scans returns the scan records started at or after since, oldest first.
func (s *Service) Scans(since int64) []db.Scan {
	return s.repo.Scans(since)
}

// AddOrUpdateHost inserts or replaces a host by name.
func (s *Service) AddOrUpdateHost(h *share.Host) {
	s.mut.Lock()
	s.hosts[h.Name()] = h
	s.mut.Unlock()
	s.evLogger.Log(events.HostUpdated, map[string]interface{}{
		"host": h.Name(),
	})
}

// Host looks up a host by name.
func (s *Service) Host(name string) (*share.Host, bool) {
	s.mut.RLock()
	defer s.mut.RUnlock()
	h, ok := s.hosts[name]
	return h, ok
}

// RemoveHost drops a host by name and reports whether it was present. The
// local host cannot be removed.
func (s *Service) RemoveHost(name string) bool {
	s.mut.Lock()
	if name == s.local.Name() {
		s.mut.Unlock()
		return false
	}
	_, ok := s.hosts[name]
	delete(s.hosts, name)
	s.mut.Unlock()

	if ok {
		s.evLogger.Log(events.HostUpdated, map[string]interface{}{
			"host":    name,
			"removed": true,
		})
	}
	return ok
}

// LocalHost returns the host that carries the configured shares.
func (s *Service) LocalHost() *share.Host {
	return s.local
}

// Shares returns the local host's current share list.
func (s *Service) Shares() share.List {
	return s.local.Shares()
}

// State returns the current share state.
func (s *Service) State() ShareState {
	return s.shareState.Value()
}

// OnStateChange registers a share state listener and returns its remover.
func (s *Service) OnStateChange(fn func(prev, cur ShareState)) (remove func()) {
	return s.shareState.OnChange(fn)
}

// VerifyConfiguration rejects configurations whose share list or scan
// filters would fail at scan time.
func (s *Service) VerifyConfiguration(_, to config.Configuration) error {
	if _, err := share.ParseList(to.ShareStrings()); err != nil {
		return err
	}
	for _, pat := range to.Options.ScanFilters {
		if _, err := regexp.Compile(pat); err != nil {
			return fmt.Errorf("scan filter %q: %w", pat, err)
		}
	}
	return nil
}

// CommitConfiguration applies a configuration change. Storage layout
// changes require a restart, everything else is applied live.
func (s *Service) CommitConfiguration(from, to config.Configuration) bool {
	if from.Options.StorageMode != to.Options.StorageMode ||
		from.Options.DatabaseDir != to.Options.DatabaseDir ||
		from.Options.ResolveCacheSize != to.Options.ResolveCacheSize {
		return false
	}

	s.applyShares(to, true)
	s.setSearchLimit(to.Options.SearchRateLimit)

	if from.Options.RescanIntervalS != to.Options.RescanIntervalS {
		select {
		case s.rescheduled <- struct{}{}:
		default:
		}
	}
	return true
}

// applyShares replaces the local host's share list when the configured
// declarations actually changed. Declarations are hashed in normalized
// form, so reordering the configuration is not a change.
func (s *Service) applyShares(cfg config.Configuration, markPending bool) {
	raws := cfg.ShareStrings()
	hash := shareListHash(raws)

	s.mut.Lock()
	if hash == s.shareHash {
		s.mut.Unlock()
		return
	}
	list, err := share.ParseList(raws)
	if err != nil {
		s.mut.Unlock()
		l.Warnf("Ignoring share configuration: %v", err)
		return
	}
	s.shareHash = hash
	s.mut.Unlock()

	s.local.SetShares(list)

	if !markPending {
		return
	}
	s.shareState.Set(func(st ShareState) ShareState {
		st.ScanPending = true
		return st
	})
	s.evLogger.Log(events.HostUpdated, map[string]interface{}{
		"host":   s.local.Name(),
		"shares": len(list.Included()),
	})
	l.Infof("Share configuration changed, rescan pending (%d shares)", len(list.Included()))
}

// shareListHash identifies a share configuration. Declarations are trimmed
// of trailing separators, deduplicated and sorted before hashing.
func shareListHash(raws []string) uint64 {
	norm := make([]string, 0, len(raws))
	for _, raw := range raws {
		if t := strings.TrimRight(raw, `/\`); t != "" {
			raw = t
		}
		norm = append(norm, raw)
	}
	norm = util.UniqueTrimmedStrings(norm)
	sort.Strings(norm)

	h := xxhash.New()
	for _, raw := range norm {
		h.WriteString(raw)
		h.Write([]byte{0})
	}
	return h.Sum64()
}

// setSearchLimit reconfigures the search limiter to the given number of
// searches per second. Zero or less disables limiting.
func (s *Service) setSearchLimit(limit int) {
	s.mut.Lock()
	defer s.mut.Unlock()
	switch {
	case limit <= 0 && s.searchGate != nil:
		s.searchGate.Close()
		s.searchGate = nil
		l.Infoln("Search rate limiting disabled")
	case limit > 0 && s.searchGate == nil:
		gate, err := tokenbucket.New(limit, time.Second)
		if err != nil {
			l.Warnf("Search limiter: %v", err)
			return
		}
		s.searchGate = gate
	case limit > 0:
		if err := s.searchGate.SetCapacity(limit); err != nil {
			l.Warnf("Search limiter: %v", err)
		}
	}
}

func (s *Service) searchLimiter() *tokenbucket.Bucket {
	s.mut.RLock()
	defer s.mut.RUnlock()
	return s.searchGate
}

func (s *Service) shareByAlias(alias string) (*share.Share, bool) {
	for _, sh := range s.local.Shares().Included() {
		if sh.Alias == alias {
			return sh, true
		}
	}
	return nil, false
}

func (s *Service) cachedResolve(masked string) (resolved, bool) {
	if s.resolves == nil {
		return resolved{}, false
	}
	return s.resolves.Get(masked)
}

func (s *Service) cacheResolve(masked string, r resolved) {
	if s.resolves != nil {
		s.resolves.Add(masked, r)
	}
}

func (s *Service) dropResolve(masked string) {
	if s.resolves != nil {
		s.resolves.Remove(masked)
	}
}

func (s *Service) purgeResolves() {
	if s.resolves != nil {
		s.resolves.Purge()
	}
}

// groupBrowse shapes flat directory and file listings into the browse
// response. Both inputs arrive sorted by masked name; files keep that order
// within their directory.
func groupBrowse(dirs []string, files []share.File) []BrowsedDirectory {
	index := make(map[string]int, len(dirs))
	out := make([]BrowsedDirectory, 0, len(dirs))
	for _, d := range dirs {
		index[d] = len(out)
		out = append(out, BrowsedDirectory{Name: d, Files: []share.File{}})
	}

	for _, f := range files {
		dir, base := splitMasked(f.MaskedFilename)
		i, ok := index[dir]
		if !ok {
			// The file row was committed after the directory listing
			// was taken. List the directory anyway.
			i = len(out)
			index[dir] = i
			out = append(out, BrowsedDirectory{Name: dir, Files: []share.File{}})
		}
		f.MaskedFilename = base
		out[i].Files = append(out[i].Files, f)
	}

	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

func splitMasked(masked string) (dir, base string) {
	if i := strings.LastIndexByte(masked, '\\'); i >= 0 {
		return masked[:i], masked[i+1:]
	}
	return "", masked
}
