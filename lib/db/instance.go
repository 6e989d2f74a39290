// Copyright (C) 2025 The Sleekd Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package db implements the share index: an embedded SQLite database with a
// full text index over masked filenames. Read operations log failures and
// return empty results, as they sit on the serving path; write operations
// return errors to the caller.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sleekd/sleekd/lib/svcutil"
	"github.com/sleekd/sleekd/lib/sync"
)

var ErrSchemaInvalid = errors.New("database schema mismatch")

const maxConns = 4

// The canonical schema, in the form SQLite stores it in sqlite_master. We
// create with IF NOT EXISTS, which SQLite strips before storing, so these
// strings serve both creation and validation.
var tables = []struct{ name, ddl string }{
	{"version", "CREATE TABLE version (a INTEGER PRIMARY KEY)"},
	{"scans", "CREATE TABLE scans (startedAt INTEGER PRIMARY KEY, optionsJson TEXT, endedAt INTEGER, suspect INTEGER DEFAULT 0)"},
	{"directories", "CREATE TABLE directories (name TEXT PRIMARY KEY, timestamp INTEGER)"},
	{"filenames", "CREATE VIRTUAL TABLE filenames USING fts5(maskedFilename)"},
	{"files", "CREATE TABLE files (maskedFilename TEXT PRIMARY KEY, originalFilename TEXT, size BIGINT, touchedAt TEXT, code INTEGER DEFAULT 1, extension TEXT, attributeJson TEXT, timestamp INTEGER)"},
}

func createStmt(ddl string) string {
	if rest, ok := strings.CutPrefix(ddl, "CREATE VIRTUAL TABLE "); ok {
		return "CREATE VIRTUAL TABLE IF NOT EXISTS " + rest
	}
	return "CREATE TABLE IF NOT EXISTS " + strings.TrimPrefix(ddl, "CREATE TABLE ")
}

// fatalf aborts the process. Overridden in tests.
var fatalf = func(format string, args ...interface{}) {
	l.Warnf(format, args...)
	os.Exit(svcutil.ExitError.AsInt())
}

// An Instance is one share index database, either file backed or in memory.
// It is safe for concurrent use; SQLite serializes writers internally.
type Instance struct {
	db     *sql.DB
	path   string
	memory bool
	anchor *sql.Conn

	keepaliveMut  sync.Mutex
	keepaliveStop chan struct{}
}

// Open opens or creates the file backed database at path, with write-ahead
// journaling enabled.
func Open(path string) (*Instance, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	return open(dsn, path, false)
}

// openReadOnly opens an existing database without touching its journal
// mode. Used for validating files we must not modify.
func openReadOnly(path string) (*Instance, error) {
	dsn := "file:" + path + "?mode=ro&_pragma=busy_timeout(10000)"
	return open(dsn, path, false)
}

// OpenMemory creates a named in-memory database. All pooled connections
// share the same cache; one anchor connection is held open for the lifetime
// of the instance so the database is not destroyed under us.
func OpenMemory(name string) (*Instance, error) {
	dsn := "file:" + name + "?mode=memory&cache=shared&_pragma=busy_timeout(10000)"
	return open(dsn, name, true)
}

func open(dsn, path string, memory bool) (*Instance, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	sqlDB.SetMaxOpenConns(maxConns)

	i := &Instance{
		db:           sqlDB,
		path:         path,
		memory:       memory,
		keepaliveMut: sync.NewMutex(),
	}

	if memory {
		anchor, err := sqlDB.Conn(context.Background())
		if err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("open database %s: %w", path, err)
		}
		i.anchor = anchor
	}

	if err := sqlDB.Ping(); err != nil {
		i.Close()
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	l.Debugf("opened %s (memory=%v)", path, memory)
	return i, nil
}

// Path returns the file path or memory name the instance was opened with.
func (i *Instance) Path() string {
	return i.path
}

// Memory reports whether this is an in-memory database.
func (i *Instance) Memory() bool {
	return i.memory
}

func (i *Instance) Close() error {
	i.EnableKeepalive(false)
	if i.anchor != nil {
		i.anchor.Close()
		i.anchor = nil
	}
	return i.db.Close()
}

// Create sets up the schema. It is idempotent unless discardExisting is
// set, in which case all tables are dropped first.
func (i *Instance) Create(discardExisting bool) error {
	if discardExisting {
		l.Infof("Discarding existing share index in %s", i.path)
		for j := len(tables) - 1; j >= 0; j-- {
			if _, err := i.db.Exec("DROP TABLE IF EXISTS " + tables[j].name); err != nil {
				observe("create", err)
				return fmt.Errorf("drop table %s: %w", tables[j].name, err)
			}
		}
	}

	for _, tbl := range tables {
		if _, err := i.db.Exec(createStmt(tbl.ddl)); err != nil {
			observe("create", err)
			return fmt.Errorf("create table %s: %w", tbl.name, err)
		}
	}
	if _, err := i.db.Exec("INSERT OR IGNORE INTO version (a) VALUES (1)"); err != nil {
		observe("create", err)
		return fmt.Errorf("create version marker: %w", err)
	}

	observe("create", nil)
	return nil
}

// Validate compares the live schema against the expected one. Extra tables,
// such as the FTS shadow tables, are ignored; missing or differing tables
// are reported as problems.
func (i *Instance) Validate() (problems []string, ok bool) {
	rows, err := i.db.Query("SELECT name, sql FROM sqlite_master WHERE sql IS NOT NULL")
	if err != nil {
		observe("validate", err)
		return []string{err.Error()}, false
	}
	defer rows.Close()

	actual := make(map[string]string)
	for rows.Next() {
		var name, ddl string
		if err := rows.Scan(&name, &ddl); err != nil {
			observe("validate", err)
			return []string{err.Error()}, false
		}
		actual[name] = ddl
	}
	if err := rows.Err(); err != nil {
		observe("validate", err)
		return []string{err.Error()}, false
	}

	for _, tbl := range tables {
		ddl, found := actual[tbl.name]
		switch {
		case !found:
			problems = append(problems, fmt.Sprintf("missing table %q", tbl.name))
		case ddl != tbl.ddl:
			problems = append(problems, fmt.Sprintf("table %q does not match the expected schema", tbl.name))
		}
	}

	observe("validate", nil)
	return problems, len(problems) == 0
}

// ValidateFile opens the database at path read-only, validates its schema
// and closes it again. No handle on the file remains afterwards.
func ValidateFile(path string) (problems []string, ok bool) {
	if _, err := os.Stat(path); err != nil {
		return []string{err.Error()}, false
	}
	inst, err := openReadOnly(path)
	if err != nil {
		return []string{err.Error()}, false
	}
	defer inst.Close()
	return inst.Validate()
}

var keepaliveInterval = time.Second

// EnableKeepalive starts or stops a periodic probe of the filenames token
// index. A failed probe means the database is gone, which for the in-memory
// mode cannot be recovered without a restart, so it aborts the process.
func (i *Instance) EnableKeepalive(on bool) {
	i.keepaliveMut.Lock()
	defer i.keepaliveMut.Unlock()

	switch {
	case on && i.keepaliveStop == nil:
		l.Debugf("starting keepalive on %s", i.path)
		i.keepaliveStop = make(chan struct{})
		go i.keepalive(i.keepaliveStop)
	case !on && i.keepaliveStop != nil:
		l.Debugf("stopping keepalive on %s", i.path)
		close(i.keepaliveStop)
		i.keepaliveStop = nil
	}
}

func (i *Instance) keepalive(stop chan struct{}) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			var cols int
			err := i.db.QueryRow("SELECT count(*) FROM pragma_table_info('filenames')").Scan(&cols)
			if err != nil || cols != 1 {
				metricKeepaliveFailuresTotal.Inc()
				fatalf("Share index keepalive probe failed on %s (columns=%d, err=%v); the index is gone and the process must restart", i.path, cols, err)
				return
			}
		case <-stop:
			return
		}
	}
}

// Vacuum rebuilds the database file, reclaiming free pages.
func (i *Instance) Vacuum() error {
	_, err := i.db.Exec("VACUUM")
	observe("vacuum", err)
	if err != nil {
		return fmt.Errorf("vacuum %s: %w", i.path, err)
	}
	return nil
}
