// Copyright (C) 2025 The Sleekd Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package db

import (
	"context"
	"fmt"
	"os"
)

// BackupTo writes a vacuumed copy of the database to path, replacing any
// existing file there. The copy is produced and closed by a single
// statement; no handle on the backup file remains afterwards, so it can be
// moved or deleted freely.
func (i *Instance) BackupTo(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("backup to %s: %w", path, err)
	}
	// Journal leftovers from earlier opens of the target would corrupt the
	// fresh copy.
	os.Remove(path + "-wal")
	os.Remove(path + "-shm")

	_, err := i.db.Exec("VACUUM INTO ?", path)
	observe("backup", err)
	if err != nil {
		return fmt.Errorf("backup to %s: %w", path, err)
	}
	return nil
}

// DumpTo writes a vacuumed copy of the database to path. Unlike BackupTo it
// refuses to replace an existing file.
func (i *Instance) DumpTo(path string) error {
	_, err := i.db.Exec("VACUUM INTO ?", path)
	observe("dump", err)
	if err != nil {
		return fmt.Errorf("dump to %s: %w", path, err)
	}
	return nil
}

// RestoreFrom replaces the database contents with those of the database
// file at path. The schema is created if missing; the token index is
// rebuilt from the restored files.
func (i *Instance) RestoreFrom(path string) error {
	if err := i.Create(false); err != nil {
		return fmt.Errorf("restore from %s: %w", path, err)
	}

	// ATTACH is per connection, so the whole sequence runs on one.
	ctx := context.Background()
	conn, err := i.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("restore from %s: %w", path, err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "ATTACH DATABASE ? AS restore", path); err != nil {
		observe("restore", err)
		return fmt.Errorf("restore from %s: %w", path, err)
	}
	defer conn.ExecContext(ctx, "DETACH DATABASE restore")

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		observe("restore", err)
		return fmt.Errorf("restore from %s: %w", path, err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		"DELETE FROM filenames",
		"DELETE FROM files",
		"DELETE FROM directories",
		"DELETE FROM scans",
		"INSERT INTO scans SELECT startedAt, optionsJson, endedAt, suspect FROM restore.scans",
		"INSERT INTO directories SELECT name, timestamp FROM restore.directories",
		"INSERT INTO files SELECT maskedFilename, originalFilename, size, touchedAt, code, extension, attributeJson, timestamp FROM restore.files",
		"INSERT INTO filenames (maskedFilename) SELECT maskedFilename FROM files",
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			observe("restore", err)
			return fmt.Errorf("restore from %s: %w", path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		observe("restore", err)
		return fmt.Errorf("restore from %s: %w", path, err)
	}

	observe("restore", nil)
	l.Infoln("Restored share index from", path)
	return nil
}
