// Copyright (C) 2025 The Sleekd Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sleekd/sleekd/lib/share"
)

// Prefix conditions. A prefix matches the row itself and anything below it
// on the wire, never across a segment boundary; the empty prefix matches
// everything.
const (
	dirPrefixWhere  = `(?1 = '' OR name = ?1 OR substr(name, 1, length(?1) + 1) = ?1 || '\')`
	filePrefixWhere = `(?1 = '' OR maskedFilename = ?1 OR substr(maskedFilename, 1, length(?1) + 1) = ?1 || '\')`

	fileColumns          = "maskedFilename, originalFilename, size, code, extension, attributeJson"
	fileColumnsQualified = "files.maskedFilename, files.originalFilename, files.size, files.code, files.extension, files.attributeJson"
)

// InsertDirectory upserts a directory row, refreshing its timestamp.
func (i *Instance) InsertDirectory(name string, timestamp int64) error {
	_, err := i.db.Exec(`
		INSERT INTO directories (name, timestamp) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET timestamp = excluded.timestamp`,
		name, timestamp)
	observe("insertDirectory", err)
	if err != nil {
		return fmt.Errorf("insert directory %q: %w", name, err)
	}
	return nil
}

// InsertFile upserts a file row and keeps the token index in step with it.
func (i *Instance) InsertFile(f share.File, touchedAt time.Time, timestamp int64) error {
	attrs := "[]"
	if len(f.Attributes) > 0 {
		bs, err := json.Marshal(f.Attributes)
		if err != nil {
			return fmt.Errorf("insert file %q: %w", f.MaskedFilename, err)
		}
		attrs = string(bs)
	}

	tx, err := i.db.Begin()
	if err != nil {
		observe("insertFile", err)
		return fmt.Errorf("insert file %q: %w", f.MaskedFilename, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM filenames WHERE maskedFilename = ?", f.MaskedFilename); err != nil {
		observe("insertFile", err)
		return fmt.Errorf("insert file %q: %w", f.MaskedFilename, err)
	}
	if _, err := tx.Exec("INSERT INTO filenames (maskedFilename) VALUES (?)", f.MaskedFilename); err != nil {
		observe("insertFile", err)
		return fmt.Errorf("insert file %q: %w", f.MaskedFilename, err)
	}
	if _, err := tx.Exec(`
		INSERT INTO files (maskedFilename, originalFilename, size, touchedAt, code, extension, attributeJson, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (maskedFilename) DO UPDATE SET
			originalFilename = excluded.originalFilename,
			size = excluded.size,
			touchedAt = excluded.touchedAt,
			code = excluded.code,
			extension = excluded.extension,
			attributeJson = excluded.attributeJson,
			timestamp = excluded.timestamp`,
		f.MaskedFilename, f.OriginalFilename, f.Size,
		touchedAt.UTC().Format(time.RFC3339), f.Code, f.Extension, attrs, timestamp); err != nil {
		observe("insertFile", err)
		return fmt.Errorf("insert file %q: %w", f.MaskedFilename, err)
	}

	err = tx.Commit()
	observe("insertFile", err)
	if err != nil {
		return fmt.Errorf("insert file %q: %w", f.MaskedFilename, err)
	}
	return nil
}

// PruneDirectories removes directory rows strictly older than the given
// timestamp and returns the number removed.
func (i *Instance) PruneDirectories(olderThan int64) (int, error) {
	res, err := i.db.Exec("DELETE FROM directories WHERE timestamp < ?", olderThan)
	observe("pruneDirectories", err)
	if err != nil {
		return 0, fmt.Errorf("prune directories: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PruneFiles removes file rows strictly older than the given timestamp,
// with their token index entries, and returns the number removed.
func (i *Instance) PruneFiles(olderThan int64) (int, error) {
	tx, err := i.db.Begin()
	if err != nil {
		observe("pruneFiles", err)
		return 0, fmt.Errorf("prune files: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM filenames WHERE maskedFilename IN (SELECT maskedFilename FROM files WHERE timestamp < ?)", olderThan); err != nil {
		observe("pruneFiles", err)
		return 0, fmt.Errorf("prune files: %w", err)
	}
	res, err := tx.Exec("DELETE FROM files WHERE timestamp < ?", olderThan)
	if err != nil {
		observe("pruneFiles", err)
		return 0, fmt.Errorf("prune files: %w", err)
	}
	n, _ := res.RowsAffected()

	err = tx.Commit()
	observe("pruneFiles", err)
	if err != nil {
		return 0, fmt.Errorf("prune files: %w", err)
	}
	return int(n), nil
}

// RebuildFilenameIndex empties the token index and repopulates it from the
// files table.
func (i *Instance) RebuildFilenameIndex() error {
	tx, err := i.db.Begin()
	if err != nil {
		observe("rebuildIndex", err)
		return fmt.Errorf("rebuild filename index: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM filenames"); err != nil {
		observe("rebuildIndex", err)
		return fmt.Errorf("rebuild filename index: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO filenames (maskedFilename) SELECT maskedFilename FROM files"); err != nil {
		observe("rebuildIndex", err)
		return fmt.Errorf("rebuild filename index: %w", err)
	}

	err = tx.Commit()
	observe("rebuildIndex", err)
	if err != nil {
		return fmt.Errorf("rebuild filename index: %w", err)
	}
	return nil
}

// Directories lists directory names under the prefix, ascending.
func (i *Instance) Directories(prefix string) []string {
	rows, err := i.db.Query("SELECT name FROM directories WHERE "+dirPrefixWhere+" ORDER BY name", prefix)
	observe("directories", err)
	if err != nil {
		l.Infof("Listing directories failed: %v", err)
		return nil
	}
	defer rows.Close()

	var res []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			l.Infof("Listing directories failed: %v", err)
			return nil
		}
		res = append(res, name)
	}
	if err := rows.Err(); err != nil {
		l.Infof("Listing directories failed: %v", err)
		return nil
	}
	return res
}

// FilesWithPrefix lists file records under the prefix, ascending by masked
// name.
func (i *Instance) FilesWithPrefix(prefix string) []share.File {
	rows, err := i.db.Query("SELECT "+fileColumns+" FROM files WHERE "+filePrefixWhere+" ORDER BY maskedFilename", prefix)
	observe("files", err)
	if err != nil {
		l.Infof("Listing files failed: %v", err)
		return nil
	}
	defer rows.Close()
	return collectFiles(rows)
}

// FilesInDirectory lists the files directly inside the masked directory,
// non-recursive, ascending. With includeFullPath unset the masked names are
// reduced to base names, as presented in browse listings.
func (i *Instance) FilesInDirectory(dir string, includeFullPath bool) []share.File {
	rows, err := i.db.Query(`
		SELECT `+fileColumns+` FROM files
		WHERE substr(maskedFilename, 1, length(?1) + 1) = ?1 || '\'
		  AND instr(substr(maskedFilename, length(?1) + 2), '\') = 0
		ORDER BY maskedFilename`, dir)
	observe("filesInDirectory", err)
	if err != nil {
		l.Infof("Listing files failed: %v", err)
		return nil
	}
	defer rows.Close()

	files := collectFiles(rows)
	if !includeFullPath {
		for idx := range files {
			files[idx].MaskedFilename = baseName(files[idx].MaskedFilename)
		}
	}
	return files
}

// CountDirectories returns the number of directories under the prefix.
func (i *Instance) CountDirectories(prefix string) int {
	var n int
	err := i.db.QueryRow("SELECT count(*) FROM directories WHERE "+dirPrefixWhere, prefix).Scan(&n)
	observe("countDirectories", err)
	if err != nil {
		l.Infof("Counting directories failed: %v", err)
		return 0
	}
	return n
}

// CountFiles returns the number of files under the prefix.
func (i *Instance) CountFiles(prefix string) int {
	var n int
	err := i.db.QueryRow("SELECT count(*) FROM files WHERE "+filePrefixWhere, prefix).Scan(&n)
	observe("countFiles", err)
	if err != nil {
		l.Infof("Counting files failed: %v", err)
		return 0
	}
	return n
}

// FindFileInfo resolves a masked filename to its local path and size.
func (i *Instance) FindFileInfo(maskedFilename string) (originalFilename string, size int64, ok bool) {
	err := i.db.QueryRow("SELECT originalFilename, size FROM files WHERE maskedFilename = ?", maskedFilename).
		Scan(&originalFilename, &size)
	if errors.Is(err, sql.ErrNoRows) {
		observe("findFileInfo", nil)
		return "", 0, false
	}
	observe("findFileInfo", err)
	if err != nil {
		l.Infof("Resolving %q failed: %v", maskedFilename, err)
		return "", 0, false
	}
	return originalFilename, size, true
}

func collectFiles(rows *sql.Rows) []share.File {
	var res []share.File
	for rows.Next() {
		var f share.File
		var attrs string
		if err := rows.Scan(&f.MaskedFilename, &f.OriginalFilename, &f.Size, &f.Code, &f.Extension, &attrs); err != nil {
			l.Infof("Listing files failed: %v", err)
			return nil
		}
		if attrs != "" && attrs != "null" && attrs != "[]" {
			if err := json.Unmarshal([]byte(attrs), &f.Attributes); err != nil {
				l.Infof("Listing files failed: %v", err)
				return nil
			}
		}
		res = append(res, f)
	}
	if err := rows.Err(); err != nil {
		l.Infof("Listing files failed: %v", err)
		return nil
	}
	return res
}

func baseName(masked string) string {
	if idx := strings.LastIndex(masked, share.Separator); idx >= 0 {
		return masked[idx+1:]
	}
	return masked
}
