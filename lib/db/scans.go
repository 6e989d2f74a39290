// Copyright (C) 2025 The Sleekd Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package db

import (
	"database/sql"
	"errors"
	"fmt"
)

// A Scan is one crawl record. EndedAt is zero while the scan is running or
// when it never completed. Suspect means a cached file was resolved to a
// missing on-disk file after this scan.
type Scan struct {
	StartedAt   int64
	OptionsJSON string
	EndedAt     int64
	Suspect     bool
}

func (i *Instance) InsertScan(startedAt int64, optionsJSON string) error {
	_, err := i.db.Exec("INSERT INTO scans (startedAt, optionsJson) VALUES (?, ?)", startedAt, optionsJSON)
	observe("insertScan", err)
	if err != nil {
		return fmt.Errorf("insert scan %d: %w", startedAt, err)
	}
	return nil
}

func (i *Instance) UpdateScan(startedAt, endedAt int64) error {
	_, err := i.db.Exec("UPDATE scans SET endedAt = ? WHERE startedAt = ?", endedAt, startedAt)
	observe("updateScan", err)
	if err != nil {
		return fmt.Errorf("update scan %d: %w", startedAt, err)
	}
	return nil
}

// FlagLatestScanSuspect marks the most recent scan as suspect. It is a
// no-op when no scan exists.
func (i *Instance) FlagLatestScanSuspect() error {
	_, err := i.db.Exec("UPDATE scans SET suspect = 1 WHERE startedAt = (SELECT max(startedAt) FROM scans)")
	observe("flagSuspect", err)
	if err != nil {
		return fmt.Errorf("flag latest scan suspect: %w", err)
	}
	return nil
}

// LatestScan returns the most recent scan record, if any.
func (i *Instance) LatestScan() (Scan, bool) {
	row := i.db.QueryRow("SELECT startedAt, optionsJson, endedAt, suspect FROM scans ORDER BY startedAt DESC LIMIT 1")

	var s Scan
	var endedAt sql.NullInt64
	err := row.Scan(&s.StartedAt, &s.OptionsJSON, &endedAt, &s.Suspect)
	if errors.Is(err, sql.ErrNoRows) {
		observe("latestScan", nil)
		return Scan{}, false
	}
	observe("latestScan", err)
	if err != nil {
		l.Infof("Reading latest scan failed: %v", err)
		return Scan{}, false
	}
	s.EndedAt = endedAt.Int64
	return s, true
}

// Scans lists scan records started at or after since, oldest first.
func (i *Instance) Scans(since int64) []Scan {
	rows, err := i.db.Query("SELECT startedAt, optionsJson, endedAt, suspect FROM scans WHERE startedAt >= ? ORDER BY startedAt", since)
	observe("scans", err)
	if err != nil {
		l.Infof("Listing scans failed: %v", err)
		return nil
	}
	defer rows.Close()

	var res []Scan
	for rows.Next() {
		var s Scan
		var endedAt sql.NullInt64
		if err := rows.Scan(&s.StartedAt, &s.OptionsJSON, &endedAt, &s.Suspect); err != nil {
			l.Infof("Listing scans failed: %v", err)
			return nil
		}
		s.EndedAt = endedAt.Int64
		res = append(res, s)
	}
	if err := rows.Err(); err != nil {
		l.Infof("Listing scans failed: %v", err)
		return nil
	}
	return res
}
