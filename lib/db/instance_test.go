// Copyright (C) 2025 The Sleekd Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package db

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestInstance(t *testing.T) *Instance {
	t.Helper()
	inst, err := Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { inst.Close() })
	if err := inst.Create(false); err != nil {
		t.Fatal(err)
	}
	return inst
}

func TestCreateIsIdempotent(t *testing.T) {
	inst := newTestInstance(t)

	if err := inst.InsertDirectory(`abcde\Music`, 1); err != nil {
		t.Fatal(err)
	}
	if err := inst.Create(false); err != nil {
		t.Fatal(err)
	}
	if n := inst.CountDirectories(""); n != 1 {
		t.Errorf("create without discard lost data, %d directories remain", n)
	}
	if problems, ok := inst.Validate(); !ok {
		t.Errorf("schema invalid after create: %v", problems)
	}
}

func TestCreateDiscardsExisting(t *testing.T) {
	inst := newTestInstance(t)

	if err := inst.InsertScan(100, "{}"); err != nil {
		t.Fatal(err)
	}
	if err := inst.InsertDirectory(`abcde\Music`, 100); err != nil {
		t.Fatal(err)
	}

	if err := inst.Create(true); err != nil {
		t.Fatal(err)
	}
	if _, ok := inst.LatestScan(); ok {
		t.Error("scan row survived recreation")
	}
	if n := inst.CountDirectories(""); n != 0 {
		t.Errorf("%d directory rows survived recreation", n)
	}
	if problems, ok := inst.Validate(); !ok {
		t.Errorf("schema invalid after recreation: %v", problems)
	}
}

func TestValidateDetectsMissingTable(t *testing.T) {
	inst := newTestInstance(t)

	if _, err := inst.db.Exec("DROP TABLE directories"); err != nil {
		t.Fatal(err)
	}
	problems, ok := inst.Validate()
	if ok {
		t.Fatal("expected validation failure after dropping a table")
	}
	found := false
	for _, p := range problems {
		if strings.Contains(p, "directories") {
			found = true
		}
	}
	if !found {
		t.Errorf("problems do not mention the dropped table: %v", problems)
	}
}

func TestValidateDetectsAlteredTable(t *testing.T) {
	inst := newTestInstance(t)

	if _, err := inst.db.Exec("ALTER TABLE scans ADD COLUMN junk INTEGER"); err != nil {
		t.Fatal(err)
	}
	if _, ok := inst.Validate(); ok {
		t.Fatal("expected validation failure after altering a table")
	}
}

func TestOpenMemory(t *testing.T) {
	inst, err := OpenMemory("TestOpenMemory")
	if err != nil {
		t.Fatal(err)
	}
	defer inst.Close()

	if !inst.Memory() {
		t.Error("expected a memory instance")
	}
	if err := inst.Create(false); err != nil {
		t.Fatal(err)
	}
	if err := inst.InsertDirectory(`abcde\Music`, 1); err != nil {
		t.Fatal(err)
	}
	if n := inst.CountDirectories(""); n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestValidateFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")

	inst, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := inst.Create(false); err != nil {
		t.Fatal(err)
	}
	if err := inst.InsertDirectory(`abcde\Music`, 1); err != nil {
		t.Fatal(err)
	}
	if err := inst.Close(); err != nil {
		t.Fatal(err)
	}

	if problems, ok := ValidateFile(path); !ok {
		t.Errorf("good file failed validation: %v", problems)
	}
	if _, ok := ValidateFile(filepath.Join(dir, "missing.db")); ok {
		t.Error("missing file passed validation")
	}

	garbage := filepath.Join(dir, "garbage.db")
	if err := os.WriteFile(garbage, []byte("this is not a database"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, ok := ValidateFile(garbage); ok {
		t.Error("garbage file passed validation")
	}
}

func TestKeepaliveAbortsWhenIndexGone(t *testing.T) {
	oldInterval := keepaliveInterval
	oldFatalf := fatalf
	keepaliveInterval = 10 * time.Millisecond
	fatal := make(chan string, 1)
	fatalf = func(format string, args ...interface{}) {
		select {
		case fatal <- fmt.Sprintf(format, args...):
		default:
		}
	}
	defer func() {
		keepaliveInterval = oldInterval
		fatalf = oldFatalf
	}()

	inst, err := OpenMemory("TestKeepaliveAborts")
	if err != nil {
		t.Fatal(err)
	}
	defer inst.Close()
	if err := inst.Create(false); err != nil {
		t.Fatal(err)
	}

	inst.EnableKeepalive(true)
	defer inst.EnableKeepalive(false)

	// A healthy index survives a few probes.
	time.Sleep(50 * time.Millisecond)
	select {
	case msg := <-fatal:
		t.Fatalf("premature abort: %s", msg)
	default:
	}

	if _, err := inst.db.Exec("DROP TABLE filenames"); err != nil {
		t.Fatal(err)
	}

	select {
	case <-fatal:
	case <-time.After(5 * time.Second):
		t.Fatal("keepalive did not notice the dropped index")
	}
}

func TestVacuum(t *testing.T) {
	inst := newTestInstance(t)

	for n := 0; n < 100; n++ {
		if err := inst.InsertDirectory(fmt.Sprintf(`abcde\dir%03d`, n), 1); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := inst.PruneDirectories(2); err != nil {
		t.Fatal(err)
	}
	if err := inst.Vacuum(); err != nil {
		t.Fatal(err)
	}
}
