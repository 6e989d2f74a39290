// Copyright (C) 2025 The Sleekd Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/d4l3k/messagediff"

	"github.com/sleekd/sleekd/lib/events"
)

func TestDefaultValues(t *testing.T) {
	cfg := New()

	if cfg.Version != CurrentVersion {
		t.Errorf("version: %d != %d", cfg.Version, CurrentVersion)
	}
	if cfg.Shares == nil || len(cfg.Shares) != 0 {
		t.Errorf("shares: expected empty, got %v", cfg.Shares)
	}

	expected := OptionsConfiguration{
		InstanceName:     cfg.Options.InstanceName, // hostname, not asserted
		StorageMode:      StorageModeDisk,
		ScanWorkers:      4,
		ScanFilters:      []string{},
		RescanIntervalS:  0,
		SearchRateLimit:  0,
		ResolveCacheSize: 4096,
	}
	if diff, equal := messagediff.PrettyDiff(expected, cfg.Options); !equal {
		t.Errorf("unexpected defaults: %s", diff)
	}
}

func TestReadXML(t *testing.T) {
	data := `
<configuration version="1">
    <share path="/data/music"/>
    <share path="[flac]/data/flac"/>
    <share path="-/data/music/private"/>
    <options>
        <instanceName>basement</instanceName>
        <databaseDir>/var/lib/sleekd</databaseDir>
        <storageMode>memory</storageMode>
        <scanWorkers>8</scanWorkers>
        <scanFilter>\.nfo$</scanFilter>
        <scanFilter>(?i)\.log$</scanFilter>
        <rescanIntervalS>3600</rescanIntervalS>
        <searchRateLimit>25</searchRateLimit>
        <resolveCacheSize>128</resolveCacheSize>
    </options>
</configuration>
`

	cfg, err := ReadXML(strings.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}

	expectedShares := []ShareConfiguration{
		{Raw: "/data/music"},
		{Raw: "[flac]/data/flac"},
		{Raw: "-/data/music/private"},
	}
	if diff, equal := messagediff.PrettyDiff(expectedShares, cfg.Shares); !equal {
		t.Errorf("unexpected shares: %s", diff)
	}

	expectedOptions := OptionsConfiguration{
		InstanceName:     "basement",
		DatabaseDir:      "/var/lib/sleekd",
		StorageMode:      StorageModeMemory,
		ScanWorkers:      8,
		ScanFilters:      []string{`\.nfo$`, `(?i)\.log$`},
		RescanIntervalS:  3600,
		SearchRateLimit:  25,
		ResolveCacheSize: 128,
	}
	if diff, equal := messagediff.PrettyDiff(expectedOptions, cfg.Options); !equal {
		t.Errorf("unexpected options: %s", diff)
	}
}

func TestInvalidShareMarked(t *testing.T) {
	data := `
<configuration version="1">
    <share path="/data/music"/>
    <share path="[bad/alias]/data/other"/>
    <share path="  /data/music "/>
    <share path="   "/>
</configuration>
`

	cfg, err := ReadXML(strings.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}

	// The blank declaration is dropped and the duplicate (after trimming)
	// collapses into the first, leaving two.
	if len(cfg.Shares) != 2 {
		t.Fatalf("expected 2 shares, got %d: %v", len(cfg.Shares), cfg.Shares)
	}
	if cfg.Shares[0].Invalid != "" {
		t.Errorf("share %q unexpectedly invalid: %v", cfg.Shares[0].Raw, cfg.Shares[0].Invalid)
	}
	if cfg.Shares[1].Invalid == "" {
		t.Errorf("share %q should be invalid", cfg.Shares[1].Raw)
	}

	if ss := cfg.ShareStrings(); len(ss) != 1 || ss[0] != "/data/music" {
		t.Errorf("unexpected valid share strings: %v", ss)
	}
}

func TestOptionsClamping(t *testing.T) {
	data := `
<configuration version="1">
    <options>
        <rescanIntervalS>-5</rescanIntervalS>
        <searchRateLimit>-1</searchRateLimit>
        <scanFilter> \.nfo$ </scanFilter>
        <scanFilter>\.nfo$</scanFilter>
    </options>
</configuration>
`

	cfg, err := ReadXML(strings.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Options.RescanIntervalS != 0 {
		t.Errorf("rescanIntervalS: %d != 0", cfg.Options.RescanIntervalS)
	}
	if cfg.Options.SearchRateLimit != 0 {
		t.Errorf("searchRateLimit: %d != 0", cfg.Options.SearchRateLimit)
	}
	if len(cfg.Options.ScanFilters) != 1 || cfg.Options.ScanFilters[0] != `\.nfo$` {
		t.Errorf("scanFilters not deduplicated: %v", cfg.Options.ScanFilters)
	}
}

func TestStorageModeText(t *testing.T) {
	cases := []struct {
		in  string
		out StorageMode
	}{
		{"disk", StorageModeDisk},
		{"memory", StorageModeMemory},
		{"gibberish", StorageModeDisk},
	}
	for _, tc := range cases {
		var m StorageMode
		if err := m.UnmarshalText([]byte(tc.in)); err != nil {
			t.Fatal(err)
		}
		if m != tc.out {
			t.Errorf("%q: %v != %v", tc.in, m, tc.out)
		}
	}

	if bs, err := StorageModeMemory.MarshalText(); err != nil || string(bs) != "memory" {
		t.Errorf("marshal: %q, %v", bs, err)
	}
}

func TestWriteReadRoundtrip(t *testing.T) {
	cfg := New()
	cfg.Shares = []ShareConfiguration{
		{Raw: "[flac]/data/flac"},
		{Raw: "-/data/flac/private"},
	}
	cfg.Options.InstanceName = "basement"
	cfg.Options.ScanFilters = []string{`\.nfo$`}
	cfg.Options.SearchRateLimit = 10
	if err := cfg.clean(); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := cfg.WriteXML(&buf); err != nil {
		t.Fatal(err)
	}

	read, err := ReadXML(&buf)
	if err != nil {
		t.Fatal(err)
	}

	if diff, equal := messagediff.PrettyDiff(cfg.Shares, read.Shares); !equal {
		t.Errorf("shares changed in roundtrip: %s", diff)
	}
	if diff, equal := messagediff.PrettyDiff(cfg.Options, read.Options); !equal {
		t.Errorf("options changed in roundtrip: %s", diff)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nonexistent.xml"), events.NewLogger()); !os.IsNotExist(err) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}
