// Copyright (C) 2025 The Sleekd Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package config implements reading and writing of the sleekd configuration
// file.
package config

import (
	"encoding/xml"
	"io"
	"os"
	"strings"

	"github.com/sleekd/sleekd/lib/share"
	"github.com/sleekd/sleekd/lib/util"
)

const (
	OldestHandledVersion = 1
	CurrentVersion       = 1

	MaxRescanIntervalS = 365 * 24 * 60 * 60
)

type Configuration struct {
	Version int                  `xml:"version,attr" json:"version"`
	Shares  []ShareConfiguration `xml:"share" json:"shares"`
	Options OptionsConfiguration `xml:"options" json:"options"`
	XMLName xml.Name             `xml:"configuration" json:"-"`

	OriginalVersion int `xml:"-" json:"-"` // The version we read from disk, before any conversion
}

func (cfg Configuration) Copy() Configuration {
	newCfg := cfg

	newCfg.Shares = make([]ShareConfiguration, len(cfg.Shares))
	copy(newCfg.Shares, cfg.Shares)

	newCfg.Options = cfg.Options.Copy()

	return newCfg
}

// ShareStrings returns the raw declarations of all valid shares, in
// declaration order.
func (cfg Configuration) ShareStrings() []string {
	ss := make([]string, 0, len(cfg.Shares))
	for _, sc := range cfg.Shares {
		if sc.Invalid == "" {
			ss = append(ss, sc.Raw)
		}
	}
	return ss
}

// A ShareConfiguration is one raw share declaration, in the syntax understood
// by share.Parse. Declarations that do not parse are kept in the
// configuration but marked invalid at load time, and do not contribute to the
// index.
type ShareConfiguration struct {
	Raw string `xml:"path,attr" json:"path"`

	Invalid string `xml:"-" json:"invalid"` // Set at runtime when the declaration does not parse, not saved
}

type OptionsConfiguration struct {
	InstanceName     string      `xml:"instanceName" json:"instanceName"`
	DatabaseDir      string      `xml:"databaseDir" json:"databaseDir"`
	StorageMode      StorageMode `xml:"storageMode" json:"storageMode"`
	ScanWorkers      int         `xml:"scanWorkers" json:"scanWorkers" default:"4"`
	ScanFilters      []string    `xml:"scanFilter" json:"scanFilters"`
	RescanIntervalS  int         `xml:"rescanIntervalS" json:"rescanIntervalS"`
	SearchRateLimit  int         `xml:"searchRateLimit" json:"searchRateLimit"`
	ResolveCacheSize int         `xml:"resolveCacheSize" json:"resolveCacheSize" default:"4096"`
}

func (opts OptionsConfiguration) Copy() OptionsConfiguration {
	c := opts
	c.ScanFilters = make([]string, len(opts.ScanFilters))
	copy(c.ScanFilters, opts.ScanFilters)
	return c
}

// New returns a configuration with default values, no shares.
func New() Configuration {
	var cfg Configuration
	cfg.Version = CurrentVersion
	cfg.OriginalVersion = CurrentVersion

	util.SetDefaults(&cfg.Options)

	if err := cfg.clean(); err != nil {
		// The default configuration should never be invalid.
		panic(err)
	}

	return cfg
}

func ReadXML(r io.Reader) (Configuration, error) {
	var cfg Configuration

	util.SetDefaults(&cfg.Options)

	if err := xml.NewDecoder(r).Decode(&cfg); err != nil {
		return Configuration{}, err
	}
	cfg.OriginalVersion = cfg.Version

	if err := cfg.clean(); err != nil {
		return Configuration{}, err
	}
	return cfg, nil
}

func (cfg *Configuration) WriteXML(w io.Writer) error {
	e := xml.NewEncoder(w)
	e.Indent("", "    ")
	err := e.Encode(cfg)
	if err != nil {
		return err
	}
	_, err = w.Write([]byte("\n"))
	return err
}

func (cfg *Configuration) clean() error {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}

	// Drop blank and duplicate share declarations. Declarations that do
	// not parse are marked invalid rather than dropped, so they survive a
	// save and the operator can fix them in place.
	seen := make(map[string]struct{}, len(cfg.Shares))
	shares := cfg.Shares[:0]
	for _, sc := range cfg.Shares {
		sc.Raw = strings.TrimSpace(sc.Raw)
		if sc.Raw == "" {
			continue
		}
		if _, ok := seen[sc.Raw]; ok {
			continue
		}
		seen[sc.Raw] = struct{}{}

		sc.Invalid = ""
		if _, err := share.Parse(sc.Raw); err != nil {
			l.Warnf("Invalid share declaration %q: %v", sc.Raw, err)
			sc.Invalid = err.Error()
		}
		shares = append(shares, sc)
	}
	if shares == nil {
		shares = []ShareConfiguration{}
	}
	cfg.Shares = shares

	cfg.Options.ScanFilters = util.UniqueTrimmedStrings(cfg.Options.ScanFilters)

	if cfg.Options.RescanIntervalS > MaxRescanIntervalS {
		cfg.Options.RescanIntervalS = MaxRescanIntervalS
	} else if cfg.Options.RescanIntervalS < 0 {
		cfg.Options.RescanIntervalS = 0
	}
	if cfg.Options.SearchRateLimit < 0 {
		cfg.Options.SearchRateLimit = 0
	}
	if cfg.Options.InstanceName == "" {
		cfg.Options.InstanceName, _ = os.Hostname()
	}

	return nil
}
