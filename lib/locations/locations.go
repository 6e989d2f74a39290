// Copyright (C) 2025 The Sleekd Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package locations resolves the platform default paths for the
// configuration file and the share index.
package locations

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

type LocationEnum string

// Use strings as keys to make printout and serialization of the locations
// map more meaningful.
const (
	ConfigFile     LocationEnum = "config"
	Database       LocationEnum = "database"
	BackupDatabase LocationEnum = "backupDatabase"
)

type BaseDirEnum string

const (
	// Overridden by the -config and -data flags.
	ConfigBaseDir BaseDirEnum = "config"
	DataBaseDir   BaseDirEnum = "data"

	databaseName = "shares.db"
	backupName   = "shares.backup.db"
)

// Platform dependent directories
var baseDirs = make(map[BaseDirEnum]string, 2)

func init() {
	userHome, err := os.UserHomeDir()
	if err != nil {
		userHome = "."
	}
	fileExists := func(path string) bool {
		_, err := os.Lstat(path)
		return err == nil
	}
	config := defaultConfigDir(userHome)
	baseDirs[ConfigBaseDir] = config
	baseDirs[DataBaseDir] = defaultDataDir(userHome, config, fileExists)

	expandLocations()
}

// SetBaseDir overrides a base directory and recomputes the locations that
// derive from it.
func SetBaseDir(baseDirName BaseDirEnum, path string) error {
	_, ok := baseDirs[baseDirName]
	if !ok {
		return fmt.Errorf("unknown base dir: %s", baseDirName)
	}
	baseDirs[baseDirName] = filepath.Clean(path)
	expandLocations()
	return nil
}

func Get(location LocationEnum) string {
	return locations[location]
}

func GetBaseDir(baseDir BaseDirEnum) string {
	return baseDirs[baseDir]
}

// Use the variables from baseDirs here
var locationTemplates = map[LocationEnum]string{
	ConfigFile:     "${config}/sleekd.xml",
	Database:       "${data}/" + databaseName,
	BackupDatabase: "${data}/" + backupName,
}

var locations = make(map[LocationEnum]string)

// expandLocations replaces the variables in the locations map with actual
// directory locations.
func expandLocations() {
	newLocations := make(map[LocationEnum]string)
	for key, dir := range locationTemplates {
		for varName, value := range baseDirs {
			dir = strings.ReplaceAll(dir, "${"+string(varName)+"}", value)
		}
		newLocations[key] = filepath.Clean(dir)
	}
	locations = newLocations
}

// defaultConfigDir returns the default configuration directory, as figured
// out by the environment variables present on each platform.
func defaultConfigDir(userHome string) string {
	switch runtime.GOOS {
	case "windows":
		if p := os.Getenv("LocalAppData"); p != "" {
			return filepath.Join(p, "Sleekd")
		}
		return filepath.Join(os.Getenv("AppData"), "Sleekd")

	case "darwin":
		return filepath.Join(userHome, "Library/Application Support/Sleekd")

	default:
		if xdgCfg := os.Getenv("XDG_CONFIG_HOME"); xdgCfg != "" {
			return filepath.Join(xdgCfg, "sleekd")
		}
		return filepath.Join(userHome, ".config/sleekd")
	}
}

// defaultDataDir returns the default data directory, which usually is the
// config directory but might be something else.
func defaultDataDir(userHome, config string, fileExists func(string) bool) string {
	switch runtime.GOOS {
	case "windows", "darwin":
		return config

	default:
		return unixDataDir(userHome, config, os.Getenv("XDG_DATA_HOME"), fileExists)
	}
}

func unixDataDir(userHome, config, xdgDataHome string, fileExists func(string) bool) string {
	// An index next to the configuration wins, wherever the configuration
	// ended up.
	if fileExists(filepath.Join(config, databaseName)) {
		return config
	}
	// Always use this env var, as it's explicitly set by the user.
	if xdgDataHome != "" {
		return filepath.Join(xdgDataHome, "sleekd")
	}
	// Only use the XDG default if a sleekd specific dir already exists.
	// Existence of ~/.local/share alone is not deemed enough, as it may
	// also exist erroneously on non-XDG systems.
	xdgDefault := filepath.Join(userHome, ".local/share/sleekd")
	if fileExists(xdgDefault) {
		return xdgDefault
	}
	return config
}
