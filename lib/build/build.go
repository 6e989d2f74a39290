// Copyright (C) 2025 The Sleekd Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package build exposes the version and build metadata stamped into the
// binary by the build script.
package build

import (
	"fmt"
	"log"
	"regexp"
	"runtime"
	"strconv"
	"time"
)

var (
	// Injected by the build script
	Version = "unknown-dev"
	Host    = "unknown"
	User    = "unknown"
	Stamp   = "0"

	// Static
	Codename = "Beryl Barracuda"

	// Computed in init()
	LongVersion string

	allowedVersionExp = regexp.MustCompile(`^v\d+\.\d+\.\d+(-[a-z0-9]+)*(\.\d+)*(\+\d+-g[0-9a-f]+)?(-[^\s]+)?$`)
)

func init() {
	// Anything but a generic dev build must carry a version in the format
	// produced by git describe.
	if Version != "unknown-dev" && !allowedVersionExp.MatchString(Version) {
		log.Fatalf("Invalid version string %q;\n\tdoes not match regexp %v", Version, allowedVersionExp)
	}

	stamp, _ := strconv.ParseInt(Stamp, 10, 64)
	date := time.Unix(stamp, 0).UTC().Format("2006-01-02 15:04:05 MST")
	LongVersion = fmt.Sprintf(`sleekd %s "%s" (%s %s-%s) %s@%s %s`,
		Version, Codename, runtime.Version(), runtime.GOOS, runtime.GOARCH,
		User, Host, date)
}
