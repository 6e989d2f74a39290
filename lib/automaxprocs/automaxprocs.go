// Copyright (C) 2025 The Sleekd Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package automaxprocs adjusts GOMAXPROCS to match the container CPU quota,
// if any. Import it for its side effect.
package automaxprocs

import (
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/sleekd/sleekd/lib/logger"
)

var l = logger.DefaultLogger.NewFacility("automaxprocs", "GOMAXPROCS container quota adjustment")

func init() {
	maxprocs.Set(maxprocs.Logger(l.Debugf))
}
