// Copyright (C) 2025 The Sleekd Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package chanutil

import (
	"github.com/sleekd/sleekd/lib/logger"
)

var l = logger.DefaultLogger.NewFacility("chanutil", "Channel reader plumbing")
