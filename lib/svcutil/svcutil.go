// Copyright (C) 2025 The Sleekd Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package svcutil provides the glue between suture supervision and the rest
// of the daemon: supervisor specs wired to our logging, and the process exit
// statuses understood by wrapper scripts.
package svcutil

import (
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/sleekd/sleekd/lib/logger"
)

// ServiceTimeout is how long a service gets to shut down once its context
// is cancelled before the supervisor gives up on it.
const ServiceTimeout = 10 * time.Second

type ExitStatus int

const (
	ExitSuccess ExitStatus = 0
	ExitError   ExitStatus = 1
	// ExitRestart asks the surrounding wrapper, if any, to start us again.
	ExitRestart ExitStatus = 3
)

func (s ExitStatus) AsInt() int {
	return int(s)
}

// SpecWithInfoLogger returns a supervisor spec that narrates service
// lifecycle events at info level.
func SpecWithInfoLogger(l logger.Logger) suture.Spec {
	return suture.Spec{
		EventHook:         func(e suture.Event) { l.Infoln(e) },
		Timeout:           ServiceTimeout,
		PassThroughPanics: true,
	}
}
