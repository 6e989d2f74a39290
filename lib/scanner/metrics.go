// Copyright (C) 2025 The Sleekd Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package scanner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sleekd",
		Subsystem: "scanner",
		Name:      "scans_total",
		Help:      "Number of share scans, by result.",
	}, []string{"result"})

	metricScanSeconds = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sleekd",
		Subsystem: "scanner",
		Name:      "scan_seconds_total",
		Help:      "Wall clock time spent scanning.",
	})

	metricLastScanDirectories = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sleekd",
		Subsystem: "scanner",
		Name:      "last_scan_directories",
		Help:      "Directories indexed by the last completed scan.",
	})

	metricLastScanFiles = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sleekd",
		Subsystem: "scanner",
		Name:      "last_scan_files",
		Help:      "Files indexed by the last completed scan.",
	})

	metricLastScanExcluded = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sleekd",
		Subsystem: "scanner",
		Name:      "last_scan_excluded_directories",
		Help:      "Directories excluded from the last completed scan.",
	})

	metricLastScanTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sleekd",
		Subsystem: "scanner",
		Name:      "last_scan_timestamp_seconds",
		Help:      "Unix timestamp of the last completed scan.",
	})
)
