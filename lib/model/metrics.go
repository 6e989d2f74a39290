// Copyright (C) 2025 The Sleekd Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package model

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricShareState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sleekd",
		Subsystem: "model",
		Name:      "share_state",
		Help:      "Share service state flags, 1 while the named state is active",
	}, []string{"state"})
	metricDirectories = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sleekd",
		Subsystem: "model",
		Name:      "directories",
		Help:      "Number of directories in the share index",
	})
	metricFiles = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sleekd",
		Subsystem: "model",
		Name:      "files",
		Help:      "Number of files in the share index",
	})
	metricSearches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sleekd",
		Subsystem: "model",
		Name:      "searches_total",
		Help:      "Total number of searches answered from the index",
	})
	metricResolveMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sleekd",
		Subsystem: "model",
		Name:      "resolve_misses_total",
		Help:      "Total number of resolved files found missing on disk",
	})
)

func recordStateMetrics(st ShareState) {
	for name, active := range map[string]bool{
		"ready":        st.Ready,
		"scanning":     st.Scanning,
		"faulted":      st.Faulted,
		"cancelled":    st.Cancelled,
		"scan_pending": st.ScanPending,
	} {
		var v float64
		if active {
			v = 1
		}
		metricShareState.WithLabelValues(name).Set(v)
	}
	metricDirectories.Set(float64(st.Directories))
	metricFiles.Set(float64(st.Files))
}
