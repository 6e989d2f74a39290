// Copyright (C) 2025 The Sleekd Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package db

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sleekd",
		Subsystem: "db",
		Name:      "queries_total",
		Help:      "Number of database operations, per operation.",
	}, []string{"op"})
	metricQueryErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sleekd",
		Subsystem: "db",
		Name:      "query_errors_total",
		Help:      "Number of failed database operations, per operation.",
	}, []string{"op"})
	metricKeepaliveFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sleekd",
		Subsystem: "db",
		Name:      "keepalive_failures_total",
		Help:      "Number of failed keepalive probes.",
	})
)

func observe(op string, err error) {
	metricQueriesTotal.WithLabelValues(op).Inc()
	if err != nil {
		metricQueryErrorsTotal.WithLabelValues(op).Inc()
	}
}
