// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-logicd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metrics exposes the server's own operational counters on the
// standard Prometheus registry, served under /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logicd_ticks_total",
		Help: "Evaluation passes completed since start.",
	})

	TicksSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logicd_ticks_skipped_total",
		Help: "Evaluation passes skipped because the previous one overran.",
	})

	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "logicd_tick_duration_seconds",
		Help:    "Wall time of one evaluation pass.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})

	EvalErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logicd_eval_errors_total",
		Help: "Per-field evaluations that ended in error state.",
	})

	FieldsInError = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "logicd_fields_in_error",
		Help: "Virtual fields currently in error state.",
	})

	CatalogueSerial = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "logicd_catalogue_serial",
		Help: "Current catalogue serial number.",
	})

	DeltaRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logicd_delta_requests_total",
		Help: "Field delta fetches by outcome.",
	}, []string{"outcome"})
)
