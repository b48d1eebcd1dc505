// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package reload

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/holomush/libreload/internal/watch"
)

// Outcome labels for load and reload metrics.
const (
	OutcomeSuccess     = "success"
	OutcomeNotFound    = "not_found"
	OutcomeLoadFailed  = "load_failed"
	OutcomeCopyFailed  = "copy_failed"
	OutcomeCopyTimeout = "copy_timeout"
	OutcomeError       = "error"
)

// LibraryLoads counts AddLibrary calls by outcome.
var LibraryLoads = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "libreload_library_loads_total",
		Help: "Total number of libraries added by outcome",
	},
	[]string{"library", "outcome"},
)

// Reloads counts change-triggered reloads by outcome.
var Reloads = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "libreload_reloads_total",
		Help: "Total number of library reloads by outcome",
	},
	[]string{"library", "outcome"},
)

// ReloadDuration measures Before to After/ReloadFailed.
var ReloadDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "libreload_reload_duration_seconds",
		Help:    "Library reload duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"library"},
)

// WatchFailures counts shadowed libraries tracked without a watch on their
// source directory. Such libraries never reload.
var WatchFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "libreload_watch_failures_total",
		Help: "Total number of libraries whose source directory could not be watched",
	},
	[]string{"library"},
)

var loadedLibraries = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "libreload_loaded_libraries",
	Help: "Library generations currently mapped into the process",
})

// RegisterMetrics registers reload and watcher metrics with the given
// Prometheus registry. Panics if registration fails (following prometheus
// convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(LibraryLoads, Reloads, ReloadDuration, WatchFailures, loadedLibraries)
	watch.RegisterMetrics(reg)
}

func outcome(err error) string {
	if err == nil {
		return OutcomeSuccess
	}
	switch ErrorCode(err) {
	case CodeNotFound:
		return OutcomeNotFound
	case CodeLoad:
		return OutcomeLoadFailed
	case CodeCopy:
		return OutcomeCopyFailed
	case CodeCopyTimeout:
		return OutcomeCopyTimeout
	default:
		return OutcomeError
	}
}

func recordLoad(library string, err error) {
	LibraryLoads.WithLabelValues(library, outcome(err)).Inc()
}

func recordReload(library string, err error, d time.Duration) {
	Reloads.WithLabelValues(library, outcome(err)).Inc()
	ReloadDuration.WithLabelValues(library).Observe(d.Seconds())
}
