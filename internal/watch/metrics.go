// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package watch

import "github.com/prometheus/client_golang/prometheus"

var rawEvents = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "libreload_watch_raw_events_total",
	Help: "Filesystem notifications received before debouncing",
})

var debouncedEvents = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "libreload_watch_events_total",
	Help: "Change events delivered after debouncing",
})

var watchErrors = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "libreload_watch_errors_total",
	Help: "Errors reported by the filesystem watcher",
})

var activeWatches = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "libreload_watch_directories",
	Help: "Directories currently under watch",
})

// RegisterMetrics registers watcher metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(rawEvents, debouncedEvents, watchErrors, activeWatches)
}
