// Package metrics exposes the broadcast subsystem's prometheus
// collectors on the default registry (served at /metrics).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OpenConnections tracks live observer connections.
	OpenConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bustrack_open_connections",
		Help: "Number of open observer WebSocket connections.",
	})

	// SamplesIngested counts samples accepted by the ingestion gate.
	SamplesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bustrack_samples_ingested_total",
		Help: "Total position samples accepted at the ingestion gate.",
	})

	// SamplesStale counts samples dropped by the ordering guard.
	SamplesStale = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bustrack_samples_stale_total",
		Help: "Total position samples dropped as older than the last one for their bus.",
	})

	// UpdatesDelivered counts frames queued to observer connections.
	UpdatesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bustrack_updates_delivered_total",
		Help: "Total LOCATION_UPDATE frames delivered to observer send buffers.",
	})

	// UpdatesDropped counts per-connection delivery drops by reason.
	UpdatesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bustrack_updates_dropped_total",
		Help: "Total LOCATION_UPDATE frames dropped, by reason.",
	}, []string{"reason"}) // reason: backpressure|closed|queue_full
)
