// Inkweld - Collaborative Writing and Worldbuilding Platform
// Copyright 2026 Bobby Quantum (bobbyquantum)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bobbyquantum/inkweld

// Package metrics provides Prometheus instrumentation for the coordination
// service: connection lifecycle, coordinator population, frame throughput,
// persistence health, and media fanout delivery.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	ActiveConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "inkweld_ws_active_connections",
			Help: "Current number of open WebSocket connections",
		},
		[]string{"channel"}, // "document", "media"
	)

	HandshakeResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkweld_ws_handshake_results_total",
			Help: "Handshake outcomes by result",
		},
		[]string{"channel", "result"}, // "authenticated", "invalid-token", "forbidden", "project-not-found", "timeout", "error"
	)

	ConnectionCloses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkweld_ws_connection_closes_total",
			Help: "Connection closes by application close code",
		},
		[]string{"code"},
	)

	// Coordinator metrics
	ActiveCoordinators = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inkweld_coordinators_active",
			Help: "Current number of live document coordinators",
		},
	)

	FramesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkweld_frames_processed_total",
			Help: "Protocol frames applied by the coordinator pipeline",
		},
		[]string{"kind"}, // "sync_step_1", "sync_step_2", "update", "awareness"
	)

	BroadcastBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inkweld_broadcast_bytes_total",
			Help: "Total bytes broadcast to peers",
		},
	)

	BackpressureEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inkweld_backpressure_evictions_total",
			Help: "Peers dropped for exceeding the send backlog cap",
		},
	)

	// Persistence metrics
	PersistedUpdates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inkweld_persisted_updates_total",
			Help: "Updates appended to the persistence adapter",
		},
	)

	PersistBatchFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkweld_persist_batch_flushes_total",
			Help: "Persistence batch flushes by trigger",
		},
		[]string{"trigger"}, // "interval", "size", "teardown"
	)

	PersistBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inkweld_persist_batch_duration_seconds",
			Help:    "Duration of persistence batch flushes",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	StorageRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inkweld_storage_append_retries_total",
			Help: "Transient storage append failures that were retried",
		},
	)

	CoordinatorDegradations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inkweld_coordinator_degradations_total",
			Help: "Coordinators that entered the degraded persistence state",
		},
	)

	// Media fanout metrics
	MediaEventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkweld_media_events_delivered_total",
			Help: "Media change events delivered to subscribers",
		},
		[]string{"action"}, // "uploaded", "deleted"
	)

	MediaSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inkweld_media_subscribers",
			Help: "Current number of media channel subscribers",
		},
	)
)

// RecordClose increments the close-code counter for an application close.
func RecordClose(code int) {
	ConnectionCloses.WithLabelValues(closeCodeLabel(code)).Inc()
}

func closeCodeLabel(code int) string {
	switch code {
	case 4000:
		return "4000"
	case 4001:
		return "4001"
	case 4002:
		return "4002"
	case 4003:
		return "4003"
	case 4008:
		return "4008"
	case 4409:
		return "4409"
	case 4500:
		return "4500"
	default:
		return "other"
	}
}
