// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics defines flowscope's Prometheus collectors.
//
// Every recording method is safe on a nil *Metrics, so the cores
// (observer, relay, exporter) take a *Metrics field and tests leave it
// unset.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "flowscope"

// Metrics holds the registered collectors.
type Metrics struct {
	bufferAppended   *prometheus.CounterVec
	eventsLost       *prometheus.CounterVec
	sessionsActive   *prometheus.GaugeVec
	eventsSent       *prometheus.CounterVec
	requestsRejected *prometheus.CounterVec
	peerQueries      *prometheus.CounterVec
	peerDuration     prometheus.Histogram
	exportEvents     *prometheus.CounterVec
	exportLate       prometheus.Counter
	exportChunks     *prometheus.CounterVec
}

// New creates the collectors and registers them with registerer.
func New(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		bufferAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_appended_total",
			Help:      "Records appended to each ring buffer.",
		}, []string{"buffer"}),
		eventsLost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_lost_total",
			Help:      "Records a reader skipped because they were overwritten or dropped.",
		}, []string{"buffer", "reader"}), // reader: session, export, feed
		sessionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Open streaming sessions.",
		}, []string{"stream"}),
		eventsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_sent_total",
			Help:      "Events delivered to stream clients.",
		}, []string{"stream", "kind"}),
		requestsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_rejected_total",
			Help:      "Stream requests that failed validation.",
		}, []string{"stream"}),
		peerQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peer_queries_total",
			Help:      "Relay status queries by outcome.",
		}, []string{"result"}), // result: ok, error, timeout
		peerDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "peer_query_duration_seconds",
			Help:      "Latency of relay status queries.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		exportEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_events_total",
			Help:      "Events written to export sinks.",
		}, []string{"kind"}),
		exportLate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_late_total",
			Help:      "Events that arrived after the export watermark passed their timestamp.",
		}),
		exportChunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_chunks_total",
			Help:      "Export chunks written by compression.",
		}, []string{"compression"}),
	}

	for _, collector := range []prometheus.Collector{
		m.bufferAppended, m.eventsLost, m.sessionsActive, m.eventsSent,
		m.requestsRejected, m.peerQueries, m.peerDuration,
		m.exportEvents, m.exportLate, m.exportChunks,
	} {
		if err := registerer.Register(collector); err != nil {
			return nil, fmt.Errorf("registering metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) BufferAppended(buffer string) {
	if m == nil {
		return
	}
	m.bufferAppended.WithLabelValues(buffer).Inc()
}

func (m *Metrics) EventsLost(buffer, reader string, count uint64) {
	if m == nil || count == 0 {
		return
	}
	m.eventsLost.WithLabelValues(buffer, reader).Add(float64(count))
}

// SessionOpened increments the active gauge; the returned function
// decrements it and must be called exactly once.
func (m *Metrics) SessionOpened(stream string) func() {
	if m == nil {
		return func() {}
	}
	gauge := m.sessionsActive.WithLabelValues(stream)
	gauge.Inc()
	return gauge.Dec
}

func (m *Metrics) EventSent(stream, kind string) {
	if m == nil {
		return
	}
	m.eventsSent.WithLabelValues(stream, kind).Inc()
}

func (m *Metrics) RequestRejected(stream string) {
	if m == nil {
		return
	}
	m.requestsRejected.WithLabelValues(stream).Inc()
}

// PeerQuery records one relay status query.
func (m *Metrics) PeerQuery(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.peerQueries.WithLabelValues(result).Inc()
	m.peerDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ExportEvent(kind string) {
	if m == nil {
		return
	}
	m.exportEvents.WithLabelValues(kind).Inc()
}

func (m *Metrics) ExportLate() {
	if m == nil {
		return
	}
	m.exportLate.Inc()
}

func (m *Metrics) ExportChunk(compression string) {
	if m == nil {
		return
	}
	m.exportChunks.WithLabelValues(compression).Inc()
}
