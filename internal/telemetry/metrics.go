/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package telemetry exposes prometheus metrics and optional OTLP tracing.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the per-stream broadcast collectors.
type Metrics struct {
	registry *prometheus.Registry

	Listeners          *prometheus.GaugeVec
	ChunksPushed       *prometheus.CounterVec
	BytesPushed        *prometheus.CounterVec
	ListenerResyncs    *prometheus.CounterVec
	TranscoderFailures *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		Listeners: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "funkstrom_listeners",
			Help: "Currently connected listeners per stream.",
		}, []string{"stream"}),
		ChunksPushed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "funkstrom_chunks_pushed_total",
			Help: "Encoded chunks pushed into the broadcast buffer.",
		}, []string{"stream"}),
		BytesPushed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "funkstrom_bytes_pushed_total",
			Help: "Encoded bytes pushed into the broadcast buffer.",
		}, []string{"stream"}),
		ListenerResyncs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "funkstrom_listener_resyncs_total",
			Help: "Times a lagged listener was skipped forward to the live position.",
		}, []string{"stream"}),
		TranscoderFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "funkstrom_transcoder_failures_total",
			Help: "Transcoder invocations that failed.",
		}, []string{"stream"}),
	}
}

// Handler serves the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
