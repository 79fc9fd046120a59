// Copyright 2026 The Farview Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons for the farview_relay_envelopes_dropped_total counter.
const (
	dropTargetOffline = "target_offline"
	dropQueueFull     = "queue_full"
	dropUnroutable    = "unroutable"
)

// Metrics holds the relay's Prometheus instruments.
type Metrics struct {
	ConnectionsActive prometheus.Gauge
	EnvelopesRouted   *prometheus.CounterVec
	EnvelopesDropped  *prometheus.CounterVec
	AuthFailures      prometheus.Counter
}

// NewMetrics registers the relay metrics with reg. Pass a fresh
// registry in tests to keep registrations isolated.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "farview_relay_connections_active",
			Help: "Number of authenticated device connections currently open.",
		}),
		EnvelopesRouted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "farview_relay_envelopes_routed_total",
			Help: "Envelopes forwarded to a target device, by envelope type.",
		}, []string{"type"}),
		EnvelopesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "farview_relay_envelopes_dropped_total",
			Help: "Envelopes dropped instead of forwarded, by reason.",
		}, []string{"reason"}),
		AuthFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "farview_relay_auth_failures_total",
			Help: "Sockets rejected for an invalid or expired token.",
		}),
	}
}
