// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "oncfar"

var (
	// SamplesReceived counts sensor samples applied to an observer, by stream.
	SamplesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sensor",
		Name:      "samples_total",
		Help:      "Total sensor samples received",
	}, []string{"stream"})

	// SensorErrors counts failed subscriptions and discarded samples, by stream and kind.
	SensorErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sensor",
		Name:      "errors_total",
		Help:      "Total sensor subscription failures and discarded samples",
	}, []string{"stream", "kind"})

	ProjectionPasses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "projection",
		Name:      "passes_total",
		Help:      "Total projection passes over the point of interest catalogue",
	})

	VisibleMarkers = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "projection",
		Name:      "visible_markers",
		Help:      "Number of visible markers per projection pass",
		Buckets:   prometheus.LinearBuckets(0, 1, 11),
	})

	SessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "transitions_total",
		Help:      "Total session state transitions, by target state",
	}, []string{"state"})

	BridgeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "bridge",
		Name:      "active_connections",
		Help:      "Current number of connected devices",
	})
)

// Handler returns the HTTP handler exposing all registered metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
