// Copyright 2021 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package metrics exports Prometheus metrics for the requests passing
// through an httpq queue.
package metrics

import (
	"time"

	"github.com/gogama/httpq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "httpq"

// Metrics is an httpq.Handler which counts lifecycle events, tracks
// the number of unfinished requests, and records request lifetimes.
type Metrics struct {
	events   *prometheus.CounterVec
	inFlight prometheus.Gauge
	lifetime *prometheus.HistogramVec
}

// New creates the metrics and registers them with reg. A nil reg uses
// the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "request",
				Name:      "events_total",
				Help:      "Total number of request lifecycle events by event name",
			},
			[]string{"event"},
		),
		inFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "request",
				Name:      "in_flight",
				Help:      "Number of requests added to a queue and not yet finished",
			},
		),
		lifetime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "request",
				Name:      "lifetime_seconds",
				Help:      "Time from adding a request to a queue until it finished, by final event",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"event"},
		),
	}
}

// Install adds m to every event chain of g.
func (m *Metrics) Install(g *httpq.HandlerGroup) {
	g.PushBackAll(m)
}

// Handle records evt for r.
func (m *Metrics) Handle(evt httpq.Event, r httpq.Request) {
	switch {
	case evt == httpq.AddToQueue:
		m.inFlight.Inc()
	case evt.Terminal():
		m.inFlight.Dec()
		if birth := r.Core().Birth(); !birth.IsZero() {
			m.lifetime.WithLabelValues(evt.Name()).Observe(time.Since(birth).Seconds())
		}
	}
	m.events.WithLabelValues(evt.Name()).Inc()
}
