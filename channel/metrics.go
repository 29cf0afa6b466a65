// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package channel

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/juju/mubsub/transport"
)

const metricsNamespace = "mubsub"

const (
	channelLabel = "channel"
	kindLabel    = "kind"
	stateLabel   = "state"
)

var reportedStates = []transport.State{
	transport.Uninitialized,
	transport.Opening,
	transport.Bounded,
	transport.Polling,
	transport.Closed,
}

// Collector is a prometheus.Collector that collects metrics about
// the channels sharing it.
type Collector struct {
	published       *prometheus.CounterVec
	publishErrors   *prometheus.CounterVec
	publishDuration *prometheus.HistogramVec
	delivered       *prometheus.CounterVec
	faults          *prometheus.CounterVec
	fallbacks       *prometheus.CounterVec
	transportState  *prometheus.GaugeVec
}

// NewMetricsCollector returns a new Collector.
func NewMetricsCollector() *Collector {
	return &Collector{
		published: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "published_total",
				Help:      "The number of envelopes published.",
			}, []string{channelLabel},
		),
		publishErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "publish_errors_total",
				Help:      "The number of publishes that failed.",
			}, []string{channelLabel},
		),
		publishDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "publish_duration_seconds",
				Help:      "The time taken to insert a published envelope.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			}, []string{channelLabel},
		),
		delivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "delivered_total",
				Help:      "The number of envelopes dispatched to subscribers.",
			}, []string{channelLabel},
		),
		faults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "faults_total",
				Help:      "The number of faults reported, by kind.",
			}, []string{channelLabel, kindLabel},
		),
		fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "fallbacks_total",
				Help:      "The number of times auto mode settled on polling.",
			}, []string{channelLabel},
		),
		transportState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "transport_state",
				Help:      "1 for the current transport state of each channel.",
			}, []string{channelLabel, stateLabel},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.published.Describe(ch)
	c.publishErrors.Describe(ch)
	c.publishDuration.Describe(ch)
	c.delivered.Describe(ch)
	c.faults.Describe(ch)
	c.fallbacks.Describe(ch)
	c.transportState.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.published.Collect(ch)
	c.publishErrors.Collect(ch)
	c.publishDuration.Collect(ch)
	c.delivered.Collect(ch)
	c.faults.Collect(ch)
	c.fallbacks.Collect(ch)
	c.transportState.Collect(ch)
}

// The methods below accept a nil Collector so channels without metrics
// need no checks.

func (c *Collector) recordPublish(name string, took time.Duration, err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.publishErrors.WithLabelValues(name).Inc()
		return
	}
	c.published.WithLabelValues(name).Inc()
	c.publishDuration.WithLabelValues(name).Observe(took.Seconds())
}

func (c *Collector) recordDelivery(name string) {
	if c == nil {
		return
	}
	c.delivered.WithLabelValues(name).Inc()
}

func (c *Collector) recordFault(name string, err error) {
	if c == nil {
		return
	}
	c.faults.WithLabelValues(name, transport.FaultKind(err)).Inc()
}

func (c *Collector) recordTransport(name string, state transport.State, fallback bool) {
	if c == nil {
		return
	}
	if fallback {
		c.fallbacks.WithLabelValues(name).Inc()
	}
	for _, s := range reportedStates {
		value := 0.0
		if s == state {
			value = 1
		}
		c.transportState.WithLabelValues(name, s.String()).Set(value)
	}
}
