// Package metrics registers the prometheus instruments for the
// telemetry pipeline.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "plantiva_"

var (
	registerOnce sync.Once

	eventsIngested *prometheus.CounterVec
	decodeFailures *prometheus.CounterVec
	appendFailures prometheus.Counter
	busDrops       prometheus.Counter
	subscriptions  prometheus.Gauge
)

// Init registers the pipeline metrics with the default registry. Safe to
// call more than once.
func Init() {
	registerOnce.Do(func() {
		eventsIngested = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "events_ingested_total",
				Help: "Telemetry events merged into readings, by variant",
			},
			[]string{"variant"},
		)
		decodeFailures = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "decode_failures_total",
				Help: "Payloads dropped because they failed to decode, by transport",
			},
			[]string{"transport"},
		)
		appendFailures = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "append_failures_total",
				Help: "Reading store append failures",
			},
		)
		busDrops = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "live_updates_dropped_total",
				Help: "Live updates dropped because a subscriber buffer was full",
			},
		)
		subscriptions = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "live_subscriptions",
				Help: "Currently active live update subscriptions",
			},
		)

		prometheus.MustRegister(eventsIngested, decodeFailures, appendFailures, busDrops, subscriptions)
	})
}

// EventIngested counts one merged event of the given variant
// ("sensor" or "actuator").
func EventIngested(variant string) {
	if eventsIngested != nil {
		eventsIngested.WithLabelValues(variant).Inc()
	}
}

// DecodeFailure counts one dropped payload for the given transport
// ("tcp" or "mqtt").
func DecodeFailure(transport string) {
	if decodeFailures != nil {
		decodeFailures.WithLabelValues(transport).Inc()
	}
}

// AppendFailure counts one failed store append.
func AppendFailure() {
	if appendFailures != nil {
		appendFailures.Inc()
	}
}

// BusDrop counts one live update dropped for a slow subscriber.
func BusDrop() {
	if busDrops != nil {
		busDrops.Inc()
	}
}

// SubscriptionOpened and SubscriptionClosed track the live subscription
// gauge.
func SubscriptionOpened() {
	if subscriptions != nil {
		subscriptions.Inc()
	}
}

func SubscriptionClosed() {
	if subscriptions != nil {
		subscriptions.Dec()
	}
}
