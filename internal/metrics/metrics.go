// Package metrics registers the Prometheus gauges/counters the pipeline
// updates as it runs, exposed at /metrics via promhttp.
//
// Grounded on vellankikoti-kubilitics-os-emergent/kubilitics-backend's
// internal/pkg/metrics package: a namespaced promauto registry declared as
// package-level vars, no custom Registerer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lumo_gateway"

var (
	// HTTPRequestsTotal counts requests by route, method and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by route, method and status.",
		},
		[]string{"route", "method", "status"},
	)

	// HTTPRequestDurationSeconds is request latency by route.
	HTTPRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"route"},
	)

	// QueueDepth is the current number of upstream calls waiting on the
	// single-flight queue (spec.md §4.4 "observable size gauge").
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Number of requests waiting in the single-flight upstream queue.",
		},
	)

	// QueueWaitSeconds tracks how long a task waited before starting.
	QueueWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_wait_seconds",
			Help:      "Time a task spent waiting in the single-flight queue before starting.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	// InvalidContinuationTotal counts dedup continuation-validation
	// violations (spec.md §4.5.2) — logged but never aborts the request.
	InvalidContinuationTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_continuation_total",
			Help:      "Total number of dedup continuation validation failures.",
		},
	)

	// ToolCallsTotal counts detected tool calls by validity outcome
	// (spec.md §7 "ToolCallInvalid ... counted as a metric").
	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of tool calls detected, by validity status.",
		},
		[]string{"status"}, // valid, invalid
	)

	// DecryptionFailuresTotal counts sync-path AEAD decryption failures
	// (spec.md §4.6.2 / §7 DecryptionFailed).
	DecryptionFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decryption_failures_total",
			Help:      "Total number of AEAD decryption failures, by entity kind.",
		},
		[]string{"entity"}, // conversation, message, turn, chunk
	)

	// ConversationsEvictedTotal counts LRU evictions, split by whether the
	// evicted conversation was dirty (spec.md §4.5.3 forced-dirty-eviction
	// warning path).
	ConversationsEvictedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_evicted_total",
			Help:      "Total number of conversations evicted from the store, by dirty status.",
		},
		[]string{"dirty"}, // true, false
	)

	// SyncPushTotal counts sync engine push attempts by outcome.
	SyncPushTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_push_total",
			Help:      "Total number of sync engine push attempts, by outcome.",
		},
		[]string{"outcome"}, // success, failure
	)

	// UpstreamCallsTotal counts upstream chat calls by terminal outcome.
	UpstreamCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_calls_total",
			Help:      "Total number of upstream chat calls, by terminal outcome.",
		},
		[]string{"outcome"}, // done, timeout, error, rejected, harmful
	)
)
