// Package metrics registers the Prometheus instruments shared across the
// reconciliation runtime and the policy engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wharf"

var (
	// StoreRequestDuration tracks document store round-trip latency.
	StoreRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_request_duration_seconds",
			Help:      "Duration of document store requests in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"operation"},
	)

	// ReconcileTotal counts reconcile outcomes per controller.
	ReconcileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_total",
			Help:      "Total number of reconcile invocations",
		},
		[]string{"controller", "result"}, // result: success, conflict, invalid, fatal, error
	)

	// ReconcileDuration tracks time spent inside reconcilers.
	ReconcileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_duration_seconds",
			Help:      "Time spent reconciling a single resource",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"controller"},
	)

	// WatchReconnectsTotal counts change feed reconnects per kind.
	WatchReconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watch_reconnects_total",
			Help:      "Total number of change feed reconnects",
		},
		[]string{"kind"},
	)

	// ACLReloadsTotal counts decision model rebuilds.
	ACLReloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acl_reloads_total",
			Help:      "Total number of ACL decision model reloads",
		},
		[]string{"result"}, // result: success, error
	)

	// ACLReloadDuration tracks how long a decision model rebuild takes.
	ACLReloadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "acl_reload_duration_seconds",
			Help:      "Time spent rebuilding the ACL decision model",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)

	// CheckDecisionsTotal counts authorization decisions.
	CheckDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "check_decisions_total",
			Help:      "Total number of authorization check decisions",
		},
		[]string{"decision"}, // decision: allow, deny
	)

	// DomainEventsTotal counts domain events published by resource managers.
	DomainEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "domain_events_total",
			Help:      "Total number of domain events published",
		},
		[]string{"kind", "type"},
	)
)

func init() {
	prometheus.MustRegister(
		StoreRequestDuration,
		ReconcileTotal,
		ReconcileDuration,
		WatchReconnectsTotal,
		ACLReloadsTotal,
		ACLReloadDuration,
		CheckDecisionsTotal,
		DomainEventsTotal,
	)
}
