// Package metrics holds the prometheus collectors of the client runtime.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RequestsTotal counts gateway requests by method and resulting status
	// ("network_error" for transport failures).
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tscms_client_requests_total",
			Help: "Total number of API gateway requests",
		},
		[]string{"method", "status"},
	)

	// RequestDuration tracks gateway round-trip latency.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tscms_client_request_duration_seconds",
			Help:    "API gateway request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// CoalescedTotal counts coalescer registrations by outcome
	// (executed, superseded, canceled, panicked).
	CoalescedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tscms_client_coalesced_total",
			Help: "Coalescer registrations by outcome",
		},
		[]string{"outcome"},
	)

	// TokenClearsTotal counts forced token removals by reason.
	TokenClearsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tscms_client_token_clears_total",
			Help: "Forced token removals by reason",
		},
		[]string{"reason"},
	)

	// NotificationsTotal counts messages shown by kind and placement.
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tscms_client_notifications_total",
			Help: "Notifications shown by kind and placement",
		},
		[]string{"kind", "placement"},
	)

	// RetriesTotal counts backoff retries by outcome (scheduled, exhausted).
	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tscms_client_retries_total",
			Help: "Retry-with-backoff decisions by outcome",
		},
		[]string{"outcome"},
	)

	// IdleTransitionsTotal counts idle guard state transitions.
	IdleTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tscms_client_idle_transitions_total",
			Help: "Idle logout guard transitions by target state",
		},
		[]string{"state"},
	)
)

func init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(CoalescedTotal)
	prometheus.MustRegister(TokenClearsTotal)
	prometheus.MustRegister(NotificationsTotal)
	prometheus.MustRegister(RetriesTotal)
	prometheus.MustRegister(IdleTransitionsTotal)
}
