package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StickerClaims = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "svt_sticker_claims_total",
			Help: "Stickers successfully claimed, by assignment mode",
		},
		[]string{"mode"},
	)

	StickerClaimConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "svt_sticker_claim_conflicts_total",
			Help: "Claim attempts lost to a concurrent claimant",
		},
	)

	StickerPoolExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "svt_sticker_pool_exhausted_total",
			Help: "Auto-assign requests that found no available sticker",
		},
	)

	ApplicationTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "svt_application_transitions_total",
			Help: "Application status transitions",
		},
		[]string{"from", "to"},
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "svt_operation_duration_seconds",
			Help:    "Duration of core operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

// ObserveDuration starts a timer for operation; call the result when done.
func ObserveDuration(operation string) func() {
	timer := prometheus.NewTimer(OperationDuration.WithLabelValues(operation))
	return func() { timer.ObserveDuration() }
}
