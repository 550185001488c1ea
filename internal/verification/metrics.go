package verification

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	outcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendify",
		Subsystem: "verification",
		Name:      "outcomes_total",
		Help:      "Verification attempts by final outcome.",
	}, []string{"outcome"})

	comparatorSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "attendify",
		Subsystem: "verification",
		Name:      "comparator_seconds",
		Help:      "Latency of face comparator calls.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30},
	})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "attendify",
		Subsystem: "verification",
		Name:      "active_sessions",
		Help:      "Sessions currently held by the manager.",
	})
)

// outcome labels
const (
	outcomeSuccess      = "success"
	outcomeBypass       = "bypass"
	outcomeRejected     = "rejected"
	outcomeComparator   = "comparator_error"
	outcomeTimeout      = "comparator_timeout"
	outcomeLocation     = "location_unavailable"
	outcomeCamera       = "camera_unavailable"
	outcomePersistence  = "persistence_error"
	outcomeGeofence     = "outside_geofence"
	outcomeCancelled    = "cancelled"
	outcomeTwoFactor    = "two_factor_unavailable"
	outcomeUnclassified = "error"
)
