// Package metrics exposes the Core's Prometheus instrumentation. Metrics
// are registered lazily, once, the first time InitMetrics runs, so
// constructing multiple Core instances in the same process (as tests do)
// never panics on a duplicate registration.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	rotationsTotal    *prometheus.CounterVec
	revocationsTotal  *prometheus.CounterVec
	keysByState       *prometheus.GaugeVec
	backendHealth     *prometheus.GaugeVec

	registerOnce sync.Once
	registered   bool
)

// InitMetrics registers every Core metric with the default Prometheus
// registry. Safe to call more than once; only the first call has effect.
func InitMetrics() {
	registerOnce.Do(func() {
		operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pqkeys",
			Name:      "operations_total",
			Help:      "Count of Core operations by type and outcome.",
		}, []string{"operation", "outcome"})

		operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pqkeys",
			Name:      "operation_duration_seconds",
			Help:      "Latency of Core operations by type.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"})

		rotationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pqkeys",
			Name:      "rotations_total",
			Help:      "Count of key rotations by outcome.",
		}, []string{"outcome"})

		revocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pqkeys",
			Name:      "revocations_total",
			Help:      "Count of key revocations by reason.",
		}, []string{"reason"})

		keysByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pqkeys",
			Name:      "keys_by_state",
			Help:      "Current number of keys in each lifecycle state.",
		}, []string{"state"})

		backendHealth = promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pqkeys",
			Name:      "backend_health",
			Help:      "1 if the named protector backend's last health check succeeded, 0 otherwise.",
		}, []string{"backend"})

		registered = true
	})
}

// IsRegistered reports whether InitMetrics has run, for tests that need
// to assert metrics are wired without depending on call order.
func IsRegistered() bool { return registered }

// RecordOperation records one completed operation (generate, encrypt,
// decrypt, sign, verify) with its outcome and duration.
func RecordOperation(operation string, success bool, duration time.Duration) {
	if !registered {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	operationsTotal.WithLabelValues(operation, outcome).Inc()
	operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRotation records one rotation attempt's outcome.
func RecordRotation(success bool) {
	if !registered {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	rotationsTotal.WithLabelValues(outcome).Inc()
}

// RecordRevocation records one revocation by reason (e.g. "compromise",
// "manual").
func RecordRevocation(reason string) {
	if !registered {
		return
	}
	revocationsTotal.WithLabelValues(reason).Inc()
}

// SetKeysByState updates the keys_by_state gauge for one state to the
// given count. The Core calls this at Initialize and after each key
// mutation.
func SetKeysByState(state string, count int) {
	if !registered {
		return
	}
	keysByState.WithLabelValues(state).Set(float64(count))
}

// SetBackendHealth records a backend's most recent health check outcome.
func SetBackendHealth(backend string, healthy bool) {
	if !registered {
		return
	}
	v := 0.0
	if healthy {
		v = 1.0
	}
	backendHealth.WithLabelValues(backend).Set(v)
}
