package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestInitMetrics_IsIdempotent(t *testing.T) {
	InitMetrics()
	InitMetrics()
	assert.True(t, IsRegistered())
}

func TestRecordOperation_IncrementsCounter(t *testing.T) {
	InitMetrics()
	before := testutil.ToFloat64(operationsTotal.WithLabelValues("encrypt", "success"))
	RecordOperation("encrypt", true, 5*time.Millisecond)
	after := testutil.ToFloat64(operationsTotal.WithLabelValues("encrypt", "success"))
	assert.Equal(t, before+1, after)
}

func TestRecordRotation_TracksOutcome(t *testing.T) {
	InitMetrics()
	before := testutil.ToFloat64(rotationsTotal.WithLabelValues("success"))
	RecordRotation(true)
	after := testutil.ToFloat64(rotationsTotal.WithLabelValues("success"))
	assert.Equal(t, before+1, after)
}

func TestSetKeysByState_SetsGauge(t *testing.T) {
	InitMetrics()
	SetKeysByState("active", 7)
	assert.Equal(t, float64(7), testutil.ToFloat64(keysByState.WithLabelValues("active")))
}

func TestSetBackendHealth_ReflectsStatus(t *testing.T) {
	InitMetrics()
	SetBackendHealth("kms", true)
	assert.Equal(t, float64(1), testutil.ToFloat64(backendHealth.WithLabelValues("kms")))
	SetBackendHealth("kms", false)
	assert.Equal(t, float64(0), testutil.ToFloat64(backendHealth.WithLabelValues("kms")))
}
