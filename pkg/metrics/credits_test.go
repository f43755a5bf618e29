package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCreditMetricsRecordsOutcomesAndPoints(t *testing.T) {
	m := NewCreditMetrics(prometheus.NewRegistry())

	m.ObserveOutcome("consume", "success")
	m.ObserveOutcome("consume", "success")
	m.ObserveOutcome("consume", "DAILY_LIMIT_REACHED")
	m.ObserveOutcome("", "success")
	m.AddPoints("consume", "package", 500)
	m.AddPoints("consume", "independent", 400)
	m.AddPoints("consume", "independent", 0)
	m.IncConflictRetry("manual_reset")
	m.ObserveBatch(9, 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("consume", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("consume", "DAILY_LIMIT_REACHED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("unknown", "success")))
	assert.Equal(t, 400.0, testutil.ToFloat64(m.points.WithLabelValues("consume", "independent")))
	assert.Equal(t, 500.0, testutil.ToFloat64(m.points.WithLabelValues("consume", "package")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.conflicts.WithLabelValues("manual_reset")))
	assert.Equal(t, 9.0, testutil.ToFloat64(m.batchUsers.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.batchUsers.WithLabelValues("failed")))
}

func TestNilCreditMetricsIsNoop(t *testing.T) {
	var m *CreditMetrics
	m.ObserveOutcome("consume", "success")
	m.AddPoints("consume", "package", 1)
	m.IncConflictRetry("consume")
	m.ObserveBatch(1, 1)
}
