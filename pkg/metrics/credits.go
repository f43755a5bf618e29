package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// CreditMetrics tracks wallet operations and their outcomes.
type CreditMetrics struct {
	operations *prometheus.CounterVec
	points     *prometheus.CounterVec
	conflicts  *prometheus.CounterVec
	batchUsers *prometheus.CounterVec
}

// NewCreditMetrics registers the wallet metrics on the provided registerer. A
// nil registerer yields a no-op recorder.
func NewCreditMetrics(reg prometheus.Registerer) *CreditMetrics {
	if reg == nil {
		return &CreditMetrics{}
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "credit_operations_total",
		Help:      "Wallet operations by outcome (success, replayed or a failure code).",
	}, []string{"operation", "outcome"})
	points := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "credit_points_total",
		Help:      "Credit points moved by operation and bucket.",
	}, []string{"operation", "bucket"})
	conflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "credit_conflict_retries_total",
		Help:      "Optimistic concurrency retries by operation.",
	}, []string{"operation"})
	batchUsers := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "credit_recovery_batch_users_total",
		Help:      "Users visited by the recovery batch by result.",
	}, []string{"result"})
	reg.MustRegister(operations, points, conflicts, batchUsers)
	return &CreditMetrics{
		operations: operations,
		points:     points,
		conflicts:  conflicts,
		batchUsers: batchUsers,
	}
}

func (m *CreditMetrics) ObserveOutcome(operation, outcome string) {
	if m == nil || m.operations == nil {
		return
	}
	m.operations.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
}

func (m *CreditMetrics) AddPoints(operation, bucket string, points int64) {
	if m == nil || m.points == nil || points <= 0 {
		return
	}
	m.points.WithLabelValues(normalizeLabel(operation), normalizeLabel(bucket)).Add(float64(points))
}

func (m *CreditMetrics) IncConflictRetry(operation string) {
	if m == nil || m.conflicts == nil {
		return
	}
	m.conflicts.WithLabelValues(normalizeLabel(operation)).Inc()
}

// ObserveBatch records the per-user results of one recovery batch run.
func (m *CreditMetrics) ObserveBatch(succeeded, failed int64) {
	if m == nil || m.batchUsers == nil {
		return
	}
	m.batchUsers.WithLabelValues("succeeded").Add(float64(succeeded))
	m.batchUsers.WithLabelValues("failed").Add(float64(failed))
}
