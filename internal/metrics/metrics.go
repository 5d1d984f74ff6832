// Package metrics exposes Prometheus metrics for the branch merge engine:
// saga step latency, lock contention, conflict detection, and recovery
// sweep activity.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus-compatible instrumentation for the engine, all
// namespaced "branchmerge_". Safe for concurrent use.
//
//   - saga_step_latency_ms (histogram): duration of one saga step, labeled
//     by saga (merge/reorder/recover) and status (success/error).
//   - saga_steps_inflight (gauge): sagas currently executing.
//   - lock_contention_total (counter): ValidateResourceUnlocked calls that
//     observed the resource already locked.
//   - lock_wait_ms (histogram): time spent waiting to acquire a lock.
//   - conflicts_detected_total (counter): non-empty Conflicts produced by
//     the conflict detector, labeled by conflict field.
//   - recovery_sweeps_total (counter): sweeper passes, labeled by outcome.
//   - recovery_entries_resumed_total (counter): stale entries the sweeper
//     successfully re-drove.
type Metrics struct {
	sagaStepLatency *prometheus.HistogramVec
	sagasInflight   prometheus.Gauge

	lockContention *prometheus.CounterVec
	lockWait       prometheus.Histogram

	conflictsDetected *prometheus.CounterVec

	recoverySweeps  *prometheus.CounterVec
	recoveryResumed prometheus.Counter

	mu      sync.RWMutex
	enabled bool
}

// New registers every metric with registry. A nil registry uses
// prometheus.DefaultRegisterer.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	m := &Metrics{enabled: true}

	m.sagaStepLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "branchmerge",
		Name:      "saga_step_latency_ms",
		Help:      "Duration of a single saga step in milliseconds",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
	}, []string{"saga", "status"})

	m.sagasInflight = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "branchmerge",
		Name:      "saga_steps_inflight",
		Help:      "Number of sagas currently executing",
	})

	m.lockContention = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "branchmerge",
		Name:      "lock_contention_total",
		Help:      "Lock validation calls that observed the resource already locked",
	}, []string{"action"})

	m.lockWait = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: "branchmerge",
		Name:      "lock_wait_ms",
		Help:      "Time spent waiting to acquire a resource or action lock",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
	})

	m.conflictsDetected = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "branchmerge",
		Name:      "conflicts_detected_total",
		Help:      "Conflicts produced by the conflict detector, by field",
	}, []string{"field"})

	m.recoverySweeps = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "branchmerge",
		Name:      "recovery_sweeps_total",
		Help:      "Recovery sweep passes, by outcome",
	}, []string{"outcome"})

	m.recoveryResumed = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "branchmerge",
		Name:      "recovery_entries_resumed_total",
		Help:      "Stale recovery log entries successfully resumed by the sweeper",
	})

	return m
}

func (m *Metrics) RecordSagaStepLatency(saga string, latency time.Duration, status string) {
	if !m.isEnabled() {
		return
	}
	m.sagaStepLatency.WithLabelValues(saga, status).Observe(float64(latency.Milliseconds()))
}

func (m *Metrics) UpdateSagasInflight(count int) {
	if !m.isEnabled() {
		return
	}
	m.sagasInflight.Set(float64(count))
}

func (m *Metrics) IncrementLockContention(action string) {
	if !m.isEnabled() {
		return
	}
	m.lockContention.WithLabelValues(action).Inc()
}

func (m *Metrics) RecordLockWait(d time.Duration) {
	if !m.isEnabled() {
		return
	}
	m.lockWait.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) IncrementConflictsDetected(field string) {
	if !m.isEnabled() {
		return
	}
	m.conflictsDetected.WithLabelValues(field).Inc()
}

func (m *Metrics) IncrementRecoverySweeps(outcome string) {
	if !m.isEnabled() {
		return
	}
	m.recoverySweeps.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementRecoveryResumed() {
	if !m.isEnabled() {
		return
	}
	m.recoveryResumed.Inc()
}

func (m *Metrics) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = false
}

func (m *Metrics) Enable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = true
}

func (m *Metrics) isEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}
