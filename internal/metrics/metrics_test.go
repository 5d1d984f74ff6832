package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestRecordSagaStepLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordSagaStepLatency("merge", 25*time.Millisecond, "success")

	mf, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if !hasMetric(mf, "branchmerge_saga_step_latency_ms") {
		t.Fatalf("expected saga_step_latency_ms metric to be registered")
	}
}

func TestDisableSuppressesRecording(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Disable()

	m.IncrementLockContention("merge")
	m.Enable()
	m.IncrementLockContention("merge")

	mf, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range mf {
		if f.GetName() != "branchmerge_lock_contention_total" {
			continue
		}
		for _, metric := range f.Metric {
			if metric.GetCounter().GetValue() != 1 {
				t.Fatalf("expected exactly one increment while enabled, got %v", metric.GetCounter().GetValue())
			}
		}
	}
}

func hasMetric(families []*dto.MetricFamily, name string) bool {
	for _, f := range families {
		if f.GetName() == name {
			return true
		}
	}
	return false
}
