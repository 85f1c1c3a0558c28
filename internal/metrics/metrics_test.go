package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordAdapterCallIncrementsCountersOnError(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordAdapterCall("onprem", "lab1", "clone_from_template", errors.New("boom"), "BackendUnreachable")

	if got := testutil.ToFloat64(m.AdapterCallsTotal.WithLabelValues("onprem", "lab1", "clone_from_template")); got != 1 {
		t.Fatalf("expected calls total 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.AdapterCallErrors.WithLabelValues("onprem", "lab1", "clone_from_template", "BackendUnreachable")); got != 1 {
		t.Fatalf("expected call errors 1, got %v", got)
	}
}

func TestRecordDeployOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordDeployOutcome("completed", 12.5)

	if got := testutil.ToFloat64(m.DeployOutcomesTotal.WithLabelValues("completed")); got != 1 {
		t.Fatalf("expected outcomes total 1, got %v", got)
	}
}

func TestRecordDrift(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordDrift("lab-1", "missing", 3)

	if got := testutil.ToFloat64(m.DriftActiveGauge.WithLabelValues("lab-1")); got != 3 {
		t.Fatalf("expected active drift gauge 3, got %v", got)
	}
}
