package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	_ = m.Track("ledger:sync").End(nil)
	err := m.Track("ledger:sync").End(errors.New("boom"))
	if err == nil || err.Error() != "boom" {
		t.Fatalf("tracker must return the error untouched, got %v", err)
	}
	if got := testutil.ToFloat64(m.runs.WithLabelValues("ledger:sync", "success")); got != 1 {
		t.Fatalf("expected 1 success, got %v", got)
	}
	if got := testutil.ToFloat64(m.failures.WithLabelValues("ledger:sync")); got != 1 {
		t.Fatalf("expected 1 failure, got %v", got)
	}
}

func TestObserveSync(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.ObserveSync("SALES", "SUCCESS")
	m.ObserveSync("SALES", "SUCCESS")
	m.ObserveSync("SALES", "ERROR")
	if got := testutil.ToFloat64(m.syncs.WithLabelValues("SALES", "SUCCESS")); got != 2 {
		t.Fatalf("expected 2 successes, got %v", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ObserveSync("SALES", "SUCCESS")
	m.AddImbalance("t")
	if err := m.Track("x").End(nil); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}
