package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/odyssey-erp/glsync/internal/sources"
)

// Metrics exposes reconciliation collectors.
type Metrics struct {
	records *prometheus.CounterVec
	pending *prometheus.GaugeVec
}

// NewMetrics registers reconciliation metrics against registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	records := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "glsync_reconcile_records_total",
		Help: "Records processed by reconciliation partitioned by module and outcome.",
	}, []string{"module", "status"})
	pending := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "glsync_pending_sync",
		Help: "Eligible records without a ledger posting at the last count.",
	}, []string{"module"})
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	registerer.MustRegister(records, pending)
	for _, m := range sources.Modules() {
		for _, status := range []string{"success", "skipped", "error"} {
			records.WithLabelValues(string(m), status)
		}
		pending.WithLabelValues(string(m))
	}
	return &Metrics{records: records, pending: pending}
}

func (m *Metrics) observe(res Result) {
	if m == nil {
		return
	}
	module := string(res.Module)
	m.records.WithLabelValues(module, "success").Add(float64(res.Success))
	m.records.WithLabelValues(module, "skipped").Add(float64(res.Skipped))
	m.records.WithLabelValues(module, "error").Add(float64(res.Errors))
}

func (m *Metrics) setPending(module sources.Module, n int) {
	if m == nil {
		return
	}
	m.pending.WithLabelValues(string(module)).Set(float64(n))
}
