package steptable

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the scan engine.
type Metrics struct {
	OpensTotal        *prometheus.CounterVec
	ScansTotal        *prometheus.CounterVec
	RowsReturned      prometheus.Counter
	BytesReturned     prometheus.Counter
	RowGroupsSelected prometheus.Counter
	RowGroupsPruned   prometheus.Counter
}

// NewMetrics creates all metrics and registers them with the provided
// registry. A nil registry skips registration, which is useful for tables
// opened in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	opensTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "steptable_opens_total",
		Help: "Total table opens by backend and outcome",
	}, []string{"backend", "outcome"})

	scansTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "steptable_scans_total",
		Help: "Total scan calls by outcome",
	}, []string{"outcome"})

	rowsReturned := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "steptable_rows_returned_total",
		Help: "Total rows returned by scans",
	})

	bytesReturned := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "steptable_bytes_returned_total",
		Help: "Total encoded stream bytes returned by scans",
	})

	rowGroupsSelected := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "steptable_row_groups_selected_total",
		Help: "Row groups whose data was read during scans",
	})

	rowGroupsPruned := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "steptable_row_groups_pruned_total",
		Help: "Row groups skipped by key range statistics",
	})

	if reg != nil {
		reg.MustRegister(opensTotal, scansTotal, rowsReturned, bytesReturned, rowGroupsSelected, rowGroupsPruned)
	}

	return &Metrics{
		OpensTotal:        opensTotal,
		ScansTotal:        scansTotal,
		RowsReturned:      rowsReturned,
		BytesReturned:     bytesReturned,
		RowGroupsSelected: rowGroupsSelected,
		RowGroupsPruned:   rowGroupsPruned,
	}
}
