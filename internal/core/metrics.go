package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// importRuns counts apply calls by outcome (success/failed/busy/rejected).
	importRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shelter_import_runs_total",
		Help: "Total number of import apply calls by outcome",
	}, []string{"status"})

	// importRows counts completed row work by kind (created/updated/deleted/skipped).
	importRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shelter_import_rows_total",
		Help: "Animal records written by imports, by result",
	}, []string{"result"})

	importDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "shelter_import_duration_seconds",
		Help:    "Duration of import apply in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// previewRows counts previewed rows by classification (create/update/error).
	previewRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shelter_preview_rows_total",
		Help: "Rows classified by import previews",
	}, []string{"classification"})

	previewSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "shelter_preview_rows",
		Help:    "Number of data rows per previewed file",
		Buckets: []float64{1, 10, 50, 100, 250, 500, 1000},
	})

	// importInProgress is 1 while the import lock is held.
	importInProgress = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shelter_import_in_progress",
		Help: "1 while an import holds the single-writer lock",
	})
)

func observePreview(resp *PreviewResponse) {
	previewRows.WithLabelValues("create").Add(float64(resp.Summary.Creates))
	previewRows.WithLabelValues("update").Add(float64(resp.Summary.Updates))
	previewRows.WithLabelValues("error").Add(float64(resp.Summary.Errors))
	previewSize.Observe(float64(resp.Total))
}

func observeApply(result ApplyResult) {
	importRows.WithLabelValues("created").Add(float64(result.Created))
	importRows.WithLabelValues("updated").Add(float64(result.Updated))
	importRows.WithLabelValues("deleted").Add(float64(result.Deleted))
	importRows.WithLabelValues("skipped").Add(float64(result.Skipped))
}
