// Package metrics holds the Prometheus instruments shared by every stage.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CatalogRequests counts remote catalog calls by endpoint and outcome.
	CatalogRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sommelier_catalog_requests_total",
			Help: "Remote catalog API calls by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"},
	)

	// ItemsProcessed counts extraction attempts by final status.
	ItemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sommelier_items_processed_total",
			Help: "Extraction attempts by final lifecycle status",
		},
		[]string{"status"},
	)

	// CleanerRecords counts cleaned records by outcome (kept, dropped, coerced).
	CleanerRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sommelier_cleaner_records_total",
			Help: "Records seen by the cleaner by outcome",
		},
		[]string{"outcome"},
	)

	// QualityVerdicts counts quality runs by table and verdict.
	QualityVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sommelier_quality_verdicts_total",
			Help: "Data quality verdicts by table and status",
		},
		[]string{"table", "status"},
	)

	// StorageOperations counts blob and warehouse operations by operation and result.
	StorageOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sommelier_storage_operations_total",
			Help: "Blob and warehouse storage operations by operation and result",
		},
		[]string{"operation", "result"},
	)

	// StageDuration observes stage wall time.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sommelier_stage_duration_seconds",
			Help:    "Stage duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14), // 100ms to ~27min
		},
		[]string{"stage", "result"},
	)

	// Watermark is the current crawl watermark.
	Watermark = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sommelier_crawl_watermark",
			Help: "Highest id boundary scanned by range discovery",
		},
	)
)

// Result maps an error to a metric label.
func Result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
