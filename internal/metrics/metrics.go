package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DocumentsUploaded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docuflow_documents_uploaded_total",
			Help: "Total documents accepted at upload",
		},
	)

	DocumentsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docuflow_documents_processed_total",
			Help: "Total documents reaching a terminal status",
		},
		[]string{"outcome"},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docuflow_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"stage"},
	)

	ExtractionMethod = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docuflow_extraction_method_total",
			Help: "Extractions by method that produced the text",
		},
		[]string{"method"},
	)

	RetriesScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docuflow_retries_scheduled_total",
			Help: "Total transient-failure retries scheduled",
		},
	)

	AICost = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docuflow_ai_cost_usd_total",
			Help: "Accumulated AI processing cost in USD",
		},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "docuflow_queue_depth",
			Help: "Jobs currently in the task queue",
		},
		[]string{"state"},
	)

	SearchQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docuflow_search_queries_total",
			Help: "Search queries by mode and status",
		},
		[]string{"mode", "status"},
	)

	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docuflow_search_duration_seconds",
			Help:    "Search request duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"mode"},
	)

	IndexedDocuments = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "docuflow_indexed_documents",
			Help: "Documents currently in the lexical index",
		},
	)
)

func Init() {
	prometheus.MustRegister(DocumentsUploaded)
	prometheus.MustRegister(DocumentsProcessed)
	prometheus.MustRegister(StageDuration)
	prometheus.MustRegister(ExtractionMethod)
	prometheus.MustRegister(RetriesScheduled)
	prometheus.MustRegister(AICost)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(SearchQueries)
	prometheus.MustRegister(SearchDuration)
	prometheus.MustRegister(IndexedDocuments)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
