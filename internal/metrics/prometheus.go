package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SyncRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legisync_sync_runs_total",
			Help: "Total sync runs by terminal status",
		},
		[]string{"status"},
	)

	SyncRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "legisync_sync_run_duration_seconds",
			Help:    "Duration of full sync runs in seconds",
			Buckets: []float64{10, 30, 60, 300, 900, 1800, 3600, 7200},
		},
	)

	BillsSynced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legisync_bills_synced_total",
			Help: "Bills written during sync, by kind",
		},
		[]string{"kind"},
	)

	BillsAnalyzed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "legisync_bills_analyzed_total",
			Help: "Bills with a successfully appended analysis version",
		},
	)

	AmendmentsTracked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "legisync_amendments_tracked_total",
			Help: "Amendments processed during sync",
		},
	)

	SyncErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legisync_sync_errors_total",
			Help: "Per-record sync errors by category",
		},
		[]string{"category"},
	)

	AnalysisCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "legisync_analysis_cache_hits_total",
			Help: "Analysis documents served from the change-hash cache",
		},
	)

	AnalysisCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "legisync_analysis_cache_misses_total",
			Help: "Analysis cache lookups that missed",
		},
	)

	LLMTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legisync_llm_tokens_total",
			Help: "Tokens consumed by the analysis model, by kind",
		},
		[]string{"kind"},
	)

	WorklistSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "legisync_worklist_size",
			Help:    "Per-session worklist sizes produced by change detection",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000, 5000},
		},
	)
)

func Init() {
	prometheus.MustRegister(SyncRunsTotal)
	prometheus.MustRegister(SyncRunDuration)
	prometheus.MustRegister(BillsSynced)
	prometheus.MustRegister(BillsAnalyzed)
	prometheus.MustRegister(AmendmentsTracked)
	prometheus.MustRegister(SyncErrors)
	prometheus.MustRegister(AnalysisCacheHits)
	prometheus.MustRegister(AnalysisCacheMisses)
	prometheus.MustRegister(LLMTokens)
	prometheus.MustRegister(WorklistSize)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
