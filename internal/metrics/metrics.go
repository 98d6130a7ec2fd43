package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus instruments for the pipeline
type Metrics struct {
	RowsIngested       prometheus.Counter
	FeatureRowsBuilt   prometheus.Counter
	FeatureRowsDropped prometheus.Counter

	ModelsTrained prometheus.Counter
	ModelsFailed  prometheus.Counter

	ExplanationsComputed *prometheus.CounterVec
	CacheHits            prometheus.Counter
	CacheMisses          prometheus.Counter

	ReportsBuilt prometheus.Counter
	StoreErrors  prometheus.Counter

	RequestsServed *prometheus.CounterVec
	RateLimited    prometheus.Counter

	StageDuration *prometheus.HistogramVec

	BestValidationMAE    prometheus.Gauge
	ClusterJobsCompleted prometheus.Gauge
	ClusterJobsFailed    prometheus.Gauge
	ClusterBusySeconds   prometheus.Gauge
}

// New creates and registers all metrics on the default registry
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the metrics on reg; tests pass a fresh registry
// to avoid duplicate registration panics
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RowsIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "gbx_rows_ingested_total",
			Help: "Raw observations loaded from the source CSV",
		}),
		FeatureRowsBuilt: factory.NewCounter(prometheus.CounterOpts{
			Name: "gbx_feature_rows_built_total",
			Help: "Feature table rows surviving warm-up dropping",
		}),
		FeatureRowsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "gbx_feature_rows_dropped_total",
			Help: "Rows dropped because lag or rolling values were undefined",
		}),
		ModelsTrained: factory.NewCounter(prometheus.CounterOpts{
			Name: "gbx_models_trained_total",
			Help: "Candidate models fitted during search",
		}),
		ModelsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "gbx_models_failed_total",
			Help: "Candidate model fits that returned an error",
		}),
		ExplanationsComputed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gbx_explanations_computed_total",
				Help: "Explanations computed per method",
			},
			[]string{"method"},
		),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "gbx_prediction_cache_hits_total",
			Help: "Prediction cache hits during explanation passes",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "gbx_prediction_cache_misses_total",
			Help: "Prediction cache misses during explanation passes",
		}),
		ReportsBuilt: factory.NewCounter(prometheus.CounterOpts{
			Name: "gbx_reports_built_total",
			Help: "Reports rendered to disk",
		}),
		StoreErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "gbx_store_errors_total",
			Help: "Run store operation failures",
		}),
		RequestsServed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gbx_http_requests_total",
				Help: "HTTP requests served per route and status",
			},
			[]string{"route", "status"},
		),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "gbx_http_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		}),
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gbx_stage_duration_seconds",
				Help:    "Wall time per pipeline stage",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
			},
			[]string{"stage"},
		),
		BestValidationMAE: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gbx_best_validation_mae",
			Help: "Validation MAE of the current leaderboard leader",
		}),
		ClusterJobsCompleted: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gbx_cluster_jobs_completed",
			Help: "Training jobs completed on the compute cluster",
		}),
		ClusterJobsFailed: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gbx_cluster_jobs_failed",
			Help: "Training jobs failed on the compute cluster",
		}),
		ClusterBusySeconds: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gbx_cluster_busy_seconds",
			Help: "Cumulative busy time across cluster workers",
		}),
	}
}
