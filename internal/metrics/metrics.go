package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Cycle metrics
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rebalancer_cycles_total",
			Help: "Total number of rebalancing cycles by outcome",
		},
		[]string{"status"},
	)

	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rebalancer_cycle_duration_seconds",
		Help:    "Duration of a complete rebalancing cycle in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	PlanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rebalancer_plan_duration_seconds",
		Help:    "Rebalancing plan calculation duration in seconds",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
	})

	RankingCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rebalancer_ranking_cycles_total",
		Help: "Total number of percentile ranking cycles executed",
	})

	// Capital flow metrics, in base units
	CapitalExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rebalancer_capital_extracted_total",
			Help: "Capital extracted from strategies",
		},
		[]string{"extraction_type"},
	)

	ExtractionFees = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rebalancer_extraction_fees_total",
			Help: "Fees, slippage and penalties paid while extracting capital",
		},
		[]string{"extraction_type"},
	)

	CapitalAllocated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rebalancer_capital_allocated_total",
			Help: "Capital routed to destinations by allocation type",
		},
		[]string{"allocation_type"},
	)

	OperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rebalancer_operation_errors_total",
			Help: "Rejected portfolio operations",
		},
		[]string{"operation"},
	)

	// Strategy metrics
	Strategies = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rebalancer_strategies",
			Help: "Number of registered strategies by status",
		},
		[]string{"manager", "status"},
	)

	PerformanceScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rebalancer_performance_score",
		Help:    "Distribution of computed performance scores",
		Buckets: []float64{0, 1000, 2000, 3000, 4000, 5000, 6000, 7000, 8000, 9000, 10000},
	})

	// HTTP metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rebalancer_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rebalancer_http_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	ScoreCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rebalancer_score_cache_hits_total",
		Help: "Total number of score calculator cache hits",
	})

	ScoreCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rebalancer_score_cache_misses_total",
		Help: "Total number of score calculator cache misses",
	})
)
