package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

// Registry holds the engine's collectors. Hosts expose it alongside their own
// (e.g. with promhttp.HandlerFor).
var Registry = prometheus.NewRegistry()

var tracer = otel.Tracer("prism.engine")

var (
	factFetches = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "prism_fact_fetches_total",
		Help: "Fact scope executions by cube.",
	}, []string{"cube"})

	factFetchDuration = promauto.With(Registry).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "prism_fact_fetch_duration_seconds",
		Help:    "Fact scope execution latency by cube.",
		Buckets: prometheus.DefBuckets,
	}, []string{"cube"})

	scopeLoads = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "prism_level_scope_loads_total",
		Help: "Level scope loads by level kind.",
	}, []string{"kind"})

	queryErrors = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "prism_query_errors_total",
		Help: "Queries rejected at build time because of caller input.",
	})

	nullSubCubes = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "prism_null_sub_cubes_total",
		Help: "Sub-cubes skipped because none of the grain applies to them.",
	})
)
