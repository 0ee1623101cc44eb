package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MatchesTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_pool", Name: "matches_total", Help: "Total number of requests matched to an offer"})
	UnmatchedTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_pool", Name: "unmatched_total", Help: "Requests for which no offer qualified"})
	MatchLatency   = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "ride_pool", Name: "match_latency_seconds", Help: "Match latency seconds"})
	DriversOnline  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_pool", Name: "drivers_online", Help: "Number of online drivers"})

	RouteFetchErrors = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_pool", Name: "route_fetch_errors_total", Help: "Retryable route provider failures"})
	RouteCacheHits   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_pool", Name: "route_cache_hits_total", Help: "Route lookups served from cache"})

	FareReallocations = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_pool", Name: "fare_reallocations_total", Help: "Fare reallocations after a passenger joined or left"})
	RideConflicts     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_pool", Name: "ride_version_conflicts_total", Help: "Optimistic concurrency conflicts on pooled rides"})
	ArrivalsTotal     = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_pool", Name: "arrivals_total", Help: "Arrival events detected from location updates"},
		[]string{"kind"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_pool", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_pool",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
