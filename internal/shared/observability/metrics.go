package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics definitions
var (
	LoadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ilview_load_seconds",
		Help:    "Time spent reading an assembly image.",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})

	LoadFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ilview_load_failures_total",
		Help: "Total number of assembly loads that failed, by error code.",
	}, []string{"code"})

	RenderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ilview_render_seconds",
		Help:    "Time spent rendering an entity to text.",
		Buckets: prometheus.DefBuckets,
	}, []string{"language", "kind"})

	RenderCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ilview_render_cache_hits_total",
		Help: "Total number of renders served from the in-memory text cache.",
	})

	AttributesSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ilview_attributes_skipped_total",
		Help: "Total number of custom attributes omitted because their arguments do not match the constructor.",
	})

	UnresolvedPlaceholdersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ilview_unresolved_placeholders_total",
		Help: "Total number of unresolved-reference placeholders written by the renderer.",
	})

	TokenizeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ilview_tokenize_seconds",
		Help:    "Time spent highlighting a block of text.",
		Buckets: prometheus.DefBuckets,
	}, []string{"language"})

	ResolveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ilview_resolve_total",
		Help: "Assembly reference resolutions, by the strategy that answered (or \"none\").",
	}, []string{"strategy"})

	ResolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ilview_resolve_seconds",
		Help:    "Time spent resolving one assembly reference through the chain.",
		Buckets: prometheus.DefBuckets,
	})

	RepositoryRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ilview_repository_requests_total",
		Help: "Repository client requests, by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	RepositoryServedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ilview_repository_served_total",
		Help: "Repository server responses, by endpoint and status class.",
	}, []string{"endpoint", "status"})

	CachedAssemblies = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ilview_cached_assemblies",
		Help: "Current number of assemblies held in the assembly cache.",
	})

	WatcherEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ilview_watcher_events_total",
		Help: "Total number of file system events received by the watcher.",
	})

	ConcurrentRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ilview_concurrent_requests_total",
		Help: "Total number of disassembly requests rejected because another was in flight.",
	})
)
