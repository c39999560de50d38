package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// These are the metrics functions exposed by the package. By default they are all
// NOP functions to minimize overhead when metrics are not enabled. The 'addDxdockerMetrics'
// function initializes these with functions having implementations if metrics are
// enabled.

var IncCacheHits noLabel = func() {}
var IncRegistryFetches noLabel = func() {}
var IncFetchFailures noLabel = func() {}
var DeltaCachedEntries delta = func(float64) {}
var SetCachedEntries delta = func(float64) {}
var IncRunsByEngine withLabel = func(string) {}
var IncAssetsByDestination withLabel = func(string) {}

type withLabel func(string)
type noLabel func()
type delta func(float64)

const (
	namespace                   = "dxdocker"
	cache_hits_total            = "cache_hits_total"
	registry_fetches_total      = "registry_fetches_total"
	fetch_failures_total        = "fetch_failures_total"
	cached_entry_count          = "cached_entry_count"
	runs_by_engine_total        = "runs_by_engine_total"
	assets_by_destination_total = "assets_by_destination_total"
	engine_label                = "engine"
	destination_label           = "destination"
)

// addDxdockerMetrics creates all the dx-docker metrics and registers them with the
// passed registerer. It also assigns a function to actually implement each metric.
// Unless this function is called, all the metric functions exposed by the package
// will be NOP functions.
func addDxdockerMetrics(reg prometheus.Registerer) {
	factory := promauto.With(reg)

	cacheHitsTotal := factory.NewCounter(
		prometheus.CounterOpts{
			Name:      cache_hits_total,
			Namespace: namespace,
			Help:      "Total image lookups satisfied from the cache",
		},
	)
	IncCacheHits = func() {
		cacheHitsTotal.Inc()
	}

	///
	registryFetchesTotal := factory.NewCounter(
		prometheus.CounterOpts{
			Name:      registry_fetches_total,
			Namespace: namespace,
			Help:      "Total images fetched from a registry and installed in the cache",
		},
	)
	IncRegistryFetches = func() {
		registryFetchesTotal.Inc()
	}

	///
	fetchFailuresTotal := factory.NewCounter(
		prometheus.CounterOpts{
			Name:      fetch_failures_total,
			Namespace: namespace,
			Help:      "Total image fetches that failed",
		},
	)
	IncFetchFailures = func() {
		fetchFailuresTotal.Inc()
	}

	///
	cachedEntryCount := factory.NewGauge(
		prometheus.GaugeOpts{
			Name:      cached_entry_count,
			Namespace: namespace,
			Help:      "Number of Ready entries in the cache",
		},
	)
	DeltaCachedEntries = func(delta float64) {
		cachedEntryCount.Add(delta)
	}
	SetCachedEntries = func(val float64) {
		cachedEntryCount.Set(val)
	}

	///
	runsByEngineTotal := factory.NewCounterVec(
		prometheus.CounterOpts{
			Name:      runs_by_engine_total,
			Namespace: namespace,
			Help:      "Total container runs by execution engine",
		},
		[]string{engine_label},
	)
	IncRunsByEngine = func(engine string) {
		runsByEngineTotal.With(prometheus.Labels{engine_label: engine}).Inc()
	}

	///
	assetsByDestinationTotal := factory.NewCounterVec(
		prometheus.CounterOpts{
			Name:      assets_by_destination_total,
			Namespace: namespace,
			Help:      "Total packaged assets by destination type (applet, remote)",
		},
		[]string{destination_label},
	)
	IncAssetsByDestination = func(destination string) {
		assetsByDestinationTotal.With(prometheus.Labels{destination_label: destination}).Inc()
	}
}
