package devices

import "github.com/prometheus/client_golang/prometheus"

var (
	resolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "miner_resolutions_total",
			Help: "Address resolutions by resulting family (unresolved when no device answered)",
		},
		[]string{"family"},
	)

	resolverCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "miner_resolver_cache_hits_total",
		Help: "Resolve calls served from the cache",
	})

	cachedMiners = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "miner_resolver_cached",
		Help: "Miners currently held in the resolver cache",
	})

	pollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "miner_polls_total",
			Help: "Poll cycles by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(resolutionsTotal, resolverCacheHits, cachedMiners, pollsTotal)
}
