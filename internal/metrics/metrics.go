// Package metrics holds the service's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	VariantHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pixcache_variant_hits_total",
		Help: "Requests answered by an existing rendition.",
	})

	VariantMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pixcache_variant_misses_total",
		Help: "Requests that required deriving a new rendition.",
	})

	Derivations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pixcache_derivations_total",
		Help: "Renditions derived and queued for persistence.",
	})

	UpstreamFetches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pixcache_upstream_fetches_total",
		Help: "Source URL fetches performed during ingestion.",
	})

	PersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pixcache_persist_failures_total",
		Help: "Background rendition writes that failed.",
	})

	PersistDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pixcache_persist_dropped_total",
		Help: "Background rendition writes dropped due to a full queue.",
	})
)
