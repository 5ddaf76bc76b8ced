// Package metrics holds Prometheus instruments used across the registry.
// All collectors are registered with the global registry, so mounting
// promhttp.Handler() in main.go is enough to expose them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RedirectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortmap_redirects_total",
			Help: "Resolution requests by outcome and client device class.",
		}, []string{"outcome", "device"})

	MappingMutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortmap_mapping_mutations_total",
			Help: "Successful create, update, and delete operations.",
		}, []string{"op"})

	SweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shortmap_swept_total",
			Help: "Cumulative number of expired mappings deleted by the sweeper.",
		})

	MigratedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortmap_migrated_entries_total",
			Help: "Legacy entries processed by the importer, by result.",
		}, []string{"result"})
)

func init() {
	prometheus.MustRegister(
		RedirectsTotal,
		MappingMutationsTotal,
		SweptTotal,
		MigratedTotal,
	)
}
