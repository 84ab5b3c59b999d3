// Package metrics exports hashsmith map statistics to Prometheus.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/llxisdsh/hashsmith"
)

const namespace = "hashsmith"

// StatsSource is implemented by *hashsmith.ShardedMap for any key and
// value types.
type StatsSource interface {
	Stats() *hashsmith.MapStats
}

type mapStatsCollector struct {
	source StatsSource

	size            *prometheus.Desc
	capacity        *prometheus.Desc
	tombstones      *prometheus.Desc
	growths         *prometheus.Desc
	maxDisplacement *prometheus.Desc
	fallbacks       *prometheus.Desc
	shards          *prometheus.Desc
	shardSize       *prometheus.Desc
}

// NewCollector creates a Prometheus collector reading source.Stats() on
// every scrape. name is attached as the constant "map" label so several
// maps can be registered side by side.
//
// Each scrape takes every shard's shared lock once.
func NewCollector(source StatsSource, name string) prometheus.Collector {
	labels := prometheus.Labels{"map": name}
	desc := func(metric, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "map", metric), help, variable, labels)
	}
	return &mapStatsCollector{
		source:          source,
		size:            desc("size", "Number of mappings."),
		capacity:        desc("capacity_slots", "Total slots across all shards."),
		tombstones:      desc("tombstones", "Deleted slots awaiting the next growth."),
		growths:         desc("growths_total", "Table doublings since construction."),
		maxDisplacement: desc("max_displacement", "Largest Robin-Hood displacement over all shards."),
		fallbacks:       desc("optimistic_fallbacks_total", "Optimistic reads retried under the shared lock."),
		shards:          desc("shards", "Number of shards."),
		shardSize:       desc("shard_size", "Number of mappings per shard.", "shard"),
	}
}

func (c *mapStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.size
	ch <- c.capacity
	ch <- c.tombstones
	ch <- c.growths
	ch <- c.maxDisplacement
	ch <- c.fallbacks
	ch <- c.shards
	ch <- c.shardSize
}

func (c *mapStatsCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Stats()
	ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(stats.Size))
	ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(stats.Capacity))
	ch <- prometheus.MustNewConstMetric(c.tombstones, prometheus.GaugeValue, float64(stats.Tombstones))
	ch <- prometheus.MustNewConstMetric(c.growths, prometheus.CounterValue, float64(stats.Growths))
	ch <- prometheus.MustNewConstMetric(c.maxDisplacement, prometheus.GaugeValue, float64(stats.MaxDisplacement))
	ch <- prometheus.MustNewConstMetric(c.fallbacks, prometheus.CounterValue, float64(stats.OptimisticFallbacks))
	ch <- prometheus.MustNewConstMetric(c.shards, prometheus.GaugeValue, float64(stats.Shards))
	for i, n := range stats.ShardSizes {
		ch <- prometheus.MustNewConstMetric(c.shardSize, prometheus.GaugeValue, float64(n), strconv.Itoa(i))
	}
}

var _ prometheus.Collector = new(mapStatsCollector)
