// Package metrics exposes client delivery counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	telemetry "github.com/rychale/telemetry-influxdb"
)

// StatsSource yields a snapshot of delivery counters.
type StatsSource interface {
	Stats() telemetry.Stats
}

// Collector adapts a client's counters to the Prometheus scrape model.
// Values are read fresh from the source on every scrape, so the collector
// holds no state of its own.
type Collector struct {
	source StatsSource

	reported  *prometheus.Desc
	batches   *prometheus.Desc
	written   *prometheus.Desc
	invalid   *prometheus.Desc
	failed    *prometheus.Desc
	discarded *prometheus.Desc
}

// NewCollector describes the counters under the given namespace.
func NewCollector(namespace string, source StatsSource) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "influxdb", name), help, nil, nil)
	}
	return &Collector{
		source:    source,
		reported:  desc("points_reported_total", "Points accepted for delivery."),
		batches:   desc("batches_total", "Batches handed to the writer."),
		written:   desc("points_written_total", "Points delivered to the server."),
		invalid:   desc("points_invalid_total", "Points rejected by the encoder."),
		failed:    desc("points_failed_total", "Points in batches the server or network refused."),
		discarded: desc("points_discarded_total", "Points dropped at shutdown."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.reported
	ch <- c.batches
	ch <- c.written
	ch <- c.invalid
	ch <- c.failed
	ch <- c.discarded
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Stats()
	ch <- prometheus.MustNewConstMetric(c.reported, prometheus.CounterValue, float64(stats.Reported))
	ch <- prometheus.MustNewConstMetric(c.batches, prometheus.CounterValue, float64(stats.Batches))
	ch <- prometheus.MustNewConstMetric(c.written, prometheus.CounterValue, float64(stats.Written))
	ch <- prometheus.MustNewConstMetric(c.invalid, prometheus.CounterValue, float64(stats.Invalid))
	ch <- prometheus.MustNewConstMetric(c.failed, prometheus.CounterValue, float64(stats.Failed))
	ch <- prometheus.MustNewConstMetric(c.discarded, prometheus.CounterValue, float64(stats.Discarded))
}
