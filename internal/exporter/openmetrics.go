// Package exporter renders stored run metrics in the OpenMetrics exposition format.
package exporter

import (
	"maps"
	"net/http"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cam3ron2/delivery-heatmap/internal/store"
)

// SnapshotReader returns the current run metric points.
type SnapshotReader interface {
	Snapshot() []store.MetricPoint
}

// NewOpenMetricsHandler renders reader snapshots as gauges. help maps metric names to their HELP
// text; metrics without an entry use their name.
func NewOpenMetricsHandler(reader SnapshotReader, help map[string]string) http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(&snapshotCollector{reader: reader, help: help})

	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

type snapshotCollector struct {
	reader SnapshotReader
	help   map[string]string
}

// Describe sends nothing, which makes the collector unchecked.
func (c *snapshotCollector) Describe(_ chan<- *prometheus.Desc) {}

func (c *snapshotCollector) Collect(ch chan<- prometheus.Metric) {
	if c == nil || c.reader == nil {
		return
	}
	for _, point := range c.reader.Snapshot() {
		if metric, ok := c.gauge(point); ok {
			ch <- metric
		}
	}
}

// gauge converts one point; label names are emitted in sorted order.
func (c *snapshotCollector) gauge(point store.MetricPoint) (prometheus.Metric, bool) {
	if point.Name == "" {
		return nil, false
	}
	names := slices.Sorted(maps.Keys(point.Labels))
	values := make([]string, len(names))
	for i, name := range names {
		values[i] = point.Labels[name]
	}
	desc := prometheus.NewDesc(point.Name, c.helpFor(point.Name), names, nil)
	metric, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, point.Value, values...)
	if err != nil {
		return nil, false
	}
	return metric, true
}

func (c *snapshotCollector) helpFor(name string) string {
	if text, ok := c.help[name]; ok && text != "" {
		return text
	}
	return name
}
