// Package metrics holds the prometheus collectors served on /metrics.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"assetdesk/pkg/store"
)

var (
	QueueEnqueue = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assetdesk_queue_enqueue_total",
		Help: "Generation tasks offered to the queue, by result.",
	}, []string{"result"})

	QueueProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assetdesk_queue_processed_total",
		Help: "Queue items handled by workers, by handler and result.",
	}, []string{"handler", "result"})

	Generations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assetdesk_generations_total",
		Help: "Finished generation runs, by final status.",
	}, []string{"status"})

	GenerationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "assetdesk_generation_duration_seconds",
		Help:    "Wall time of generation runs.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	})

	ToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assetdesk_tool_calls_total",
		Help: "Tool invocations, by tool, caller and result.",
	}, []string{"tool", "source", "result"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assetdesk_http_requests_total",
		Help: "HTTP requests, by route template and status code.",
	}, []string{"route", "code"})

	HTTPSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "assetdesk_http_request_duration_seconds",
		Help:    "HTTP handler latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	SweepRemoved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assetdesk_retention_removed_total",
		Help: "Records touched by the retention sweeper, by kind.",
	}, []string{"kind"})
)

var registerOnce sync.Once

// RegisterRuntime adds gauges that sample live state: queue depth and the
// pebble engine. Safe to call more than once.
func RegisterRuntime(queueLen func() int) {
	registerOnce.Do(func() {
		promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "assetdesk_queue_depth",
			Help: "Generation tasks waiting for a worker.",
		}, func() float64 { return float64(queueLen()) })
		prometheus.MustRegister(pebbleCollector{})
	})
}

var (
	pebbleDiskDesc    = prometheus.NewDesc("assetdesk_pebble_disk_bytes", "On-disk size of the store.", nil, nil)
	pebbleWALDesc     = prometheus.NewDesc("assetdesk_pebble_wal_bytes", "Live WAL size.", nil, nil)
	pebbleL0FilesDesc = prometheus.NewDesc("assetdesk_pebble_l0_files", "Files in level 0.", nil, nil)
	pebbleDebtDesc    = prometheus.NewDesc("assetdesk_pebble_compaction_debt_bytes", "Estimated compaction debt.", nil, nil)
)

type pebbleCollector struct{}

func (pebbleCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- pebbleDiskDesc
	ch <- pebbleWALDesc
	ch <- pebbleL0FilesDesc
	ch <- pebbleDebtDesc
}

func (pebbleCollector) Collect(ch chan<- prometheus.Metric) {
	m := store.GetPebbleMetrics()
	ch <- prometheus.MustNewConstMetric(pebbleDiskDesc, prometheus.GaugeValue, float64(m.DiskBytes))
	ch <- prometheus.MustNewConstMetric(pebbleWALDesc, prometheus.GaugeValue, float64(m.WALBytes))
	ch <- prometheus.MustNewConstMetric(pebbleL0FilesDesc, prometheus.GaugeValue, float64(m.L0Files))
	ch <- prometheus.MustNewConstMetric(pebbleDebtDesc, prometheus.GaugeValue, float64(m.CompactionBacklog))
}
