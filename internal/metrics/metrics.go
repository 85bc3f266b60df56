package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Event pipeline
	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_events_processed_total",
		Help: "Total number of ledger events processed by listeners",
	}, []string{"type"})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_events_dropped_total",
		Help: "Total number of ledger events dropped",
	}, []string{"reason"})

	StaleUpdatesDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_stale_updates_discarded_total",
		Help: "Total number of incremental updates older than the last full sync",
	})

	// Hub
	HubDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_hub_deliveries_total",
		Help: "Total number of event deliveries to subscribers",
	}, []string{"result"})

	Subscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_subscriptions",
		Help: "Number of active subscriptions",
	})

	// Fan-in
	FanInTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_fanin_tasks_total",
		Help: "Total number of fan-in query tasks by result",
	}, []string{"result"})

	FanInDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_fanin_duration_seconds",
		Help:    "Time taken by one fan-in aggregation",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	})

	// Registry and sync
	DiscoveryPasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_discovery_passes_total",
		Help: "Total number of discovery passes by result",
	}, []string{"result"})

	TrackedInstances = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relay_tracked_instances",
		Help: "Number of tracked contract instances by kind",
	}, []string{"kind"})

	FullSyncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_full_syncs_total",
		Help: "Total number of network full syncs by result",
	}, []string{"result"})
)
