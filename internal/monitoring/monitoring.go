package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments the merge/delta/advertise hot path shared by every
// replica Session (spec §2's ambient metrics layer).
type Metrics struct {
	MergesTotal         prometheus.Counter
	MergeDuration       prometheus.Histogram
	DeltasSent          prometheus.Counter
	DeltasReceived      prometheus.Counter
	StateVectorsSent    prometheus.Counter
	BytesTransferred    prometheus.Counter
	RejectedLeavesTotal prometheus.Counter
	ActivePeers         prometheus.Gauge
	ShelfNodeCount      prometheus.Gauge
	PruneOpsTotal       prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		MergesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shelfcrdt_merges_total",
			Help: "Total number of merge operations applied to a replica's root shelf",
		}),
		MergeDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "shelfcrdt_merge_duration_seconds",
			Help:    "Time taken to merge a delta into the root shelf",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
		DeltasSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shelfcrdt_deltas_sent_total",
			Help: "Total number of Delta envelopes sent to peers",
		}),
		DeltasReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shelfcrdt_deltas_received_total",
			Help: "Total number of Delta envelopes received from peers",
		}),
		StateVectorsSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shelfcrdt_state_vectors_sent_total",
			Help: "Total number of StateVector advertisements broadcast",
		}),
		BytesTransferred: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shelfcrdt_bytes_transferred_total",
			Help: "Total bytes sent across all wire envelopes",
		}),
		RejectedLeavesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shelfcrdt_rejected_leaves_total",
			Help: "Total number of leaves dropped by secure_merge due to a failed hash verification",
		}),
		ActivePeers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "shelfcrdt_active_peers",
			Help: "Number of peers this replica has exchanged a Hello with",
		}),
		ShelfNodeCount: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "shelfcrdt_shelf_node_count",
			Help: "Current number of nodes (maps and leaves) in the root shelf",
		}),
		PruneOpsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shelfcrdt_prune_ops_total",
			Help: "Total number of garbage-collection prune passes run after a merge",
		}),
	}
}
