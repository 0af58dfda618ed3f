package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ChainHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mvs",
		Name:      "chain_height",
		Help:      "Height of the main chain tip.",
	})

	OrphanPoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mvs",
		Name:      "orphan_pool_size",
		Help:      "Blocks waiting for a parent.",
	})

	TxPoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mvs",
		Name:      "tx_pool_size",
		Help:      "Transactions in the mempool.",
	})

	StoreWriteSequence = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mvs",
		Name:      "store_write_sequence",
		Help:      "Store write sequence counter (odd while a write is in flight).",
	})

	BlocksConnected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mvs",
		Name:      "blocks_connected_total",
		Help:      "Blocks connected to the main chain.",
	})

	BlocksRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mvs",
		Name:      "blocks_rejected_total",
		Help:      "Blocks rejected by validation.",
	})

	Reorgs = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mvs",
		Name:      "reorgs_total",
		Help:      "Chain reorganizations executed.",
	})

	ReorgDepth = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mvs",
		Name:      "reorg_depth_blocks",
		Help:      "Blocks removed per reorganization.",
		Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
	})
)

// Register installs every collector on the default registry.
func Register() {
	prometheus.MustRegister(
		ChainHeight,
		OrphanPoolSize,
		TxPoolSize,
		StoreWriteSequence,
		BlocksConnected,
		BlocksRejected,
		Reorgs,
		ReorgDepth,
	)
}

// Handler serves the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
