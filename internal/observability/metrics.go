package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for TradeLedger. Metrics are bound
// to the registerer passed to NewMetrics so tests can use a private registry.
type Metrics struct {
	// --- Core processing ---
	BlocksProcessed      prometheus.Counter
	BlockDuration        prometheus.Histogram
	BlockHeight          prometheus.Gauge
	InstructionsApplied  *prometheus.CounterVec
	InstructionsRejected *prometheus.CounterVec
	StateHashDuration    prometheus.Histogram

	// --- Markets ---
	Trades               *prometheus.CounterVec
	RiskActions          *prometheus.CounterVec
	LiquidationContracts *prometheus.CounterVec

	// --- Idempotency & ordering ---
	Duplicates       *prometheus.CounterVec
	DedupLRUSize     prometheus.Gauge
	OutOfOrder       prometheus.Counter
	ChainCacheHits   prometheus.Gauge
	ChainCacheMisses prometheus.Gauge

	// --- Recovery ---
	Reorgs         prometheus.Counter
	RollbackDepth  prometheus.Histogram
	FullReparses   prometheus.Counter
	ReplayedBlocks prometheus.Counter
	RecoveryState  prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotHeight    prometheus.Gauge
	SnapshotRejected  *prometheus.CounterVec

	// --- Archive ---
	ArchiveTradesWritten prometheus.Counter
	ArchiveBatchDuration prometheus.Histogram
	ArchiveBatchSize     prometheus.Histogram
	ArchiveErrors        *prometheus.CounterVec
	ArchiveLastHeight    prometheus.Gauge

	// --- Channels ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec
	PublishDrops       prometheus.Counter

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	blockBuckets := []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5}
	fileBuckets := []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0}

	return &Metrics{
		BlocksProcessed: f.NewCounter(prometheus.CounterOpts{
			Name: "tl_core_blocks_processed_total",
			Help: "Blocks fully processed by the core",
		}),
		BlockDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tl_core_block_duration_seconds",
			Help:    "Time from BeginBlock to EndBlock",
			Buckets: blockBuckets,
		}),
		BlockHeight: f.NewGauge(prometheus.GaugeOpts{
			Name: "tl_core_block_height",
			Help: "Height of the last processed block",
		}),
		InstructionsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tl_core_instructions_applied_total",
			Help: "Valid instructions applied",
		}, []string{"kind"}),
		InstructionsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tl_core_instructions_rejected_total",
			Help: "Instructions rejected with a result code",
		}, []string{"kind", "code"}),
		StateHashDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tl_core_state_hash_duration_seconds",
			Help:    "Time to compute the block state hash",
			Buckets: blockBuckets,
		}),

		Trades: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tl_trades_total",
			Help: "Fills by market kind",
		}, []string{"market"}),
		RiskActions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tl_contractdex_risk_actions_total",
			Help: "Risk pass actions by kind",
		}, []string{"action"}),
		LiquidationContracts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tl_contractdex_liquidated_contracts_total",
			Help: "Contracts closed by liquidation orders",
		}, []string{"contract"}),

		Duplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tl_idempotency_duplicates_total",
			Help: "Duplicate txids caught (lru/index)",
		}, []string{"tier"}),
		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "tl_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),
		OutOfOrder: f.NewCounter(prometheus.CounterOpts{
			Name: "tl_instruction_out_of_order_total",
			Help: "Instructions rejected for (block, index) order",
		}),
		ChainCacheHits: f.NewGauge(prometheus.GaugeOpts{
			Name: "tl_chain_tx_cache_hits",
			Help: "Chain transaction cache hits since start",
		}),
		ChainCacheMisses: f.NewGauge(prometheus.GaugeOpts{
			Name: "tl_chain_tx_cache_misses",
			Help: "Chain transaction cache misses since start",
		}),

		Reorgs: f.NewCounter(prometheus.CounterOpts{
			Name: "tl_recovery_reorgs_total",
			Help: "Reorgs detected",
		}),
		RollbackDepth: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tl_recovery_rollback_depth_blocks",
			Help:    "Blocks discarded per rollback",
			Buckets: []float64{1, 2, 3, 6, 10, 25, 50, 100},
		}),
		FullReparses: f.NewCounter(prometheus.CounterOpts{
			Name: "tl_recovery_full_reparse_total",
			Help: "Recoveries that fell back to a full reparse",
		}),
		ReplayedBlocks: f.NewCounter(prometheus.CounterOpts{
			Name: "tl_recovery_replayed_blocks_total",
			Help: "Journal blocks replayed after loading a snapshot",
		}),
		RecoveryState: f.NewGauge(prometheus.GaugeOpts{
			Name: "tl_recovery_state",
			Help: "Recovery state machine (0 uninitialized, 1 scanning, 2 synced, 3 rolling back)",
		}),

		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "tl_snapshot_taken_total",
			Help: "Snapshots written",
		}),
		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tl_snapshot_duration_seconds",
			Help:    "Snapshot write time",
			Buckets: fileBuckets,
		}),
		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "tl_snapshot_size_bytes",
			Help: "Total size of the last snapshot",
		}),
		SnapshotHeight: f.NewGauge(prometheus.GaugeOpts{
			Name: "tl_snapshot_height",
			Help: "Block height of the last snapshot",
		}),
		SnapshotRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tl_snapshot_rejected_total",
			Help: "Snapshot files discarded during recovery",
		}, []string{"reason"}),

		ArchiveTradesWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "tl_archive_trades_written_total",
			Help: "Trades written to the Postgres archive",
		}),
		ArchiveBatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tl_archive_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
		ArchiveBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tl_archive_batch_size",
			Help:    "Blocks per archive batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
		}),
		ArchiveErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tl_archive_errors_total",
			Help: "Archive errors",
		}, []string{"error_type"}),
		ArchiveLastHeight: f.NewGauge(prometheus.GaugeOpts{
			Name: "tl_archive_last_height",
			Help: "Last block height committed to the archive",
		}),

		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tl_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),
		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tl_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),
		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tl_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),
		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "tl_publish_drops_total",
			Help: "Block summaries dropped due to a full publish channel",
		}),

		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tl_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),
		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tl_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
