package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingestion and settlement counters, partitioned by chain.

var (
	// Poller
	PollerTicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradeledger",
		Subsystem: "poller",
		Name:      "ticks_total",
		Help:      "Total poll ticks",
	}, []string{"chain"})

	PollerTickErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradeledger",
		Subsystem: "poller",
		Name:      "tick_errors_total",
		Help:      "Poll ticks aborted before the cursor advanced",
	}, []string{"chain"})

	PollerBlocksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradeledger",
		Subsystem: "poller",
		Name:      "blocks_processed_total",
		Help:      "Blocks walked by the poller",
	}, []string{"chain"})

	PollerTxSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradeledger",
		Subsystem: "poller",
		Name:      "tx_skipped_total",
		Help:      "Transactions skipped because of decode or receipt failures",
	}, []string{"chain", "reason"})

	PollerCursor = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tradeledger",
		Subsystem: "poller",
		Name:      "cursor_block",
		Help:      "Last persisted block cursor",
	}, []string{"chain"})

	PollerTickLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tradeledger",
		Subsystem: "poller",
		Name:      "tick_duration_seconds",
		Help:      "Poll tick duration",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"chain"})

	// RPC
	RPCLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tradeledger",
		Subsystem: "rpc",
		Name:      "request_duration_seconds",
		Help:      "Chain RPC request duration",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"chain", "method"})

	RPCErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradeledger",
		Subsystem: "rpc",
		Name:      "errors_total",
		Help:      "Chain RPC request failures",
	}, []string{"chain", "method"})

	// Settlement
	TradesRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradeledger",
		Subsystem: "settlement",
		Name:      "trades_recorded_total",
		Help:      "Trade records inserted",
	}, []string{"chain", "side"})

	TradesDuplicate = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradeledger",
		Subsystem: "settlement",
		Name:      "trades_duplicate_total",
		Help:      "Trade legs skipped because the natural key already exists",
	}, []string{"chain"})

	SettlementFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradeledger",
		Subsystem: "settlement",
		Name:      "failures_total",
		Help:      "Settlement units of work rolled back",
	}, []string{"chain"})

	InventoryShortfalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradeledger",
		Subsystem: "settlement",
		Name:      "inventory_shortfalls_total",
		Help:      "Sells that exceeded open lot inventory",
	}, []string{"chain"})

	// Metadata / price
	MetadataLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradeledger",
		Subsystem: "metadata",
		Name:      "lookups_total",
		Help:      "Token metadata lookups by result",
	}, []string{"chain", "result"})

	PriceLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradeledger",
		Subsystem: "price",
		Name:      "lookups_total",
		Help:      "Price oracle lookups by result",
	}, []string{"source", "result"})

	// Events
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tradeledger",
		Subsystem: "events",
		Name:      "dropped_total",
		Help:      "Settled events dropped because the dispatch buffer was full",
	})

	EventsPublishErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradeledger",
		Subsystem: "events",
		Name:      "publish_errors_total",
		Help:      "Settled event publish failures per sink",
	}, []string{"sink"})
)

// ObserveRPC records latency and failure of one chain RPC call.
func ObserveRPC(chain, method string, start time.Time, err error) {
	RPCLatency.WithLabelValues(chain, method).Observe(time.Since(start).Seconds())
	if err != nil {
		RPCErrors.WithLabelValues(chain, method).Inc()
	}
}
