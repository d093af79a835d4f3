package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for UsdnLedger.
type Metrics struct {
	// --- Engine ---
	EngineCalls        *prometheus.CounterVec
	EngineCallDuration *prometheus.HistogramVec
	EngineSequence     prometheus.Gauge
	EngineStateHashDur prometheus.Histogram

	// --- Liquidation ---
	TicksLiquidated     prometheus.Counter
	PositionsLiquidated prometheus.Counter
	LiquidationPending  prometheus.Counter
	BadDebtCovered      prometheus.Counter
	RewardsPaid         prometheus.Counter

	// --- Pending actions ---
	PendingQueueLength   prometheus.Gauge
	StaleActionsRemoved  prometheus.Counter
	ActionablesValidated prometheus.Counter

	// --- Balances ---
	BalanceLong  prometheus.Gauge
	BalanceVault prometheus.Gauge
	TotalExpo    prometheus.Gauge
	FundingRate  prometheus.Gauge

	// --- Transport ---
	PublishErrors        *prometheus.CounterVec
	PricesIngested       *prometheus.CounterVec
	SnapshotsWritten     prometheus.Counter
	SnapshotDuration     prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistEventsWritten prometheus.Counter
	PersistBatchDur      prometheus.Histogram
	CacheHits            *prometheus.CounterVec
	ProjectionDropped    prometheus.Counter
	ProjectionSequence   prometheus.Gauge
	HTTPRequests         *prometheus.CounterVec
	HTTPDuration         *prometheus.HistogramVec
	IdempotentReplays    *prometheus.CounterVec
	WSClients            prometheus.Gauge
	GRPCRequests         *prometheus.CounterVec
}

// NewMetrics registers every metric on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers every metric on reg. Tests pass a private registry.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000005, 0.00001, 0.000025, 0.00005, 0.0001,
		0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		EngineCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "usdn_engine_calls_total",
			Help: "Engine entry point calls by action and outcome",
		}, []string{"action", "status"}),

		EngineCallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "usdn_engine_call_duration_seconds",
			Help:    "Time spent in one engine entry point",
			Buckets: latencyBuckets,
		}, []string{"action"}),

		EngineSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "usdn_engine_sequence",
			Help: "Sequence of the last mutating call",
		}),

		EngineStateHashDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "usdn_engine_state_hash_duration_seconds",
			Help:    "Time to compute the state hash",
			Buckets: latencyBuckets,
		}),

		TicksLiquidated: f.NewCounter(prometheus.CounterOpts{
			Name: "usdn_ticks_liquidated_total",
			Help: "Ticks removed by settlement",
		}),

		PositionsLiquidated: f.NewCounter(prometheus.CounterOpts{
			Name: "usdn_positions_liquidated_total",
			Help: "Positions removed by settlement",
		}),

		LiquidationPending: f.NewCounter(prometheus.CounterOpts{
			Name: "usdn_liquidation_pending_total",
			Help: "Calls that hit the liquidation iteration cap with crossed ticks left",
		}),

		BadDebtCovered: f.NewCounter(prometheus.CounterOpts{
			Name: "usdn_bad_debt_covered_tokens_total",
			Help: "Negative liquidation value covered by the vault, in whole tokens",
		}),

		RewardsPaid: f.NewCounter(prometheus.CounterOpts{
			Name: "usdn_liquidation_rewards_tokens_total",
			Help: "Liquidator rewards paid from the vault, in whole tokens",
		}),

		PendingQueueLength: f.NewGauge(prometheus.GaugeOpts{
			Name: "usdn_pending_queue_length",
			Help: "Live pending actions",
		}),

		StaleActionsRemoved: f.NewCounter(prometheus.CounterOpts{
			Name: "usdn_stale_pending_actions_removed_total",
			Help: "Open actions dropped because their tick was liquidated",
		}),

		ActionablesValidated: f.NewCounter(prometheus.CounterOpts{
			Name: "usdn_actionables_validated_total",
			Help: "Pending actions validated by a third party",
		}),

		BalanceLong: f.NewGauge(prometheus.GaugeOpts{
			Name: "usdn_balance_long_tokens",
			Help: "Long side balance, in whole tokens",
		}),

		BalanceVault: f.NewGauge(prometheus.GaugeOpts{
			Name: "usdn_balance_vault_tokens",
			Help: "Vault balance, in whole tokens",
		}),

		TotalExpo: f.NewGauge(prometheus.GaugeOpts{
			Name: "usdn_total_expo_tokens",
			Help: "Total long exposure, in whole tokens",
		}),

		FundingRate: f.NewGauge(prometheus.GaugeOpts{
			Name: "usdn_funding_rate_per_day",
			Help: "Last funding rate per day",
		}),

		PublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "usdn_publish_errors_total",
			Help: "Outbound event publish failures",
		}, []string{"sink"}),

		PricesIngested: f.NewCounterVec(prometheus.CounterOpts{
			Name: "usdn_prices_ingested_total",
			Help: "Oracle prices received by source",
		}, []string{"source"}),

		SnapshotsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "usdn_snapshots_written_total",
			Help: "Engine snapshots persisted",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "usdn_snapshot_duration_seconds",
			Help:    "Time to take and persist a snapshot",
			Buckets: prometheus.DefBuckets,
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "usdn_persist_errors_total",
			Help: "Event log write failures by stage",
		}, []string{"stage"}),

		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "usdn_persist_events_written_total",
			Help: "Events written to the event log",
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "usdn_persist_batch_duration_seconds",
			Help:    "Time to write one event batch",
			Buckets: prometheus.DefBuckets,
		}),

		CacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "usdn_snapshot_cache_lookups_total",
			Help: "Snapshot cache lookups by result",
		}, []string{"result"}),

		ProjectionDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "usdn_projection_dropped_total",
			Help: "Events dropped because the projection worker fell behind",
		}),

		ProjectionSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "usdn_projection_last_sequence",
			Help: "Engine sequence of the last event applied to projections",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "usdn_http_requests_total",
			Help: "HTTP API requests",
		}, []string{"route", "code"}),

		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "usdn_http_request_duration_seconds",
			Help:    "HTTP API latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),

		IdempotentReplays: f.NewCounterVec(prometheus.CounterOpts{
			Name: "usdn_idempotent_replays_total",
			Help: "Requests answered from the idempotency cache, by tier",
		}, []string{"tier"}),

		WSClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "usdn_websocket_clients",
			Help: "Connected event stream clients",
		}),

		GRPCRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "usdn_grpc_requests_total",
			Help: "gRPC requests by method and code",
		}, []string{"method", "code"}),
	}
}
