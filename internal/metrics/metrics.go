// Package metrics defines the engine's Prometheus metric family, generalizing
// the reference bot's single-bot metrics.go (bot_orders_total, bot_equity_usd,
// bot_trades_total, ...) to a per-symbol, per-component label set covering
// C5 through C10.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// Entries placed, labeled by symbol and side (long|short).
	EntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridengine_entries_total",
			Help: "Grid entry orders filled, by symbol and side.",
		},
		[]string{"symbol", "side"},
	)

	// Take-profits executed, labeled by symbol and side.
	TakeProfitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridengine_take_profits_total",
			Help: "Take-profit fills, by symbol and side.",
		},
		[]string{"symbol", "side"},
	)

	// DeadModeEngagements counts side evaluations made while that side is in
	// dead mode: one increment per tick for as long as dead mode stays engaged.
	DeadModeEngagements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridengine_dead_mode_engagements_total",
			Help: "Dead-mode engagements, by symbol and side.",
		},
		[]string{"symbol", "side"},
	)

	// EquityUSD is the current equity snapshot, per symbol.
	EquityUSD = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gridengine_equity_usd",
			Help: "Current per-symbol equity in USD.",
		},
		[]string{"symbol"},
	)

	// GlobalEquityUSD is the engine-wide equity gauge aggregated by C6.
	GlobalEquityUSD = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gridengine_global_equity_usd",
			Help: "Total equity across all running symbols.",
		},
	)

	// ExposureBase reports a side's current open exposure in base units.
	ExposureBase = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gridengine_exposure_base",
			Help: "Open exposure in base units, by symbol and side.",
		},
		[]string{"symbol", "side"},
	)

	// WorkerRestarts counts supervisor-driven worker restarts, by symbol.
	WorkerRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridengine_worker_restarts_total",
			Help: "Supervisor restarts of a symbol's execution loop.",
		},
		[]string{"symbol"},
	)

	// WorkerHalted is 1 while a symbol's worker is halted (drawdown or terminal error).
	WorkerHalted = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gridengine_worker_halted",
			Help: "1 if the symbol's worker is halted, 0 otherwise.",
		},
		[]string{"symbol"},
	)

	// ScoresComputed counts C7 scoring runs, by symbol.
	ScoresComputed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridengine_scores_computed_total",
			Help: "Composite scores computed, by symbol.",
		},
		[]string{"symbol"},
	)

	// CompositeScore is the most recent final_score per symbol.
	CompositeScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gridengine_composite_score",
			Help: "Most recent composite grid-suitability score, by symbol.",
		},
		[]string{"symbol"},
	)

	// RotationSignalsTotal counts rotation signals emitted.
	RotationSignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridengine_rotation_signals_total",
			Help: "Rotation signals emitted, by from_symbol and to_symbol.",
		},
		[]string{"from_symbol", "to_symbol"},
	)

	// RotationRejectionsTotal counts rejected rotation attempts, by gate name.
	RotationRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridengine_rotation_rejections_total",
			Help: "Rotation attempts rejected, by gate.",
		},
		[]string{"gate"},
	)

	// ScanCandidatesFound counts symbols surviving the scanner's filters per run.
	ScanCandidatesFound = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gridengine_scan_candidates",
			Help: "Symbols surviving the scanner's amplitude/volume/trend filters in the last run.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		EntriesTotal,
		TakeProfitsTotal,
		DeadModeEngagements,
		EquityUSD,
		GlobalEquityUSD,
		ExposureBase,
		WorkerRestarts,
		WorkerHalted,
		ScoresComputed,
		CompositeScore,
		RotationSignalsTotal,
		RotationRejectionsTotal,
		ScanCandidatesFound,
	)
}
