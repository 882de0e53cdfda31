// Package engine implements the per-symbol execution loop (C5) and the
// supervisor that owns a set of them (C6), generalizing the reference bot's
// single-symbol step.go/trader.go pair from one position set to two
// independent sides (long + short) with dead-mode awareness.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/asgrid/gridengine/internal/config"
	"github.com/asgrid/gridengine/internal/exchange"
	"github.com/asgrid/gridengine/internal/gridcore"
	"github.com/asgrid/gridengine/internal/market"
	"github.com/asgrid/gridengine/internal/metrics"
)

// StopReason classifies why a worker halted, surfaced in the heartbeat.
type StopReason string

const (
	StopNone       StopReason = ""
	StopDrawdown   StopReason = "drawdown"
	StopConfig     StopReason = "config_invalid"
	StopAuth       StopReason = "auth"
	StopRequested  StopReason = "stop_requested"
)

// Clock is the single seam through which Worker reads wall time, so tests can
// drive deterministic ticks without sleeping.
type Clock func() time.Time

// Worker is C5: one symbol's execution loop. It owns the symbol's
// gridcore.SymbolState and drives it from Provider ticks, issuing orders
// through an Exchange and recording fills back into the ledger — mirroring
// step.go's "read mark, scan exits, evaluate entries" structure but for two
// sides instead of one position.
type Worker struct {
	Symbol string
	CCXT   string

	ex       exchange.Exchange
	provider *market.Provider
	params   map[gridcore.Side]gridcore.Params
	global   config.GlobalConfig
	now      Clock

	mu       sync.Mutex
	state    *gridcore.SymbolState
	seeded   bool
	halted   bool
	stopWhy  StopReason

	ticks chan float64 // capacity 1, overwritten: latest-tick-only backpressure
	done  chan struct{}
}

// NewWorker builds a Worker for symbol with its long/short grid parameters
// and a starting cash balance (engine-wide equity is aggregated by C6).
func NewWorker(symbol, ccxt string, ex exchange.Exchange, provider *market.Provider, params map[gridcore.Side]gridcore.Params, global config.GlobalConfig, startingCash decimal.Decimal) *Worker {
	return &Worker{
		Symbol:   symbol,
		CCXT:     ccxt,
		ex:       ex,
		provider: provider,
		params:   params,
		global:   global,
		now:      time.Now,
		state:    gridcore.NewSymbolState(symbol, startingCash),
		ticks:    make(chan float64, 1),
		done:     make(chan struct{}),
	}
}

// Halted reports whether the worker has stopped processing ticks and why.
func (w *Worker) Halted() (bool, StopReason) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.halted, w.stopWhy
}

// Equity returns the ledger's equity at mark, matching C2's semantics.
func (w *Worker) Equity(mark float64) decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.Equity(mark)
}

// Drawdown returns the ledger's fractional drop from its high-water mark at
// mark, exposed so backtest/preview callers can report it without reaching
// into the worker's internal state.
func (w *Worker) Drawdown(mark float64) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.Drawdown(mark)
}

// TradeLog returns a copy of the ledger's closed-trade records, oldest
// first, across both sides.
func (w *Worker) TradeLog() []gridcore.TradeRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]gridcore.TradeRecord, len(w.state.TradeLog))
	copy(out, w.state.TradeLog)
	return out
}

// RestoreRealizedPnL folds a previously persisted net-PnL total (the sum of
// internal/storage's TradesSince for this symbol) back into the ledger's
// realized PnL and cash balance on boot, so a restart doesn't report
// total_pnl resetting to zero — SPEC_FULL.md's restart-continuity scope for
// C2. It does not reconstruct open lots; those are re-established by the
// next fill, same as a fresh worker.
func (w *Worker) RestoreRealizedPnL(total decimal.Decimal) {
	if total.IsZero() {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state.RealizedPnL = w.state.RealizedPnL.Add(total)
	w.state.CashBalance = w.state.CashBalance.Add(total)
}

// PushTick delivers the latest mark price to the worker, coalescing with any
// tick not yet consumed — Design Notes §5's "only the latest tick is kept"
// backpressure rule.
func (w *Worker) PushTick(mark float64) {
	select {
	case w.ticks <- mark:
	default:
		select {
		case <-w.ticks:
		default:
		}
		select {
		case w.ticks <- mark:
		default:
		}
	}
}

// Run drives the worker until ctx is cancelled or the worker halts itself
// (drawdown, terminal exchange error). It is the unit the supervisor
// restarts on unexpected return.
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return nil
		case mark := <-w.ticks:
			if err := w.onTick(ctx, mark); err != nil {
				return err
			}
			if halted, _ := w.Halted(); halted {
				return nil
			}
		}
	}
}

// ProcessTick drives one synchronous pass of onTick without going through
// the PushTick/Run channel machinery. The live path never calls this
// directly (it feeds Run via PushTick so ticks coalesce under backpressure);
// the backtester and preview runner call it once per historical candle so
// that exactly the same decision/ledger code executes in all three
// incarnations, which is what SPEC_FULL.md §8 property 2 (three-way
// equivalence) requires structurally rather than by parallel reimplementation.
func (w *Worker) ProcessTick(ctx context.Context, mark float64) error {
	return w.onTick(ctx, mark)
}

// onTick is one synchronized pass: long side then short side (§4.3/§5
// ordering convention), take-profit evaluated before entry on each side.
func (w *Worker) onTick(ctx context.Context, mark float64) error {
	w.mu.Lock()
	if !w.seeded {
		// The very first tick establishes both sides' grid reference frame.
		// This is a one-time bootstrap, not a "fill changed the anchor"
		// event (SPEC_FULL.md §3 anchor invariant), so it happens once here
		// rather than being re-derived from mark on every zero-anchor tick —
		// doing the latter would make the grid track price instead of
		// holding a fixed reference between fills.
		w.state.Long.LastAnchorPrice = mark
		w.state.Short.LastAnchorPrice = mark
		w.seeded = true
	}
	w.mu.Unlock()

	for _, side := range []gridcore.Side{gridcore.SideLong, gridcore.SideShort} {
		if err := w.evaluateSide(ctx, side, mark); err != nil {
			return err
		}
		if halted, _ := w.Halted(); halted {
			return nil
		}
	}

	w.mu.Lock()
	eq := w.state.Equity(mark)
	dd := w.state.Drawdown(mark)
	w.mu.Unlock()

	metrics.EquityUSD.WithLabelValues(w.Symbol).Set(mustFloat(eq))

	if dd >= w.global.MaxDrawdown {
		w.halt(StopDrawdown)
		log.Printf("[engine] %s halted: drawdown %.4f >= max_drawdown %.4f", w.Symbol, dd, w.global.MaxDrawdown)
	}
	return nil
}

func (w *Worker) evaluateSide(ctx context.Context, side gridcore.Side, mark float64) error {
	w.mu.Lock()
	params := w.params[side]
	var myExposure, oppExposure float64
	var anchor float64
	if side == gridcore.SideLong {
		myExposure = w.state.Exposure(gridcore.SideLong)
		oppExposure = w.state.Exposure(gridcore.SideShort)
		anchor = w.state.Long.LastAnchorPrice
	} else {
		myExposure = w.state.Exposure(gridcore.SideShort)
		oppExposure = w.state.Exposure(gridcore.SideLong)
		anchor = w.state.Short.LastAnchorPrice
	}
	w.mu.Unlock()

	decision, err := gridcore.Decide(side, anchor, myExposure, oppExposure, params)
	if err != nil {
		w.halt(StopConfig)
		return fmt.Errorf("engine: %s %v: %w", w.Symbol, side, err)
	}

	sideLabel := "long"
	if side == gridcore.SideShort {
		sideLabel = "short"
	}
	if decision.DeadMode {
		metrics.DeadModeEngagements.WithLabelValues(w.Symbol, sideLabel).Inc()
	}
	metrics.ExposureBase.WithLabelValues(w.Symbol, sideLabel).Set(myExposure)

	// Tie-break per §4.3: take-profit before entry when both trigger the
	// same tick on the same side.
	if gridcore.TakeProfitTriggered(side, mark, decision, myExposure) {
		if err := w.closeTakeProfit(ctx, side, mark, decision.TPQty, params); err != nil {
			return err
		}
		return nil
	}

	w.mu.Lock()
	openLots := len(w.state.Long.Lots) + len(w.state.Short.Lots)
	w.mu.Unlock()
	if w.global.MaxPositions > 0 && openLots >= w.global.MaxPositions {
		return nil // suppress further entries, take-profits stay active
	}

	if gridcore.EntryTriggered(side, mark, decision) {
		return w.openEntry(ctx, side, mark, params)
	}
	return nil
}

func (w *Worker) openEntry(ctx context.Context, side gridcore.Side, mark float64, params gridcore.Params) error {
	qty := params.BaseQty
	requiredMargin := (mark * qty) / float64(maxInt(params.Leverage, 1))
	fee := mark * qty * params.FeePct

	// Gate on C2's own tracked cash rather than exchange.FetchBalance: the
	// ledger debits margin+fee on every RecordEntry and credits it back on
	// RecordTakeProfit identically under live, backtest, and preview, so the
	// gate binds the same way in all three incarnations. A real venue's
	// reported balance would only agree with this when nothing else on the
	// account moves it, which the paper/historical replay path can't
	// simulate — reading the ledger directly is what three-way equivalence
	// (SPEC_FULL.md §8 property 2) requires here.
	w.mu.Lock()
	available, _ := w.state.CashBalance.Float64()
	w.mu.Unlock()
	if available < requiredMargin+fee {
		return nil // insufficient funds: skip silently, §7
	}

	orderSide := exchange.SideBuy
	if side == gridcore.SideShort {
		orderSide = exchange.SideSell
	}
	order, err := w.ex.CreateOrder(ctx, w.Symbol, orderSide, qty)
	if err != nil {
		return w.classifyAndMaybeHalt(err)
	}
	if order.Status != "FILLED" {
		return nil // not confirmed yet; next tick reconciles
	}

	w.mu.Lock()
	w.state.RecordEntry(side, order.Price, order.Qty, params.Leverage, params.FeePct, w.now())
	w.mu.Unlock()

	sideLabel := "long"
	if side == gridcore.SideShort {
		sideLabel = "short"
	}
	metrics.EntriesTotal.WithLabelValues(w.Symbol, sideLabel).Inc()
	return nil
}

func (w *Worker) closeTakeProfit(ctx context.Context, side gridcore.Side, mark, qty float64, params gridcore.Params) error {
	orderSide := exchange.SideSell
	if side == gridcore.SideShort {
		orderSide = exchange.SideBuy
	}
	order, err := w.ex.CreateOrder(ctx, w.Symbol, orderSide, qty)
	if err != nil {
		return w.classifyAndMaybeHalt(err)
	}
	if order.Status != "FILLED" {
		return nil
	}

	w.mu.Lock()
	w.state.RecordTakeProfit(side, order.Price, order.Qty, params.FeePct, w.now())
	w.mu.Unlock()

	sideLabel := "long"
	if side == gridcore.SideShort {
		sideLabel = "short"
	}
	metrics.TakeProfitsTotal.WithLabelValues(w.Symbol, sideLabel).Inc()
	return nil
}

// classifyAndMaybeHalt applies the §7 propagation policy: terminal kinds
// (auth, config) halt the worker; everything else is logged and swallowed,
// so the order is skipped for this tick and the next tick re-evaluates it.
// Orders are placed with a single CreateOrder call, not through
// internal/retry.
func (w *Worker) classifyAndMaybeHalt(err error) error {
	switch exchange.Classify(err) {
	case exchange.KindAuth:
		w.halt(StopAuth)
		return err
	case exchange.KindConfigInvalid:
		w.halt(StopConfig)
		return err
	case exchange.KindOrderNotFound, exchange.KindInsufficientFunds, exchange.KindInvalidOrder:
		log.Printf("[engine] %s order skipped: %v", w.Symbol, err)
		return nil
	default:
		log.Printf("[engine] %s transient order error: %v", w.Symbol, err)
		return nil
	}
}

func (w *Worker) halt(why StopReason) {
	w.mu.Lock()
	w.halted = true
	w.stopWhy = why
	w.mu.Unlock()
	metrics.WorkerHalted.WithLabelValues(w.Symbol).Set(1)
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
