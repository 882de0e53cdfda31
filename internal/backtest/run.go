package backtest

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/asgrid/gridengine/internal/config"
	"github.com/asgrid/gridengine/internal/engine"
	"github.com/asgrid/gridengine/internal/exchange"
	"github.com/asgrid/gridengine/internal/gridcore"
	"github.com/asgrid/gridengine/pkg/types"
)

// Result is the outcome of a full replay: the final ledger, its trade log,
// and an equity curve — the same shape a live engine's heartbeat/status
// reports draw from, so callers can compare a backtest run against a live
// run's own Worker.Equity samples directly.
type Result struct {
	Symbol      string
	Candles     int
	FinalEquity decimal.Decimal
	Drawdown    float64
	TradeLog    []gridcore.TradeRecord
	Equity      []decimal.Decimal
	Halted      bool
	HaltReason  engine.StopReason
}

// Run replays candles (ascending time order) through a Worker built over a
// Historical+Paper exchange pair, calling Worker.ProcessTick once per bar —
// the same onTick/evaluateSide/openEntry/closeTakeProfit code the live
// engine runs, so results are directly comparable across live, backtest,
// and preview runs of the same config and tick stream (SPEC_FULL.md §8
// property 2). feePct's effective fee is carried in params, not here.
func Run(ctx context.Context, symbol, ccxt string, candles []types.Candle, params map[gridcore.Side]gridcore.Params, global config.GlobalConfig, startingCash decimal.Decimal) (*Result, error) {
	if len(candles) == 0 {
		return nil, fmt.Errorf("backtest: %s: no candles to replay", symbol)
	}

	hist := exchange.NewHistorical(symbol, candles)
	paper := exchange.NewPaper(hist, exchange.Balance{Asset: "USDC", Available: mustFloat(startingCash), Total: mustFloat(startingCash)})

	w := engine.NewWorker(symbol, ccxt, paper, nil, params, global, startingCash)

	result := &Result{Symbol: symbol, Candles: len(candles)}
	for i, c := range candles {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}
		hist.Advance(i)
		if err := w.ProcessTick(ctx, c.Close); err != nil {
			return result, fmt.Errorf("backtest: %s: tick %d: %w", symbol, i, err)
		}
		result.Equity = append(result.Equity, w.Equity(c.Close))
		if halted, reason := w.Halted(); halted {
			result.Halted = true
			result.HaltReason = reason
			break
		}
	}

	final := candles[len(result.Equity)-1].Close
	result.FinalEquity = w.Equity(final)
	result.Drawdown = w.Drawdown(final)
	result.TradeLog = w.TradeLog()
	return result, nil
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
