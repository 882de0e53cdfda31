package backtest

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/asgrid/gridengine/internal/config"
	"github.com/asgrid/gridengine/internal/exchange"
	"github.com/asgrid/gridengine/internal/gridcore"
)

// PreviewHours is the default window for the 30-day preview runner: 30 days
// of hourly candles, per SPEC_FULL.md §1's "30-day preview" incarnation.
const PreviewHours = 30 * 24

// Preview fetches the most recent PreviewHours of hourly OHLCV for symbol
// from a live, read-only exchange and replays it through Run — the same
// code path as a CSV backtest, over freshly pulled data instead of a file,
// so an operator can dry-run a candidate symbol/parameter set against
// recent market conditions before flipping it live. It never places a real
// order: ex is used for FetchOHLCV only.
func Preview(ctx context.Context, ex exchange.Exchange, symbol, ccxt string, params map[gridcore.Side]gridcore.Params, global config.GlobalConfig, startingCash decimal.Decimal) (*Result, error) {
	candles, err := ex.FetchOHLCV(ctx, symbol, "1h", PreviewHours)
	if err != nil {
		return nil, fmt.Errorf("preview: %s: fetch ohlcv: %w", symbol, err)
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("preview: %s: no candles returned", symbol)
	}
	return Run(ctx, symbol, ccxt, candles, params, global, startingCash)
}
