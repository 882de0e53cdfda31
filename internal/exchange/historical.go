package exchange

import (
	"context"
	"fmt"

	"github.com/asgrid/gridengine/pkg/types"
)

// Historical is a read-only Exchange backed by a fixed, ordered candle
// series rather than a live venue — the data source the backtester and
// 30-day preview runner wrap in Paper so that Worker.ProcessTick drives
// identical code against historical bars that it drives against a live
// tick stream. Grounded on the reference bot's backtest.go loadCSV/runBacktest
// walk-forward loop, generalized from a single position set to the
// Exchange interface so it slots under exchange.Paper unmodified.
type Historical struct {
	symbol  string
	candles []types.Candle
	cursor  int // index of the last candle advanced to via Advance
}

// NewHistorical builds a Historical source over candles, which must be in
// ascending time order. The cursor starts before the first candle; call
// Advance before the first FetchTicker/FetchOHLCV call.
func NewHistorical(symbol string, candles []types.Candle) *Historical {
	return &Historical{symbol: symbol, candles: candles, cursor: -1}
}

// Len reports the number of candles in the series.
func (h *Historical) Len() int { return len(h.candles) }

// Advance moves the cursor to candle i, making it the "current" bar that
// FetchTicker/FetchOHLCV report from. The backtest/preview driver calls
// this once per loop iteration before invoking Worker.ProcessTick.
func (h *Historical) Advance(i int) {
	if i < 0 {
		i = 0
	}
	if i >= len(h.candles) {
		i = len(h.candles) - 1
	}
	h.cursor = i
}

// Candle returns the current bar, or the zero value if Advance has not
// been called yet.
func (h *Historical) Candle() types.Candle {
	if h.cursor < 0 || h.cursor >= len(h.candles) {
		return types.Candle{}
	}
	return h.candles[h.cursor]
}

func (h *Historical) Name() string { return "historical" }

func (h *Historical) LoadMarkets(ctx context.Context) (map[string]Market, error) {
	return map[string]Market{h.symbol: {Symbol: types.Symbol{Raw: h.symbol, CCXT: h.symbol}}}, nil
}

// FetchTicker reports the current bar's close as Last — the same value
// ProcessTick is called with, so Paper's instant fill price always matches
// the mark that drove the decision.
func (h *Historical) FetchTicker(ctx context.Context, symbol string) (types.Ticker, error) {
	c := h.Candle()
	if c.Time.IsZero() && h.cursor < 0 {
		return types.Ticker{}, fmt.Errorf("historical: %s: advance not called", symbol)
	}
	return types.Ticker{Symbol: symbol, Last: c.Close, QuoteVolume: c.Volume, Timestamp: c.Time}, nil
}

func (h *Historical) FetchTickers(ctx context.Context, symbols []string) (map[string]types.Ticker, error) {
	t, err := h.FetchTicker(ctx, h.symbol)
	if err != nil {
		return nil, err
	}
	return map[string]types.Ticker{h.symbol: t}, nil
}

// FetchOHLCV returns up to limit candles ending at the current cursor —
// never leaking future bars to a scoring/decision call, matching the
// walk-forward discipline of the reference bot's runBacktest.
func (h *Historical) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]types.Candle, error) {
	end := h.cursor + 1
	if end <= 0 {
		return nil, nil
	}
	start := 0
	if limit > 0 && end-limit > start {
		start = end - limit
	}
	out := make([]types.Candle, end-start)
	copy(out, h.candles[start:end])
	return out, nil
}

func (h *Historical) FetchBalance(ctx context.Context) ([]Balance, error) {
	return nil, fmt.Errorf("historical: %w: balance has no venue meaning for historical replay", ErrInvalidOrder)
}

func (h *Historical) FetchPositions(ctx context.Context) ([]Position, error) {
	return nil, nil
}

func (h *Historical) CreateOrder(ctx context.Context, symbol string, side OrderSide, qty float64) (*Order, error) {
	return nil, fmt.Errorf("historical: %w: read-only source, wrap in Paper", ErrInvalidOrder)
}

func (h *Historical) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return nil
}
