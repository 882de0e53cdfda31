package exchange

import (
	"context"
	"time"

	"github.com/asgrid/gridengine/pkg/types"
)

// OrderSide mirrors the reference bot's broker.go OrderSide, extended with
// short-side trading since this engine runs perpetuals rather than spot.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// Order is a normalized view of a placed or filled order, generalized from
// the reference bot's PlacedOrder to carry the exchange-assigned ID needed
// for later cancellation.
type Order struct {
	ID         string
	Symbol     string
	Side       OrderSide
	Price      float64
	Qty        float64
	Status     string
	CreateTime time.Time
}

// Position is one venue-reported open position, as returned by
// FetchPositions. The engine's own ledger (internal/gridcore.SymbolState)
// is not reconciled against it.
type Position struct {
	Symbol string
	Side   types.Side
	Qty    float64
	Entry  float64
}

// Balance is one asset's available/total balance.
type Balance struct {
	Asset     string
	Available float64
	Total     float64
}

// Market describes one tradable symbol's trading rules, loaded once via
// LoadMarkets and cached by callers.
type Market struct {
	Symbol      types.Symbol
	PriceStep   float64
	QtyStep     float64
	MinNotional float64
}

// Exchange is the abstract venue surface of SPEC_FULL.md §6: load_markets,
// fetch_ticker(s), fetch_ohlcv, fetch_balance, fetch_positions,
// create_order, cancel_order. Concrete implementations live alongside this
// file — paper.go for dry runs/backtests, binance.go for live perpetuals
// trading.
type Exchange interface {
	Name() string

	LoadMarkets(ctx context.Context) (map[string]Market, error)
	FetchTicker(ctx context.Context, symbol string) (types.Ticker, error)
	FetchTickers(ctx context.Context, symbols []string) (map[string]types.Ticker, error)
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]types.Candle, error)

	FetchBalance(ctx context.Context) ([]Balance, error)
	FetchPositions(ctx context.Context) ([]Position, error)

	CreateOrder(ctx context.Context, symbol string, side OrderSide, qty float64) (*Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
}
