package exchange

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/asgrid/gridengine/pkg/types"
)

// Paper is a dry-run adapter that fills market orders instantly at the last
// price reported by an underlying market-data source, and never touches a
// real venue — generalized from the reference bot's broker_paper.go
// (PaperBroker), which simulated fills from a single mutable price field.
// Since this engine's worlds are perpetual futures rather than spot, Paper
// nets every fill into a venue-shaped position book (FetchPositions), the
// way a real adapter's position endpoint would read after the same fills.
// FetchBalance reports the fixed starting balance unchanged: margin
// consumption is accounted for by C2's own ledger (internal/gridcore), which
// is what C5's available-margin gate reads so the gate behaves identically
// whether the underlying adapter is Paper, Binance, or Bridge.
type Paper struct {
	source Exchange // read-only delegate for market data (markets/tickers/ohlcv)

	mu        sync.Mutex
	balances  map[string]Balance
	positions map[string]Position // keyed by symbol
	orders    map[string]*Order
}

// NewPaper builds a Paper adapter that sources market data from source (a
// live read-only adapter, e.g. Binance) but never places real orders.
func NewPaper(source Exchange, startingBalance Balance) *Paper {
	return &Paper{
		source:    source,
		balances:  map[string]Balance{startingBalance.Asset: startingBalance},
		positions: make(map[string]Position),
		orders:    make(map[string]*Order),
	}
}

func (p *Paper) Name() string { return "paper" }

func (p *Paper) LoadMarkets(ctx context.Context) (map[string]Market, error) {
	return p.source.LoadMarkets(ctx)
}

func (p *Paper) FetchTicker(ctx context.Context, symbol string) (types.Ticker, error) {
	return p.source.FetchTicker(ctx, symbol)
}

func (p *Paper) FetchTickers(ctx context.Context, symbols []string) (map[string]types.Ticker, error) {
	return p.source.FetchTickers(ctx, symbols)
}

func (p *Paper) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]types.Candle, error) {
	return p.source.FetchOHLCV(ctx, symbol, timeframe, limit)
}

func (p *Paper) FetchBalance(ctx context.Context) ([]Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Balance, 0, len(p.balances))
	for _, b := range p.balances {
		out = append(out, b)
	}
	return out, nil
}

func (p *Paper) FetchPositions(ctx context.Context) ([]Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, pos)
	}
	return out, nil
}

// CreateOrder fills immediately at the current ticker price; this is the
// "market-or-limit" order of SPEC_FULL.md §4.3 step 3/4 simplified to an
// instant paper fill, matching the reference bot's PlaceMarketQuote. The fill
// nets into the paper position book via applyFill so FetchPositions reflects
// it the way a real venue would.
func (p *Paper) CreateOrder(ctx context.Context, symbol string, side OrderSide, qty float64) (*Order, error) {
	t, err := p.source.FetchTicker(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("paper: create order %s: %w", symbol, ErrTransient)
	}
	o := &Order{
		ID:         uuid.New().String(),
		Symbol:     symbol,
		Side:       side,
		Price:      t.Last,
		Qty:        qty,
		Status:     "FILLED",
		CreateTime: time.Now().UTC(),
	}
	p.mu.Lock()
	p.orders[o.ID] = o
	p.applyFill(o)
	p.mu.Unlock()
	return o, nil
}

// applyFill nets o into the paper position book. A BUY extends or opens a
// long and reduces or flips a short; SELL is the mirror. A fill that brings
// net quantity to zero closes the position; one that crosses zero flips it,
// re-basing the entry price of the new side's remainder to the fill price.
// Caller holds p.mu.
func (p *Paper) applyFill(o *Order) {
	signedQty := o.Qty
	if o.Side == SideSell {
		signedQty = -signedQty
	}

	pos, ok := p.positions[o.Symbol]
	existingSigned := 0.0
	if ok {
		existingSigned = pos.Qty
		if pos.Side == types.Short {
			existingSigned = -existingSigned
		}
	}
	newSigned := existingSigned + signedQty

	if math.Abs(newSigned) < 1e-12 {
		delete(p.positions, o.Symbol)
		return
	}

	next := Position{Symbol: o.Symbol, Qty: math.Abs(newSigned), Entry: o.Price}
	if newSigned < 0 {
		next.Side = types.Short
	} else {
		next.Side = types.Long
	}
	if ok && (existingSigned > 0) == (newSigned > 0) && math.Abs(newSigned) > math.Abs(existingSigned) {
		// same-direction extension: volume-weight the entry across the
		// pre-existing quantity and the newly added quantity.
		added := math.Abs(newSigned) - math.Abs(existingSigned)
		next.Entry = (pos.Entry*math.Abs(existingSigned) + o.Price*added) / math.Abs(newSigned)
	} else if ok && (existingSigned > 0) == (newSigned > 0) {
		// same-direction reduction: entry price is unaffected.
		next.Entry = pos.Entry
	}
	p.positions[o.Symbol] = next
}

// CancelOrder is idempotent per SPEC_FULL.md §7: cancelling an order the
// paper book has never seen (or already filled) is success, not an error.
func (p *Paper) CancelOrder(ctx context.Context, symbol, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.orders, orderID)
	return nil
}
