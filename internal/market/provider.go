package market

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/asgrid/gridengine/internal/exchange"
	"github.com/asgrid/gridengine/internal/retry"
	"github.com/asgrid/gridengine/pkg/types"
)

// TTLs from SPEC_FULL.md §4.5: tickers <=5s, OHLCV <=60s, market metadata <=1h.
const (
	TickerTTL  = 5 * time.Second
	OHLCVTTL   = 60 * time.Second
	MarketsTTL = time.Hour
	// StreamFreshness is the window under which a pushed tick is trusted in
	// place of a REST fetch.
	StreamFreshness = 60 * time.Second
)

// Stream is the push half of C3: a venue-specific streaming subscription
// that delivers ticker updates without the caller polling. internal/market's
// binance-backed implementation lives in stream.go.
type Stream interface {
	// Subscribe starts streaming symbols and returns a channel of ticker
	// updates; it is closed when the subscription ends (error or ctx done).
	Subscribe(ctx context.Context, symbols []string) (<-chan types.Ticker, error)
	// Healthy reports whether the stream connection is currently up: false
	// after a dial or read failure, true again after a successful dial.
	// Exhausted reconnect attempts are tracked by Provider.Run, not here.
	Healthy() bool
}

// Provider is C3: it prefers fresh pushed ticks, falls back to a
// TTL-cached REST pull, and exposes OHLCV/market-metadata queries with
// their own TTL caches. One Provider is shared by every symbol's worker;
// each symbol's cache entry is single-writer (only that symbol's refresh
// path writes it), matching SPEC_FULL.md §5's shared-resource rule.
type Provider struct {
	ex     exchange.Exchange
	stream Stream

	tickers ttlCache[types.Ticker]
	ohlcv   ttlCache[[]types.Candle]
	markets ttlCache[map[string]exchange.Market]

	mu         sync.RWMutex
	streamTick map[string]types.Ticker
	pullOnly   map[string]bool
}

// NewProvider builds a Provider over ex. stream may be nil, in which case
// the provider runs pull-only from the start.
func NewProvider(ex exchange.Exchange, stream Stream) *Provider {
	return &Provider{
		ex:         ex,
		stream:     stream,
		tickers:    *newTTLCache[types.Ticker](TickerTTL),
		ohlcv:      *newTTLCache[[]types.Candle](OHLCVTTL),
		markets:    *newTTLCache[map[string]exchange.Market](MarketsTTL),
		streamTick: make(map[string]types.Ticker),
		pullOnly:   make(map[string]bool),
	}
}

// Run starts the push subscription for symbols, if a Stream is configured,
// and keeps streamTick updated until ctx is cancelled. It never returns an
// error to the caller directly: on terminal disconnect (reconnect attempts
// exhausted per SPEC_FULL.md §4.5) it marks every symbol pull-only and
// returns, letting the supervisor's per-symbol workers keep polling.
func (p *Provider) Run(ctx context.Context, symbols []string) {
	if p.stream == nil {
		log.Printf("[market] no stream configured, running pull-only for %d symbols", len(symbols))
		return
	}

	policy := retry.DefaultPolicy()
	policy.MaxAttempts = 10 // SPEC_FULL.md §4.5 max_attempts per session
	// §4.5's delay is 5 s × 2^min(attempt−1, 5): doubling, no jitter, and
	// capped at the sixth step (160 s).
	policy.Max = 160 * time.Second
	policy.Jitter = false

	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		ticks, err := p.stream.Subscribe(ctx, symbols)
		if err != nil {
			return fmt.Errorf("market: subscribe: %w", err)
		}
		idle := time.NewTimer(30 * time.Second)
		defer idle.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case t, ok := <-ticks:
				if !ok {
					return fmt.Errorf("market: stream closed")
				}
				if !idle.Stop() {
					<-idle.C
				}
				idle.Reset(30 * time.Second)
				p.mu.Lock()
				p.streamTick[t.Symbol] = t
				p.mu.Unlock()
			case <-idle.C:
				return fmt.Errorf("market: stream idle > 30s")
			}
		}
	})
	if err != nil && ctx.Err() == nil {
		log.Printf("[market] stream unhealthy after retries, switching to pull-only: %v", err)
		p.mu.Lock()
		for _, s := range symbols {
			p.pullOnly[s] = true
		}
		p.mu.Unlock()
	}
}

// Healthy reports whether the stream half is usable for symbol.
func (p *Provider) Healthy(symbol string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.pullOnly[symbol] {
		return false
	}
	return p.stream != nil && p.stream.Healthy()
}

// LastPrice returns the current mark for symbol: a fresh pushed tick if one
// exists within StreamFreshness, otherwise a TTL-cached REST fetch.
func (p *Provider) LastPrice(ctx context.Context, symbol string) (float64, error) {
	if p.Healthy(symbol) {
		p.mu.RLock()
		t, ok := p.streamTick[symbol]
		p.mu.RUnlock()
		if ok && time.Since(t.Timestamp) < StreamFreshness {
			return t.Last, nil
		}
	}
	t, err := p.Ticker(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return t.Last, nil
}

// Ticker returns a ticker snapshot for symbol, served from the TTL cache
// when fresh, otherwise fetched via the exchange adapter.
func (p *Provider) Ticker(ctx context.Context, symbol string) (types.Ticker, error) {
	if t, ok := p.tickers.Get(symbol); ok {
		return t, nil
	}
	t, err := p.ex.FetchTicker(ctx, symbol)
	if err != nil {
		return types.Ticker{}, fmt.Errorf("market: fetch ticker %s: %w", symbol, err)
	}
	p.tickers.Set(symbol, t)
	return t, nil
}

// PrefetchTickers populates the ticker cache for symbols via a single batch
// call when the venue supports it, per SPEC_FULL.md §4.7's batch-prefetch
// requirement ahead of score_all.
func (p *Provider) PrefetchTickers(ctx context.Context, symbols []string) error {
	tickers, err := p.ex.FetchTickers(ctx, symbols)
	if err != nil {
		return fmt.Errorf("market: prefetch tickers: %w", err)
	}
	for sym, t := range tickers {
		p.tickers.Set(sym, t)
	}
	return nil
}

// OHLCV returns candles for symbol/timeframe, served from the TTL cache
// when fresh, otherwise fetched via the exchange adapter.
func (p *Provider) OHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]types.Candle, error) {
	key := symbol + "|" + timeframe + "|" + fmt.Sprint(limit)
	if c, ok := p.ohlcv.Get(key); ok {
		return c, nil
	}
	c, err := p.ex.FetchOHLCV(ctx, symbol, timeframe, limit)
	if err != nil {
		return nil, fmt.Errorf("market: fetch ohlcv %s: %w", symbol, err)
	}
	p.ohlcv.Set(key, c)
	return c, nil
}

// Markets returns the venue's tradable-symbol metadata, cached for an hour.
func (p *Provider) Markets(ctx context.Context) (map[string]exchange.Market, error) {
	const key = "all"
	if m, ok := p.markets.Get(key); ok {
		return m, nil
	}
	m, err := p.ex.LoadMarkets(ctx)
	if err != nil {
		return nil, fmt.Errorf("market: load markets: %w", err)
	}
	p.markets.Set(key, m)
	return m, nil
}
