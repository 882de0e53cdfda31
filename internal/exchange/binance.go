package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"github.com/asgrid/gridengine/pkg/types"
)

// Binance is the live perpetual-futures adapter, built on
// github.com/adshao/go-binance/v2/futures rather than hand-rolled HTTP —
// the example pack (yohannesjx-sniperterminal) shows a maintained client
// for this exact venue/asset class, superseding the reference bot's
// hand-rolled broker_binance.go raw HTTP client.
type Binance struct {
	client *futures.Client
}

// NewBinance wires a client from API credentials. An empty secret is valid
// for market-data-only usage (scanner/scorer paths that never place
// orders).
func NewBinance(apiKey, apiSecret string) *Binance {
	return &Binance{client: futures.NewClient(apiKey, apiSecret)}
}

func (b *Binance) Name() string { return "binance" }

// normalize converts the engine's raw internal symbol form ("XRPUSDC") to
// Binance's own form, which is already raw upper-case, so it only
// upper-cases the input.
func normalize(symbol string) string {
	return strings.ToUpper(symbol)
}

func (b *Binance) LoadMarkets(ctx context.Context) (map[string]Market, error) {
	info, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: exchange info: %w", classifyBinanceErr(err))
	}
	out := make(map[string]Market, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.ContractType != "PERPETUAL" {
			continue
		}
		m := Market{
			Symbol: types.Symbol{Raw: s.Symbol, CCXT: fmt.Sprintf("%s/%s:%s", s.BaseAsset, s.QuoteAsset, s.MarginAsset)},
		}
		for _, f := range s.Filters {
			switch f["filterType"] {
			case "PRICE_FILTER":
				m.PriceStep, _ = strconv.ParseFloat(fmt.Sprint(f["tickSize"]), 64)
			case "LOT_SIZE":
				m.QtyStep, _ = strconv.ParseFloat(fmt.Sprint(f["stepSize"]), 64)
			case "MIN_NOTIONAL":
				m.MinNotional, _ = strconv.ParseFloat(fmt.Sprint(f["notional"]), 64)
			}
		}
		out[s.Symbol] = m
	}
	return out, nil
}

func (b *Binance) FetchTicker(ctx context.Context, symbol string) (types.Ticker, error) {
	sym := normalize(symbol)
	prices, err := b.client.NewListPricesService().Symbol(sym).Do(ctx)
	if err != nil || len(prices) == 0 {
		return types.Ticker{}, fmt.Errorf("binance: ticker %s: %w", symbol, classifyBinanceErr(err))
	}
	last, _ := strconv.ParseFloat(prices[0].Price, 64)

	stats, err := b.client.NewListPriceChangeStatsService().Symbol(sym).Do(ctx)
	var qv float64
	if err == nil && len(stats) > 0 {
		qv, _ = strconv.ParseFloat(stats[0].QuoteVolume, 64)
	}
	return types.Ticker{Symbol: sym, Last: last, QuoteVolume: qv, Timestamp: time.Now().UTC()}, nil
}

func (b *Binance) FetchTickers(ctx context.Context, symbols []string) (map[string]types.Ticker, error) {
	prices, err := b.client.NewListPricesService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: tickers: %w", classifyBinanceErr(err))
	}
	wanted := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		wanted[normalize(s)] = true
	}
	stats, _ := b.client.NewListPriceChangeStatsService().Do(ctx)
	qv := make(map[string]float64, len(stats))
	for _, s := range stats {
		v, _ := strconv.ParseFloat(s.QuoteVolume, 64)
		qv[s.Symbol] = v
	}
	out := make(map[string]types.Ticker, len(symbols))
	now := time.Now().UTC()
	for _, p := range prices {
		if len(wanted) > 0 && !wanted[p.Symbol] {
			continue
		}
		last, _ := strconv.ParseFloat(p.Price, 64)
		out[p.Symbol] = types.Ticker{Symbol: p.Symbol, Last: last, QuoteVolume: qv[p.Symbol], Timestamp: now}
	}
	return out, nil
}

func (b *Binance) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]types.Candle, error) {
	if limit <= 0 {
		limit = 300
	}
	klines, err := b.client.NewKlinesService().
		Symbol(normalize(symbol)).
		Interval(timeframe).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: ohlcv %s: %w", symbol, classifyBinanceErr(err))
	}
	out := make([]types.Candle, 0, len(klines))
	for _, k := range klines {
		o, _ := strconv.ParseFloat(k.Open, 64)
		h, _ := strconv.ParseFloat(k.High, 64)
		l, _ := strconv.ParseFloat(k.Low, 64)
		c, _ := strconv.ParseFloat(k.Close, 64)
		v, _ := strconv.ParseFloat(k.QuoteAssetVolume, 64)
		out = append(out, types.Candle{
			Time:   time.UnixMilli(k.OpenTime),
			Open:   o,
			High:   h,
			Low:    l,
			Close:  c,
			Volume: v,
		})
	}
	return out, nil
}

func (b *Binance) FetchBalance(ctx context.Context) ([]Balance, error) {
	acct, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: balance: %w", classifyBinanceErr(err))
	}
	out := make([]Balance, 0, len(acct.Assets))
	for _, a := range acct.Assets {
		avail, _ := strconv.ParseFloat(a.AvailableBalance, 64)
		total, _ := strconv.ParseFloat(a.WalletBalance, 64)
		if avail == 0 && total == 0 {
			continue
		}
		out = append(out, Balance{Asset: a.Asset, Available: avail, Total: total})
	}
	return out, nil
}

func (b *Binance) FetchPositions(ctx context.Context) ([]Position, error) {
	risks, err := b.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: positions: %w", classifyBinanceErr(err))
	}
	out := make([]Position, 0, len(risks))
	for _, r := range risks {
		qty, _ := strconv.ParseFloat(r.PositionAmt, 64)
		if qty == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(r.EntryPrice, 64)
		side := types.Long
		if qty < 0 {
			side = types.Short
			qty = -qty
		}
		out = append(out, Position{Symbol: r.Symbol, Side: side, Qty: qty, Entry: entry})
	}
	return out, nil
}

func (b *Binance) CreateOrder(ctx context.Context, symbol string, side OrderSide, qty float64) (*Order, error) {
	bSide := futures.SideTypeBuy
	if side == SideSell {
		bSide = futures.SideTypeSell
	}
	res, err := b.client.NewCreateOrderService().
		Symbol(normalize(symbol)).
		Side(bSide).
		Type(futures.OrderTypeMarket).
		Quantity(strconv.FormatFloat(qty, 'f', -1, 64)).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: create order %s: %w", symbol, classifyBinanceErr(err))
	}
	price, _ := strconv.ParseFloat(res.AvgPrice, 64)
	filled, _ := strconv.ParseFloat(res.ExecutedQuantity, 64)
	return &Order{
		ID:         strconv.FormatInt(res.OrderID, 10),
		Symbol:     symbol,
		Side:       side,
		Price:      price,
		Qty:        filled,
		Status:     string(res.Status),
		CreateTime: time.Now().UTC(),
	}, nil
}

func (b *Binance) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidOrder, orderID)
	}
	_, err = b.client.NewCancelOrderService().Symbol(normalize(symbol)).OrderID(id).Do(ctx)
	if err != nil {
		k := classifyBinanceErr(err)
		if Classify(k) == KindOrderNotFound {
			// Idempotent cancel per SPEC_FULL.md §7.
			return nil
		}
		return fmt.Errorf("binance: cancel order %s: %w", symbol, k)
	}
	return nil
}

// classifyBinanceErr wraps a raw go-binance error in the sentinel matching
// its SPEC_FULL.md §7 error kind, so Classify can recognize it regardless
// of which adapter produced it. Binance's futures API reports errors as
// "code=N msg=...", recognized by matching the code.
func classifyBinanceErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "code=-2011"), strings.Contains(msg, "Unknown order"):
		return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
	case strings.Contains(msg, "code=-2015"), strings.Contains(msg, "code=-1022"), strings.Contains(msg, "Invalid API-key"):
		return fmt.Errorf("%w: %v", ErrAuth, err)
	case strings.Contains(msg, "code=-1003"), strings.Contains(msg, "Too many requests"), strings.Contains(msg, "code=-1015"):
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	case strings.Contains(msg, "code=-2019"), strings.Contains(msg, "Margin is insufficient"):
		return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	case strings.Contains(msg, "code=-1013"), strings.Contains(msg, "MIN_NOTIONAL"), strings.Contains(msg, "code=-4164"):
		return fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	default:
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
}
