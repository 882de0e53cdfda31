package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/asgrid/gridengine/pkg/types"
)

// Bridge talks to an HTTP sidecar fronting a venue's REST API, generalized
// from the reference bot's broker_bridge.go (which proxied Coinbase Advanced
// Trade through a local FastAPI process) to the perpetuals Exchange surface.
// It is the adapter of choice when a venue has no maintained Go client but
// does have (or can be fronted by) a small REST shim.
type Bridge struct {
	base string
	hc   *http.Client
}

// NewBridge builds a Bridge adapter against base, trimming trailing slashes
// and inline comments the way the reference bot's env-sourced URLs arrive.
func NewBridge(base string) *Bridge {
	base = strings.TrimSpace(base)
	if i := strings.IndexAny(base, " \t#"); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	if base == "" {
		base = "http://127.0.0.1:8787"
	}
	return &Bridge{base: strings.TrimRight(base, "/"), hc: &http.Client{Timeout: 15 * time.Second}}
}

func (b *Bridge) Name() string { return "bridge" }

func (b *Bridge) get(ctx context.Context, path string, q url.Values, out any) error {
	u := b.base + path
	if q != nil {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("bridge: newrequest: %w", err)
	}
	res, err := b.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return fmt.Errorf("%w: bridge %s %d: %s", classifyStatus(res.StatusCode), path, res.StatusCode, string(body))
	}
	return json.Unmarshal(body, out)
}

func classifyStatus(code int) error {
	switch {
	case code == 401 || code == 403:
		return ErrAuth
	case code == 429:
		return ErrRateLimited
	case code >= 500:
		return ErrTransient
	default:
		return ErrInvalidOrder
	}
}

func (b *Bridge) LoadMarkets(ctx context.Context) (map[string]Market, error) {
	var rows []struct {
		Symbol      string  `json:"symbol"`
		CCXT        string  `json:"ccxt_symbol"`
		PriceStep   float64 `json:"price_step"`
		QtyStep     float64 `json:"qty_step"`
		MinNotional float64 `json:"min_notional"`
	}
	if err := b.get(ctx, "/markets", nil, &rows); err != nil {
		return nil, fmt.Errorf("bridge: load markets: %w", err)
	}
	out := make(map[string]Market, len(rows))
	for _, r := range rows {
		out[r.Symbol] = Market{
			Symbol:      types.Symbol{Raw: r.Symbol, CCXT: r.CCXT},
			PriceStep:   r.PriceStep,
			QtyStep:     r.QtyStep,
			MinNotional: r.MinNotional,
		}
	}
	return out, nil
}

func (b *Bridge) FetchTicker(ctx context.Context, symbol string) (types.Ticker, error) {
	var row struct {
		Last        string `json:"price"`
		QuoteVolume string `json:"quote_volume_24h"`
	}
	if err := b.get(ctx, fmt.Sprintf("/product/%s", url.PathEscape(symbol)), nil, &row); err != nil {
		return types.Ticker{}, fmt.Errorf("bridge: fetch ticker %s: %w", symbol, err)
	}
	last, _ := strconv.ParseFloat(row.Last, 64)
	qv, _ := strconv.ParseFloat(row.QuoteVolume, 64)
	return types.Ticker{Symbol: symbol, Last: last, QuoteVolume: qv, Timestamp: time.Now().UTC()}, nil
}

func (b *Bridge) FetchTickers(ctx context.Context, symbols []string) (map[string]types.Ticker, error) {
	// The reference bot's sidecar has no batch endpoint; fall back to
	// per-symbol fetches, matching SPEC_FULL.md §4.7's allowance that
	// batching is "if the venue supports it".
	out := make(map[string]types.Ticker, len(symbols))
	for _, s := range symbols {
		t, err := b.FetchTicker(ctx, s)
		if err != nil {
			continue
		}
		out[s] = t
	}
	return out, nil
}

func (b *Bridge) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]types.Candle, error) {
	q := url.Values{}
	q.Set("product_id", symbol)
	q.Set("granularity", timeframe)
	if limit <= 0 {
		limit = 300
	}
	q.Set("limit", strconv.Itoa(limit))

	var rows []struct {
		Start  any `json:"start"`
		Open   any `json:"open"`
		High   any `json:"high"`
		Low    any `json:"low"`
		Close  any `json:"close"`
		Volume any `json:"volume"`
	}
	if err := b.get(ctx, "/candles", q, &rows); err != nil {
		return nil, fmt.Errorf("bridge: fetch ohlcv %s: %w", symbol, err)
	}

	parseF := func(v any) float64 {
		switch t := v.(type) {
		case float64:
			return t
		case string:
			f, _ := strconv.ParseFloat(t, 64)
			return f
		default:
			return 0
		}
	}
	parseT := func(v any) time.Time {
		switch t := v.(type) {
		case string:
			if sec, err := strconv.ParseInt(t, 10, 64); err == nil {
				return time.UnixMilli(sec)
			}
		case float64:
			return time.UnixMilli(int64(t))
		}
		return time.Time{}
	}

	out := make([]types.Candle, 0, len(rows))
	for _, r := range rows {
		out = append(out, types.Candle{
			Time:   parseT(r.Start),
			Open:   parseF(r.Open),
			High:   parseF(r.High),
			Low:    parseF(r.Low),
			Close:  parseF(r.Close),
			Volume: parseF(r.Volume),
		})
	}
	return out, nil
}

func (b *Bridge) FetchBalance(ctx context.Context) ([]Balance, error) {
	var rows []struct {
		Asset     string  `json:"asset"`
		Available float64 `json:"available"`
		Total     float64 `json:"total"`
	}
	if err := b.get(ctx, "/balance", nil, &rows); err != nil {
		return nil, fmt.Errorf("bridge: fetch balance: %w", err)
	}
	out := make([]Balance, len(rows))
	for i, r := range rows {
		out[i] = Balance{Asset: r.Asset, Available: r.Available, Total: r.Total}
	}
	return out, nil
}

func (b *Bridge) FetchPositions(ctx context.Context) ([]Position, error) {
	var rows []struct {
		Symbol string  `json:"symbol"`
		Side   string  `json:"side"`
		Qty    float64 `json:"qty"`
		Entry  float64 `json:"entry"`
	}
	if err := b.get(ctx, "/positions", nil, &rows); err != nil {
		return nil, fmt.Errorf("bridge: fetch positions: %w", err)
	}
	out := make([]Position, len(rows))
	for i, r := range rows {
		side := types.Long
		if strings.EqualFold(r.Side, "short") {
			side = types.Short
		}
		out[i] = Position{Symbol: r.Symbol, Side: side, Qty: r.Qty, Entry: r.Entry}
	}
	return out, nil
}

func (b *Bridge) CreateOrder(ctx context.Context, symbol string, side OrderSide, qty float64) (*Order, error) {
	body := map[string]any{
		"product_id": symbol,
		"side":       strings.ToUpper(string(side)),
		"base_size":  fmt.Sprintf("%.8f", qty),
	}
	bs, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.base+"/order/market", bytes.NewReader(bs))
	if err != nil {
		return nil, fmt.Errorf("bridge: newrequest order: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := b.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer res.Body.Close()
	raw, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: bridge order %d: %s", classifyStatus(res.StatusCode), res.StatusCode, string(raw))
	}
	var norm struct {
		OrderID    string `json:"order_id"`
		AvgPrice   string `json:"avg_price"`
		FilledBase string `json:"filled_base"`
	}
	if err := json.Unmarshal(raw, &norm); err != nil {
		return nil, fmt.Errorf("bridge: decode order response: %w", err)
	}
	price, _ := strconv.ParseFloat(norm.AvgPrice, 64)
	filled, _ := strconv.ParseFloat(norm.FilledBase, 64)
	return &Order{
		ID:         norm.OrderID,
		Symbol:     symbol,
		Side:       side,
		Price:      price,
		Qty:        filled,
		Status:     "FILLED",
		CreateTime: time.Now().UTC(),
	}, nil
}

func (b *Bridge) CancelOrder(ctx context.Context, symbol, orderID string) error {
	q := url.Values{}
	q.Set("product_id", symbol)
	q.Set("order_id", orderID)
	u := b.base + "/order/cancel?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return fmt.Errorf("bridge: newrequest cancel: %w", err)
	}
	res, err := b.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil // idempotent cancel, SPEC_FULL.md §7
	}
	if res.StatusCode >= 300 {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("%w: bridge cancel %d: %s", classifyStatus(res.StatusCode), res.StatusCode, string(body))
	}
	return nil
}
