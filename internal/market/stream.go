package market

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/asgrid/gridengine/pkg/types"
)

// BinanceStream subscribes to Binance USDⓈ-M futures combined mini-ticker
// streams, grounded on the style of yohannesjx-sniperterminal's websocket
// usage (the teacher pack has no streaming transport of its own to follow).
type BinanceStream struct {
	baseURL string // e.g. wss://fstream.binance.com/stream

	mu      sync.RWMutex
	healthy bool
}

// NewBinanceStream builds a stream client against baseURL. An empty baseURL
// defaults to Binance's production futures stream endpoint.
func NewBinanceStream(baseURL string) *BinanceStream {
	if baseURL == "" {
		baseURL = "wss://fstream.binance.com/stream"
	}
	return &BinanceStream{baseURL: baseURL, healthy: true}
}

func (s *BinanceStream) Healthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.healthy
}

func (s *BinanceStream) setHealthy(v bool) {
	s.mu.Lock()
	s.healthy = v
	s.mu.Unlock()
}

type binanceMiniTickerEvent struct {
	Stream string `json:"stream"`
	Data   struct {
		EventType string `json:"e"`
		EventTime int64  `json:"E"`
		Symbol    string `json:"s"`
		Close     string `json:"c"`
		Volume    string `json:"q"` // quote asset volume
	} `json:"data"`
}

// Subscribe opens one websocket connection to the combined mini-ticker
// stream for symbols and forwards decoded ticks on the returned channel.
// The channel closes when ctx is cancelled or the connection drops; callers
// (internal/market.Provider.Run) handle reconnection via internal/retry.
func (s *BinanceStream) Subscribe(ctx context.Context, symbols []string) (<-chan types.Ticker, error) {
	streams := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		streams = append(streams, strings.ToLower(sym)+"@miniTicker")
	}
	url := fmt.Sprintf("%s?streams=%s", s.baseURL, strings.Join(streams, "/"))

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, url, nil)
	if err != nil {
		s.setHealthy(false)
		return nil, fmt.Errorf("binance stream dial: %w", err)
	}
	s.setHealthy(true)

	out := make(chan types.Ticker, 64)
	go func() {
		defer close(out)
		defer conn.Close()

		go func() {
			<-ctx.Done()
			_ = conn.Close()
		}()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				s.setHealthy(false)
				return
			}
			var ev binanceMiniTickerEvent
			if err := json.Unmarshal(msg, &ev); err != nil {
				continue
			}
			last, _ := strconv.ParseFloat(ev.Data.Close, 64)
			vol, _ := strconv.ParseFloat(ev.Data.Volume, 64)
			tick := types.Ticker{
				Symbol:      ev.Data.Symbol,
				Last:        last,
				QuoteVolume: vol,
				Timestamp:   time.UnixMilli(ev.Data.EventTime),
			}
			select {
			case out <- tick:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
