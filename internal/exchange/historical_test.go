package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/asgrid/gridengine/pkg/types"
)

func testCandles() []types.Candle {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	closes := []float64{100, 101, 99, 102}
	out := make([]types.Candle, len(closes))
	for i, c := range closes {
		out[i] = types.Candle{Time: base.Add(time.Duration(i) * time.Hour), Open: c, High: c, Low: c, Close: c, Volume: 1}
	}
	return out
}

func TestHistoricalFetchTickerTracksCursor(t *testing.T) {
	h := NewHistorical("XRPUSDC", testCandles())
	h.Advance(2)
	ticker, err := h.FetchTicker(context.Background(), "XRPUSDC")
	if err != nil {
		t.Fatalf("FetchTicker: %v", err)
	}
	if ticker.Last != 99 {
		t.Fatalf("Last = %v, want 99", ticker.Last)
	}
}

func TestHistoricalFetchTickerBeforeAdvanceErrors(t *testing.T) {
	h := NewHistorical("XRPUSDC", testCandles())
	if _, err := h.FetchTicker(context.Background(), "XRPUSDC"); err == nil {
		t.Fatalf("expected an error before Advance is called")
	}
}

func TestHistoricalAdvanceClampsToBounds(t *testing.T) {
	h := NewHistorical("XRPUSDC", testCandles())
	h.Advance(-5)
	if h.Candle().Close != 100 {
		t.Fatalf("Advance(-5) should clamp to the first candle, got close=%v", h.Candle().Close)
	}
	h.Advance(999)
	if h.Candle().Close != 102 {
		t.Fatalf("Advance(999) should clamp to the last candle, got close=%v", h.Candle().Close)
	}
}

func TestHistoricalFetchOHLCVNeverLeaksFutureBars(t *testing.T) {
	h := NewHistorical("XRPUSDC", testCandles())
	h.Advance(1)
	candles, err := h.FetchOHLCV(context.Background(), "XRPUSDC", "1h", 10)
	if err != nil {
		t.Fatalf("FetchOHLCV: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("expected exactly 2 candles visible at cursor=1, got %d", len(candles))
	}
	if candles[len(candles)-1].Close != 101 {
		t.Fatalf("expected the last visible candle to be the current bar (101), got %v", candles[len(candles)-1].Close)
	}
}

func TestHistoricalFetchOHLCVRespectsLimit(t *testing.T) {
	h := NewHistorical("XRPUSDC", testCandles())
	h.Advance(3)
	candles, err := h.FetchOHLCV(context.Background(), "XRPUSDC", "1h", 2)
	if err != nil {
		t.Fatalf("FetchOHLCV: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("expected limit=2 candles, got %d", len(candles))
	}
	if candles[0].Close != 99 || candles[1].Close != 102 {
		t.Fatalf("unexpected window: %+v", candles)
	}
}

func TestHistoricalCreateOrderRejected(t *testing.T) {
	h := NewHistorical("XRPUSDC", testCandles())
	if _, err := h.CreateOrder(context.Background(), "XRPUSDC", SideBuy, 1); err == nil {
		t.Fatalf("expected Historical.CreateOrder to be rejected (read-only source)")
	}
}

func TestHistoricalCancelOrderIsNoop(t *testing.T) {
	h := NewHistorical("XRPUSDC", testCandles())
	if err := h.CancelOrder(context.Background(), "XRPUSDC", "whatever"); err != nil {
		t.Fatalf("CancelOrder should always succeed, got %v", err)
	}
}
