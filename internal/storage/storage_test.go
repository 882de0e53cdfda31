package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/asgrid/gridengine/internal/gridcore"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndLoadTrade(t *testing.T) {
	s := openTestStore(t)
	tr := gridcore.TradeRecord{
		LotID:      "lot-1",
		Side:       gridcore.SideLong,
		EntryPrice: 99,
		ExitPrice:  101.01,
		Qty:        10,
		Gross:      decimal.NewFromFloat(20.1),
		Fee:        decimal.Zero,
		Net:        decimal.NewFromFloat(20.1),
		ClosedAt:   time.Now().UTC(),
	}
	if err := s.RecordTrade("XRPUSDC", tr); err != nil {
		t.Fatalf("RecordTrade: %v", err)
	}

	got, err := s.TradesSince("XRPUSDC", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("TradesSince: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(got))
	}
	if got[0].LotID != "lot-1" || got[0].Side != gridcore.SideLong {
		t.Fatalf("unexpected trade: %+v", got[0])
	}
	if !got[0].Net.Equal(tr.Net) {
		t.Fatalf("net pnl round-trip = %v, want %v", got[0].Net, tr.Net)
	}
}

func TestTradesSinceExcludesOlderSymbolsAndTimes(t *testing.T) {
	s := openTestStore(t)
	old := gridcore.TradeRecord{LotID: "old", Side: gridcore.SideLong, ClosedAt: time.Now().Add(-48 * time.Hour), Gross: decimal.Zero, Fee: decimal.Zero, Net: decimal.Zero}
	fresh := gridcore.TradeRecord{LotID: "fresh", Side: gridcore.SideLong, ClosedAt: time.Now(), Gross: decimal.Zero, Fee: decimal.Zero, Net: decimal.Zero}
	if err := s.RecordTrade("XRPUSDC", old); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordTrade("XRPUSDC", fresh); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordTrade("ETHUSDC", fresh); err != nil {
		t.Fatal(err)
	}

	got, err := s.TradesSince("XRPUSDC", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].LotID != "fresh" {
		t.Fatalf("expected only the fresh XRPUSDC trade, got %+v", got)
	}
}

func TestRecordAndQueryScoreHistory(t *testing.T) {
	s := openTestStore(t)
	sample := ScoreSample{Symbol: "XRPUSDC", At: time.Now().UTC(), Final: 72.5, Hurst: 0.3, ADX: 18}
	if err := s.RecordScore(sample); err != nil {
		t.Fatalf("RecordScore: %v", err)
	}

	hist, err := s.ScoreHistory("XRPUSDC", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ScoreHistory: %v", err)
	}
	if len(hist) != 1 || hist[0].Final != 72.5 {
		t.Fatalf("unexpected score history: %+v", hist)
	}
}

func TestPruneScoreHistoryRemovesOldSamples(t *testing.T) {
	s := openTestStore(t)
	old := ScoreSample{Symbol: "XRPUSDC", At: time.Now().Add(-10 * 24 * time.Hour), Final: 50}
	fresh := ScoreSample{Symbol: "XRPUSDC", At: time.Now(), Final: 60}
	if err := s.RecordScore(old); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordScore(fresh); err != nil {
		t.Fatal(err)
	}
	if err := s.PruneScoreHistory(time.Now().Add(-7 * 24 * time.Hour)); err != nil {
		t.Fatalf("PruneScoreHistory: %v", err)
	}

	hist, err := s.ScoreHistory("XRPUSDC", time.Now().Add(-30*24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 || hist[0].Final != 60 {
		t.Fatalf("expected only the fresh sample to survive pruning, got %+v", hist)
	}
}

func TestRotationStateRoundTripDefaultsToZeroValue(t *testing.T) {
	s := openTestStore(t)
	rs, err := s.LoadRotationState()
	if err != nil {
		t.Fatalf("LoadRotationState on empty store: %v", err)
	}
	if !rs.LastRotationTime.IsZero() || rs.RotationsThisWk != 0 {
		t.Fatalf("expected zero-value RotationState before any save, got %+v", rs)
	}

	want := RotationState{LastRotationTime: time.Now().UTC().Truncate(time.Second), RotationsThisWk: 2, WeekStart: time.Now().UTC().Truncate(time.Second)}
	if err := s.SaveRotationState(want); err != nil {
		t.Fatalf("SaveRotationState: %v", err)
	}
	got, err := s.LoadRotationState()
	if err != nil {
		t.Fatalf("LoadRotationState: %v", err)
	}
	if got.RotationsThisWk != want.RotationsThisWk {
		t.Fatalf("RotationsThisWk = %d, want %d", got.RotationsThisWk, want.RotationsThisWk)
	}
	if !got.LastRotationTime.Equal(want.LastRotationTime) {
		t.Fatalf("LastRotationTime = %v, want %v", got.LastRotationTime, want.LastRotationTime)
	}
}

func TestRotationStateUpsertOverwrites(t *testing.T) {
	s := openTestStore(t)
	if err := s.SaveRotationState(RotationState{RotationsThisWk: 1}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveRotationState(RotationState{RotationsThisWk: 2}); err != nil {
		t.Fatal(err)
	}
	got, err := s.LoadRotationState()
	if err != nil {
		t.Fatal(err)
	}
	if got.RotationsThisWk != 2 {
		t.Fatalf("expected the second save to overwrite the first, got %d", got.RotationsThisWk)
	}
}

func TestRecordAndQueryRejections(t *testing.T) {
	s := openTestStore(t)
	if err := s.RecordRejection("BTCUSDC->ETHUSDC", time.Now()); err != nil {
		t.Fatalf("RecordRejection: %v", err)
	}
	got, err := s.RejectionsSince(time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("RejectionsSince: %v", err)
	}
	if _, ok := got["BTCUSDC->ETHUSDC"]; !ok {
		t.Fatalf("expected the recorded rejection key present, got %+v", got)
	}
}

func TestRejectionUpsertRefreshesTimestamp(t *testing.T) {
	s := openTestStore(t)
	old := time.Now().Add(-24 * time.Hour)
	if err := s.RecordRejection("BTCUSDC->ETHUSDC", old); err != nil {
		t.Fatal(err)
	}
	fresh := time.Now()
	if err := s.RecordRejection("BTCUSDC->ETHUSDC", fresh); err != nil {
		t.Fatal(err)
	}
	got, err := s.RejectionsSince(time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := got["BTCUSDC->ETHUSDC"]; !ok {
		t.Fatalf("expected the upserted rejection to be within the last hour, got %+v", got)
	}
}
