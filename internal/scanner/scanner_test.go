package scanner

import (
	"testing"

	"github.com/asgrid/gridengine/internal/exchange"
	"github.com/asgrid/gridengine/pkg/types"
)

func TestAmplitudeScorePeaksInSweetSpot(t *testing.T) {
	sweet := AmplitudeStats{AvgAmplitude: 5.5}.AmplitudeScore()
	thin := AmplitudeStats{AvgAmplitude: 0.5}.AmplitudeScore()
	wild := AmplitudeStats{AvgAmplitude: 20}.AmplitudeScore()
	if sweet <= thin || sweet <= wild {
		t.Fatalf("expected sweet-spot amplitude to score highest: sweet=%v thin=%v wild=%v", sweet, thin, wild)
	}
}

func TestTrendScoreFavorsRangeBound(t *testing.T) {
	rangebound := AmplitudeStats{TotalChange: 2}.TrendScore()
	trending := AmplitudeStats{TotalChange: 80}.TrendScore()
	if rangebound != 100 {
		t.Fatalf("small total change should score 100, got %v", rangebound)
	}
	if rangebound <= trending {
		t.Fatalf("expected range-bound to score higher than a strongly trending symbol")
	}
}

func TestGridSuitabilityIsWeightedBlend(t *testing.T) {
	s := AmplitudeStats{AvgAmplitude: 5.5, TotalChange: 2}
	want := s.AmplitudeScore()*0.6 + s.TrendScore()*0.4
	if got := s.GridSuitability(); got != want {
		t.Fatalf("GridSuitability = %v, want %v", got, want)
	}
}

func newTestScanner(f Filters) *Scanner {
	return NewScanner(nil, f)
}

func TestApplyFiltersRejectsOutOfBandAmplitude(t *testing.T) {
	s := newTestScanner(DefaultFilters())
	candidates := []Candidate{
		{Stats: AmplitudeStats{Symbol: "TOOFLAT", AvgAmplitude: 0.5, Volume24h: 1e9}},
		{Stats: AmplitudeStats{Symbol: "GOOD", AvgAmplitude: 5, Volume24h: 1e9}},
		{Stats: AmplitudeStats{Symbol: "TOOWILD", AvgAmplitude: 50, Volume24h: 1e9}},
	}
	out := s.applyFilters(candidates)
	if len(out) != 1 || out[0].Stats.Symbol != "GOOD" {
		t.Fatalf("expected only GOOD to survive amplitude filtering, got %+v", out)
	}
}

func TestApplyFiltersRejectsLowVolume(t *testing.T) {
	s := newTestScanner(DefaultFilters())
	candidates := []Candidate{
		{Stats: AmplitudeStats{Symbol: "THIN", AvgAmplitude: 5, Volume24h: 1000}},
	}
	if out := s.applyFilters(candidates); len(out) != 0 {
		t.Fatalf("expected low-volume candidate to be filtered, got %+v", out)
	}
}

func TestApplyFiltersRejectsLargeTotalChange(t *testing.T) {
	s := newTestScanner(DefaultFilters())
	candidates := []Candidate{
		{Stats: AmplitudeStats{Symbol: "RUNAWAY", AvgAmplitude: 5, TotalChange: 90, Volume24h: 1e9}},
	}
	if out := s.applyFilters(candidates); len(out) != 0 {
		t.Fatalf("expected large total-change candidate to be filtered, got %+v", out)
	}
}

func TestFilterUniverseExcludesBlocklisted(t *testing.T) {
	s := newTestScanner(Filters{Exclude: []string{"LUNA"}})
	markets := map[string]exchange.Market{
		"LUNAUSDC": {Symbol: types.Symbol{Raw: "LUNAUSDC", CCXT: "LUNA/USDC:USDC"}},
		"BTCUSDC":  {Symbol: types.Symbol{Raw: "BTCUSDC", CCXT: "BTC/USDC:USDC"}},
	}
	out := s.filterUniverse(markets, "USDC")
	if len(out) != 1 || out[0].Symbol.Raw != "BTCUSDC" {
		t.Fatalf("expected only BTCUSDC to survive, got %+v", out)
	}
}

func TestFilterUniverseRequiresQuoteCurrency(t *testing.T) {
	s := newTestScanner(Filters{})
	markets := map[string]exchange.Market{
		"BTCUSDT": {Symbol: types.Symbol{Raw: "BTCUSDT", CCXT: "BTC/USDT:USDT"}},
	}
	if out := s.filterUniverse(markets, "USDC"); len(out) != 0 {
		t.Fatalf("expected no USDC-quoted markets, got %+v", out)
	}
}

func TestTopCandidatesSortsDescendingAndTruncates(t *testing.T) {
	candidates := []Candidate{
		{Stats: AmplitudeStats{Symbol: "LOW", AvgAmplitude: 0.5}},
		{Stats: AmplitudeStats{Symbol: "BEST", AvgAmplitude: 5.5}},
		{Stats: AmplitudeStats{Symbol: "MID", AvgAmplitude: 8.5}},
	}
	out := topCandidates(candidates, 2)
	if len(out) != 2 {
		t.Fatalf("expected top-2 truncation, got %d", len(out))
	}
	if out[0].Stats.Symbol != "BEST" {
		t.Fatalf("expected BEST to rank first, got %s", out[0].Stats.Symbol)
	}
}

func TestTopCandidatesNoTruncationWhenNIsZero(t *testing.T) {
	candidates := []Candidate{
		{Stats: AmplitudeStats{Symbol: "A", AvgAmplitude: 5}},
		{Stats: AmplitudeStats{Symbol: "B", AvgAmplitude: 6}},
	}
	if out := topCandidates(candidates, 0); len(out) != 2 {
		t.Fatalf("n=0 should mean no truncation, got %d", len(out))
	}
}
