// Package scanner implements C8: enumerating a venue's perpetual universe,
// computing amplitude/trend statistics from daily candles, filtering by
// amplitude/volume/trend, and ranking survivors by grid-suitability.
// Grounded on original_source/coin_selection/symbol_scanner.py, ported from
// its async batch-with-sleep loop to a semaphore-bounded goroutine fan-out.
package scanner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/asgrid/gridengine/internal/exchange"
	"github.com/asgrid/gridengine/internal/market"
	"github.com/asgrid/gridengine/internal/metrics"
)

// CacheTTL is the scanner's result cache lifetime (SPEC_FULL.md §4.8).
const CacheTTL = 4 * time.Hour

const (
	batchSize        = 15
	interBatchSleep  = 200 * time.Millisecond
)

// Filters are the scanner's amplitude/trend/volume gates, SPEC_FULL.md §4.8.
type Filters struct {
	MinAmplitude   float64
	MaxAmplitude   float64
	MaxTotalChange float64
	MinVolume24h   float64
	AnalysisDays   int
	Exclude        []string // base-asset substrings to exclude, e.g. "LUNA", "UST"
}

// DefaultFilters mirrors symbol_scanner.py's DEFAULT_CONFIG.
func DefaultFilters() Filters {
	return Filters{
		MinAmplitude:   3.0,
		MaxAmplitude:   15.0,
		MaxTotalChange: 50.0,
		MinVolume24h:   10_000_000,
		AnalysisDays:   30,
		Exclude:        []string{"LUNA", "UST", "FTT"},
	}
}

// AmplitudeStats is one symbol's daily amplitude/trend summary.
type AmplitudeStats struct {
	Symbol          string
	AvgAmplitude    float64
	MaxAmplitude    float64
	MinAmplitude    float64
	TotalChange     float64
	AvgDailyChange  float64
	Volume24h       float64
	DaysAnalyzed    int
	LastPrice       float64
}

// AmplitudeScore rewards amplitude in the 3-8% sweet spot.
func (s AmplitudeStats) AmplitudeScore() float64 {
	switch {
	case s.AvgAmplitude >= 3 && s.AvgAmplitude <= 8:
		return 80 + (1-absF(s.AvgAmplitude-5.5)/2.5)*20
	case s.AvgAmplitude > 8:
		return maxF(40, 80-(s.AvgAmplitude-8)*5)
	default:
		return maxF(0, s.AvgAmplitude/3*60)
	}
}

// TrendScore rewards a small cumulative change (range-bound behavior).
func (s AmplitudeStats) TrendScore() float64 {
	change := absF(s.TotalChange)
	switch {
	case change < 10:
		return 100
	case change < 30:
		return 80 + (30-change)/20*20
	case change < 50:
		return 60 + (50-change)/20*20
	default:
		return maxF(0, 60-(change-50)*1.5)
	}
}

// GridSuitability is the composite ranking scalar, SPEC_FULL.md §4.8.
func (s AmplitudeStats) GridSuitability() float64 {
	return s.AmplitudeScore()*0.6 + s.TrendScore()*0.4
}

// Candidate pairs a market's metadata with its amplitude stats.
type Candidate struct {
	Market exchange.Market
	Stats  AmplitudeStats
}

// Scanner is C8.
type Scanner struct {
	provider *market.Provider
	filters  Filters

	mu        sync.Mutex
	cache     []Candidate
	cachedAt  time.Time
}

// NewScanner builds a Scanner over provider with the given filters.
func NewScanner(provider *market.Provider, filters Filters) *Scanner {
	return &Scanner{provider: provider, filters: filters}
}

// ScanAll enumerates perpetuals quoted in quoteCurrency, computes amplitude
// stats in concurrency-bounded batches, filters, and returns the top n
// ranked by grid suitability.
func (s *Scanner) ScanAll(ctx context.Context, quoteCurrency string, topN int) ([]Candidate, error) {
	if cached, ok := s.cached(); ok {
		return topCandidates(cached, topN), nil
	}

	markets, err := s.provider.Markets(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanner: load markets: %w", err)
	}

	universe := s.filterUniverse(markets, quoteCurrency)

	results := s.computeAmplitudeBatched(ctx, universe)
	filtered := s.applyFilters(results)

	s.mu.Lock()
	s.cache = filtered
	s.cachedAt = time.Now()
	s.mu.Unlock()

	metrics.ScanCandidatesFound.Set(float64(len(filtered)))
	return topCandidates(filtered, topN), nil
}

func (s *Scanner) cached() ([]Candidate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache == nil || time.Since(s.cachedAt) > CacheTTL {
		return nil, false
	}
	return s.cache, true
}

// filterUniverse keeps perpetuals quoted in quoteCurrency, excluding any
// base asset matching the blocklist.
func (s *Scanner) filterUniverse(markets map[string]exchange.Market, quoteCurrency string) []exchange.Market {
	out := make([]exchange.Market, 0, len(markets))
	for _, m := range markets {
		if !strings.Contains(m.Symbol.Raw, quoteCurrency) && !strings.Contains(m.Symbol.CCXT, quoteCurrency) {
			continue
		}
		excluded := false
		for _, ex := range s.filters.Exclude {
			if strings.Contains(strings.ToUpper(m.Symbol.Raw), ex) {
				excluded = true
				break
			}
		}
		if excluded {
			continue
		}
		out = append(out, m)
	}
	return out
}

// computeAmplitudeBatched runs calculateAmplitude over universe in batches of
// batchSize, bounding concurrency within a batch with a semaphore and
// sleeping interBatchSleep between batches for rate hygiene, per
// SPEC_FULL.md §4.8.
func (s *Scanner) computeAmplitudeBatched(ctx context.Context, universe []exchange.Market) []Candidate {
	var results []Candidate
	var mu sync.Mutex

	for i := 0; i < len(universe); i += batchSize {
		end := minInt(i+batchSize, len(universe))
		batch := universe[i:end]

		sem := semaphore.NewWeighted(int64(len(batch)))
		var wg sync.WaitGroup
		for _, m := range batch {
			m := m
			if err := sem.Acquire(ctx, 1); err != nil {
				break
			}
			wg.Add(1)
			go func() {
				defer sem.Release(1)
				defer wg.Done()
				stats, err := s.calculateAmplitude(ctx, m.Symbol.Raw)
				if err != nil {
					return
				}
				mu.Lock()
				results = append(results, Candidate{Market: m, Stats: stats})
				mu.Unlock()
			}()
		}
		wg.Wait()

		if end < len(universe) {
			select {
			case <-ctx.Done():
				return results
			case <-time.After(interBatchSleep):
			}
		}
	}
	return results
}

// calculateAmplitude computes one symbol's AmplitudeStats over daily
// candles, mirroring symbol_scanner.py's calculate_amplitude.
func (s *Scanner) calculateAmplitude(ctx context.Context, symbol string) (AmplitudeStats, error) {
	days := s.filters.AnalysisDays
	if days <= 0 {
		days = 30
	}
	candles, err := s.provider.OHLCV(ctx, symbol, "1d", days+1)
	if err != nil {
		return AmplitudeStats{}, fmt.Errorf("scanner: ohlcv %s: %w", symbol, err)
	}
	if len(candles) < 10 {
		return AmplitudeStats{}, fmt.Errorf("scanner: insufficient candles for %s", symbol)
	}

	var amplitudes, changes []float64
	for _, c := range candles {
		if c.Open <= 0 {
			continue
		}
		amplitudes = append(amplitudes, (c.High-c.Low)/c.Open*100)
		changes = append(changes, (c.Close-c.Open)/c.Open*100)
	}
	if len(amplitudes) == 0 {
		return AmplitudeStats{}, fmt.Errorf("scanner: no valid candles for %s", symbol)
	}

	var volume24h float64
	if t, err := s.provider.Ticker(ctx, symbol); err == nil {
		volume24h = t.QuoteVolume
	}

	var totalChange float64
	for _, c := range changes {
		totalChange += c
	}

	return AmplitudeStats{
		Symbol:         symbol,
		AvgAmplitude:   meanF(amplitudes),
		MaxAmplitude:   maxSlice(amplitudes),
		MinAmplitude:   minSlice(amplitudes),
		TotalChange:    totalChange,
		AvgDailyChange: meanF(changes),
		Volume24h:      volume24h,
		DaysAnalyzed:   len(amplitudes),
		LastPrice:      candles[len(candles)-1].Close,
	}, nil
}

// applyFilters keeps candidates passing the amplitude/trend/volume gates.
func (s *Scanner) applyFilters(candidates []Candidate) []Candidate {
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Stats.AvgAmplitude < s.filters.MinAmplitude || c.Stats.AvgAmplitude > s.filters.MaxAmplitude {
			continue
		}
		if absF(c.Stats.TotalChange) > s.filters.MaxTotalChange {
			continue
		}
		if c.Stats.Volume24h < s.filters.MinVolume24h {
			continue
		}
		out = append(out, c)
	}
	return out
}

func topCandidates(candidates []Candidate, n int) []Candidate {
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Stats.GridSuitability() > sorted[j].Stats.GridSuitability() })
	if n > 0 && n < len(sorted) {
		sorted = sorted[:n]
	}
	return sorted
}

func absF(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func meanF(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func maxSlice(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

func minSlice(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}
