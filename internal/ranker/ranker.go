// Package ranker implements C9: turning C7's per-symbol scores into a
// ranked list with trend classification and a suggested action, tracking a
// bounded score history per symbol. Grounded on
// original_source/grid_node/coin_selection/ranker.py.
package ranker

import (
	"context"
	"sync"
	"time"

	"github.com/asgrid/gridengine/internal/metrics"
	"github.com/asgrid/gridengine/internal/scorer"
)

// Trend classifies the direction of a symbol's two most recent scores.
type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

// Action is the ranker's suggested handling for a ranked symbol.
type Action string

const (
	ActionHold    Action = "hold"
	ActionWatch   Action = "watch"
	ActionMonitor Action = "monitor"
	ActionAvoid   Action = "avoid"
)

// Trend/action thresholds, ranker.py's class constants.
const (
	trendUpThreshold   = 2.0
	trendDownThreshold = -2.0

	holdMinScore    = 80.0
	watchMinScore   = 70.0
	monitorMinScore = 50.0
)

// historyRetention keeps 7 days of per-symbol score history (ranker.py's
// HISTORY_RETENTION_HOURS = 24*7).
const historyRetention = 7 * 24 * time.Hour

// CacheTTL is how long get_rankings reuses the last computed ranking before
// recomputing (ranker.py's update_interval_minutes, default 15).
const CacheTTL = 15 * time.Minute

// historyPoint is one timestamped score sample.
type historyPoint struct {
	at    time.Time
	score scorer.CoinScore
}

// Rank is one symbol's position in a ranking pass.
type Rank struct {
	Position       int
	Symbol         string
	Score          scorer.CoinScore
	Trend          Trend
	Action         Action
	ScoreChange24h float64
}

// Ranker is C9: wraps a Scorer with score history, trend detection, and
// action classification.
type Ranker struct {
	scorer *scorer.Scorer

	mu          sync.Mutex
	history     map[string][]historyPoint
	lastRanking []Rank
	lastUpdate  time.Time
}

// NewRanker builds a Ranker over s.
func NewRanker(s *scorer.Scorer) *Ranker {
	return &Ranker{scorer: s, history: make(map[string][]historyPoint)}
}

// GetRankings scores symbols (via the underlying Scorer, itself TTL-cached),
// records history, and returns a descending-by-final-score ranking. The
// ranking itself is reused for CacheTTL unless forceRefresh is set.
func (r *Ranker) GetRankings(ctx context.Context, symbols []string, forceRefresh bool) ([]Rank, error) {
	if !forceRefresh {
		if cached, ok := r.cachedRanking(); ok {
			return cached, nil
		}
	}

	scores, err := r.scorer.ScoreAll(ctx, symbols)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	for _, sc := range scores {
		r.recordHistory(sc)
	}
	r.mu.Unlock()

	rankings := make([]Rank, 0, len(scores))
	for i, sc := range scores {
		trend := r.trendFor(sc.Symbol)
		action := determineAction(sc, trend, i)
		change := r.scoreChange24h(sc.Symbol)

		rankings = append(rankings, Rank{
			Position:       i + 1,
			Symbol:         sc.Symbol,
			Score:          sc,
			Trend:          trend,
			Action:         action,
			ScoreChange24h: change,
		})
		metrics.CompositeScore.WithLabelValues(sc.Symbol).Set(sc.FinalScore)
	}

	r.mu.Lock()
	r.lastRanking = rankings
	r.lastUpdate = time.Now()
	r.mu.Unlock()

	return rankings, nil
}

// GetTopN returns the first n entries of a ranking pass.
func (r *Ranker) GetTopN(ctx context.Context, symbols []string, n int) ([]Rank, error) {
	rankings, err := r.GetRankings(ctx, symbols, false)
	if err != nil {
		return nil, err
	}
	if n < len(rankings) {
		rankings = rankings[:n]
	}
	return rankings, nil
}

// GetBestCoin returns the top-ranked symbol, unless it is itself flagged
// ActionAvoid.
func (r *Ranker) GetBestCoin(ctx context.Context, symbols []string) (Rank, bool, error) {
	rankings, err := r.GetRankings(ctx, symbols, false)
	if err != nil {
		return Rank{}, false, err
	}
	if len(rankings) == 0 || rankings[0].Action == ActionAvoid {
		return Rank{}, false, nil
	}
	return rankings[0], true, nil
}

// RankBySymbol looks up symbol in the most recent ranking.
func (r *Ranker) RankBySymbol(symbol string) (Rank, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rk := range r.lastRanking {
		if rk.Symbol == symbol {
			return rk, true
		}
	}
	return Rank{}, false
}

// SeedPoint is one externally-supplied score sample used to rehydrate a
// symbol's history, e.g. from internal/storage on process startup.
type SeedPoint struct {
	Symbol string
	At     time.Time
	Score  scorer.CoinScore
}

// SeedHistory loads previously persisted score samples into the in-memory
// history so trend detection and the 7-day window survive a restart instead
// of starting cold — SPEC_FULL.md's restart-continuity scope for C9. Callers
// must supply each symbol's points in ascending time order (the order
// internal/storage.Store.ScoreHistory already returns); points older than
// the retention window are dropped. Points for a symbol that already has
// history (e.g. a re-seed) are appended, not deduplicated — callers should
// seed once per symbol at boot, before any GetRankings call.
func (r *Ranker) SeedHistory(points []SeedPoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-historyRetention)
	for _, p := range points {
		if p.At.Before(cutoff) {
			continue
		}
		r.history[p.Symbol] = append(r.history[p.Symbol], historyPoint{at: p.At, score: p.Score})
	}
}

// History returns symbol's score samples within the last `within`.
func (r *Ranker) History(symbol string, within time.Duration) []scorer.CoinScore {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-within)
	var out []scorer.CoinScore
	for _, h := range r.history[symbol] {
		if h.at.After(cutoff) {
			out = append(out, h.score)
		}
	}
	return out
}

// ClearHistory drops history for symbol, or all symbols if symbol is "".
func (r *Ranker) ClearHistory(symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if symbol != "" {
		delete(r.history, symbol)
	} else {
		r.history = make(map[string][]historyPoint)
	}
	r.lastRanking = nil
	r.lastUpdate = time.Time{}
}

func (r *Ranker) cachedRanking() ([]Rank, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastRanking == nil || time.Since(r.lastUpdate) >= CacheTTL {
		return nil, false
	}
	return r.lastRanking, true
}

// recordHistory appends sc and prunes samples older than historyRetention.
// Caller holds r.mu.
func (r *Ranker) recordHistory(sc scorer.CoinScore) {
	now := time.Now()
	cutoff := now.Add(-historyRetention)

	pts := append(r.history[sc.Symbol], historyPoint{at: now, score: sc})
	kept := pts[:0]
	for _, p := range pts {
		if p.at.After(cutoff) {
			kept = append(kept, p)
		}
	}
	r.history[sc.Symbol] = kept
}

// trendFor compares the two most recent score samples for symbol.
func (r *Ranker) trendFor(symbol string) Trend {
	r.mu.Lock()
	defer r.mu.Unlock()
	hist := r.history[symbol]
	if len(hist) < 2 {
		return TrendStable
	}
	diff := hist[len(hist)-1].score.FinalScore - hist[len(hist)-2].score.FinalScore
	switch {
	case diff > trendUpThreshold:
		return TrendUp
	case diff < trendDownThreshold:
		return TrendDown
	default:
		return TrendStable
	}
}

// scoreChange24h is the final_score delta between the oldest and newest
// samples within the last 24h.
func (r *Ranker) scoreChange24h(symbol string) float64 {
	hist := r.History(symbol, 24*time.Hour)
	if len(hist) < 2 {
		return 0
	}
	return hist[len(hist)-1].FinalScore - hist[0].FinalScore
}

// determineAction applies ranker.py's _determine_action rank/score/trend
// ladder.
func determineAction(sc scorer.CoinScore, trend Trend, rank int) Action {
	switch {
	case sc.FinalScore >= holdMinScore && rank < 3:
		if trend == TrendDown {
			return ActionWatch
		}
		return ActionHold
	case sc.FinalScore >= watchMinScore:
		if trend == TrendUp && rank < 5 {
			return ActionWatch
		}
		return ActionMonitor
	case sc.FinalScore >= monitorMinScore:
		return ActionMonitor
	default:
		return ActionAvoid
	}
}
