// Package rotator implements C10: deciding when a running symbol should be
// swapped for a better-ranked one, gated by cooldown, a weekly rotation cap,
// a minimum score gap, and a rejection-memory cooldown on repeated
// suggestions. Grounded on
// original_source/grid_node/coin_selection/rotator.go (rotator.py).
package rotator

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/asgrid/gridengine/internal/metrics"
	"github.com/asgrid/gridengine/internal/ranker"
	"github.com/asgrid/gridengine/internal/scorer"
	"github.com/asgrid/gridengine/internal/storage"
)

// Config mirrors rotator.py's RotationConfig defaults.
type Config struct {
	ScoreThreshold      float64
	MinCooldownHours    float64
	MaxRotationsPerWeek int
	RejectionCooldown   time.Duration
}

// DefaultConfig returns rotator.py's default RotationConfig.
func DefaultConfig() Config {
	return Config{
		ScoreThreshold:      15.0,
		MinCooldownHours:    24.0,
		MaxRotationsPerWeek: 2,
		RejectionCooldown:   12 * time.Hour,
	}
}

// Signal is a suggested rotation from one symbol to a better-ranked one.
type Signal struct {
	FromSymbol         string
	ToSymbol           string
	ScoreDiff          float64
	Reason             string
	FromScore          scorer.CoinScore
	ToScore            scorer.CoinScore
	EstimatedSlippage  float64
}

// Rotator is C10: it watches a currently-running symbol against a candidate
// pool and proposes rotations, subject to cooldown/cap/rejection gates.
type Rotator struct {
	ranker *ranker.Ranker
	config Config
	store  *storage.Store // nil: rotation state is in-memory only, not durable

	mu               sync.Mutex
	lastRotationTime time.Time
	rotationsThisWk  int
	weekStart        time.Time
	rejected         map[string]time.Time // "from->to" -> rejected-at
}

// NewRotator builds a Rotator over a shared Ranker, persisting its
// cooldown/weekly-cap state and rejection memory through store so they
// survive a process restart (SPEC_FULL.md's restart-continuity scope for
// C10). store may be nil, in which case rotation state lives only in memory
// for the life of the process — the behavior every caller got before this
// field existed, still used by tests that only exercise gate logic.
func NewRotator(rk *ranker.Ranker, cfg Config, store *storage.Store) *Rotator {
	return &Rotator{
		ranker:   rk,
		config:   cfg,
		store:    store,
		rejected: make(map[string]time.Time),
	}
}

// Hydrate loads previously persisted cooldown/weekly-cap state and rejection
// memory from store into memory. Call it once after NewRotator and before
// the first CheckRotation; a no-op when store is nil.
func (r *Rotator) Hydrate() error {
	if r.store == nil {
		return nil
	}
	rs, err := r.store.LoadRotationState()
	if err != nil {
		return fmt.Errorf("rotator: load rotation state: %w", err)
	}
	rejections, err := r.store.RejectionsSince(time.Time{})
	if err != nil {
		return fmt.Errorf("rotator: load rejections: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastRotationTime = rs.LastRotationTime
	r.rotationsThisWk = rs.RotationsThisWk
	r.weekStart = rs.WeekStart
	for key, at := range rejections {
		r.rejected[key] = at
	}
	return nil
}

// CheckRotation runs the full gate ladder and returns a Signal if the
// current symbol should be rotated out of, or nil if no rotation is
// currently warranted. forceCheck bypasses the cooldown gate only (the
// weekly cap and rejection memory still apply, matching rotator.py).
func (r *Rotator) CheckRotation(ctx context.Context, currentSymbol string, candidates []string, forceCheck bool) (*Signal, error) {
	if !forceCheck && !r.cooldownPassed() {
		metrics.RotationRejectionsTotal.WithLabelValues("cooldown").Inc()
		return nil, nil
	}

	r.updateWeekCounter()
	r.mu.Lock()
	atCap := r.rotationsThisWk >= r.config.MaxRotationsPerWeek
	r.mu.Unlock()
	if atCap {
		metrics.RotationRejectionsTotal.WithLabelValues("weekly_cap").Inc()
		return nil, nil
	}

	universe := ensureContains(candidates, currentSymbol)

	rankings, err := r.ranker.GetRankings(ctx, universe, true)
	if err != nil {
		return nil, fmt.Errorf("rotator: get rankings: %w", err)
	}
	if len(rankings) == 0 {
		return nil, nil
	}

	currentRank, ok := findRank(rankings, currentSymbol)
	if !ok {
		return nil, nil
	}
	topRank := rankings[0]

	if topRank.Symbol == currentSymbol {
		return nil, nil // already the best candidate
	}

	scoreDiff := topRank.Score.FinalScore - currentRank.Score.FinalScore
	if scoreDiff < r.config.ScoreThreshold {
		metrics.RotationRejectionsTotal.WithLabelValues("score_gap").Inc()
		return nil, nil
	}

	key := rejectionKey(currentSymbol, topRank.Symbol)
	if r.wasRecentlyRejected(key) {
		metrics.RotationRejectionsTotal.WithLabelValues("recently_rejected").Inc()
		return nil, nil
	}

	signal := &Signal{
		FromSymbol:        currentSymbol,
		ToSymbol:           topRank.Symbol,
		ScoreDiff:          scoreDiff,
		Reason:             generateReason(currentRank, topRank),
		FromScore:          currentRank.Score,
		ToScore:            topRank.Score,
		EstimatedSlippage:  estimateSlippage(currentRank.Score, topRank.Score),
	}

	metrics.RotationSignalsTotal.WithLabelValues(signal.FromSymbol, signal.ToSymbol).Inc()
	return signal, nil
}

// RecordRotation marks signal as executed, consuming one weekly-cap slot and
// resetting the cooldown clock. When store is set, the new state is
// persisted immediately so a restart doesn't forget a just-executed rotation
// and re-permit one before the real cooldown has elapsed.
func (r *Rotator) RecordRotation(signal Signal) {
	r.mu.Lock()
	r.lastRotationTime = time.Now()
	r.rotationsThisWk++
	rs := storage.RotationState{
		LastRotationTime: r.lastRotationTime,
		RotationsThisWk:  r.rotationsThisWk,
		WeekStart:        r.weekStart,
	}
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.SaveRotationState(rs); err != nil {
			log.Printf("[rotator] persist rotation state: %v", err)
		}
	}
}

// RecordRejection remembers that signal was declined, suppressing the same
// from->to suggestion for RejectionCooldown. Persisted through store when
// set, so the suppression survives a restart.
func (r *Rotator) RecordRejection(signal Signal) {
	key := rejectionKey(signal.FromSymbol, signal.ToSymbol)
	at := time.Now()
	r.mu.Lock()
	r.rejected[key] = at
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.RecordRejection(key, at); err != nil {
			log.Printf("[rotator] persist rejection: %v", err)
		}
	}
}

// CanRotate reports whether cooldown has passed and the weekly cap is not
// yet reached.
func (r *Rotator) CanRotate() bool {
	r.updateWeekCounter()
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cooldownPassedLocked() && r.rotationsThisWk < r.config.MaxRotationsPerWeek
}

// Reset clears all rotation state (cooldown clock, weekly counter,
// rejection memory).
func (r *Rotator) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastRotationTime = time.Time{}
	r.rotationsThisWk = 0
	r.weekStart = time.Time{}
	r.rejected = make(map[string]time.Time)
}

func (r *Rotator) cooldownPassed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cooldownPassedLocked()
}

func (r *Rotator) cooldownPassedLocked() bool {
	if r.lastRotationTime.IsZero() {
		return true
	}
	return time.Since(r.lastRotationTime) >= time.Duration(r.config.MinCooldownHours*float64(time.Hour))
}

// updateWeekCounter resets the weekly rotation counter at the start of each
// new ISO week (Monday 00:00 local), matching rotator.py's _update_week_counter.
func (r *Rotator) updateWeekCounter() {
	now := time.Now()
	weekday := int(now.Weekday())
	daysSinceMonday := (weekday + 6) % 7 // Monday=0 ... Sunday=6
	weekStart := now.AddDate(0, 0, -daysSinceMonday)
	weekStart = time.Date(weekStart.Year(), weekStart.Month(), weekStart.Day(), 0, 0, 0, 0, weekStart.Location())

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.weekStart.IsZero() || weekStart.After(r.weekStart) {
		r.weekStart = weekStart
		r.rotationsThisWk = 0
	}
}

func (r *Rotator) wasRecentlyRejected(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	at, ok := r.rejected[key]
	if !ok {
		return false
	}
	return time.Since(at) < r.config.RejectionCooldown
}

func ensureContains(symbols []string, s string) []string {
	for _, sym := range symbols {
		if sym == s {
			return symbols
		}
	}
	return append([]string{s}, symbols...)
}

func findRank(rankings []ranker.Rank, symbol string) (ranker.Rank, bool) {
	for _, rk := range rankings {
		if rk.Symbol == symbol {
			return rk, true
		}
	}
	return ranker.Rank{}, false
}

func rejectionKey(from, to string) string {
	return from + "->" + to
}

// generateReason builds a human-readable rotation rationale from per-
// dimension score deltas and trend direction, mirroring rotator.py's
// _generate_reason.
func generateReason(current, target ranker.Rank) string {
	var reasons []string
	c, t := current.Score, target.Score

	if t.MeanRevertScore-c.MeanRevertScore > 10 {
		reasons = append(reasons, fmt.Sprintf("%s has stronger mean reversion (H=%.2f vs %.2f)", target.Symbol, t.Hurst, c.Hurst))
	}
	if t.VolatilityScore-c.VolatilityScore > 10 {
		reasons = append(reasons, fmt.Sprintf("%s volatility better suited to grid (ATR=%.1f%% vs %.1f%%)", target.Symbol, t.ATRPct*100, c.ATRPct*100))
	}
	if t.LiquidityScore-c.LiquidityScore > 10 {
		reasons = append(reasons, fmt.Sprintf("%s has better liquidity", target.Symbol))
	}
	if t.MomentumScore-c.MomentumScore > 10 {
		reasons = append(reasons, fmt.Sprintf("%s shows clearer range-bound behavior", target.Symbol))
	}
	if current.Trend == ranker.TrendDown {
		reasons = append(reasons, fmt.Sprintf("%s score has been declining", current.Symbol))
	}
	if target.Trend == ranker.TrendUp {
		reasons = append(reasons, fmt.Sprintf("%s score has been rising", target.Symbol))
	}
	if len(reasons) == 0 {
		reasons = append(reasons, fmt.Sprintf("%s composite score (%.1f) beats %s (%.1f)", target.Symbol, t.FinalScore, current.Symbol, c.FinalScore))
	}
	return strings.Join(reasons, "; ")
}

// estimateSlippage mirrors rotator.py's _estimate_slippage: a 0.05% base,
// scaled up for poor average liquidity and high average volatility.
func estimateSlippage(from, to scorer.CoinScore) float64 {
	base := 0.0005

	avgLiquidity := (from.LiquidityScore + to.LiquidityScore) / 2
	switch {
	case avgLiquidity < 50:
		base *= 2.0
	case avgLiquidity < 70:
		base *= 1.5
	}

	avgVolatility := (from.ATRPct + to.ATRPct) / 2
	if avgVolatility > 0.05 {
		base *= 1.2
	}

	return math.Round(base*10000) / 10000
}
