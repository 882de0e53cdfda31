package ranker

import (
	"testing"
	"time"

	"github.com/asgrid/gridengine/internal/scorer"
)

func TestDetermineActionHoldForTopRankedHighScore(t *testing.T) {
	sc := scorer.CoinScore{FinalScore: 85}
	if got := determineAction(sc, TrendStable, 0); got != ActionHold {
		t.Fatalf("determineAction = %v, want ActionHold", got)
	}
}

func TestDetermineActionWatchWhenTopRankedButDeclining(t *testing.T) {
	sc := scorer.CoinScore{FinalScore: 85}
	if got := determineAction(sc, TrendDown, 0); got != ActionWatch {
		t.Fatalf("determineAction = %v, want ActionWatch for a declining top pick", got)
	}
}

func TestDetermineActionAvoidBelowMonitorThreshold(t *testing.T) {
	sc := scorer.CoinScore{FinalScore: 20}
	if got := determineAction(sc, TrendStable, 10); got != ActionAvoid {
		t.Fatalf("determineAction = %v, want ActionAvoid for a low score", got)
	}
}

func TestDetermineActionMonitorForMidScore(t *testing.T) {
	sc := scorer.CoinScore{FinalScore: 55}
	if got := determineAction(sc, TrendStable, 10); got != ActionMonitor {
		t.Fatalf("determineAction = %v, want ActionMonitor", got)
	}
}

func TestTrendForRequiresTwoSamples(t *testing.T) {
	r := NewRanker(nil)
	if trend := r.trendFor("BTCUSDC"); trend != TrendStable {
		t.Fatalf("trend with no history = %v, want TrendStable", trend)
	}
	r.recordHistory(scorer.CoinScore{Symbol: "BTCUSDC", FinalScore: 50})
	if trend := r.trendFor("BTCUSDC"); trend != TrendStable {
		t.Fatalf("trend with one sample = %v, want TrendStable", trend)
	}
}

func TestTrendForDetectsUpAndDown(t *testing.T) {
	r := NewRanker(nil)
	r.recordHistory(scorer.CoinScore{Symbol: "BTCUSDC", FinalScore: 50})
	r.recordHistory(scorer.CoinScore{Symbol: "BTCUSDC", FinalScore: 60})
	if trend := r.trendFor("BTCUSDC"); trend != TrendUp {
		t.Fatalf("trend after a +10 move = %v, want TrendUp", trend)
	}

	r2 := NewRanker(nil)
	r2.recordHistory(scorer.CoinScore{Symbol: "ETHUSDC", FinalScore: 60})
	r2.recordHistory(scorer.CoinScore{Symbol: "ETHUSDC", FinalScore: 50})
	if trend := r2.trendFor("ETHUSDC"); trend != TrendDown {
		t.Fatalf("trend after a -10 move = %v, want TrendDown", trend)
	}
}

func TestRecordHistoryPrunesOldSamples(t *testing.T) {
	r := NewRanker(nil)
	r.mu.Lock()
	r.history["BTCUSDC"] = []historyPoint{{at: time.Now().Add(-8 * 24 * time.Hour), score: scorer.CoinScore{Symbol: "BTCUSDC", FinalScore: 10}}}
	r.mu.Unlock()
	r.recordHistory(scorer.CoinScore{Symbol: "BTCUSDC", FinalScore: 90})

	hist := r.History("BTCUSDC", 30*24*time.Hour)
	if len(hist) != 1 || hist[0].FinalScore != 90 {
		t.Fatalf("expected the stale sample pruned and only the fresh one kept, got %+v", hist)
	}
}

func TestClearHistoryResetsRankingCache(t *testing.T) {
	r := NewRanker(nil)
	r.recordHistory(scorer.CoinScore{Symbol: "BTCUSDC", FinalScore: 50})
	r.lastRanking = []Rank{{Symbol: "BTCUSDC"}}
	r.lastUpdate = time.Now()

	r.ClearHistory("")
	if _, ok := r.RankBySymbol("BTCUSDC"); ok {
		t.Fatalf("expected RankBySymbol to find nothing after ClearHistory")
	}
	if len(r.History("BTCUSDC", time.Hour)) != 0 {
		t.Fatalf("expected history cleared")
	}
}

func TestClearHistorySingleSymbolLeavesOthers(t *testing.T) {
	r := NewRanker(nil)
	r.recordHistory(scorer.CoinScore{Symbol: "BTCUSDC", FinalScore: 50})
	r.recordHistory(scorer.CoinScore{Symbol: "ETHUSDC", FinalScore: 40})

	r.ClearHistory("BTCUSDC")
	if len(r.History("BTCUSDC", time.Hour)) != 0 {
		t.Fatalf("expected BTCUSDC history cleared")
	}
	if len(r.History("ETHUSDC", time.Hour)) != 1 {
		t.Fatalf("expected ETHUSDC history untouched")
	}
}
