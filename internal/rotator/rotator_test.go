package rotator

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/asgrid/gridengine/internal/ranker"
	"github.com/asgrid/gridengine/internal/scorer"
	"github.com/asgrid/gridengine/internal/storage"
)

func TestCheckRotationRespectsCooldown(t *testing.T) {
	r := NewRotator(nil, Config{ScoreThreshold: 15, MinCooldownHours: 24, MaxRotationsPerWeek: 2}, nil)
	r.RecordRotation(Signal{FromSymbol: "BTCUSDC", ToSymbol: "ETHUSDC"})

	signal, err := r.CheckRotation(context.Background(), "BTCUSDC", []string{"ETHUSDC"}, false)
	if err != nil {
		t.Fatalf("CheckRotation: %v", err)
	}
	if signal != nil {
		t.Fatalf("expected no signal within the cooldown window, got %+v", signal)
	}
}

func TestCheckRotationRespectsWeeklyCap(t *testing.T) {
	r := NewRotator(nil, Config{ScoreThreshold: 15, MinCooldownHours: 0, MaxRotationsPerWeek: 1}, nil)
	// Establish the current week boundary before recording, since RecordRotation
	// itself never touches weekStart — only CanRotate/CheckRotation do.
	r.CanRotate()
	r.RecordRotation(Signal{FromSymbol: "BTCUSDC", ToSymbol: "ETHUSDC"})

	signal, err := r.CheckRotation(context.Background(), "BTCUSDC", []string{"ETHUSDC"}, false)
	if err != nil {
		t.Fatalf("CheckRotation: %v", err)
	}
	if signal != nil {
		t.Fatalf("expected no signal once the weekly cap is reached, got %+v", signal)
	}
}

func TestCanRotateReflectsCooldownAndCap(t *testing.T) {
	r := NewRotator(nil, Config{MinCooldownHours: 24, MaxRotationsPerWeek: 1}, nil)
	if !r.CanRotate() {
		t.Fatalf("expected a fresh rotator to allow rotation")
	}
	r.RecordRotation(Signal{})
	if r.CanRotate() {
		t.Fatalf("expected CanRotate to be false right after a rotation and at the weekly cap")
	}
}

func TestResetClearsState(t *testing.T) {
	r := NewRotator(nil, DefaultConfig(), nil)
	r.RecordRotation(Signal{FromSymbol: "A", ToSymbol: "B"})
	r.RecordRejection(Signal{FromSymbol: "A", ToSymbol: "B"})
	r.Reset()
	if !r.CanRotate() {
		t.Fatalf("expected CanRotate to be true after Reset")
	}
	if r.wasRecentlyRejected(rejectionKey("A", "B")) {
		t.Fatalf("expected rejection memory to be cleared after Reset")
	}
}

func TestRecordRejectionSuppressesSameSuggestion(t *testing.T) {
	r := NewRotator(nil, DefaultConfig(), nil)
	r.RecordRejection(Signal{FromSymbol: "BTCUSDC", ToSymbol: "ETHUSDC"})
	if !r.wasRecentlyRejected(rejectionKey("BTCUSDC", "ETHUSDC")) {
		t.Fatalf("expected the from->to pair to be remembered as rejected")
	}
	if r.wasRecentlyRejected(rejectionKey("ETHUSDC", "BTCUSDC")) {
		t.Fatalf("rejection memory should be directional, not symmetric")
	}
}

func TestEnsureContainsAddsMissingSymbol(t *testing.T) {
	out := ensureContains([]string{"ETHUSDC"}, "BTCUSDC")
	if len(out) != 2 || out[1] != "ETHUSDC" {
		t.Fatalf("expected BTCUSDC prepended, got %+v", out)
	}
	out2 := ensureContains([]string{"BTCUSDC", "ETHUSDC"}, "BTCUSDC")
	if len(out2) != 2 {
		t.Fatalf("expected no duplicate when symbol already present, got %+v", out2)
	}
}

func TestEstimateSlippageScalesWithIlliquidityAndVolatility(t *testing.T) {
	liquid := estimateSlippage(
		scorer.CoinScore{LiquidityScore: 90, ATRPct: 0.01},
		scorer.CoinScore{LiquidityScore: 90, ATRPct: 0.01},
	)
	illiquid := estimateSlippage(
		scorer.CoinScore{LiquidityScore: 20, ATRPct: 0.01},
		scorer.CoinScore{LiquidityScore: 20, ATRPct: 0.01},
	)
	if illiquid <= liquid {
		t.Fatalf("expected illiquid pair to have higher estimated slippage: illiquid=%v liquid=%v", illiquid, liquid)
	}
}

func TestGenerateReasonFallsBackToCompositeScoreWhenNoDimensionStandsOut(t *testing.T) {
	current := ranker.Rank{Symbol: "BTCUSDC", Score: scorer.CoinScore{Symbol: "BTCUSDC", FinalScore: 40}}
	target := ranker.Rank{Symbol: "ETHUSDC", Score: scorer.CoinScore{Symbol: "ETHUSDC", FinalScore: 60}}
	reason := generateReason(current, target)
	if !strings.Contains(reason, "composite score") {
		t.Fatalf("expected the composite-score fallback reason, got %q", reason)
	}
}

func TestGenerateReasonCitesMeanReversionGap(t *testing.T) {
	current := ranker.Rank{Symbol: "BTCUSDC", Score: scorer.CoinScore{Symbol: "BTCUSDC", MeanRevertScore: 30, Hurst: 0.6}}
	target := ranker.Rank{Symbol: "ETHUSDC", Score: scorer.CoinScore{Symbol: "ETHUSDC", MeanRevertScore: 80, Hurst: 0.3}}
	reason := generateReason(current, target)
	if !strings.Contains(reason, "mean reversion") {
		t.Fatalf("expected a reason citing the mean-reversion gap, got %q", reason)
	}
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(filepath.Join(t.TempDir(), "rotator.db"))
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordRotationPersistsAndSurvivesRestart(t *testing.T) {
	store := openTestStore(t)
	r := NewRotator(nil, DefaultConfig(), store)
	r.RecordRotation(Signal{FromSymbol: "BTCUSDC", ToSymbol: "ETHUSDC"})

	restarted := NewRotator(nil, DefaultConfig(), store)
	if err := restarted.Hydrate(); err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	if restarted.CanRotate() {
		t.Fatalf("expected the rehydrated rotator to still observe the cooldown from before restart")
	}
}

func TestRecordRejectionPersistsAndSurvivesRestart(t *testing.T) {
	store := openTestStore(t)
	r := NewRotator(nil, DefaultConfig(), store)
	r.RecordRejection(Signal{FromSymbol: "BTCUSDC", ToSymbol: "ETHUSDC"})

	restarted := NewRotator(nil, DefaultConfig(), store)
	if err := restarted.Hydrate(); err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	if !restarted.wasRecentlyRejected(rejectionKey("BTCUSDC", "ETHUSDC")) {
		t.Fatalf("expected the rehydrated rotator to remember the pre-restart rejection")
	}
}

func TestHydrateIsNoopWithoutStore(t *testing.T) {
	r := NewRotator(nil, DefaultConfig(), nil)
	if err := r.Hydrate(); err != nil {
		t.Fatalf("Hydrate with nil store: %v", err)
	}
}

func TestFindRankLooksUpBySymbol(t *testing.T) {
	rankings := []ranker.Rank{{Symbol: "BTCUSDC"}, {Symbol: "ETHUSDC"}}
	rk, ok := findRank(rankings, "ETHUSDC")
	if !ok || rk.Symbol != "ETHUSDC" {
		t.Fatalf("expected to find ETHUSDC, got %+v ok=%v", rk, ok)
	}
	if _, ok := findRank(rankings, "XRPUSDC"); ok {
		t.Fatalf("expected not to find an absent symbol")
	}
}
