package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDocumentAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	raw := `{
		"symbols": {
			"XRPUSDC": {"ccxt_symbol": "XRP/USDC:USDC", "enabled": true}
		},
		"global": {}
	}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	doc, err := LoadDocument(path)
	if err != nil {
		t.Fatal(err)
	}
	sc, ok := doc.Symbols["XRPUSDC"]
	if !ok {
		t.Fatalf("expected XRPUSDC in document")
	}
	if sc.TakeProfitSpacing != 0.004 {
		t.Fatalf("take_profit_spacing default = %v, want 0.004", sc.TakeProfitSpacing)
	}
	if sc.GridSpacing != 0.006 {
		t.Fatalf("grid_spacing default = %v, want 0.006", sc.GridSpacing)
	}
	if sc.Leverage != 20 {
		t.Fatalf("leverage default = %v, want 20", sc.Leverage)
	}
	if sc.LimitMultiplier != 5.0 {
		t.Fatalf("limit_multiplier default = %v, want 5.0", sc.LimitMultiplier)
	}
	if sc.ThresholdMultiplier != 20.0 {
		t.Fatalf("threshold_multiplier default = %v, want 20.0", sc.ThresholdMultiplier)
	}
	if doc.Global.MaxDrawdown != 0.5 {
		t.Fatalf("max_drawdown default = %v, want 0.5", doc.Global.MaxDrawdown)
	}
	if doc.Global.MaxPositions != 50 {
		t.Fatalf("max_positions default = %v, want 50", doc.Global.MaxPositions)
	}
	if doc.Global.FeePct != 0.0004 {
		t.Fatalf("fee_pct default = %v, want 0.0004", doc.Global.FeePct)
	}
}

func TestLoadDocumentPreservesExplicitValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	raw := `{
		"symbols": {
			"XRPUSDC": {"ccxt_symbol": "XRP/USDC:USDC", "enabled": true, "leverage": 10, "grid_spacing": 0.01}
		},
		"global": {"max_positions": 5}
	}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	doc, err := LoadDocument(path)
	if err != nil {
		t.Fatal(err)
	}
	sc := doc.Symbols["XRPUSDC"]
	if sc.Leverage != 10 {
		t.Fatalf("leverage = %v, want 10 (explicit value should not be overridden)", sc.Leverage)
	}
	if sc.GridSpacing != 0.01 {
		t.Fatalf("grid_spacing = %v, want 0.01", sc.GridSpacing)
	}
	if doc.Global.MaxPositions != 5 {
		t.Fatalf("max_positions = %v, want 5", doc.Global.MaxPositions)
	}
}

func TestLoadRuntimeEnvDefaults(t *testing.T) {
	os.Unsetenv("VENUE")
	os.Unsetenv("PORT")
	env := LoadRuntimeEnv()
	if env.Venue != "binance" {
		t.Fatalf("venue default = %v, want binance", env.Venue)
	}
	if env.Port != 8080 {
		t.Fatalf("port default = %v, want 8080", env.Port)
	}
	if !env.DryRun {
		t.Fatalf("dry_run default = %v, want true", env.DryRun)
	}
}

func TestLoadDotEnvMissingFileIsNotError(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "nonexistent.env")); err != nil {
		t.Fatalf("missing .env should not error, got %v", err)
	}
}
