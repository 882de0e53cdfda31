// Package config loads the two configuration layers the engine needs: the
// process environment (.env + typed accessors, generalized from the
// reference bot's env.go) and the per-engine JSON document of SPEC_FULL.md
// §6 (generalized from its config.go).
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads a .env file from path if present, without overriding
// variables already set in the process environment. A missing file is not
// an error — most deployments set real env vars directly.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getEnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getEnvBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "y", "yes":
		return true
	case "0", "false", "n", "no":
		return false
	default:
		return def
	}
}

// RuntimeEnv holds the operational knobs that come from the process
// environment rather than the symbol/strategy JSON document: venue
// credentials, dry-run mode, and HTTP listen port.
type RuntimeEnv struct {
	Venue        string
	APIKey       string
	APISecret    string
	DryRun       bool
	Port         int
	ConfigPath   string
	DatabasePath string
}

// LoadRuntimeEnv reads RuntimeEnv from the process environment, applying
// defaults for anything unset.
func LoadRuntimeEnv() RuntimeEnv {
	return RuntimeEnv{
		Venue:        getEnv("VENUE", "binance"),
		APIKey:       getEnv("API_KEY", ""),
		APISecret:    getEnv("API_SECRET", ""),
		DryRun:       getEnvBool("DRY_RUN", true),
		Port:         getEnvInt("PORT", 8080),
		ConfigPath:   getEnv("CONFIG_PATH", "config.json"),
		DatabasePath: getEnv("DATABASE_PATH", "gridengine.db"),
	}
}

// SymbolConfig is one symbol's entry in the persisted JSON document,
// SPEC_FULL.md §6.
type SymbolConfig struct {
	CCXTSymbol          string  `json:"ccxt_symbol"`
	Enabled             bool    `json:"enabled"`
	TakeProfitSpacing   float64 `json:"take_profit_spacing"`
	GridSpacing         float64 `json:"grid_spacing"`
	InitialQuantity     float64 `json:"initial_quantity"`
	Leverage            int     `json:"leverage"`
	LimitMultiplier     float64 `json:"limit_multiplier"`
	ThresholdMultiplier float64 `json:"threshold_multiplier"`
}

// GlobalConfig is the "global" block of the JSON document.
type GlobalConfig struct {
	MaxDrawdown  float64 `json:"max_drawdown"`
	MaxPositions int     `json:"max_positions"`
	FeePct       float64 `json:"fee_pct"`
}

// Document is the full persisted JSON configuration document.
type Document struct {
	Symbols map[string]SymbolConfig `json:"symbols"`
	Global  GlobalConfig            `json:"global"`
}

// defaultSymbolConfig mirrors original_source/core/constants.py's defaults,
// applied on load to any numeric field left at its JSON zero value; Enabled
// and CCXTSymbol are kept exactly as loaded.
func defaultSymbolConfig() SymbolConfig {
	return SymbolConfig{
		Enabled:             true,
		TakeProfitSpacing:   0.004,
		GridSpacing:         0.006,
		InitialQuantity:     30,
		Leverage:            20,
		LimitMultiplier:     5.0,
		ThresholdMultiplier: 20.0,
	}
}

func defaultGlobalConfig() GlobalConfig {
	return GlobalConfig{
		MaxDrawdown:  0.5,
		MaxPositions: 50,
		FeePct:       0.0004,
	}
}

// LoadDocument reads and defaults a configuration document from path.
// Unknown JSON keys are silently ignored (encoding/json's default
// behavior); missing keys take the defaults above.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	applyDefaults(&doc)
	return &doc, nil
}

func applyDefaults(doc *Document) {
	def := defaultSymbolConfig()
	for sym, sc := range doc.Symbols {
		if sc.TakeProfitSpacing == 0 {
			sc.TakeProfitSpacing = def.TakeProfitSpacing
		}
		if sc.GridSpacing == 0 {
			sc.GridSpacing = def.GridSpacing
		}
		if sc.InitialQuantity == 0 {
			sc.InitialQuantity = def.InitialQuantity
		}
		if sc.Leverage == 0 {
			sc.Leverage = def.Leverage
		}
		if sc.LimitMultiplier == 0 {
			sc.LimitMultiplier = def.LimitMultiplier
		}
		if sc.ThresholdMultiplier == 0 {
			sc.ThresholdMultiplier = def.ThresholdMultiplier
		}
		doc.Symbols[sym] = sc
	}
	if doc.Global.MaxDrawdown == 0 {
		doc.Global.MaxDrawdown = defaultGlobalConfig().MaxDrawdown
	}
	if doc.Global.MaxPositions == 0 {
		doc.Global.MaxPositions = defaultGlobalConfig().MaxPositions
	}
	if doc.Global.FeePct == 0 {
		doc.Global.FeePct = defaultGlobalConfig().FeePct
	}
}

// Save writes doc back to path, round-tripping only the fields the struct
// declares (unknown keys present in an on-disk file before load are not
// preserved, per SPEC_FULL.md §9 Design Notes).
func Save(path string, doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
