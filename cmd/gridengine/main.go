// Command gridengine is the process entrypoint: it wires configuration, the
// exchange adapter, the market-data provider, the per-symbol workers and
// their supervisor, the coin-selection subsystem, and an HTTP
// metrics/health/heartbeat surface, then runs one of three modes — live,
// backtest, or preview — all three calling exactly the same C1/C2/C5 code
// (internal/gridcore, internal/engine, internal/backtest). Boot sequence and
// HTTP wiring are generalized from the reference bot's main.go
// (loadBotEnv/loadConfigFromEnv/broker-switch/promhttp/signal.NotifyContext).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/asgrid/gridengine/internal/backtest"
	"github.com/asgrid/gridengine/internal/config"
	"github.com/asgrid/gridengine/internal/engine"
	"github.com/asgrid/gridengine/internal/exchange"
	"github.com/asgrid/gridengine/internal/gridcore"
	"github.com/asgrid/gridengine/internal/market"
	"github.com/asgrid/gridengine/internal/ranker"
	"github.com/asgrid/gridengine/internal/rotator"
	"github.com/asgrid/gridengine/internal/scanner"
	"github.com/asgrid/gridengine/internal/scorer"
	"github.com/asgrid/gridengine/internal/storage"
)

// Exit codes per SPEC_FULL.md §6.
const (
	exitOK            = 0
	exitConfigInvalid = 2
	exitAuthFailure   = 3
	exitVenueError    = 4
	exitShutdown      = 130
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return exitConfigInvalid
	}
	switch args[0] {
	case "live":
		return runLive(args[1:])
	case "backtest":
		return runBacktestCmd(args[1:])
	case "preview":
		return runPreviewCmd(args[1:])
	default:
		usage()
		return exitConfigInvalid
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: gridengine <live|backtest|preview> [flags]")
}

// buildParams derives both sides' gridcore.Params from one symbol's config
// document entry and the global fee, since SPEC_FULL.md §6's JSON document
// carries one set of grid parameters per symbol applied symmetrically to
// both the long and short grid.
func buildParams(sc config.SymbolConfig, global config.GlobalConfig) map[gridcore.Side]gridcore.Params {
	p := gridcore.Params{
		BaseQty:             sc.InitialQuantity,
		TakeProfitSpacing:   sc.TakeProfitSpacing,
		GridSpacing:         sc.GridSpacing,
		Leverage:            sc.Leverage,
		ThresholdMultiplier: sc.ThresholdMultiplier,
		LimitMultiplier:     sc.LimitMultiplier,
		FeePct:              global.FeePct,
	}
	return map[gridcore.Side]gridcore.Params{gridcore.SideLong: p, gridcore.SideShort: p}
}

// buildExchange wires the live Exchange adapter selected by env.Venue,
// generalizing the reference bot's main.go broker-switch (binance/hitbtc/
// bridge/paper) to the perpetuals-only adapter set of internal/exchange.
func buildExchange(env config.RuntimeEnv) exchange.Exchange {
	switch strings.ToLower(env.Venue) {
	case "binance":
		return exchange.NewBinance(env.APIKey, env.APISecret)
	case "bridge":
		return exchange.NewBridge(os.Getenv("BRIDGE_URL"))
	default:
		return exchange.NewPaper(exchange.NewBinance(env.APIKey, env.APISecret), exchange.Balance{Asset: "USDC", Available: 100000, Total: 100000})
	}
}

// runLive is C6's boot sequence: load config, wire the exchange/provider,
// start one Worker per enabled symbol under a Supervisor, feed ticks from
// polled tickers, persist fills, run the coin-selection subsystem on its
// own cadence, and serve /healthz, /metrics, /heartbeat until signalled.
func runLive(args []string) int {
	fs := flag.NewFlagSet("live", flag.ContinueOnError)
	envPath := fs.String("env", ".env", "path to .env file")
	if err := fs.Parse(args); err != nil {
		return exitConfigInvalid
	}

	if err := config.LoadDotEnv(*envPath); err != nil {
		log.Printf("[main] .env load: %v", err)
	}
	env := config.LoadRuntimeEnv()

	doc, err := config.LoadDocument(env.ConfigPath)
	if err != nil {
		log.Printf("[main] config invalid: %v", err)
		return exitConfigInvalid
	}

	store, err := storage.Open(env.DatabasePath)
	if err != nil {
		log.Printf("[main] storage: %v", err)
		return exitVenueError
	}
	defer store.Close()

	ex := buildExchange(env)
	var stream market.Stream
	if strings.ToLower(env.Venue) == "binance" {
		stream = market.NewBinanceStream(os.Getenv("BINANCE_WS_URL"))
	}
	provider := market.NewProvider(ex, stream)

	sup := engine.NewSupervisor()
	workers := make(map[string]*engine.Worker)
	tradeSeen := make(map[string]int)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	eg, egCtx := errgroup.WithContext(ctx)

	var symbols []string
	for raw, sc := range doc.Symbols {
		if !sc.Enabled {
			continue
		}
		symbols = append(symbols, raw)
		params := buildParams(sc, doc.Global)
		w := engine.NewWorker(raw, sc.CCXTSymbol, ex, provider, params, doc.Global, decimal.NewFromInt(100000))
		restoreRealizedPnL(w, raw, store)
		workers[raw] = w
		sup.StartSymbol(egCtx, eg, w)
	}
	if len(symbols) == 0 {
		log.Printf("[main] no enabled symbols in %s", env.ConfigPath)
	}

	go provider.Run(egCtx, symbols)
	go pollTicks(egCtx, provider, workers, 2*time.Second)
	go persistFills(egCtx, workers, store, tradeSeen, 5*time.Second)
	go runSelectionLoop(egCtx, ex, provider, symbols, store)

	marks := make(map[string]float64)
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		for _, sym := range symbols {
			if t, err := provider.Ticker(r.Context(), sym); err == nil {
				marks[sym] = t.Last
			}
		}
		hb := sup.Snapshot(marks)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(hb)
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", env.Port), Handler: mux}
	go func() {
		log.Printf("[main] serving :%d (/healthz, /metrics, /heartbeat)", env.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[main] http server: %v", err)
		}
	}()

	if err := eg.Wait(); err != nil && ctx.Err() == nil {
		log.Printf("[main] engine stopped: %v", err)
	}

	shutdownCtx, c := context.WithTimeout(context.Background(), 2*time.Second)
	defer c()
	_ = srv.Shutdown(shutdownCtx)

	for _, w := range workers {
		if halted, reason := w.Halted(); halted && reason == engine.StopAuth {
			return exitAuthFailure
		}
	}
	if ctx.Err() != nil {
		return exitShutdown
	}
	return exitOK
}

// restoreRealizedPnL sums every trade storage has persisted for symbol and
// folds it back into w's ledger, so a restarted process reports total_pnl
// continuous with its pre-restart history instead of resetting to zero —
// the TradesSince side of SPEC_FULL.md's restart-continuity scope for C2.
func restoreRealizedPnL(w *engine.Worker, symbol string, store *storage.Store) {
	trades, err := store.TradesSince(symbol, time.Time{})
	if err != nil {
		log.Printf("[main] restore trades %s: %v", symbol, err)
		return
	}
	var total decimal.Decimal
	for _, tr := range trades {
		total = total.Add(tr.Net)
	}
	w.RestoreRealizedPnL(total)
}

// pollTicks drives C3's pull half into each worker's PushTick, coalescing
// per SPEC_FULL.md §5 backpressure (PushTick itself drops intermediate
// ticks; this loop only controls the poll cadence).
func pollTicks(ctx context.Context, provider *market.Provider, workers map[string]*engine.Worker, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for symbol, w := range workers {
				t, err := provider.Ticker(ctx, symbol)
				if err != nil {
					continue
				}
				w.PushTick(t.Last)
			}
		}
	}
}

// persistFills mirrors newly recorded trade-log entries into storage, since
// SPEC_FULL.md's C2 ledger itself never performs I/O.
func persistFills(ctx context.Context, workers map[string]*engine.Worker, store *storage.Store, seen map[string]int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for symbol, w := range workers {
				tradeLog := w.TradeLog()
				for i := seen[symbol]; i < len(tradeLog); i++ {
					if err := store.RecordTrade(symbol, tradeLog[i]); err != nil {
						log.Printf("[main] persist trade %s: %v", symbol, err)
					}
				}
				seen[symbol] = len(tradeLog)
			}
		}
	}
}

// runSelectionLoop drives C7-C10 on their own slower cadence: score every
// candidate, rank them, and check each live symbol for a rotation signal —
// emitting, never auto-executing, per SPEC_FULL.md §4.10 (rotation is
// advisory; the out-of-scope admin console acts on it). Rotator state and
// ranker history are rehydrated from store once on entry and pruned on every
// pass, so C9/C10 survive a process restart per SPEC_FULL.md's
// restart-continuity scope rather than starting cold every time.
func runSelectionLoop(ctx context.Context, ex exchange.Exchange, provider *market.Provider, liveSymbols []string, store *storage.Store) {
	sc := scorer.NewScorer(provider, scorer.DefaultWeights())
	rk := ranker.NewRanker(sc)
	rt := rotator.NewRotator(rk, rotator.DefaultConfig(), store)
	scn := scanner.NewScanner(provider, scanner.DefaultFilters())

	if err := rt.Hydrate(); err != nil {
		log.Printf("[selection] rotator hydrate: %v", err)
	}

	seeded := make(map[string]bool)
	historyWindow := 7 * 24 * time.Hour

	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		candidates, err := scn.ScanAll(ctx, "USDC", 20)
		if err != nil {
			log.Printf("[selection] scan: %v", err)
			continue
		}
		universe := make([]string, 0, len(candidates))
		for _, c := range candidates {
			universe = append(universe, c.Market.Symbol)
		}

		seedRankerHistory(rk, store, universe, seeded, historyWindow)

		if _, err := rk.GetRankings(ctx, universe, false); err != nil {
			log.Printf("[selection] rank: %v", err)
			continue
		}
		for _, sym := range universe {
			rankEntry, ok := rk.RankBySymbol(sym)
			if !ok {
				continue
			}
			cs := rankEntry.Score
			sample := storage.ScoreSample{
				Symbol:     cs.Symbol,
				At:         time.Now().UTC(),
				Final:      cs.FinalScore,
				Volatility: cs.VolatilityScore,
				Liquidity:  cs.LiquidityScore,
				MeanRevert: cs.MeanRevertScore,
				Momentum:   cs.MomentumScore,
				Stability:  cs.StabilityScore,
				ATRPct:     cs.ATRPct,
				Volume24h:  cs.Volume24h,
				Hurst:      cs.Hurst,
				ADX:        cs.ADX,
			}
			if err := store.RecordScore(sample); err != nil {
				log.Printf("[selection] record score %s: %v", sym, err)
			}
		}
		if err := store.PruneScoreHistory(time.Now().Add(-historyWindow)); err != nil {
			log.Printf("[selection] prune score history: %v", err)
		}

		for _, sym := range liveSymbols {
			signal, err := rt.CheckRotation(ctx, sym, universe, false)
			if err != nil {
				log.Printf("[selection] rotation check %s: %v", sym, err)
				continue
			}
			if signal != nil {
				log.Printf("[selection] rotation signal: %s -> %s (gap=%.2f) %s", signal.FromSymbol, signal.ToSymbol, signal.ScoreDiff, signal.Reason)
			}
		}
	}
}

// seedRankerHistory loads each not-yet-seen symbol's persisted score history
// into rk once, so a freshly booted process's trend detection and 7-day
// window pick up where the last process left off instead of needing a full
// week of fresh samples to rebuild context.
func seedRankerHistory(rk *ranker.Ranker, store *storage.Store, universe []string, seeded map[string]bool, window time.Duration) {
	var points []ranker.SeedPoint
	since := time.Now().Add(-window)
	for _, sym := range universe {
		if seeded[sym] {
			continue
		}
		seeded[sym] = true
		samples, err := store.ScoreHistory(sym, since)
		if err != nil {
			log.Printf("[selection] load score history %s: %v", sym, err)
			continue
		}
		for _, sm := range samples {
			points = append(points, ranker.SeedPoint{
				Symbol: sm.Symbol,
				At:     sm.At,
				Score: scorer.CoinScore{
					Symbol:          sm.Symbol,
					VolatilityScore: sm.Volatility,
					LiquidityScore:  sm.Liquidity,
					MeanRevertScore: sm.MeanRevert,
					MomentumScore:   sm.Momentum,
					StabilityScore:  sm.Stability,
					FinalScore:      sm.Final,
					Timestamp:       sm.At,
					ATRPct:          sm.ATRPct,
					Volume24h:       sm.Volume24h,
					Hurst:           sm.Hurst,
					ADX:             sm.ADX,
				},
			})
		}
	}
	if len(points) > 0 {
		rk.SeedHistory(points)
	}
}

// runBacktestCmd replays a CSV candle file through internal/backtest.Run for
// one symbol, printing a one-line key=value summary of the Result.
func runBacktestCmd(args []string) int {
	fs := flag.NewFlagSet("backtest", flag.ContinueOnError)
	csvPath := fs.String("csv", "", "path to OHLCV CSV (open_time,open,high,low,close,volume)")
	symbol := fs.String("symbol", "", "raw symbol, e.g. XRPUSDC")
	configPath := fs.String("config", "config.json", "path to the engine config document")
	cash := fs.Float64("cash", 100000, "starting cash balance")
	if err := fs.Parse(args); err != nil {
		return exitConfigInvalid
	}
	if *csvPath == "" || *symbol == "" {
		fmt.Fprintln(os.Stderr, "backtest requires -csv and -symbol")
		return exitConfigInvalid
	}

	doc, err := config.LoadDocument(*configPath)
	if err != nil {
		log.Printf("[backtest] config: %v", err)
		return exitConfigInvalid
	}
	sc, ok := doc.Symbols[*symbol]
	if !ok {
		log.Printf("[backtest] symbol %s not present in %s", *symbol, *configPath)
		return exitConfigInvalid
	}

	candles, err := backtest.LoadCSV(*csvPath)
	if err != nil {
		log.Printf("[backtest] load csv: %v", err)
		return exitVenueError
	}

	res, err := backtest.Run(context.Background(), *symbol, sc.CCXTSymbol, candles, buildParams(sc, doc.Global), doc.Global, decimal.NewFromFloat(*cash))
	if err != nil {
		log.Printf("[backtest] run: %v", err)
		return exitVenueError
	}
	printResult(res)
	return exitOK
}

// runPreviewCmd runs the 30-day preview incarnation: fetch recent hourly
// candles from a live, read-only exchange connection and replay them
// through the same backtest.Run as runBacktestCmd, so the two differ only
// in where the candle series comes from (file vs. live fetch).
func runPreviewCmd(args []string) int {
	fs := flag.NewFlagSet("preview", flag.ContinueOnError)
	symbol := fs.String("symbol", "", "raw symbol, e.g. XRPUSDC")
	configPath := fs.String("config", "config.json", "path to the engine config document")
	envPath := fs.String("env", ".env", "path to .env file")
	cash := fs.Float64("cash", 100000, "starting cash balance")
	if err := fs.Parse(args); err != nil {
		return exitConfigInvalid
	}
	if *symbol == "" {
		fmt.Fprintln(os.Stderr, "preview requires -symbol")
		return exitConfigInvalid
	}

	if err := config.LoadDotEnv(*envPath); err != nil {
		log.Printf("[preview] .env load: %v", err)
	}
	env := config.LoadRuntimeEnv()

	doc, err := config.LoadDocument(*configPath)
	if err != nil {
		log.Printf("[preview] config: %v", err)
		return exitConfigInvalid
	}
	sc, ok := doc.Symbols[*symbol]
	if !ok {
		log.Printf("[preview] symbol %s not present in %s", *symbol, *configPath)
		return exitConfigInvalid
	}

	ex := buildExchange(env)
	res, err := backtest.Preview(context.Background(), ex, *symbol, sc.CCXTSymbol, buildParams(sc, doc.Global), doc.Global, decimal.NewFromFloat(*cash))
	if err != nil {
		log.Printf("[preview] run: %v", err)
		return exitVenueError
	}
	printResult(res)
	return exitOK
}

func printResult(res *backtest.Result) {
	fmt.Printf("symbol=%s candles=%d trades=%d final_equity=%s drawdown=%.4f halted=%v reason=%s\n",
		res.Symbol, res.Candles, len(res.TradeLog), res.FinalEquity.StringFixed(2), res.Drawdown, res.Halted, res.HaltReason)
}
