// Package scorer implements C7: the pure multi-factor scoring layer that
// turns OHLCV history and 24h quote volume into a weighted composite
// grid-suitability score. Every indicator function here is a free function
// over slices, following the teacher's indicators.go idiom (SMA/RSI/ZScore)
// rather than a class with internal state; formulas and bucket boundaries
// are ported from original_source/grid_node/coin_selection/scorer.py.
package scorer

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/asgrid/gridengine/internal/market"
	"github.com/asgrid/gridengine/internal/metrics"
	"github.com/asgrid/gridengine/pkg/types"
)

// CacheTTL is the scorer's default score cache lifetime (SPEC_FULL.md §4.7).
const CacheTTL = 15 * time.Minute

// Weights are the composite-score weights; they must sum to 1 and are
// renormalized on construction otherwise.
type Weights struct {
	Volatility float64
	Liquidity  float64
	MeanRevert float64
	Momentum   float64
	Stability  float64
}

// DefaultWeights matches SPEC_FULL.md §4.7 exactly.
func DefaultWeights() Weights {
	return Weights{Volatility: 0.15, Liquidity: 0.20, MeanRevert: 0.40, Momentum: 0.15, Stability: 0.10}
}

func (w Weights) sum() float64 {
	return w.Volatility + w.Liquidity + w.MeanRevert + w.Momentum + w.Stability
}

// normalize rescales w so its components sum to 1, a no-op if already so.
func (w Weights) normalize() Weights {
	s := w.sum()
	if s == 0 || math.Abs(s-1) < 0.01 {
		return w
	}
	return Weights{
		Volatility: w.Volatility / s,
		Liquidity:  w.Liquidity / s,
		MeanRevert: w.MeanRevert / s,
		Momentum:   w.Momentum / s,
		Stability:  w.Stability / s,
	}
}

// CoinScore is the scorer's output for one symbol, SPEC_FULL.md §3.
type CoinScore struct {
	Symbol           string
	VolatilityScore  float64
	LiquidityScore   float64
	MeanRevertScore  float64
	MomentumScore    float64
	StabilityScore   float64
	FinalScore       float64
	Timestamp        time.Time
	ATRPct           float64
	Volume24h        float64
	Hurst            float64
	ADX              float64
	VolumeCV         float64
	ADFPValue        float64
}

// emptyScore is the §7 "data insufficiency" sentinel: a zero-signal score
// rather than an error, so a scanner batch with one thin symbol doesn't fail
// the whole run.
func emptyScore(symbol string) CoinScore {
	return CoinScore{
		Symbol:    symbol,
		Timestamp: time.Now().UTC(),
		Hurst:     0.5,
		ADX:       25.0,
		VolumeCV:  1.0,
		ADFPValue: 1.0,
	}
}

// Scorer is C7, backed by a market.Provider for OHLCV/ticker data and a
// 15-minute score cache keyed by symbol.
type Scorer struct {
	provider *market.Provider
	weights  Weights

	cache ttlScoreCache
}

// NewScorer builds a Scorer over provider with the given weights (pass
// DefaultWeights() for SPEC_FULL.md §4.7's defaults).
func NewScorer(provider *market.Provider, weights Weights) *Scorer {
	return &Scorer{
		provider: provider,
		weights:  weights.normalize(),
		cache:    newTTLScoreCache(CacheTTL),
	}
}

// ScoreCoin computes a CoinScore for one symbol using hourly candles over
// the trailing window (168 samples / 7 days by default).
func (s *Scorer) ScoreCoin(ctx context.Context, symbol string) (CoinScore, error) {
	if sc, ok := s.cache.get(symbol); ok {
		return sc, nil
	}
	sc, err := s.computeScore(ctx, symbol)
	if err != nil {
		return CoinScore{}, err
	}
	s.cache.set(symbol, sc)
	return sc, nil
}

func (s *Scorer) computeScore(ctx context.Context, symbol string) (CoinScore, error) {
	candles, err := s.provider.OHLCV(ctx, symbol, "1h", 168)
	if err != nil {
		return CoinScore{}, fmt.Errorf("scorer: ohlcv %s: %w", symbol, err)
	}
	if len(candles) < 50 {
		return emptyScore(symbol), nil
	}

	ticker, err := s.provider.Ticker(ctx, symbol)
	if err != nil {
		return CoinScore{}, fmt.Errorf("scorer: ticker %s: %w", symbol, err)
	}

	highs, lows, closes, volumes := splitCandles(candles)

	atrPct := CalculateATRPct(highs, lows, closes, 14)
	volatilityScore := volatilityScore(atrPct)

	liquidityScore := liquidityScore(ticker.QuoteVolume)

	hurst := CalculateHurstExponent(closes, 20)
	adfP := CalculateADFPValue(closes)
	meanRevertScore := meanRevertScore(hurst, adfP)

	adx := CalculateADX(highs, lows, closes, 14)
	momentumScore := momentumScore(adx)

	volumeCV := CalculateVolumeCV(volumes)
	stabilityScore := stabilityScore(volumeCV, adfP)

	final := volatilityScore*s.weights.Volatility +
		liquidityScore*s.weights.Liquidity +
		meanRevertScore*s.weights.MeanRevert +
		momentumScore*s.weights.Momentum +
		stabilityScore*s.weights.Stability

	sc := CoinScore{
		Symbol:          symbol,
		VolatilityScore: volatilityScore,
		LiquidityScore:  liquidityScore,
		MeanRevertScore: meanRevertScore,
		MomentumScore:   momentumScore,
		StabilityScore:  stabilityScore,
		FinalScore:      final,
		Timestamp:       time.Now().UTC(),
		ATRPct:          atrPct,
		Volume24h:       ticker.QuoteVolume,
		Hurst:           hurst,
		ADX:             adx,
		VolumeCV:        volumeCV,
		ADFPValue:       adfP,
	}

	metrics.ScoresComputed.WithLabelValues(symbol).Inc()
	metrics.CompositeScore.WithLabelValues(symbol).Set(final)
	return sc, nil
}

// ScoreAll scores every symbol, batch-prefetching tickers first
// (SPEC_FULL.md §4.7's score_all optimization), and returns results sorted
// by final_score descending.
func (s *Scorer) ScoreAll(ctx context.Context, symbols []string) ([]CoinScore, error) {
	if err := s.provider.PrefetchTickers(ctx, symbols); err != nil {
		// Non-fatal: per-symbol scoring still falls back to an individual fetch.
		_ = err
	}

	out := make([]CoinScore, 0, len(symbols))
	for _, sym := range symbols {
		sc, err := s.ScoreCoin(ctx, sym)
		if err != nil {
			continue
		}
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FinalScore > out[j].FinalScore })
	return out, nil
}

func splitCandles(c []types.Candle) (highs, lows, closes, volumes []float64) {
	highs = make([]float64, len(c))
	lows = make([]float64, len(c))
	closes = make([]float64, len(c))
	volumes = make([]float64, len(c))
	for i, k := range c {
		highs[i], lows[i], closes[i], volumes[i] = k.High, k.Low, k.Close, k.Volume
	}
	return
}

// --- Indicator functions (SPEC_FULL.md §4.7) ---

// CalculateATRPct computes Wilder-smoothed ATR over period, as a fraction of
// the last close. Mirrors indicators.go's RSI Wilder recurrence.
func CalculateATRPct(highs, lows, closes []float64, period int) float64 {
	if len(closes) < period+1 {
		return 0
	}
	tr := trueRange(highs, lows, closes)
	if len(tr) < period {
		return 0
	}
	atr := mean(tr[:period])
	for i := period; i < len(tr); i++ {
		atr = (atr*float64(period-1) + tr[i]) / float64(period)
	}
	last := closes[len(closes)-1]
	if last <= 0 {
		return 0
	}
	return atr / last
}

func trueRange(highs, lows, closes []float64) []float64 {
	n := len(highs) - 1
	if n <= 0 {
		return nil
	}
	tr := make([]float64, n)
	for i := 1; i < len(highs); i++ {
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		tr[i-1] = math.Max(hl, math.Max(hc, lc))
	}
	return tr
}

// CalculateHurstExponent estimates the Hurst exponent via R/S analysis over
// lags 2..maxLag of log-returns; the slope of log(R/S) vs log(lag) is the
// estimate, clipped to [0,1]. Returns 0.5 (neutral/random-walk) when data is
// insufficient, matching the reference implementation.
func CalculateHurstExponent(prices []float64, maxLag int) float64 {
	if len(prices) < maxLag*2 {
		return 0.5
	}
	logReturns := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		logReturns[i-1] = math.Log(prices[i]) - math.Log(prices[i-1])
	}

	var logLags, logRS []float64
	for lag := 2; lag <= maxLag; lag++ {
		nChunks := len(logReturns) / lag
		if nChunks < 1 {
			continue
		}
		var rsSum float64
		for i := 0; i < nChunks; i++ {
			chunk := logReturns[i*lag : (i+1)*lag]
			m := mean(chunk)
			var cum, maxCum, minCum float64
			for j, v := range chunk {
				cum += v - m
				if j == 0 || cum > maxCum {
					maxCum = cum
				}
				if j == 0 || cum < minCum {
					minCum = cum
				}
			}
			r := maxCum - minCum
			s := stdevSample(chunk)
			if s > 0 {
				rsSum += r / s
			}
		}
		if nChunks > 0 {
			logLags = append(logLags, math.Log(float64(lag)))
			logRS = append(logRS, math.Log(rsSum/float64(nChunks)))
		}
	}
	if len(logLags) < 3 {
		return 0.5
	}

	slope := olsSlope(logLags, logRS)
	return math.Min(1, math.Max(0, slope))
}

// CalculateVolumeCV is the coefficient of variation (population stdev /
// mean) of per-candle quote volume.
func CalculateVolumeCV(volumes []float64) float64 {
	if len(volumes) < 10 {
		return 1.0
	}
	m := mean(volumes)
	if m <= 0 {
		return 1.0
	}
	return stdevPopulation(volumes) / m
}

// CalculateADFPValue is the simplified Augmented Dickey-Fuller test of
// original_source/grid_node/coin_selection/scorer.py's _calculate_adf_test:
// an OLS regression of Δlog(price)[t] on Δlog(price)[t-1], with the
// resulting t-statistic bucketed against the standard ADF critical-value
// table. Preserved exactly (not replaced by a statistics library) per
// SPEC_FULL.md §9's explicit allowance to keep the hand-rolled estimator.
func CalculateADFPValue(prices []float64) float64 {
	if len(prices) < 30 {
		return 1.0
	}
	logPrices := make([]float64, len(prices))
	for i, p := range prices {
		logPrices[i] = math.Log(p)
	}
	diff := make([]float64, len(logPrices)-1)
	for i := 1; i < len(logPrices); i++ {
		diff[i-1] = logPrices[i] - logPrices[i-1]
	}
	if len(diff) < 21 {
		return 1.0
	}
	y := diff[1:]
	yLag := diff[:len(diff)-1]
	n := len(y)
	if n < 20 {
		return 1.0
	}

	xMean := mean(yLag)
	yMean := mean(y)
	var num, den float64
	for i := range y {
		num += (yLag[i] - xMean) * (y[i] - yMean)
		den += (yLag[i] - xMean) * (yLag[i] - xMean)
	}
	if den == 0 {
		return 1.0
	}
	beta := num / den
	alpha := yMean - beta*xMean

	var sse float64
	for i := range y {
		resid := y[i] - (alpha + beta*yLag[i])
		sse += resid * resid
	}
	mse := sse / float64(n-2)
	seBeta := math.Sqrt(mse / den)
	var tStat float64
	if seBeta == 0 {
		// Exact fit: the t-statistic is unbounded in beta's direction.
		tStat = math.Inf(int(math.Copysign(1, beta)))
	} else {
		tStat = beta / seBeta
	}

	switch {
	case tStat < -3.43:
		return 0.01
	case tStat < -2.86:
		return 0.05
	case tStat < -2.57:
		return 0.10
	case tStat < -1.94:
		return 0.20
	default:
		return 0.50
	}
}

// CalculateADX computes the Average Directional Index via Wilder smoothing
// of true range, +DM and -DM over period. Returns 25 (neutral) when data is
// insufficient.
func CalculateADX(highs, lows, closes []float64, period int) float64 {
	if len(closes) < period*2 {
		return 25.0
	}
	n := len(highs) - 1
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < len(highs); i++ {
		up := highs[i] - highs[i-1]
		down := lows[i-1] - lows[i]
		if up > down && up > 0 {
			plusDM[i-1] = up
		}
		if down > up && down > 0 {
			minusDM[i-1] = down
		}
	}
	tr := trueRange(highs, lows, closes)

	smoothTR := wilderSmoothSeries(tr, period)
	smoothPlusDM := wilderSmoothSeries(plusDM, period)
	smoothMinusDM := wilderSmoothSeries(minusDM, period)

	var dx []float64
	for i := range smoothTR {
		if math.IsNaN(smoothTR[i]) || smoothTR[i] <= 0 {
			continue
		}
		plusDI := 100 * smoothPlusDM[i] / smoothTR[i]
		minusDI := 100 * smoothMinusDM[i] / smoothTR[i]
		sum := plusDI + minusDI
		if sum <= 0 {
			dx = append(dx, 0)
			continue
		}
		dx = append(dx, 100*math.Abs(plusDI-minusDI)/sum)
	}
	if len(dx) < period {
		return 25.0
	}
	adx := wilderSmoothSeries(dx, period)
	for i := len(adx) - 1; i >= 0; i-- {
		if !math.IsNaN(adx[i]) {
			return adx[i]
		}
	}
	return 25.0
}

// wilderSmoothSeries applies Wilder's RMA smoothing to data over period,
// seeding with a simple average of the first period values; entries before
// the seed index are NaN.
func wilderSmoothSeries(data []float64, period int) []float64 {
	out := make([]float64, len(data))
	for i := range out {
		out[i] = math.NaN()
	}
	if len(data) < period {
		return out
	}
	out[period-1] = mean(data[:period])
	for i := period; i < len(data); i++ {
		out[i] = (out[i-1]*float64(period-1) + data[i]) / float64(period)
	}
	return out
}

// --- per-dimension scoring curves (SPEC_FULL.md §4.7) ---

func volatilityScore(atrPct float64) float64 {
	const (
		optMin = 0.02
		optMax = 0.05
	)
	switch {
	case atrPct >= optMin && atrPct <= optMax:
		mid := (optMin + optMax) / 2
		deviation := math.Abs(atrPct-mid) / (optMax - optMin) * 2
		return 80 + (1-deviation)*20
	case atrPct >= 0.01 && atrPct < optMin:
		return 60 + 20*(atrPct-0.01)/(optMin-0.01)
	case atrPct > optMax && atrPct <= 0.10:
		return 80 - 20*(atrPct-optMax)/(0.10-optMax)
	case atrPct < 0.01:
		return math.Max(0, 60*atrPct/0.01)
	default:
		return math.Max(0, 60-60*(atrPct-0.10)/0.10)
	}
}

func liquidityScore(volume24h float64) float64 {
	const (
		minVol  = 50_000_000.0
		goodVol = 100_000_000.0
		highVol = 500_000_000.0
	)
	switch {
	case volume24h >= highVol:
		return 100
	case volume24h >= goodVol:
		return 80 + 20*(volume24h-goodVol)/(highVol-goodVol)
	case volume24h >= minVol:
		return 60 + 20*(volume24h-minVol)/(goodVol-minVol)
	default:
		return math.Max(0, 60*volume24h/minVol)
	}
}

func meanRevertScore(hurst, adfPValue float64) float64 {
	var hurstScore float64
	switch {
	case hurst < 0.4:
		hurstScore = 80 + 15*(0.4-hurst)/0.4
	case hurst < 0.5:
		hurstScore = 60 + 20*(0.5-hurst)/0.1
	case hurst == 0.5:
		hurstScore = 50
	default:
		hurstScore = math.Max(0, 50-50*(hurst-0.5)/0.5)
	}

	const significance = 0.05
	var adfBonus float64
	switch {
	case adfPValue < significance:
		adfBonus = 10 * (1 - adfPValue/significance)
	case adfPValue < 0.1:
		adfBonus = 5 * (0.1 - adfPValue) / 0.05
	}
	return math.Min(100, hurstScore+adfBonus)
}

func momentumScore(adx float64) float64 {
	switch {
	case adx < 20:
		return 80 + 20*(20-adx)/20
	case adx <= 25:
		return 60 + 20*(25-adx)/5
	default:
		return math.Max(0, 60-2*(adx-25))
	}
}

func stabilityScore(volumeCV, adfPValue float64) float64 {
	const (
		goodCV = 0.5
		maxCV  = 1.0
	)
	var volScore float64
	switch {
	case volumeCV <= goodCV:
		volScore = 80 + 20*(goodCV-volumeCV)/goodCV
	case volumeCV <= maxCV:
		volScore = 60 + 20*(maxCV-volumeCV)/(maxCV-goodCV)
	default:
		volScore = math.Max(0, 60-30*(volumeCV-maxCV))
	}

	var adfScore float64
	switch {
	case adfPValue < 0.05:
		adfScore = 90 + 10*(0.05-adfPValue)/0.05
	case adfPValue < 0.10:
		adfScore = 70 + 20*(0.10-adfPValue)/0.05
	default:
		adfScore = math.Max(30, 70-40*(adfPValue-0.10)/0.40)
	}
	return 0.6*volScore + 0.4*adfScore
}

// --- small numeric helpers, kept local rather than pulled from a stats
// library: each is a single pass over a slice, matching indicators.go's
// allocation-light style.

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stdevPopulation(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	var sumSq float64
	for _, x := range xs {
		d := x - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)))
}

func stdevSample(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var sumSq float64
	for _, x := range xs {
		d := x - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)-1))
}

// olsSlope returns the slope of a simple OLS fit of y on x.
func olsSlope(x, y []float64) float64 {
	n := float64(len(x))
	if n == 0 {
		return 0
	}
	xMean := mean(x)
	yMean := mean(y)
	var num, den float64
	for i := range x {
		num += (x[i] - xMean) * (y[i] - yMean)
		den += (x[i] - xMean) * (x[i] - xMean)
	}
	if den == 0 {
		return 0
	}
	return num / den
}
