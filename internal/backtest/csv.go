// Package backtest replays a historical candle series through the exact
// same C5 execution-loop code the live engine runs, via Worker.ProcessTick,
// so that SPEC_FULL.md §8 property 2 (three-way equivalence between the
// live engine, the backtester, and the 30-day preview runner) holds by
// construction rather than by two independently written simulators agreeing
// by luck. Grounded on the reference bot's backtest.go loadCSV/runBacktest.
package backtest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/asgrid/gridengine/pkg/types"
)

// LoadCSV reads an OHLCV series from path per SPEC_FULL.md §6's CSV ingestion
// format: headers must include open_time, open, high, low, close, volume,
// with open_time in milliseconds since epoch. Column order and case are
// not significant; unknown columns are ignored, generalizing the reference
// bot's loadCSV (which additionally accepted a bare "time"/"timestamp"
// column and RFC3339 strings — kept here for convenience when hand-rolling
// CSVs) to the spec's documented wire format.
func LoadCSV(path string) ([]types.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var out []types.Candle
	var headers []string
	rowIdx := 0

	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("backtest: %s: %w", path, err)
		}
		if rowIdx == 0 {
			headers = rec
			rowIdx++
			continue
		}
		row := make(map[string]string, len(headers))
		for j, h := range headers {
			k := strings.ToLower(strings.TrimSpace(h))
			if j < len(rec) {
				row[k] = strings.TrimSpace(rec[j])
			}
		}
		ts := first(row, "open_time", "time", "timestamp")
		op := first(row, "open")
		hp := first(row, "high")
		lp := first(row, "low")
		cp := first(row, "close")
		vp := first(row, "volume", "vol")
		if ts == "" || op == "" || cp == "" {
			continue
		}
		tt, err := parseTimeFlexible(ts)
		if err != nil {
			continue
		}
		o, _ := strconv.ParseFloat(op, 64)
		h, _ := strconv.ParseFloat(hp, 64)
		l, _ := strconv.ParseFloat(lp, 64)
		c, _ := strconv.ParseFloat(cp, 64)
		v, _ := strconv.ParseFloat(vp, 64)
		out = append(out, types.Candle{Time: tt, Open: o, High: h, Low: l, Close: c, Volume: v})
		rowIdx++
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

// parseTimeFlexible accepts §6's milliseconds-since-epoch open_time, plain
// UNIX seconds, or RFC3339, in that preference order.
func parseTimeFlexible(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		if ms > 1e12 {
			return time.UnixMilli(ms).UTC(), nil
		}
		return time.Unix(ms, 0).UTC(), nil
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("bad time: %s", s)
}

func first(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := m[k]; v != "" {
			return v
		}
	}
	return ""
}
