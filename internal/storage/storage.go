// Package storage provides sqlite-backed persistence for the engine: the
// closed-trade log, C7/C9's score history, and C10's rotation state and
// rejection memory, surviving process restarts. Grounded on
// stadam23-Eve-flipper/internal/db/db.go's versioned-migration pattern,
// trimmed to this engine's four tables.
package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/asgrid/gridengine/internal/gridcore"
)

// Store wraps a sqlite connection holding the engine's durable state.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite database at path and applies
// migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

		CREATE TABLE IF NOT EXISTS trades (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol      TEXT NOT NULL,
			lot_id      TEXT NOT NULL,
			side        TEXT NOT NULL,
			entry_price REAL NOT NULL,
			exit_price  REAL NOT NULL,
			qty         REAL NOT NULL,
			gross       TEXT NOT NULL,
			fee         TEXT NOT NULL,
			net         TEXT NOT NULL,
			closed_at   TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol, closed_at);

		CREATE TABLE IF NOT EXISTS score_history (
			symbol            TEXT NOT NULL,
			recorded_at       TEXT NOT NULL,
			final_score       REAL NOT NULL,
			volatility_score  REAL NOT NULL,
			liquidity_score   REAL NOT NULL,
			mean_revert_score REAL NOT NULL,
			momentum_score    REAL NOT NULL,
			stability_score   REAL NOT NULL,
			atr_pct           REAL NOT NULL,
			volume_24h        REAL NOT NULL,
			hurst             REAL NOT NULL,
			adx               REAL NOT NULL,
			PRIMARY KEY (symbol, recorded_at)
		);
		CREATE INDEX IF NOT EXISTS idx_score_history_symbol ON score_history(symbol, recorded_at);

		CREATE TABLE IF NOT EXISTS rotation_state (
			id                 INTEGER PRIMARY KEY CHECK (id = 1),
			last_rotation_time TEXT,
			rotations_this_wk  INTEGER NOT NULL DEFAULT 0,
			week_start         TEXT
		);

		CREATE TABLE IF NOT EXISTS rotation_rejections (
			rejection_key TEXT PRIMARY KEY,
			rejected_at   TEXT NOT NULL
		);

		INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`)
	return err
}

// RecordTrade appends a closed lot event to the trade log.
func (s *Store) RecordTrade(symbol string, tr gridcore.TradeRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO trades (symbol, lot_id, side, entry_price, exit_price, qty, gross, fee, net, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		symbol, tr.LotID, string(tr.Side), tr.EntryPrice, tr.ExitPrice, tr.Qty,
		tr.Gross.String(), tr.Fee.String(), tr.Net.String(), tr.ClosedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// TradesSince returns closed trades for symbol recorded at or after since.
func (s *Store) TradesSince(symbol string, since time.Time) ([]gridcore.TradeRecord, error) {
	rows, err := s.db.Query(`
		SELECT lot_id, side, entry_price, exit_price, qty, gross, fee, net, closed_at
		  FROM trades WHERE symbol = ? AND closed_at >= ? ORDER BY closed_at ASC`,
		symbol, since.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []gridcore.TradeRecord
	for rows.Next() {
		var tr gridcore.TradeRecord
		var side, gross, fee, net, closedAt string
		if err := rows.Scan(&tr.LotID, &side, &tr.EntryPrice, &tr.ExitPrice, &tr.Qty, &gross, &fee, &net, &closedAt); err != nil {
			return nil, err
		}
		tr.Side = gridcore.Side(side)
		tr.Gross = mustDecimal(gross)
		tr.Fee = mustDecimal(fee)
		tr.Net = mustDecimal(net)
		tr.ClosedAt, _ = time.Parse(time.RFC3339Nano, closedAt)
		out = append(out, tr)
	}
	return out, rows.Err()
}

// ScoreSample is one persisted C7 score, ready for ranker history reload.
type ScoreSample struct {
	Symbol    string
	At        time.Time
	Final     float64
	Volatility, Liquidity, MeanRevert, Momentum, Stability float64
	ATRPct    float64
	Volume24h float64
	Hurst     float64
	ADX       float64
}

// RecordScore appends one score sample to the 7-day history table.
func (s *Store) RecordScore(sm ScoreSample) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO score_history (
			symbol, recorded_at, final_score, volatility_score, liquidity_score,
			mean_revert_score, momentum_score, stability_score, atr_pct, volume_24h, hurst, adx
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sm.Symbol, sm.At.UTC().Format(time.RFC3339Nano), sm.Final, sm.Volatility, sm.Liquidity,
		sm.MeanRevert, sm.Momentum, sm.Stability, sm.ATRPct, sm.Volume24h, sm.Hurst, sm.ADX,
	)
	return err
}

// ScoreHistory returns symbol's score samples recorded at or after since.
func (s *Store) ScoreHistory(symbol string, since time.Time) ([]ScoreSample, error) {
	rows, err := s.db.Query(`
		SELECT symbol, recorded_at, final_score, volatility_score, liquidity_score,
		       mean_revert_score, momentum_score, stability_score, atr_pct, volume_24h, hurst, adx
		  FROM score_history WHERE symbol = ? AND recorded_at >= ? ORDER BY recorded_at ASC`,
		symbol, since.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScoreSample
	for rows.Next() {
		var sm ScoreSample
		var at string
		if err := rows.Scan(&sm.Symbol, &at, &sm.Final, &sm.Volatility, &sm.Liquidity,
			&sm.MeanRevert, &sm.Momentum, &sm.Stability, &sm.ATRPct, &sm.Volume24h, &sm.Hurst, &sm.ADX); err != nil {
			return nil, err
		}
		sm.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, sm)
	}
	return out, rows.Err()
}

// PruneScoreHistory deletes samples older than before, bounding the 7-day
// retention window's on-disk footprint.
func (s *Store) PruneScoreHistory(before time.Time) error {
	_, err := s.db.Exec(`DELETE FROM score_history WHERE recorded_at < ?`, before.UTC().Format(time.RFC3339Nano))
	return err
}

// RotationState is C10's persisted cooldown/weekly-cap state.
type RotationState struct {
	LastRotationTime time.Time
	RotationsThisWk  int
	WeekStart        time.Time
}

// LoadRotationState reads the single persisted rotation-state row, or a
// zero-value RotationState if none has been saved yet.
func (s *Store) LoadRotationState() (RotationState, error) {
	var lastRot, weekStart sql.NullString
	var count int
	err := s.db.QueryRow(`SELECT last_rotation_time, rotations_this_wk, week_start FROM rotation_state WHERE id = 1`).
		Scan(&lastRot, &count, &weekStart)
	if err == sql.ErrNoRows {
		return RotationState{}, nil
	}
	if err != nil {
		return RotationState{}, err
	}
	var rs RotationState
	rs.RotationsThisWk = count
	if lastRot.Valid {
		rs.LastRotationTime, _ = time.Parse(time.RFC3339Nano, lastRot.String)
	}
	if weekStart.Valid {
		rs.WeekStart, _ = time.Parse(time.RFC3339Nano, weekStart.String)
	}
	return rs, nil
}

// SaveRotationState upserts the single persisted rotation-state row.
func (s *Store) SaveRotationState(rs RotationState) error {
	_, err := s.db.Exec(`
		INSERT INTO rotation_state (id, last_rotation_time, rotations_this_wk, week_start)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_rotation_time = excluded.last_rotation_time,
			rotations_this_wk  = excluded.rotations_this_wk,
			week_start         = excluded.week_start`,
		formatOrNull(rs.LastRotationTime), rs.RotationsThisWk, formatOrNull(rs.WeekStart),
	)
	return err
}

// RecordRejection persists a rotation rejection-memory entry.
func (s *Store) RecordRejection(key string, at time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO rotation_rejections (rejection_key, rejected_at) VALUES (?, ?)
		ON CONFLICT(rejection_key) DO UPDATE SET rejected_at = excluded.rejected_at`,
		key, at.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// RejectionsSince returns all persisted rejection entries recorded at or
// after since, keyed by "from->to".
func (s *Store) RejectionsSince(since time.Time) (map[string]time.Time, error) {
	rows, err := s.db.Query(`SELECT rejection_key, rejected_at FROM rotation_rejections WHERE rejected_at >= ?`,
		since.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var key, at string
		if err := rows.Scan(&key, &at); err != nil {
			return nil, err
		}
		t, _ := time.Parse(time.RFC3339Nano, at)
		out[key] = t
	}
	return out, rows.Err()
}

func formatOrNull(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
