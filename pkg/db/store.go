package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/conviction-engine/pkg/token"
)

const schema = `
CREATE TABLE IF NOT EXISTS signals (
    id TEXT PRIMARY KEY,
    token TEXT NOT NULL,
    symbol TEXT,
    score INTEGER NOT NULL,
    breakdown_json TEXT DEFAULT '{}',
    reasons_json TEXT DEFAULT '[]',
    trigger_source TEXT,
    top_evidence TEXT,
    entry_price_usd REAL DEFAULT 0,
    emitted_at TIMESTAMP NOT NULL,
    emit_failed BOOLEAN DEFAULT FALSE,
    outcome TEXT DEFAULT 'open',
    peak_multiple REAL DEFAULT 0,
    rug_flag BOOLEAN DEFAULT FALSE,
    outcome_updated_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS chat_mentions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    token TEXT NOT NULL,
    grp TEXT NOT NULL,
    ts TIMESTAMP NOT NULL,
    text TEXT
);

CREATE TABLE IF NOT EXISTS group_correlations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    group_a TEXT NOT NULL,
    group_b TEXT NOT NULL,
    token TEXT NOT NULL,
    time_diff_seconds INTEGER NOT NULL,
    date TEXT NOT NULL,
    UNIQUE(group_a, group_b, token, date)
);

CREATE TABLE IF NOT EXISTS kol_wallets (
    address TEXT PRIMARY KEY,
    name TEXT,
    tier TEXT DEFAULT 'UNKNOWN',
    win_rate REAL DEFAULT 0,
    pnl_estimate REAL DEFAULT 0,
    refreshed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_signal_token ON signals(token);
CREATE INDEX IF NOT EXISTS idx_signal_time ON signals(emitted_at);
CREATE INDEX IF NOT EXISTS idx_mention_token ON chat_mentions(token, ts);
CREATE INDEX IF NOT EXISTS idx_corr_token ON group_correlations(token);
CREATE INDEX IF NOT EXISTS idx_corr_date ON group_correlations(date);
`

type Store struct {
	db *sql.DB
}

func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ---- Signals ----

func (s *Store) InsertSignal(sig *token.Signal) error {
	breakdownJSON, _ := json.Marshal(sig.Breakdown)
	reasonsJSON, _ := json.Marshal(sig.Reasons)

	_, err := s.db.Exec(`
		INSERT INTO signals (id, token, symbol, score, breakdown_json, reasons_json, trigger_source, top_evidence, entry_price_usd, emitted_at, emit_failed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.ID, string(sig.Token), sig.Symbol, sig.Score, string(breakdownJSON), string(reasonsJSON),
		string(sig.TriggerSource), sig.TopEvidence, sig.EntryPriceUSD, sig.EmittedAt, sig.EmitFailed)
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

func (s *Store) MarkEmitFailed(id string) error {
	_, err := s.db.Exec("UPDATE signals SET emit_failed=TRUE WHERE id=?", id)
	return err
}

func (s *Store) UpdateOutcome(id, outcome string, peakMultiple float64, rugFlag bool) error {
	_, err := s.db.Exec(`
		UPDATE signals SET outcome=?, peak_multiple=?, rug_flag=?, outcome_updated_at=CURRENT_TIMESTAMP
		WHERE id=?`,
		outcome, peakMultiple, rugFlag, id)
	return err
}

// SignalsSince returns signals emitted after the cutoff, newest first.
func (s *Store) SignalsSince(cutoff time.Time) ([]token.Signal, error) {
	rows, err := s.db.Query(`
		SELECT id, token, COALESCE(symbol,''), score, breakdown_json, reasons_json,
		       COALESCE(trigger_source,''), COALESCE(top_evidence,''), entry_price_usd,
		       emitted_at, emit_failed, COALESCE(outcome,'open'), peak_multiple, rug_flag, outcome_updated_at
		FROM signals WHERE emitted_at >= ? ORDER BY emitted_at DESC`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sigs []token.Signal
	for rows.Next() {
		var sig token.Signal
		var mint, breakdownJSON, reasonsJSON, trigger string
		var updatedAt sql.NullTime
		if err := rows.Scan(&sig.ID, &mint, &sig.Symbol, &sig.Score, &breakdownJSON, &reasonsJSON,
			&trigger, &sig.TopEvidence, &sig.EntryPriceUSD,
			&sig.EmittedAt, &sig.EmitFailed, &sig.Outcome, &sig.PeakMultiple, &sig.RugFlag, &updatedAt); err != nil {
			continue
		}
		sig.Token = token.Mint(mint)
		sig.TriggerSource = token.Trigger(trigger)
		_ = json.Unmarshal([]byte(breakdownJSON), &sig.Breakdown)
		_ = json.Unmarshal([]byte(reasonsJSON), &sig.Reasons)
		if updatedAt.Valid {
			sig.OutcomeUpdatedAt = updatedAt.Time
		}
		sigs = append(sigs, sig)
	}
	return sigs, nil
}

// LastEmission returns the most recent emission time for a token, zero if none.
// MAX() would strip the column's type affinity, so the newest row is read
// directly.
func (s *Store) LastEmission(mint token.Mint) (time.Time, error) {
	var ts time.Time
	err := s.db.QueryRow("SELECT emitted_at FROM signals WHERE token=? ORDER BY emitted_at DESC LIMIT 1",
		string(mint)).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return ts, nil
}

// ---- Chat mentions ----

func (s *Store) InsertMention(mint token.Mint, group string, ts time.Time, text string) error {
	_, err := s.db.Exec("INSERT INTO chat_mentions (token, grp, ts, text) VALUES (?, ?, ?, ?)",
		string(mint), group, ts, text)
	return err
}

func (s *Store) MentionCountSince(mint token.Mint, cutoff time.Time) (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM chat_mentions WHERE token=? AND ts >= ?",
		string(mint), cutoff).Scan(&n)
	return n, err
}

// ---- Group correlations ----

// InsertCorrelation records one co-mention edge. The unique index makes
// repeats within a day no-ops; reports whether a new row landed.
func (s *Store) InsertCorrelation(e CorrelationEdge) (bool, error) {
	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO group_correlations (group_a, group_b, token, time_diff_seconds, date)
		VALUES (?, ?, ?, ?, ?)`,
		e.GroupA, e.GroupB, string(e.Token), e.TimeDiffSeconds, e.Date)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) CorrelationsForToken(mint token.Mint) ([]CorrelationEdge, error) {
	rows, err := s.db.Query(`
		SELECT group_a, group_b, token, time_diff_seconds, date
		FROM group_correlations WHERE token=? ORDER BY date DESC`, string(mint))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []CorrelationEdge
	for rows.Next() {
		var e CorrelationEdge
		var mintStr string
		if err := rows.Scan(&e.GroupA, &e.GroupB, &mintStr, &e.TimeDiffSeconds, &e.Date); err != nil {
			continue
		}
		e.Token = token.Mint(mintStr)
		edges = append(edges, e)
	}
	return edges, nil
}

// ---- KOL wallets ----

func (s *Store) UpsertKOLWallet(w token.KOLWallet) error {
	_, err := s.db.Exec(`
		INSERT INTO kol_wallets (address, name, tier, win_rate, pnl_estimate, refreshed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			name=excluded.name, tier=excluded.tier, win_rate=excluded.win_rate,
			pnl_estimate=excluded.pnl_estimate, refreshed_at=excluded.refreshed_at`,
		w.Address, w.Name, string(w.Tier), w.WinRate, w.PnLEstimate, w.RefreshedAt)
	return err
}

func (s *Store) GetKOLWallets() ([]token.KOLWallet, error) {
	rows, err := s.db.Query("SELECT address, COALESCE(name,''), tier, win_rate, pnl_estimate, refreshed_at FROM kol_wallets")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wallets []token.KOLWallet
	for rows.Next() {
		var w token.KOLWallet
		var tier string
		var refreshed sql.NullTime
		if err := rows.Scan(&w.Address, &w.Name, &tier, &w.WinRate, &w.PnLEstimate, &refreshed); err != nil {
			continue
		}
		w.Tier = token.ParseTier(tier)
		if refreshed.Valid {
			w.RefreshedAt = refreshed.Time
		}
		wallets = append(wallets, w)
	}
	return wallets, nil
}

// ---- Housekeeping ----

// PruneMentions deletes chat mention rows older than the cutoff.
func (s *Store) PruneMentions(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec("DELETE FROM chat_mentions WHERE ts < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
