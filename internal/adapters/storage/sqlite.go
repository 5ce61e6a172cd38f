package storage

// sqlite.go: histórico de corridas en SQLite.
//
// Estrategia:
//   - `runs`: una fila por corrida, insertada en Begin y completada en Finalize.
//   - `decisions` / `trades`: una fila por decisión y por trade de la corrida.
//   - Una transacción por corrida: Begin la abre, Finalize hace commit y Abort
//     rollback. Una corrida fallida no deja filas.
//   - Prune automático al arrancar: corridas > 90d y sus filas hijas.
//
// Con SetMaxOpenConns(1) la transacción abierta retiene la única conexión; las
// lecturas de histórico se hacen fuera de una corrida.

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/lehacf-git/castle-bot/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    run_id         TEXT PRIMARY KEY,
    mode           TEXT     NOT NULL,
    started_at     TEXT     NOT NULL,
    finished_at    TEXT,
    ticks          INTEGER  NOT NULL DEFAULT 0,
    interrupted    INTEGER  NOT NULL DEFAULT 0,
    markets_seen   INTEGER  NOT NULL DEFAULT 0,
    accepted       INTEGER  NOT NULL DEFAULT 0,
    trades         INTEGER  NOT NULL DEFAULT 0,
    exposure_total TEXT     NOT NULL DEFAULT '0',
    settings_json  TEXT,
    report_json    TEXT
);

CREATE TABLE IF NOT EXISTS decisions (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id      TEXT    NOT NULL,
    market_id   TEXT    NOT NULL,
    ts          TEXT    NOT NULL,
    outcome     TEXT    NOT NULL,
    reason      TEXT    NOT NULL DEFAULT '',
    detail      TEXT    NOT NULL DEFAULT '',
    bid_cents   INTEGER NOT NULL DEFAULT 0,
    ask_cents   INTEGER NOT NULL DEFAULT 0,
    bid_depth   INTEGER NOT NULL DEFAULT 0,
    ask_depth   INTEGER NOT NULL DEFAULT 0,
    side        TEXT    NOT NULL DEFAULT '',
    edge        REAL    NOT NULL DEFAULT 0,
    price_cents INTEGER NOT NULL DEFAULT 0,
    size        INTEGER NOT NULL DEFAULT 0,
    notional    TEXT    NOT NULL DEFAULT '0'
);

CREATE TABLE IF NOT EXISTS trades (
    id                TEXT PRIMARY KEY,
    run_id            TEXT    NOT NULL,
    market_id         TEXT    NOT NULL,
    side              TEXT    NOT NULL,
    price_cents       INTEGER NOT NULL,
    size              INTEGER NOT NULL,
    notional          TEXT    NOT NULL,
    fee_cents         INTEGER NOT NULL DEFAULT 0,
    edge              REAL    NOT NULL DEFAULT 0,
    mode              TEXT    NOT NULL,
    executor          TEXT    NOT NULL,
    external_order_id TEXT    NOT NULL DEFAULT '',
    status            TEXT    NOT NULL,
    note              TEXT    NOT NULL DEFAULT '',
    ts                TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_started   ON runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_decisions_run  ON decisions(run_id);
CREATE INDEX IF NOT EXISTS idx_trades_run     ON trades(run_id);
`

const retentionRuns = 90 * 24 * time.Hour

// ErrNoActiveRun se devuelve al escribir sin Begin previo.
var ErrNoActiveRun = errors.New("storage: no active run")

// SQLiteStorage implementa ports.ArtifactSink usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db *sql.DB

	mu    sync.Mutex
	tx    *sql.Tx
	runID string
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada.
// Aplica el schema y limpia corridas antiguas.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	s := &SQLiteStorage{db: db}
	s.pruneOld(context.Background())
	return s, nil
}

// Begin abre la transacción de la corrida e inserta su fila.
func (s *SQLiteStorage) Begin(ctx context.Context, info domain.RunInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		return fmt.Errorf("storage.Begin: run %s still active", s.runID)
	}

	settings, err := json.Marshal(info.Settings)
	if err != nil {
		return fmt.Errorf("storage.Begin: marshal settings: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.Begin: begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, mode, started_at, settings_json) VALUES (?, ?, ?, ?)`,
		info.RunID, info.Mode.String(), formatTime(info.StartedAt), string(settings),
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("storage.Begin: insert run: %w", err)
	}

	s.tx = tx
	s.runID = info.RunID
	return nil
}

// AppendDecision inserta una decisión en la transacción activa.
func (s *SQLiteStorage) AppendDecision(ctx context.Context, d domain.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return fmt.Errorf("storage.AppendDecision: %w", ErrNoActiveRun)
	}

	var (
		side     string
		edge     float64
		price    int
		size     int
		notional = decimal.Zero
		detail   string
	)
	if d.Accept != nil {
		side = string(d.Accept.Edge.Side)
		edge = d.Accept.Edge.Edge
		price = d.Accept.PriceCents
		size = d.Accept.Size
		notional = d.Accept.Notional
	}
	if d.Skip != nil {
		detail = d.Skip.Detail
	}

	if _, err := s.tx.ExecContext(ctx, `
		INSERT INTO decisions
			(run_id, market_id, ts, outcome, reason, detail,
			 bid_cents, ask_cents, bid_depth, ask_depth,
			 side, edge, price_cents, size, notional)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.runID, d.MarketID, formatTime(d.Timestamp), string(d.Outcome()), string(d.Reason()), detail,
		d.Snapshot.Bid.PriceCents, d.Snapshot.Ask.PriceCents, d.Snapshot.Bid.Depth, d.Snapshot.Ask.Depth,
		side, edge, price, size, notional.String(),
	); err != nil {
		return fmt.Errorf("storage.AppendDecision %s: %w", d.MarketID, err)
	}
	return nil
}

// AppendTrade inserta un trade en la transacción activa.
func (s *SQLiteStorage) AppendTrade(ctx context.Context, t domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return fmt.Errorf("storage.AppendTrade: %w", ErrNoActiveRun)
	}

	if _, err := s.tx.ExecContext(ctx, `
		INSERT INTO trades
			(id, run_id, market_id, side, price_cents, size, notional, fee_cents, edge,
			 mode, executor, external_order_id, status, note, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, s.runID, t.MarketID, string(t.Side), t.PriceCents, t.Size, t.Notional.String(), t.FeeCents, t.Edge,
		t.Mode.String(), string(t.Executor), t.ExternalOrderID, string(t.Status), t.Note, formatTime(t.Timestamp),
	); err != nil {
		return fmt.Errorf("storage.AppendTrade %s: %w", t.ID, err)
	}
	return nil
}

// Finalize completa la fila de la corrida y hace commit.
func (s *SQLiteStorage) Finalize(ctx context.Context, r domain.RunReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return fmt.Errorf("storage.Finalize: %w", ErrNoActiveRun)
	}
	tx := s.tx
	s.tx, s.runID = nil, ""

	report, err := json.Marshal(r)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("storage.Finalize: marshal report: %w", err)
	}

	trades := 0
	for _, n := range r.Diagnostics.TradesByStatus {
		trades += n
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE runs SET
			finished_at    = ?,
			ticks          = ?,
			interrupted    = ?,
			markets_seen   = ?,
			accepted       = ?,
			trades         = ?,
			exposure_total = ?,
			report_json    = ?
		WHERE run_id = ?`,
		formatTime(r.FinishedAt), r.Ticks, boolInt(r.Interrupted),
		r.Diagnostics.MarketsSeen, r.Diagnostics.Accepted, trades,
		r.Exposure.Total.String(), string(report), r.RunID,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("storage.Finalize: update run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.Finalize: commit: %w", err)
	}
	return nil
}

// Abort descarta todo lo escrito por la corrida activa.
func (s *SQLiteStorage) Abort(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx, s.runID = nil, ""
	if err := tx.Rollback(); err != nil {
		return fmt.Errorf("storage.Abort: rollback: %w", err)
	}
	return nil
}

// ListRuns devuelve las últimas corridas finalizadas, más recientes primero.
func (s *SQLiteStorage) ListRuns(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, mode, started_at, COALESCE(finished_at, ''), ticks, interrupted,
		       markets_seen, accepted, trades, exposure_total
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.ListRuns: query: %w", err)
	}
	defer rows.Close()

	var out []domain.RunRecord
	for rows.Next() {
		var (
			r                       domain.RunRecord
			mode, started, finished string
			exposure                string
			interrupted             int
		)
		if err := rows.Scan(&r.RunID, &mode, &started, &finished, &r.Ticks, &interrupted,
			&r.MarketsSeen, &r.Accepted, &r.Trades, &exposure); err != nil {
			return nil, fmt.Errorf("storage.ListRuns: scan row: %w", err)
		}
		if err := r.Mode.UnmarshalText([]byte(mode)); err != nil {
			return nil, fmt.Errorf("storage.ListRuns: run %s: %w", r.RunID, err)
		}
		r.StartedAt = parseTime(started)
		r.FinishedAt = parseTime(finished)
		r.Interrupted = interrupted == 1
		r.ExposureTotal, _ = decimal.NewFromString(exposure)
		out = append(out, r)
	}
	return out, rows.Err()
}

// RunTrades devuelve los trades de una corrida en orden de inserción.
func (s *SQLiteStorage) RunTrades(ctx context.Context, runID string) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, market_id, side, price_cents, size, notional, fee_cents, edge,
		       mode, executor, external_order_id, status, note, ts
		FROM trades
		WHERE run_id = ?
		ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("storage.RunTrades: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		var (
			t                    domain.Trade
			side, notional, mode string
			executor, status, ts string
		)
		if err := rows.Scan(&t.ID, &t.MarketID, &side, &t.PriceCents, &t.Size, &notional, &t.FeeCents, &t.Edge,
			&mode, &executor, &t.ExternalOrderID, &status, &t.Note, &ts); err != nil {
			return nil, fmt.Errorf("storage.RunTrades: scan row: %w", err)
		}
		if err := t.Mode.UnmarshalText([]byte(mode)); err != nil {
			return nil, fmt.Errorf("storage.RunTrades: trade %s: %w", t.ID, err)
		}
		t.Side = domain.Side(side)
		t.Executor = domain.ExecutorKind(executor)
		t.Status = domain.FillStatus(status)
		t.Notional, _ = decimal.NewFromString(notional)
		t.Timestamp = parseTime(ts)
		out = append(out, t)
	}
	return out, rows.Err()
}

// DecisionCounts devuelve decisiones por outcome/razón de una corrida.
func (s *SQLiteStorage) DecisionCounts(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT CASE WHEN reason = '' THEN outcome ELSE reason END AS k, COUNT(*)
		FROM decisions
		WHERE run_id = ?
		GROUP BY k`, runID)
	if err != nil {
		return nil, fmt.Errorf("storage.DecisionCounts: query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return nil, fmt.Errorf("storage.DecisionCounts: scan row: %w", err)
		}
		out[k] = n
	}
	return out, rows.Err()
}

// Close hace rollback de una corrida abierta y cierra la conexión.
func (s *SQLiteStorage) Close() error {
	_ = s.Abort(context.Background())
	return s.db.Close()
}

// --- helpers internos ---

// pruneOld elimina corridas antiguas para mantener la DB ligera.
func (s *SQLiteStorage) pruneOld(ctx context.Context) {
	cutoff := formatTime(time.Now().UTC().Add(-retentionRuns))
	s.db.ExecContext(ctx, `DELETE FROM decisions WHERE run_id IN (SELECT run_id FROM runs WHERE started_at < ?)`, cutoff)
	s.db.ExecContext(ctx, `DELETE FROM trades WHERE run_id IN (SELECT run_id FROM runs WHERE started_at < ?)`, cutoff)
	s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff)
}

// Los timestamps se guardan como RFC3339 UTC con ancho fijo para que ordenen como texto.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(timeLayout, s)
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
