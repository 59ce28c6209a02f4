package execution

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"backtester/internal/model"
)

// Journal persists the trade ledger of finished runs to SQLite so results
// can be settled again later without re-running the simulation.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// RunRecord describes one persisted run.
type RunRecord struct {
	RunID     string             `json:"run_id"`
	Strategy  string             `json:"strategy"`
	Symbol    string             `json:"symbol"`
	Params    map[string]float64 `json:"params"`
	Trades    int                `json:"trades"`
	CreatedAt time.Time          `json:"created_at"`
}

// NewJournal opens (or creates) a SQLite journal database.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("journal open: %w", err)
	}
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id      TEXT PRIMARY KEY,
		strategy    TEXT NOT NULL,
		symbol      TEXT NOT NULL,
		params      TEXT NOT NULL,
		trades      INTEGER NOT NULL,
		created_at  INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS trades (
		run_id      TEXT NOT NULL,
		seq         INTEGER NOT NULL,
		trade_id    TEXT NOT NULL,
		order_id    TEXT NOT NULL,
		symbol      TEXT NOT NULL,
		direction   TEXT NOT NULL,
		order_offset TEXT NOT NULL,
		price       REAL NOT NULL,
		volume      INTEGER NOT NULL,
		ts          INTEGER NOT NULL,
		PRIMARY KEY (run_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_trades_run ON trades(run_id);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}

	log.Printf("[journal] opened trade journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// RecordRun stores the run header and its full ledger in one transaction.
func (j *Journal) RecordRun(ctx context.Context, rec RunRecord, trades []model.Trade) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	params, err := json.Marshal(rec.Params)
	if err != nil {
		return fmt.Errorf("journal params: %w", err)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("journal begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, strategy, symbol, params, trades, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Strategy, rec.Symbol, string(params), len(trades), rec.CreatedAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("journal insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO trades (run_id, seq, trade_id, order_id, symbol, direction, order_offset, price, volume, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("journal prepare: %w", err)
	}
	defer stmt.Close()

	for i, t := range trades {
		if _, err := stmt.ExecContext(ctx, rec.RunID, i, t.TradeID, t.OrderID, t.Symbol,
			string(t.Direction), string(t.Offset), t.Price, t.Volume, t.TS.UnixNano()); err != nil {
			return fmt.Errorf("journal insert trade %s: %w", t.TradeID, err)
		}
	}
	return tx.Commit()
}

// Trades loads the ledger of a run in execution order.
func (j *Journal) Trades(ctx context.Context, runID string) ([]model.Trade, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx,
		`SELECT trade_id, order_id, symbol, direction, order_offset, price, volume, ts
		 FROM trades WHERE run_id = ? ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("journal query trades: %w", err)
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var dir, off string
		var tsNano int64
		if err := rows.Scan(&t.TradeID, &t.OrderID, &t.Symbol, &dir, &off, &t.Price, &t.Volume, &tsNano); err != nil {
			return nil, fmt.Errorf("journal scan trade: %w", err)
		}
		t.Direction = model.Direction(dir)
		t.Offset = model.Offset(off)
		t.TS = time.Unix(0, tsNano).UTC()
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Runs returns the last N runs, newest first.
func (j *Journal) Runs(ctx context.Context, limit int) ([]RunRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx,
		`SELECT run_id, strategy, symbol, params, trades, created_at
		 FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		var params string
		var created int64
		if err := rows.Scan(&r.RunID, &r.Strategy, &r.Symbol, &params, &r.Trades, &created); err != nil {
			return nil, fmt.Errorf("journal scan run: %w", err)
		}
		if err := json.Unmarshal([]byte(params), &r.Params); err != nil {
			return nil, fmt.Errorf("journal params %s: %w", r.RunID, err)
		}
		r.CreatedAt = time.Unix(0, created)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
