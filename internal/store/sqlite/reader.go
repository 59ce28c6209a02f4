package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"math"
	"time"

	"backtester/internal/model"
)

// Reader serves stored bars and ticks as lazy cursors. It is safe for
// concurrent use; every cursor holds its own connection until closed.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading. The schema is created
// if missing so an empty database reads as "no data" rather than failing.
func NewReader(dbPath string) (*Reader, error) {
	db, err := open(context.Background(), dbPath)
	if err != nil {
		return nil, err
	}
	// No open-connection cap: a run holds its primary and info cursors at
	// once, and a capped pool shared by parallel runs can starve them all.
	db.SetMaxIdleConns(4)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// DB returns the underlying sql.DB for health checks.
func (r *Reader) DB() *sql.DB { return r.db }

// Ping reports whether the database is reachable.
func (r *Reader) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

func bounds(rng model.Range) (int64, int64) {
	from, to := int64(math.MinInt64), int64(math.MaxInt64)
	if !rng.From.IsZero() {
		from = rng.From.UnixNano()
	}
	if !rng.To.IsZero() {
		to = rng.To.UnixNano()
	}
	return from, to
}

// Bars implements model.HistorySource. Rows are ordered by timestamp
// ascending for correct replay order.
func (r *Reader) Bars(ctx context.Context, symbol string, rng model.Range) (model.BarCursor, error) {
	from, to := bounds(rng)
	rows, err := r.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM bars
		WHERE symbol = ? AND ts >= ? AND ts < ?
		ORDER BY ts ASC
	`, symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars %s: %w", symbol, err)
	}
	return &rowCursor[model.Bar]{rows: rows, scan: func(rows *sql.Rows) (model.Bar, error) {
		b := model.Bar{Symbol: symbol}
		var ts int64
		if err := rows.Scan(&ts, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return b, err
		}
		b.TS = time.Unix(0, ts).UTC()
		return b, b.Validate()
	}}, nil
}

// Ticks implements model.HistorySource.
func (r *Reader) Ticks(ctx context.Context, symbol string, rng model.Range) (model.TickCursor, error) {
	from, to := bounds(rng)
	rows, err := r.db.QueryContext(ctx, `
		SELECT ts, last, bid, ask, volume
		FROM ticks
		WHERE symbol = ? AND ts >= ? AND ts < ?
		ORDER BY ts ASC
	`, symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("sqlite query ticks %s: %w", symbol, err)
	}
	return &rowCursor[model.Tick]{rows: rows, scan: func(rows *sql.Rows) (model.Tick, error) {
		t := model.Tick{Symbol: symbol}
		var ts int64
		err := rows.Scan(&ts, &t.LastPrice, &t.BidPrice, &t.AskPrice, &t.Volume)
		t.TS = time.Unix(0, ts).UTC()
		return t, err
	}}, nil
}

// Symbols lists the symbols that have stored bars.
func (r *Reader) Symbols(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT symbol FROM bars ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query symbols: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("sqlite scan symbols: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}

type rowCursor[T any] struct {
	rows *sql.Rows
	scan func(*sql.Rows) (T, error)
	err  error
	done bool
}

func (c *rowCursor[T]) Next() (T, bool) {
	var zero T
	if c.done {
		return zero, false
	}
	if !c.rows.Next() {
		c.err = c.rows.Err()
		c.finish()
		return zero, false
	}
	v, err := c.scan(c.rows)
	if err != nil {
		c.err = fmt.Errorf("sqlite scan: %w", err)
		c.finish()
		return zero, false
	}
	return v, true
}

func (c *rowCursor[T]) finish() {
	c.done = true
	c.rows.Close()
}

func (c *rowCursor[T]) Err() error { return c.err }

func (c *rowCursor[T]) Close() error {
	if c.done {
		return nil
	}
	c.done = true
	return c.rows.Close()
}
