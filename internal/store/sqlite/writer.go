package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"backtester/internal/model"
)

const writeBatchSize = 500

// Writer stores imported history. It keeps a single connection so batches
// never contend for the database lock with each other.
type Writer struct {
	db   *sql.DB
	path string
}

// NewWriter opens (creating and migrating if needed) the database at path.
func NewWriter(ctx context.Context, path string) (*Writer, error) {
	db, err := open(ctx, path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	log.Printf("[sqlite] writing to %s", path)
	return &Writer{db: db, path: path}, nil
}

// Run commits bars from the channel in transactions of up to 500 rows
// until it closes or ctx ends, and returns how many were committed.
func (w *Writer) Run(ctx context.Context, bars <-chan model.Bar) int {
	batch := make([]model.Bar, 0, writeBatchSize)
	committed := 0
	commit := func() {
		if len(batch) == 0 {
			return
		}
		if err := w.InsertBars(ctx, batch); err != nil {
			log.Printf("[sqlite] dropped batch of %d bars: %v", len(batch), err)
		} else {
			committed += len(batch)
		}
		batch = batch[:0]
	}
	for {
		select {
		case <-ctx.Done():
			return committed
		case bar, ok := <-bars:
			if !ok {
				commit()
				return committed
			}
			if batch = append(batch, bar); len(batch) == writeBatchSize {
				commit()
			}
		}
	}
}

const (
	upsertBar = `INSERT OR REPLACE INTO bars (symbol, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	upsertTick = `INSERT OR REPLACE INTO ticks (symbol, ts, last, bid, ask, volume)
		VALUES (?, ?, ?, ?, ?, ?)`
)

// InsertBars writes bars in one transaction; a bar at an existing
// (symbol, ts) replaces it.
func (w *Writer) InsertBars(ctx context.Context, bars []model.Bar) error {
	return inTx(ctx, w.db, upsertBar, len(bars), func(i int) []any {
		b := &bars[i]
		return []any{b.Symbol, b.TS.UnixNano(), b.Open, b.High, b.Low, b.Close, b.Volume}
	})
}

// InsertTicks is InsertBars for ticks.
func (w *Writer) InsertTicks(ctx context.Context, ticks []model.Tick) error {
	return inTx(ctx, w.db, upsertTick, len(ticks), func(i int) []any {
		t := &ticks[i]
		return []any{t.Symbol, t.TS.UnixNano(), t.LastPrice, t.BidPrice, t.AskPrice, t.Volume}
	})
}

func inTx(ctx context.Context, db *sql.DB, query string, n int, args func(int) []any) (err error) {
	if n == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i := range n {
		if _, err = stmt.ExecContext(ctx, args(i)...); err != nil {
			return fmt.Errorf("sqlite insert row %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// LastTimestamp returns the newest stored bar time for symbol, or the zero
// time when there is none.
func (w *Writer) LastTimestamp(ctx context.Context, symbol string) (time.Time, error) {
	var ts sql.NullInt64
	if err := w.db.QueryRowContext(ctx, `SELECT MAX(ts) FROM bars WHERE symbol = ?`, symbol).Scan(&ts); err != nil {
		return time.Time{}, err
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return time.Unix(0, ts.Int64).UTC(), nil
}

// Import is one row of the import ledger.
type Import struct {
	Symbol     string
	Kind       string // "bars" or "ticks"
	Source     string
	Rows       int
	First      time.Time // zero when Rows is 0
	Last       time.Time
	FinishedAt time.Time
}

func nullTime(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

// RecordImport appends rec to the import ledger.
func (w *Writer) RecordImport(ctx context.Context, rec Import) error {
	_, err := w.db.ExecContext(ctx,
		`INSERT INTO imports (symbol, kind, source, rows, first_ts, last_ts, finished_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Symbol, rec.Kind, rec.Source, rec.Rows, nullTime(rec.First), nullTime(rec.Last), rec.FinishedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("sqlite record import: %w", err)
	}
	return nil
}

// LastImport returns the most recent ledger row for symbol and kind.
// ok is false when the symbol was never imported.
func (w *Writer) LastImport(ctx context.Context, symbol, kind string) (rec Import, ok bool, err error) {
	var first, last sql.NullInt64
	var finished int64
	err = w.db.QueryRowContext(ctx,
		`SELECT symbol, kind, source, rows, first_ts, last_ts, finished_at FROM imports
		 WHERE symbol = ? AND kind = ? ORDER BY id DESC LIMIT 1`, symbol, kind).
		Scan(&rec.Symbol, &rec.Kind, &rec.Source, &rec.Rows, &first, &last, &finished)
	if err == sql.ErrNoRows {
		return Import{}, false, nil
	}
	if err != nil {
		return Import{}, false, err
	}
	if first.Valid {
		rec.First = time.Unix(0, first.Int64).UTC()
	}
	if last.Valid {
		rec.Last = time.Unix(0, last.Int64).UTC()
	}
	rec.FinishedAt = time.Unix(0, finished).UTC()
	return rec, true, nil
}

func (w *Writer) Close() error { return w.db.Close() }
