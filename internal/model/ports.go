package model

import (
	"context"
	"time"
)

// ── Event Source Port Interfaces ──
// Storage adapters (SQLite, Redis Streams, CSV, in-memory) decode their rows
// into typed Bar/Tick records and hand them out through these cursors.
// The simulation core never sees untyped input.

// Range selects records with From <= ts < To. A zero To means unbounded.
type Range struct {
	From time.Time
	To   time.Time
}

// Contains reports whether ts falls inside the range.
func (r Range) Contains(ts time.Time) bool {
	if ts.Before(r.From) {
		return false
	}
	return r.To.IsZero() || ts.Before(r.To)
}

// BarCursor is a finite, forward-only sequence of bars in ascending
// timestamp order. It cannot be rewound; acquire a fresh one instead.
type BarCursor interface {
	// Next returns the next bar, or false when the cursor is exhausted
	// or failed. Check Err after Next returns false.
	Next() (Bar, bool)

	// Err returns the first error encountered while iterating.
	Err() error

	// Close releases underlying resources.
	Close() error
}

// TickCursor is the Tick counterpart of BarCursor.
type TickCursor interface {
	Next() (Tick, bool)
	Err() error
	Close() error
}

// HistorySource hands out independent cursors over stored history.
// Implementations must allow concurrent cursor acquisition: optimization
// workers each open their own cursors on a shared source.
type HistorySource interface {
	// Bars opens a cursor over bars of symbol within rng.
	Bars(ctx context.Context, symbol string, rng Range) (BarCursor, error)

	// Ticks opens a cursor over ticks of symbol within rng.
	Ticks(ctx context.Context, symbol string, rng Range) (TickCursor, error)
}
