// Package feed provides Event Source adapters that live outside a database:
// an in-memory source for tests and parameter sweeps, and a CSV source for
// loosely-typed exported history.
package feed

import (
	"context"
	"sort"
	"sync"
	"time"

	"backtester/internal/model"
)

type timed interface {
	Time() time.Time
}

// sliceCursor walks a private copy of pre-filtered records. A record that
// fails check ends the cursor with that error.
type sliceCursor[T timed] struct {
	items []T
	pos   int
	check func(T) error
	err   error
}

func (c *sliceCursor[T]) Next() (T, bool) {
	var zero T
	if c.pos >= len(c.items) {
		return zero, false
	}
	v := c.items[c.pos]
	c.pos++
	if c.check != nil {
		if err := c.check(v); err != nil {
			c.err = err
			c.pos = len(c.items)
			return zero, false
		}
	}
	return v, true
}

func (c *sliceCursor[T]) Err() error   { return c.err }
func (c *sliceCursor[T]) Close() error { c.pos = len(c.items); return nil }

func newSliceCursor[T timed](all []T, rng model.Range, check func(T) error) *sliceCursor[T] {
	out := make([]T, 0, len(all))
	for _, v := range all {
		if rng.Contains(v.Time()) {
			out = append(out, v)
		}
	}
	return &sliceCursor[T]{items: out, check: check}
}

func checkBar(b model.Bar) error { return b.Validate() }

// SliceSource serves bars and ticks held in memory, keyed by symbol.
// Records are kept sorted by timestamp; insertion order breaks ties.
type SliceSource struct {
	mu    sync.RWMutex
	bars  map[string][]model.Bar
	ticks map[string][]model.Tick
}

// NewSliceSource creates an empty in-memory source.
func NewSliceSource() *SliceSource {
	return &SliceSource{
		bars:  make(map[string][]model.Bar),
		ticks: make(map[string][]model.Tick),
	}
}

// AddBars stores bars under their own Symbol.
func (s *SliceSource) AddBars(bars ...model.Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	touched := make(map[string]bool)
	for _, b := range bars {
		s.bars[b.Symbol] = append(s.bars[b.Symbol], b)
		touched[b.Symbol] = true
	}
	for sym := range touched {
		list := s.bars[sym]
		sort.SliceStable(list, func(i, j int) bool { return list[i].TS.Before(list[j].TS) })
	}
}

// AddTicks stores ticks under their own Symbol.
func (s *SliceSource) AddTicks(ticks ...model.Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()
	touched := make(map[string]bool)
	for _, t := range ticks {
		s.ticks[t.Symbol] = append(s.ticks[t.Symbol], t)
		touched[t.Symbol] = true
	}
	for sym := range touched {
		list := s.ticks[sym]
		sort.SliceStable(list, func(i, j int) bool { return list[i].TS.Before(list[j].TS) })
	}
}

// Bars implements model.HistorySource.
func (s *SliceSource) Bars(_ context.Context, symbol string, rng model.Range) (model.BarCursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newSliceCursor(s.bars[symbol], rng, checkBar), nil
}

// Ticks implements model.HistorySource.
func (s *SliceSource) Ticks(_ context.Context, symbol string, rng model.Range) (model.TickCursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newSliceCursor(s.ticks[symbol], rng, nil), nil
}
