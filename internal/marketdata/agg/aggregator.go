// Package agg builds fixed-interval bars from a tick stream.
package agg

import (
	"context"
	"fmt"
	"time"

	"backtester/internal/model"
)

// barState holds the in-progress bar for one symbol.
type barState struct {
	bucket int64 // interval start, Unix nanoseconds
	bar    model.Bar
}

// Aggregator builds OHLCV bars of a fixed interval from ticks using the
// last trade price. Emitted bars are stamped with the interval end, so a
// bar never carries a timestamp earlier than any tick inside it.
//
// Bucket rollover is driven by tick time only, which makes the output a pure
// function of the input. Not safe for concurrent use; run one per goroutine.
type Aggregator struct {
	interval time.Duration
	states   map[string]*barState

	// OnDroppedTick is called for a tick older than its symbol's open bar.
	OnDroppedTick func(t model.Tick)
}

// New creates an Aggregator for the given bar interval.
func New(interval time.Duration) (*Aggregator, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("agg: interval must be positive, got %v", interval)
	}
	return &Aggregator{
		interval: interval,
		states:   make(map[string]*barState),
	}, nil
}

// Interval returns the bar interval.
func (a *Aggregator) Interval() time.Duration { return a.interval }

// Add incorporates one tick and returns the bar it finalized, if any.
func (a *Aggregator) Add(t model.Tick) (model.Bar, bool) {
	step := int64(a.interval)
	ns := t.TS.UnixNano()
	bucket := ns - mod(ns, step)

	state, exists := a.states[t.Symbol]
	if exists && bucket < state.bucket {
		if a.OnDroppedTick != nil {
			a.OnDroppedTick(t)
		}
		return model.Bar{}, false
	}

	var done model.Bar
	var emitted bool
	if exists && bucket > state.bucket {
		done, emitted = state.bar, true
		exists = false
	}

	if !exists {
		a.states[t.Symbol] = &barState{
			bucket: bucket,
			bar: model.Bar{
				Symbol: t.Symbol,
				TS:     time.Unix(0, bucket+step).UTC(),
				Open:   t.LastPrice,
				High:   t.LastPrice,
				Low:    t.LastPrice,
				Close:  t.LastPrice,
				Volume: t.Volume,
			},
		}
		return done, emitted
	}

	b := &state.bar
	if t.LastPrice > b.High {
		b.High = t.LastPrice
	}
	if t.LastPrice < b.Low {
		b.Low = t.LastPrice
	}
	b.Close = t.LastPrice
	b.Volume += t.Volume
	return model.Bar{}, false
}

// Flush finalizes and returns every open bar.
func (a *Aggregator) Flush() []model.Bar {
	out := make([]model.Bar, 0, len(a.states))
	for sym, st := range a.states {
		out = append(out, st.bar)
		delete(a.states, sym)
	}
	return out
}

// Run consumes ticks from tickCh and sends finalized bars to barCh, closing
// barCh when it returns. Open bars are flushed once tickCh closes. Sends
// block, so no bar is lost to a slow consumer; on ctx cancellation Run
// returns without flushing.
func (a *Aggregator) Run(ctx context.Context, tickCh <-chan model.Tick, barCh chan<- model.Bar) error {
	defer close(barCh)
	send := func(b model.Bar) error {
		select {
		case barCh <- b:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-tickCh:
			if !ok {
				for _, b := range a.Flush() {
					if err := send(b); err != nil {
						return err
					}
				}
				return nil
			}
			if b, ok := a.Add(t); ok {
				if err := send(b); err != nil {
					return err
				}
			}
		}
	}
}

// mod is the non-negative remainder, so pre-1970 stamps bucket correctly.
func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
