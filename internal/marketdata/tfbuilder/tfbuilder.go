// Package tfbuilder provides an incremental timeframe resampler.
// It consumes end-stamped bars and maintains one forming bar per
// (symbol, timeframe) that is updated in O(1) per input bar. When a bar
// arrives in a later bucket, the previous forming bar is finalized and
// emitted under a derived symbol such as "ES.5m".
package tfbuilder

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"backtester/internal/model"
)

// tfState holds the forming bar for one (symbol, TF) pair.
type tfState struct {
	bucketEnd int64 // Unix seconds
	bar       model.Bar
}

// Builder resamples bars into multiple coarser timeframes.
// Not goroutine-safe: designed to run in a single goroutine.
type Builder struct {
	tfs []int // enabled TF durations in seconds, ascending

	// Per-TF per-symbol state: states[tfIdx][symbol].
	states []map[string]*tfState

	// OnStaleBar is called when a bar older than the forming bucket is
	// rejected (optional).
	OnStaleBar func(b model.Bar, tf int)
}

// New creates a TF builder with the given timeframes (in seconds).
func New(tfs []int) (*Builder, error) {
	if len(tfs) == 0 {
		return nil, fmt.Errorf("tfbuilder: no timeframes")
	}
	sorted := append([]int(nil), tfs...)
	sort.Ints(sorted)
	for i, tf := range sorted {
		if tf <= 0 {
			return nil, fmt.Errorf("tfbuilder: timeframe must be positive, got %d", tf)
		}
		if i > 0 && sorted[i-1] == tf {
			return nil, fmt.Errorf("tfbuilder: duplicate timeframe %d", tf)
		}
	}
	states := make([]map[string]*tfState, len(sorted))
	for i := range states {
		states[i] = make(map[string]*tfState, 8)
	}
	return &Builder{tfs: sorted, states: states}, nil
}

// TFs returns the enabled timeframes in ascending order.
func (b *Builder) TFs() []int {
	return append([]int(nil), b.tfs...)
}

// Add merges one bar into every timeframe and returns the bars it
// finalized. A source bar ending exactly on a boundary belongs to the
// bucket that ends there.
func (b *Builder) Add(in model.Bar) []model.Bar {
	ts := in.TS.Unix()
	var out []model.Bar

	for i, tf := range b.tfs {
		tf64 := int64(tf)
		end := ts - mod(ts, tf64)
		if end != ts || in.TS.Nanosecond() != 0 {
			end += tf64
		}

		st, exists := b.states[i][in.Symbol]
		if exists && end < st.bucketEnd {
			if b.OnStaleBar != nil {
				b.OnStaleBar(in, tf)
			}
			continue
		}
		if exists && end > st.bucketEnd {
			out = append(out, st.bar)
			exists = false
		}

		if !exists {
			b.states[i][in.Symbol] = &tfState{
				bucketEnd: end,
				bar: model.Bar{
					Symbol: Symbol(in.Symbol, tf),
					TS:     time.Unix(end, 0).UTC(),
					Open:   in.Open,
					High:   in.High,
					Low:    in.Low,
					Close:  in.Close,
					Volume: in.Volume,
				},
			}
			continue
		}

		fb := &st.bar
		if in.High > fb.High {
			fb.High = in.High
		}
		if in.Low < fb.Low {
			fb.Low = in.Low
		}
		fb.Close = in.Close
		fb.Volume += in.Volume
	}
	return out
}

// Flush finalizes and returns all forming bars, ordered by timestamp.
func (b *Builder) Flush() []model.Bar {
	var out []model.Bar
	for i := range b.tfs {
		for sym, st := range b.states[i] {
			out = append(out, st.bar)
			delete(b.states[i], sym)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	return out
}

// Run consumes bars from in, resamples them, and sends finalized bars to
// out, closing out when it returns. Forming bars are flushed once in
// closes. Sends block, so nothing is dropped for a slow consumer.
func (b *Builder) Run(ctx context.Context, in <-chan model.Bar, out chan<- model.Bar) error {
	defer close(out)
	send := func(bars []model.Bar) error {
		for _, bar := range bars {
			select {
			case out <- bar:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case bar, ok := <-in:
			if !ok {
				return send(b.Flush())
			}
			if err := send(b.Add(bar)); err != nil {
				return err
			}
		}
	}
}

// Symbol names the resampled series of sym at tf seconds, e.g. "ES.5m".
func Symbol(sym string, tf int) string {
	return sym + "." + Label(tf)
}

// Label formats a timeframe in the largest whole unit: 45s, 5m, 4h, 1d.
func Label(tf int) string {
	switch {
	case tf%86400 == 0:
		return strconv.Itoa(tf/86400) + "d"
	case tf%3600 == 0:
		return strconv.Itoa(tf/3600) + "h"
	case tf%60 == 0:
		return strconv.Itoa(tf/60) + "m"
	}
	return strconv.Itoa(tf) + "s"
}

// ParseTFs parses a comma-separated list of timeframes, each either plain
// seconds ("300") or a Go duration ("5m", "1h").
func ParseTFs(s string) ([]int, error) {
	var tfs []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if n, err := strconv.Atoi(part); err == nil {
			tfs = append(tfs, n)
			continue
		}
		d, err := time.ParseDuration(part)
		if err != nil || d%time.Second != 0 {
			return nil, fmt.Errorf("tfbuilder: bad timeframe %q", part)
		}
		tfs = append(tfs, int(d/time.Second))
	}
	return tfs, nil
}

func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
