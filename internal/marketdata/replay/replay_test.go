package replay

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"pgregory.net/rapid"

	"backtester/internal/marketdata/feed"
	"backtester/internal/model"
)

var base = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func at(min int) time.Time { return base.Add(time.Duration(min) * time.Minute) }

func flat(sym string, ts time.Time, c float64) model.Bar {
	return model.Bar{Symbol: sym, TS: ts, Open: c, High: c, Low: c, Close: c}
}

func cursor(t *testing.T, src *feed.SliceSource, symbol string) model.BarCursor {
	t.Helper()
	c, err := src.Bars(context.Background(), symbol, model.Range{})
	if err != nil {
		t.Fatalf("cursor %s: %v", symbol, err)
	}
	return c
}

func TestSynchronizer_AlignsToPrimaryClock(t *testing.T) {
	src := feed.NewSliceSource()
	// 30-minute info bars against a 15-minute primary clock
	src.AddBars(
		flat("GC_30m", at(30), 1),
		flat("GC_30m", at(60), 2),
	)

	s, err := New(nil, Stream{Name: "GC_30m", Cursor: cursor(t, src, "GC_30m")})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	cases := []struct {
		ts    time.Time
		want  float64
		empty bool
	}{
		{at(15), 0, true},
		{at(30), 1, false},
		{at(45), 0, true},
		{at(60), 2, false},
		{at(75), 0, true}, // exhausted
		{at(90), 0, true},
	}
	for _, tc := range cases {
		snap := s.Advance(tc.ts)
		bar, ok := snap.Get("GC_30m")
		if tc.empty {
			if ok {
				t.Errorf("at %s: expected no update, got %+v", tc.ts.Format("15:04"), bar)
			}
			if _, present := snap["GC_30m"]; !present {
				t.Errorf("at %s: stream missing from snapshot", tc.ts.Format("15:04"))
			}
			continue
		}
		if !ok || bar.Close != tc.want {
			t.Errorf("at %s: expected close=%v, got %+v ok=%v", tc.ts.Format("15:04"), tc.want, bar, ok)
		}
	}
}

func TestSynchronizer_EmptyStreamReportsNoData(t *testing.T) {
	src := feed.NewSliceSource()
	src.AddBars(flat("CL_1m", at(1), 5))

	var exhausted []string
	s, err := New(nil,
		Stream{Name: "EMPTY", Cursor: cursor(t, src, "EMPTY")},
		Stream{Name: "CL_1m", Cursor: cursor(t, src, "CL_1m")},
	)
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
	s.OnExhausted = func(name string) { exhausted = append(exhausted, name) }

	snap := s.Advance(at(5))
	if _, ok := snap.Get("EMPTY"); ok {
		t.Error("empty stream must never update")
	}
	if b, ok := snap.Get("CL_1m"); !ok || b.Close != 5 {
		t.Errorf("expected CL_1m update, got %+v ok=%v", b, ok)
	}
	s.Advance(at(6))
	s.Advance(at(7))
	if len(exhausted) != 1 || exhausted[0] != "CL_1m" {
		t.Errorf("expected one exhaustion callback for CL_1m, got %v", exhausted)
	}
	if snap.Updated() != 1 {
		t.Errorf("expected 1 updated stream, got %d", snap.Updated())
	}
}

func TestSynchronizer_IndependentCursorsPerPhase(t *testing.T) {
	src := feed.NewSliceSource()
	src.AddBars(
		flat("X", at(1), 1),
		flat("X", at(2), 2),
	)
	initSync, _ := New(nil, Stream{Name: "X", Cursor: cursor(t, src, "X")})
	runSync, _ := New(nil, Stream{Name: "X", Cursor: cursor(t, src, "X")})

	initSync.Advance(at(1))
	initSync.Advance(at(2))

	b, ok := runSync.Advance(at(1)).Get("X")
	if !ok || b.Close != 1 {
		t.Fatalf("run phase must start from its own cursor, got %+v ok=%v", b, ok)
	}
}

func TestProperty_NoLookAheadExactlyOnce(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		auxMinutes := rapid.SliceOfN(rapid.IntRange(0, 500), 0, 40).Draw(t, "aux")
		primary := rapid.SliceOfN(rapid.IntRange(0, 600), 1, 60).Draw(t, "primary")
		sort.Ints(auxMinutes)
		sort.Ints(primary)

		src := feed.NewSliceSource()
		for i, m := range auxMinutes {
			src.AddBars(flat("AUX", at(m), float64(i)))
		}
		c, _ := src.Bars(context.Background(), "AUX", model.Range{})
		s, _ := New(nil, Stream{Name: "AUX", Cursor: c})

		next := 0
		for _, m := range primary {
			now := at(m)
			b, ok := s.Advance(now).Get("AUX")
			if !ok {
				if next < len(auxMinutes) && !at(auxMinutes[next]).After(now) {
					t.Fatalf("record %d at %d withheld at primary %d", next, auxMinutes[next], m)
				}
				continue
			}
			if b.TS.After(now) {
				t.Fatalf("look-ahead: emitted %v at primary %v", b.TS, now)
			}
			if int(b.Close) != next {
				t.Fatalf("expected record %d, got %d", next, int(b.Close))
			}
			next++
		}
	})
}
