package feed

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"backtester/internal/model"
)

var t0 = time.Date(2024, 1, 2, 9, 15, 0, 0, time.UTC)

func flat(sym string, ts time.Time, c float64) model.Bar {
	return model.Bar{Symbol: sym, TS: ts, Open: c, High: c, Low: c, Close: c}
}

func TestSliceSource_SortsAndFilters(t *testing.T) {
	src := NewSliceSource()
	src.AddBars(
		flat("IF", t0.Add(2*time.Minute), 3),
		flat("IF", t0, 1),
		flat("IF", t0.Add(time.Minute), 2),
		flat("IH", t0, 9),
	)

	cur, err := src.Bars(context.Background(), "IF", model.Range{From: t0.Add(time.Minute)})
	if err != nil {
		t.Fatalf("bars: %v", err)
	}
	var got []float64
	for {
		b, ok := cur.Next()
		if !ok {
			break
		}
		got = append(got, b.Close)
	}
	if len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Fatalf("expected [2 3], got %v", got)
	}
}

func TestSliceSource_RejectsInconsistentBar(t *testing.T) {
	src := NewSliceSource()
	src.AddBars(
		flat("IF", t0, 1),
		model.Bar{Symbol: "IF", TS: t0.Add(time.Minute), Open: 2, High: 1.5, Low: 1, Close: 1.2},
		flat("IF", t0.Add(2*time.Minute), 3),
	)
	cur, _ := src.Bars(context.Background(), "IF", model.Range{})
	if b, ok := cur.Next(); !ok || b.Close != 1 {
		t.Fatalf("first bar = %+v ok=%v", b, ok)
	}
	if b, ok := cur.Next(); ok {
		t.Fatalf("open above high passed through: %+v", b)
	}
	if cur.Err() == nil {
		t.Fatal("cursor stopped without an error")
	}
	if _, ok := cur.Next(); ok {
		t.Error("cursor resumed after a bad bar")
	}
}

func TestSliceSource_CursorsAreIndependent(t *testing.T) {
	src := NewSliceSource()
	src.AddTicks(
		model.Tick{Symbol: "IF", TS: t0, LastPrice: 1},
		model.Tick{Symbol: "IF", TS: t0.Add(time.Second), LastPrice: 2},
	)
	a, _ := src.Ticks(context.Background(), "IF", model.Range{})
	b, _ := src.Ticks(context.Background(), "IF", model.Range{})

	a.Next()
	a.Next()
	if _, ok := a.Next(); ok {
		t.Fatal("cursor a should be exhausted")
	}
	tk, ok := b.Next()
	if !ok || tk.LastPrice != 1 {
		t.Fatalf("cursor b should start fresh, got %+v ok=%v", tk, ok)
	}
}

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestCSVSource_Bars(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "IF.csv", `datetime,open,high,low,close,volume
2024-01-02 09:15:00,100.1,101.3,99.9,100.7,12
2024-01-02 09:16:00,100.7,102.0,100.5,101.9,8
2024-01-02 09:17:00,101.9,102.2,101.0,101.2,5
`)
	src := NewCSVSource(dir)
	cur, err := src.Bars(context.Background(), "IF", model.Range{From: t0.Add(time.Minute), To: t0.Add(2 * time.Minute)})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer cur.Close()

	b, ok := cur.Next()
	if !ok {
		t.Fatalf("expected one bar, err=%v", cur.Err())
	}
	if b.Symbol != "IF" || b.Open != 100.7 || b.High != 102.0 || b.Close != 101.9 || b.Volume != 8 {
		t.Errorf("unexpected bar %+v", b)
	}
	if !b.TS.Equal(t0.Add(time.Minute)) {
		t.Errorf("expected ts %v, got %v", t0.Add(time.Minute), b.TS)
	}
	if _, ok := cur.Next(); ok {
		t.Fatal("bar at range end must be excluded")
	}
	if cur.Err() != nil {
		t.Fatalf("unexpected error: %v", cur.Err())
	}
}

func TestCSVSource_RejectsBadRows(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "BAD.csv", `datetime,open,high,low,close,volume
2024-01-02 09:15:00,100,99,98,100,1
`)
	writeFile(t, dir, "OOO.csv", `datetime,open,high,low,close,volume
2024-01-02 09:16:00,100,101,99,100,1
2024-01-02 09:15:00,100,101,99,100,1
`)
	src := NewCSVSource(dir)

	cur, _ := src.Bars(context.Background(), "BAD", model.Range{})
	if _, ok := cur.Next(); ok || cur.Err() == nil {
		t.Fatal("expected OHLC validation error")
	}

	cur, _ = src.Bars(context.Background(), "OOO", model.Range{})
	if _, ok := cur.Next(); !ok {
		t.Fatalf("first row should decode: %v", cur.Err())
	}
	if _, ok := cur.Next(); ok || cur.Err() == nil {
		t.Fatal("expected out-of-order error")
	}
}

func TestCSVSource_Ticks(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "IF.ticks.csv", `datetime,bid,ask,last,volume
2024-01-02T09:15:00.5Z,99.8,100.2,100,3
`)
	cur, err := NewCSVSource(dir).Ticks(context.Background(), "IF", model.Range{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	tk, ok := cur.Next()
	if !ok {
		t.Fatalf("expected tick: %v", cur.Err())
	}
	if tk.BidPrice != 99.8 || tk.AskPrice != 100.2 || tk.LastPrice != 100 {
		t.Errorf("unexpected tick %+v", tk)
	}
}

func TestCSVSource_MissingColumn(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "X.csv", "datetime,open,high\n")
	if _, err := NewCSVSource(dir).Bars(context.Background(), "X", model.Range{}); err == nil {
		t.Fatal("expected missing column error")
	}
}

func TestCSVWriteThenRead(t *testing.T) {
	dir := t.TempDir()
	src := NewCSVSource(dir)
	bars := []model.Bar{
		{Symbol: "ES", TS: t0, Open: 100.25, High: 101, Low: 99.75, Close: 100.5, Volume: 12},
		{Symbol: "ES", TS: t0.Add(time.Minute), Open: 100.5, High: 100.75, Low: 100, Close: 100.25, Volume: 3},
	}
	ticks := []model.Tick{
		{Symbol: "ES", TS: t0.Add(250 * time.Millisecond), LastPrice: 0.1 + 0.2, BidPrice: 0.25, AskPrice: 0.5, Volume: 1},
	}

	f, err := os.Create(src.BarPath("ES"))
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteBarsCSV(f, bars); err != nil {
		t.Fatal(err)
	}
	f.Close()
	f, err = os.Create(src.TickPath("ES"))
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteTicksCSV(f, ticks); err != nil {
		t.Fatal(err)
	}
	f.Close()

	cur, err := src.Bars(context.Background(), "ES", model.Range{})
	if err != nil {
		t.Fatal(err)
	}
	defer cur.Close()
	for i := range bars {
		b, ok := cur.Next()
		if !ok {
			t.Fatalf("bar %d missing: %v", i, cur.Err())
		}
		want := bars[i]
		if !b.TS.Equal(want.TS) || b.Symbol != want.Symbol || b.Open != want.Open || b.High != want.High ||
			b.Low != want.Low || b.Close != want.Close || b.Volume != want.Volume {
			t.Errorf("bar %d = %+v, want %+v", i, b, bars[i])
		}
	}
	if _, ok := cur.Next(); ok {
		t.Error("unexpected extra bar")
	}

	tc, err := src.Ticks(context.Background(), "ES", model.Range{})
	if err != nil {
		t.Fatal(err)
	}
	defer tc.Close()
	tk, ok := tc.Next()
	if !ok {
		t.Fatalf("tick missing: %v", tc.Err())
	}
	if !tk.TS.Equal(ticks[0].TS) || tk.LastPrice != ticks[0].LastPrice {
		t.Errorf("tick = %+v, want %+v", tk, ticks[0])
	}
}
