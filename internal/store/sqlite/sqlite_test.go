package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"backtester/internal/model"
)

func openPair(t *testing.T) (*Writer, *Reader) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bars.db")
	w, err := NewWriter(context.Background(), path)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return w, r
}

var t0 = time.Date(2024, 3, 1, 9, 15, 0, 0, time.UTC)

func TestBarsRoundTripInRange(t *testing.T) {
	w, r := openPair(t)
	var bars []model.Bar
	for i := 4; i >= 0; i-- { // inserted out of order
		bars = append(bars, model.Bar{Symbol: "ES", TS: t0.Add(time.Duration(i) * time.Minute),
			Open: 100 + float64(i), High: 101 + float64(i), Low: 99, Close: 100.5, Volume: 3})
	}
	bars = append(bars, model.Bar{Symbol: "NQ", TS: t0, Open: 1, High: 1, Low: 1, Close: 1})
	if err := w.InsertBars(context.Background(), bars); err != nil {
		t.Fatalf("InsertBars: %v", err)
	}

	cur, err := r.Bars(context.Background(), "ES", model.Range{From: t0.Add(time.Minute), To: t0.Add(4 * time.Minute)})
	if err != nil {
		t.Fatal(err)
	}
	defer cur.Close()
	var got []model.Bar
	for {
		b, ok := cur.Next()
		if !ok {
			break
		}
		got = append(got, b)
	}
	if err := cur.Err(); err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d bars, want 3", len(got))
	}
	for i, b := range got {
		want := t0.Add(time.Duration(i+1) * time.Minute)
		if !b.TS.Equal(want) || b.Symbol != "ES" || b.Open != 101+float64(i) {
			t.Errorf("bar %d = %+v", i, b)
		}
	}

	last, err := w.LastTimestamp(context.Background(), "ES")
	if err != nil || !last.Equal(t0.Add(4*time.Minute)) {
		t.Errorf("LastTimestamp = %v, %v", last, err)
	}
	syms, err := r.Symbols(context.Background())
	if err != nil || len(syms) != 2 || syms[0] != "ES" {
		t.Errorf("Symbols = %v, %v", syms, err)
	}
}

func TestTicksKeepSubSecondOrder(t *testing.T) {
	w, r := openPair(t)
	ticks := []model.Tick{
		{Symbol: "ES", TS: t0.Add(500 * time.Millisecond), LastPrice: 2, BidPrice: 1.5, AskPrice: 2.5},
		{Symbol: "ES", TS: t0, LastPrice: 1, BidPrice: 0.5, AskPrice: 1.5},
	}
	if err := w.InsertTicks(context.Background(), ticks); err != nil {
		t.Fatal(err)
	}
	cur, err := r.Ticks(context.Background(), "ES", model.Range{})
	if err != nil {
		t.Fatal(err)
	}
	defer cur.Close()
	first, _ := cur.Next()
	second, _ := cur.Next()
	if _, ok := cur.Next(); ok {
		t.Fatal("extra tick")
	}
	if first.LastPrice != 1 || second.LastPrice != 2 || !second.TS.Equal(t0.Add(500*time.Millisecond)) {
		t.Errorf("ticks = %+v %+v", first, second)
	}
}

func TestRunBatchesChannel(t *testing.T) {
	w, r := openPair(t)
	ch := make(chan model.Bar)
	done := make(chan int)
	go func() { done <- w.Run(context.Background(), ch) }()
	for i := range 3 {
		ch <- model.Bar{Symbol: "ES", TS: t0.Add(time.Duration(i) * time.Second), Open: 1, High: 1, Low: 1, Close: 1}
	}
	close(ch)
	if n := <-done; n != 3 {
		t.Fatalf("committed %d", n)
	}
	cur, _ := r.Bars(context.Background(), "ES", model.Range{})
	defer cur.Close()
	n := 0
	for _, ok := cur.Next(); ok; _, ok = cur.Next() {
		n++
	}
	if n != 3 {
		t.Errorf("read back %d bars", n)
	}
}

func TestEmptyDatabaseHasNoData(t *testing.T) {
	r, err := NewReader(filepath.Join(t.TempDir(), "empty.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	cur, err := r.Bars(context.Background(), "ES", model.Range{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := cur.Next(); ok {
		t.Fatal("bar from empty database")
	}
	if err := cur.Err(); err != nil {
		t.Fatal(err)
	}
	if err := cur.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.db")
	ctx := context.Background()
	for range 2 {
		w, err := NewWriter(ctx, path)
		if err != nil {
			t.Fatalf("NewWriter: %v", err)
		}
		var version int
		if err := w.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
			t.Fatal(err)
		}
		if version != len(migrations) {
			t.Errorf("user_version = %d, want %d", version, len(migrations))
		}
		w.Close()
	}
}

func TestImportLedger(t *testing.T) {
	w, _ := openPair(t)
	ctx := context.Background()

	if _, ok, err := w.LastImport(ctx, "ES", "bars"); ok || err != nil {
		t.Fatalf("empty ledger: ok=%v err=%v", ok, err)
	}

	done := t0.Add(time.Hour)
	recs := []Import{
		{Symbol: "ES", Kind: "bars", Source: "ES.csv", Rows: 10, First: t0, Last: t0.Add(9 * time.Minute), FinishedAt: done},
		{Symbol: "ES", Kind: "bars", Source: "ES.csv", Rows: 0, FinishedAt: done.Add(time.Hour)},
		{Symbol: "ES", Kind: "ticks", Source: "ES_ticks.csv", Rows: 3, First: t0, Last: t0, FinishedAt: done},
	}
	for _, r := range recs {
		if err := w.RecordImport(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	got, ok, err := w.LastImport(ctx, "ES", "bars")
	if err != nil || !ok {
		t.Fatalf("LastImport: ok=%v err=%v", ok, err)
	}
	if got.Rows != 0 || !got.First.IsZero() || !got.FinishedAt.Equal(done.Add(time.Hour)) {
		t.Errorf("latest bars import = %+v", got)
	}
	got, _, _ = w.LastImport(ctx, "ES", "ticks")
	if got.Rows != 3 || !got.Last.Equal(t0) || got.Source != "ES_ticks.csv" {
		t.Errorf("ticks import = %+v", got)
	}
}

func TestBarsCursorStopsOnInconsistentRow(t *testing.T) {
	w, r := openPair(t)
	ctx := context.Background()
	bars := []model.Bar{
		{Symbol: "ES", TS: t0, Open: 1, High: 1, Low: 1, Close: 1},
		{Symbol: "ES", TS: t0.Add(time.Minute), Open: 1, High: 2, Low: 1.5, Close: 1.8}, // low above open
	}
	if err := w.InsertBars(ctx, bars); err != nil {
		t.Fatalf("InsertBars: %v", err)
	}
	cur, err := r.Bars(ctx, "ES", model.Range{})
	if err != nil {
		t.Fatal(err)
	}
	defer cur.Close()
	if _, ok := cur.Next(); !ok {
		t.Fatal("first bar missing")
	}
	if b, ok := cur.Next(); ok {
		t.Fatalf("inconsistent bar passed through: %+v", b)
	}
	if cur.Err() == nil {
		t.Fatal("cursor ended without an error")
	}
}
