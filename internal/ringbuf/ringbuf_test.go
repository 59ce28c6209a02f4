package ringbuf

import (
	"testing"

	"backtester/internal/model"
)

func TestWindow_BasicPushAt(t *testing.T) {
	w := New(4)

	w.Push(model.Bar{Symbol: "A", Close: 100})
	w.Push(model.Bar{Symbol: "B", Close: 200})

	if w.Len() != 2 {
		t.Fatalf("expected len=2, got %d", w.Len())
	}

	got, ok := w.At(0)
	if !ok || got.Symbol != "A" {
		t.Fatalf("expected A, got %v ok=%v", got.Symbol, ok)
	}

	got, ok = w.Last()
	if !ok || got.Symbol != "B" {
		t.Fatalf("expected B, got %v ok=%v", got.Symbol, ok)
	}

	if _, ok := w.At(2); ok {
		t.Fatal("At past len should return false")
	}
	if _, ok := New(3).Last(); ok {
		t.Fatal("Last on empty window should return false")
	}
}

func TestWindow_Overwrite(t *testing.T) {
	w := New(2)

	w.Push(model.Bar{Symbol: "1"})
	w.Push(model.Bar{Symbol: "2"})
	if !w.Full() {
		t.Fatal("window should be full")
	}

	w.Push(model.Bar{Symbol: "3"})
	if w.Overwritten() != 1 {
		t.Fatalf("expected overwritten=1, got %d", w.Overwritten())
	}
	first, _ := w.At(0)
	last, _ := w.At(-1)
	if first.Symbol != "2" || last.Symbol != "3" {
		t.Fatalf("expected [2 3], got [%s %s]", first.Symbol, last.Symbol)
	}
}

func TestWindow_Wraparound(t *testing.T) {
	w := New(4)

	for i := 0; i < 23; i++ {
		w.Push(model.Bar{Close: float64(i)})
	}
	closes := w.Closes()
	want := []float64{19, 20, 21, 22}
	for i := range want {
		if closes[i] != want[i] {
			t.Fatalf("at %d: expected %v, got %v", i, want[i], closes[i])
		}
	}
}

func TestWindow_HighestLowest(t *testing.T) {
	w := New(3)
	bars := []model.Bar{
		{High: 50, Low: 1},
		{High: 12, Low: 8},
		{High: 15, Low: 9},
		{High: 11, Low: 7},
	}
	for _, b := range bars {
		w.Push(b)
	}
	// the first bar has been evicted
	if w.Highest() != 15 {
		t.Errorf("expected highest 15, got %v", w.Highest())
	}
	if w.Lowest() != 7 {
		t.Errorf("expected lowest 7, got %v", w.Lowest())
	}
}
