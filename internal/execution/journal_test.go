package execution

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"backtester/internal/model"
)

func TestJournal_RoundTrip(t *testing.T) {
	j, err := NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer j.Close()

	ctx := context.Background()
	trades := []model.Trade{
		{TradeID: "1", OrderID: "1", Symbol: "IF", Direction: model.DirectionLong, Offset: model.OffsetOpen, Price: 100.5, Volume: 2, TS: t0},
		{TradeID: "2", OrderID: "3", Symbol: "IF", Direction: model.DirectionShort, Offset: model.OffsetClose, Price: 110, Volume: 2, TS: t0.Add(time.Hour)},
	}
	rec := RunRecord{RunID: "run-a", Strategy: "SMA_Crossover", Symbol: "IF", Params: map[string]float64{"fast": 9}}
	if err := j.RecordRun(ctx, rec, trades); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := j.Trades(ctx, "run-a")
	if err != nil {
		t.Fatalf("trades: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(got))
	}
	if got[1].Direction != model.DirectionShort || got[1].Price != 110 || !got[1].TS.Equal(trades[1].TS) {
		t.Errorf("unexpected trade %+v", got[1])
	}

	runs, err := j.Runs(ctx, 10)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Trades != 2 || runs[0].Params["fast"] != 9 {
		t.Errorf("unexpected runs %+v", runs)
	}

	if err := j.RecordRun(ctx, rec, trades); err == nil {
		t.Error("duplicate run id should fail")
	}
}
