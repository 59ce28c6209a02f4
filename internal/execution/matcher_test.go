package execution

import (
	"testing"
	"time"

	"pgregory.net/rapid"

	"backtester/internal/model"
)

var t0 = time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

// recorder captures callbacks in order.
type recorder struct {
	events []string
	trades []model.Trade
	orders []model.LimitOrder

	onTrade func(model.Trade)
}

func (r *recorder) OnTrade(t model.Trade) {
	r.events = append(r.events, "trade:"+t.OrderID)
	r.trades = append(r.trades, t)
	if r.onTrade != nil {
		r.onTrade(t)
	}
}

func (r *recorder) OnOrder(o model.LimitOrder) {
	r.events = append(r.events, "order:"+o.OrderID)
	r.orders = append(r.orders, o)
}

func bar(o, h, l, c float64) model.Bar {
	return model.Bar{Symbol: "IF", TS: t0, Open: o, High: h, Low: l, Close: c}
}

func TestMatcher_LimitLongFillsAtOpen(t *testing.T) {
	m := NewMatcher("IF")
	id := m.SubmitLimit("IF", model.DirectionLong, model.OffsetOpen, 105, 3)

	rec := &recorder{}
	m.CrossBar(bar(100, 125, 90, 110), rec)

	if len(rec.trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(rec.trades))
	}
	if rec.trades[0].Price != 100 {
		t.Errorf("expected fill at open 100, got %v", rec.trades[0].Price)
	}
	if m.Position().Qty != 3 {
		t.Errorf("expected position 3, got %d", m.Position().Qty)
	}
	o, _ := m.Book().LimitOrder(id)
	if o.Status != model.OrderFilled || o.TradedVolume != 3 {
		t.Errorf("expected filled order, got %+v", o)
	}
	if len(m.Book().WorkingLimit()) != 0 {
		t.Error("filled order must leave the working set")
	}
	want := []string{"trade:" + id, "order:" + id}
	if len(rec.events) != 2 || rec.events[0] != want[0] || rec.events[1] != want[1] {
		t.Errorf("expected %v, got %v", want, rec.events)
	}
}

func TestMatcher_LimitPrices(t *testing.T) {
	cases := []struct {
		name    string
		dir     model.Direction
		price   float64
		b       model.Bar
		fills   bool
		fillAt  float64
		posSign int64
	}{
		{"long at limit inside bar", model.DirectionLong, 95, bar(100, 125, 90, 110), true, 95, 1},
		{"long boundary low inclusive", model.DirectionLong, 90, bar(100, 125, 90, 110), true, 90, 1},
		{"long below low", model.DirectionLong, 89.5, bar(100, 125, 90, 110), false, 0, 0},
		{"short at limit inside bar", model.DirectionShort, 120, bar(100, 125, 90, 110), true, 120, -1},
		{"short below open fills at open", model.DirectionShort, 95, bar(100, 125, 90, 110), true, 100, -1},
		{"short boundary high inclusive", model.DirectionShort, 125, bar(100, 125, 90, 110), true, 125, -1},
		{"short above high", model.DirectionShort, 126, bar(100, 125, 90, 110), false, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewMatcher("IF")
			m.SubmitLimit("IF", tc.dir, model.OffsetOpen, tc.price, 1)
			rec := &recorder{}
			m.CrossBar(tc.b, rec)
			if !tc.fills {
				if len(rec.trades) != 0 {
					t.Fatalf("expected no fill, got %+v", rec.trades)
				}
				if len(m.Book().WorkingLimit()) != 1 {
					t.Fatal("unfilled order must stay pending")
				}
				return
			}
			if len(rec.trades) != 1 || rec.trades[0].Price != tc.fillAt {
				t.Fatalf("expected fill at %v, got %+v", tc.fillAt, rec.trades)
			}
			if m.Position().Qty != tc.posSign {
				t.Errorf("expected position %d, got %d", tc.posSign, m.Position().Qty)
			}
		})
	}
}

func TestMatcher_StopLongGapThrough(t *testing.T) {
	m := NewMatcher("IF")
	sid := m.SubmitStop("IF", model.DirectionLong, model.OffsetOpen, 120, 2)

	rec := &recorder{}
	m.CrossBar(bar(100, 130, 95, 125), rec)

	if len(rec.trades) != 1 || rec.trades[0].Price != 120 {
		t.Fatalf("expected trigger at 120, got %+v", rec.trades)
	}
	so, _ := m.Book().StopOrder(sid)
	if so.Status != model.StopTriggered {
		t.Errorf("expected triggered, got %s", so.Status)
	}
	if so.OrderID == "" || so.OrderID != rec.trades[0].OrderID {
		t.Errorf("stop must link to generated order, got %q vs trade order %q", so.OrderID, rec.trades[0].OrderID)
	}
	o, ok := m.Book().LimitOrder(so.OrderID)
	if !ok || o.Status != model.OrderFilled || o.Price != 120 {
		t.Errorf("expected generated filled order at 120, got %+v ok=%v", o, ok)
	}
	if m.Position().Qty != 2 {
		t.Errorf("expected position 2, got %d", m.Position().Qty)
	}

	// gap: open already above the stop
	m2 := NewMatcher("IF")
	m2.SubmitStop("IF", model.DirectionLong, model.OffsetOpen, 120, 1)
	rec2 := &recorder{}
	m2.CrossBar(bar(128, 130, 126, 129), rec2)
	if len(rec2.trades) != 1 || rec2.trades[0].Price != 128 {
		t.Fatalf("expected gap fill at open 128, got %+v", rec2.trades)
	}
}

func TestMatcher_StopShort(t *testing.T) {
	m := NewMatcher("IF")
	m.SubmitStop("IF", model.DirectionShort, model.OffsetClose, 92, 1)
	rec := &recorder{}
	m.CrossBar(bar(100, 101, 92, 93), rec) // boundary low == stop
	if len(rec.trades) != 1 || rec.trades[0].Price != 92 {
		t.Fatalf("expected trigger at 92, got %+v", rec.trades)
	}
	m.SubmitStop("IF", model.DirectionShort, model.OffsetOpen, 92, 1)
	rec = &recorder{}
	m.CrossBar(bar(90, 91, 85, 86), rec)
	if len(rec.trades) != 1 || rec.trades[0].Price != 90 {
		t.Fatalf("expected gap fill at open 90, got %+v", rec.trades)
	}
	if m.Position().Qty != -2 {
		t.Errorf("expected position -2, got %d", m.Position().Qty)
	}
}

func TestMatcher_TickMode(t *testing.T) {
	m := NewMatcher("IF")
	m.SubmitLimit("IF", model.DirectionLong, model.OffsetOpen, 100.4, 1)
	m.SubmitLimit("IF", model.DirectionShort, model.OffsetOpen, 99.5, 1)
	m.SubmitStop("IF", model.DirectionLong, model.OffsetOpen, 100, 1)

	rec := &recorder{}
	m.CrossTick(model.Tick{Symbol: "IF", TS: t0, LastPrice: 100, BidPrice: 99.8, AskPrice: 100.2}, rec)

	if len(rec.trades) != 3 {
		t.Fatalf("expected 3 fills, got %d", len(rec.trades))
	}
	if rec.trades[0].Price != 100.2 {
		t.Errorf("long limit should fill at ask 100.2, got %v", rec.trades[0].Price)
	}
	if rec.trades[1].Price != 99.8 {
		t.Errorf("short limit should fill at bid 99.8, got %v", rec.trades[1].Price)
	}
	if rec.trades[2].Price != 100 {
		t.Errorf("long stop should fill at last 100, got %v", rec.trades[2].Price)
	}
}

func TestMatcher_CancelIsIdempotent(t *testing.T) {
	m := NewMatcher("IF")
	id := m.SubmitLimit("IF", model.DirectionLong, model.OffsetOpen, 50, 1)
	sid := m.SubmitStop("IF", model.DirectionLong, model.OffsetOpen, 500, 1)

	m.CancelLimit(id)
	m.CancelLimit(id)
	m.CancelLimit("does-not-exist")
	m.CancelStop(sid)
	m.CancelStop(sid)
	m.CancelStop("STOP.999")

	o, _ := m.Book().LimitOrder(id)
	if o.Status != model.OrderCancelled {
		t.Errorf("expected cancelled, got %s", o.Status)
	}
	so, _ := m.Book().StopOrder(sid)
	if so.Status != model.StopCancelled {
		t.Errorf("expected cancelled, got %s", so.Status)
	}

	rec := &recorder{}
	m.CrossBar(bar(100, 600, 10, 100), rec)
	if len(rec.trades) != 0 {
		t.Fatalf("cancelled orders must not fill, got %+v", rec.trades)
	}

	// cancelling a filled order leaves it filled
	fid := m.SubmitLimit("IF", model.DirectionLong, model.OffsetOpen, 200, 1)
	m.CrossBar(bar(100, 110, 90, 100), nil)
	m.CancelLimit(fid)
	if o, _ := m.Book().LimitOrder(fid); o.Status != model.OrderFilled {
		t.Errorf("filled order is immutable, got %s", o.Status)
	}
}

func TestMatcher_CancelDuringCallbackDeferred(t *testing.T) {
	m := NewMatcher("IF")
	first := m.SubmitLimit("IF", model.DirectionLong, model.OffsetOpen, 105, 1)
	second := m.SubmitLimit("IF", model.DirectionLong, model.OffsetOpen, 104, 1)
	stop := m.SubmitStop("IF", model.DirectionLong, model.OffsetOpen, 200, 1)

	rec := &recorder{}
	rec.onTrade = func(tr model.Trade) {
		if tr.OrderID == first {
			m.CancelLimit(second)
			m.CancelStop(stop)
		}
	}
	m.CrossBar(bar(100, 125, 90, 110), rec)

	if len(rec.trades) != 2 {
		t.Fatalf("cancel issued mid-event must not stop this event's fill, got %d trades", len(rec.trades))
	}
	if o, _ := m.Book().LimitOrder(second); o.Status != model.OrderFilled {
		t.Errorf("expected second filled, got %s", o.Status)
	}
	// stop did not trigger this event; the deferred cancel lands afterwards
	if so, _ := m.Book().StopOrder(stop); so.Status != model.StopCancelled {
		t.Errorf("expected stop cancelled after event, got %s", so.Status)
	}
}

func TestMatcher_OrdersPlacedMidEventWaitForNextEvent(t *testing.T) {
	m := NewMatcher("IF")
	m.SubmitLimit("IF", model.DirectionLong, model.OffsetOpen, 105, 1)

	var placed string
	rec := &recorder{}
	rec.onTrade = func(model.Trade) {
		if placed == "" {
			placed = m.SubmitStop("IF", model.DirectionShort, model.OffsetClose, 95, 1)
		}
	}
	m.CrossBar(bar(100, 125, 90, 110), rec)
	if len(rec.trades) != 1 {
		t.Fatalf("stop placed during the event must not trigger on it, got %d trades", len(rec.trades))
	}

	m.CrossBar(model.Bar{Symbol: "IF", TS: t0.Add(time.Minute), Open: 96, High: 97, Low: 94, Close: 94}, rec)
	if len(rec.trades) != 2 || rec.trades[1].Price != 95 {
		t.Fatalf("expected stop to trigger on next bar at 95, got %+v", rec.trades)
	}
	if m.Position().Qty != 0 {
		t.Errorf("expected flat, got %d", m.Position().Qty)
	}
}

func TestMatcher_IDsMonotonic(t *testing.T) {
	m := NewMatcher("IF")
	a := m.SubmitLimit("IF", model.DirectionLong, model.OffsetOpen, 1, 1)
	b := m.SubmitLimit("IF", model.DirectionLong, model.OffsetOpen, 1, 1)
	s1 := m.SubmitStop("IF", model.DirectionLong, model.OffsetOpen, 1, 1)
	s2 := m.SubmitStop("IF", model.DirectionLong, model.OffsetOpen, 1, 1)
	if a != "1" || b != "2" || s1 != "STOP.1" || s2 != "STOP.2" {
		t.Fatalf("unexpected ids %s %s %s %s", a, b, s1, s2)
	}
}

func drawBar(t *rapid.T) model.Bar {
	low := rapid.Float64Range(1, 1000).Draw(t, "low")
	high := low + rapid.Float64Range(0, 100).Draw(t, "span")
	open := rapid.Float64Range(low, high).Draw(t, "open")
	cls := rapid.Float64Range(low, high).Draw(t, "close")
	return model.Bar{Symbol: "IF", TS: t0, Open: open, High: high, Low: low, Close: cls}
}

func TestProperty_LimitFillNeverWorseThanLimit(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := NewMatcher("IF")
		n := rapid.IntRange(1, 10).Draw(t, "orders")
		limits := make(map[string]model.LimitOrder)
		for i := 0; i < n; i++ {
			dir := rapid.SampledFrom([]model.Direction{model.DirectionLong, model.DirectionShort}).Draw(t, "dir")
			price := rapid.Float64Range(1, 1100).Draw(t, "price")
			id := m.SubmitLimit("IF", dir, model.OffsetOpen, price, 1)
			limits[id], _ = m.Book().LimitOrder(id)
		}
		rec := &recorder{}
		m.CrossBar(drawBar(t), rec)
		for _, tr := range rec.trades {
			o := limits[tr.OrderID]
			if o.Direction == model.DirectionLong && tr.Price > o.Price {
				t.Fatalf("long filled at %v above limit %v", tr.Price, o.Price)
			}
			if o.Direction == model.DirectionShort && tr.Price < o.Price {
				t.Fatalf("short filled at %v below limit %v", tr.Price, o.Price)
			}
		}
	})
}

func TestProperty_StopFillNeverBetterThanStop(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := NewMatcher("IF")
		n := rapid.IntRange(1, 10).Draw(t, "orders")
		stops := make(map[string]model.StopOrder)
		for i := 0; i < n; i++ {
			dir := rapid.SampledFrom([]model.Direction{model.DirectionLong, model.DirectionShort}).Draw(t, "dir")
			price := rapid.Float64Range(1, 1100).Draw(t, "price")
			id := m.SubmitStop("IF", dir, model.OffsetOpen, price, 1)
			stops[id], _ = m.Book().StopOrder(id)
		}
		rec := &recorder{}
		m.CrossBar(drawBar(t), rec)
		for id, so := range stops {
			after, _ := m.Book().StopOrder(id)
			if after.Status != model.StopTriggered {
				continue
			}
			for _, tr := range rec.trades {
				if tr.OrderID != after.OrderID {
					continue
				}
				if so.Direction == model.DirectionLong && tr.Price < so.Price {
					t.Fatalf("long stop filled at %v below stop %v", tr.Price, so.Price)
				}
				if so.Direction == model.DirectionShort && tr.Price > so.Price {
					t.Fatalf("short stop filled at %v above stop %v", tr.Price, so.Price)
				}
			}
		}
	})
}
