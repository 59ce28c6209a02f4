package redis

import (
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"backtester/internal/model"
)

func TestStreamIDRoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 1, 9, 15, 0, 123456789, time.UTC)
	id, err := StreamID(ts)
	if err != nil {
		t.Fatal(err)
	}
	if want := "1709284500123-456789"; id != want {
		t.Fatalf("id = %s, want %s", id, want)
	}
	back, err := ParseStreamID(id)
	if err != nil || !back.Equal(ts) {
		t.Fatalf("parse = %v, %v", back, err)
	}
	if _, err := StreamID(time.Date(1969, 1, 1, 0, 0, 0, 0, time.UTC)); err == nil {
		t.Error("pre-epoch timestamp accepted")
	}
	for _, bad := range []string{"123", "x-1", "1-y"} {
		if _, err := ParseStreamID(bad); err == nil {
			t.Errorf("ParseStreamID(%q) succeeded", bad)
		}
	}
}

func TestRangeBounds(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(time.Second)
	cases := []struct {
		rng         model.Range
		start, stop string
	}{
		{model.Range{}, "-", "+"},
		{model.Range{From: from}, "1704067200000-0", "+"},
		{model.Range{From: from, To: to}, "1704067200000-0", "(1704067201000-0"},
	}
	for _, c := range cases {
		start, stop := rangeBounds(c.rng)
		if start != c.start || stop != c.stop {
			t.Errorf("rangeBounds(%v) = %s %s, want %s %s", c.rng, start, stop, c.start, c.stop)
		}
	}
}

func TestDecodeBar(t *testing.T) {
	msg := goredis.XMessage{
		ID:     "1704067200000-0",
		Values: map[string]interface{}{"data": `{"open":1,"high":2,"low":0.5,"close":1.5,"volume":7}`},
	}
	b, err := decodeBar("ES", msg)
	if err != nil {
		t.Fatal(err)
	}
	if b.Symbol != "ES" || b.High != 2 || !b.TS.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("bar = %+v", b)
	}

	if _, err := decodeBar("ES", goredis.XMessage{ID: "1-0", Values: map[string]interface{}{}}); err == nil {
		t.Error("missing data field accepted")
	}
	if _, err := decodeTick("ES", goredis.XMessage{ID: "1-0", Values: map[string]interface{}{"data": "{"}}); err == nil {
		t.Error("bad JSON accepted")
	}
}

func TestDecodeTickKeepsEmbeddedTimestamp(t *testing.T) {
	msg := goredis.XMessage{
		ID:     "1-0",
		Values: map[string]interface{}{"data": `{"symbol":"NQ","ts":"2024-01-01T00:00:00.5Z","last_price":3}`},
	}
	tk, err := decodeTick("ES", msg)
	if err != nil {
		t.Fatal(err)
	}
	if tk.Symbol != "NQ" || tk.LastPrice != 3 || tk.TS.Nanosecond() != 500000000 {
		t.Errorf("tick = %+v", tk)
	}
}

func TestDecodeBarRejectsInconsistentOHLC(t *testing.T) {
	msg := goredis.XMessage{
		ID:     "1704067200000-0",
		Values: map[string]interface{}{"data": `{"open":3,"high":2,"low":1,"close":1.5}`},
	}
	if _, err := decodeBar("ES", msg); err == nil {
		t.Error("open above high accepted")
	}
}
