package redis

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"backtester/internal/model"
)

// Stream key layout:
//
//	bar:{symbol}   one entry per bar, field "data" = JSON model.Bar
//	tick:{symbol}  one entry per tick, field "data" = JSON model.Tick
//
// Entry ids are derived from the record timestamp as <unix ms>-<sub-ms ns>,
// so XRANGE over ids is a range over time.
func BarStream(symbol string) string  { return "bar:" + symbol }
func TickStream(symbol string) string { return "tick:" + symbol }

// StreamID returns the entry id for a record stamped ts.
func StreamID(ts time.Time) (string, error) {
	ns := ts.UnixNano()
	if ns < 0 {
		return "", fmt.Errorf("redis stream id: timestamp %s before epoch", ts.Format(time.RFC3339))
	}
	ms := ns / int64(time.Millisecond)
	return strconv.FormatInt(ms, 10) + "-" + strconv.FormatInt(ns%int64(time.Millisecond), 10), nil
}

// ParseStreamID is the inverse of StreamID.
func ParseStreamID(id string) (time.Time, error) {
	msPart, seqPart, ok := strings.Cut(id, "-")
	if !ok {
		return time.Time{}, fmt.Errorf("redis stream id %q: missing sequence", id)
	}
	ms, err := strconv.ParseInt(msPart, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("redis stream id %q: %w", id, err)
	}
	seq, err := strconv.ParseInt(seqPart, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("redis stream id %q: %w", id, err)
	}
	return time.Unix(0, ms*int64(time.Millisecond)+seq).UTC(), nil
}

// rangeBounds maps a half-open time range to XRANGE start/stop arguments.
func rangeBounds(rng model.Range) (start, stop string) {
	start, stop = "-", "+"
	if !rng.From.IsZero() && rng.From.UnixNano() > 0 {
		start, _ = StreamID(rng.From)
	}
	if !rng.To.IsZero() {
		if rng.To.UnixNano() <= 0 {
			return "+", "-" // empty
		}
		id, _ := StreamID(rng.To)
		stop = "(" + id
	}
	return start, stop
}

func decodeBar(symbol string, msg goredis.XMessage) (model.Bar, error) {
	var b model.Bar
	if err := decode(msg, &b); err != nil {
		return b, err
	}
	if b.Symbol == "" {
		b.Symbol = symbol
	}
	if b.TS.IsZero() {
		ts, err := ParseStreamID(msg.ID)
		if err != nil {
			return b, err
		}
		b.TS = ts
	}
	return b, b.Validate()
}

func decodeTick(symbol string, msg goredis.XMessage) (model.Tick, error) {
	var t model.Tick
	if err := decode(msg, &t); err != nil {
		return t, err
	}
	if t.Symbol == "" {
		t.Symbol = symbol
	}
	if t.TS.IsZero() {
		ts, err := ParseStreamID(msg.ID)
		if err != nil {
			return t, err
		}
		t.TS = ts
	}
	return t, nil
}

func decode(msg goredis.XMessage, v any) error {
	data, ok := msg.Values["data"].(string)
	if !ok {
		return fmt.Errorf("redis entry %s: missing data field", msg.ID)
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("redis entry %s: %w", msg.ID, err)
	}
	return nil
}
