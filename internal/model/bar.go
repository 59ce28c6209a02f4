package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Bar is an OHLCV summary for one interval of a single instrument.
// TS is the interval-end timestamp (UTC).
type Bar struct {
	Symbol string    `json:"symbol"`
	TS     time.Time `json:"ts"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Validate checks low <= {open, close} <= high.
func (b *Bar) Validate() error {
	if b.Low > b.Open || b.Low > b.Close || b.High < b.Open || b.High < b.Close {
		return fmt.Errorf("bar %s@%s: inconsistent OHLC o=%v h=%v l=%v c=%v",
			b.Symbol, b.TS.Format(time.RFC3339), b.Open, b.High, b.Low, b.Close)
	}
	return nil
}

// Time returns the bar timestamp.
func (b Bar) Time() time.Time { return b.TS }

// JSON returns the JSON-encoded bar (ignoring errors for hot-path usage).
func (b *Bar) JSON() []byte {
	out, _ := json.Marshal(b)
	return out
}
