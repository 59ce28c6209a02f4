package model

import "time"

// Tick is a single best-bid/ask/last-trade snapshot.
type Tick struct {
	Symbol    string    `json:"symbol"`
	TS        time.Time `json:"ts"`
	LastPrice float64   `json:"last_price"`
	BidPrice  float64   `json:"bid_price"` // best bid
	AskPrice  float64   `json:"ask_price"` // best ask
	Volume    float64   `json:"volume"`
}

// Time returns the tick timestamp.
func (t Tick) Time() time.Time { return t.TS }
