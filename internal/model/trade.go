package model

import "time"

// Trade is one execution appended to the ledger. Immutable once recorded.
type Trade struct {
	TradeID   string    `json:"trade_id"`
	OrderID   string    `json:"order_id"`
	Symbol    string    `json:"symbol"`
	Direction Direction `json:"direction"`
	Offset    Offset    `json:"offset"`
	Price     float64   `json:"price"`
	Volume    int64     `json:"volume"`
	TS        time.Time `json:"ts"`
}

// SignedVolume returns +Volume for longs and -Volume for shorts.
func (t *Trade) SignedVolume() int64 {
	if t.Direction == DirectionShort {
		return -t.Volume
	}
	return t.Volume
}
