// Package portfolio turns a run's trade ledger into realized round-trip
// results and the performance summary reported after a backtest.
//
// Settlement is FIFO per direction: each exit closes the oldest open entry
// of the opposite side first. The ledger is only read, never modified.
package portfolio

import (
	"time"

	"backtester/internal/model"
)

// Costs are the per-run execution cost parameters.
type Costs struct {
	Rate     float64 // commission rate applied to turnover
	Slippage float64 // price units lost per unit, per side
	Size     float64 // contract multiplier
}

// TradingResult is one realized round trip between an entry and an exit.
// Volume is signed by the entry's direction: positive when a long entry is
// closed, negative when a short entry is closed.
type TradingResult struct {
	EntryTradeID string    `json:"entry_trade_id"`
	ExitTradeID  string    `json:"exit_trade_id"`
	EntryPrice   float64   `json:"entry_price"`
	ExitPrice    float64   `json:"exit_price"`
	EntryTime    time.Time `json:"entry_time"`
	ExitTime     time.Time `json:"exit_time"`
	Volume       int64     `json:"volume"`
	Turnover     float64   `json:"turnover"`
	Commission   float64   `json:"commission"`
	Slippage     float64   `json:"slippage"`
	PnL          float64   `json:"pnl"`
}

// NewTradingResult derives turnover, costs and net pnl for a closed volume.
func NewTradingResult(entry, exit model.Trade, volume int64, c Costs) TradingResult {
	abs := float64(volume)
	if abs < 0 {
		abs = -abs
	}
	r := TradingResult{
		EntryTradeID: entry.TradeID,
		ExitTradeID:  exit.TradeID,
		EntryPrice:   entry.Price,
		ExitPrice:    exit.Price,
		EntryTime:    entry.TS,
		ExitTime:     exit.TS,
		Volume:       volume,
	}
	r.Turnover = (r.EntryPrice + r.ExitPrice) * c.Size * abs
	r.Commission = r.Turnover * c.Rate
	r.Slippage = c.Slippage * 2 * c.Size * abs
	r.PnL = (r.ExitPrice-r.EntryPrice)*float64(volume)*c.Size - r.Commission - r.Slippage
	return r
}

// OpenEntry is an entry trade with the volume not yet closed.
type OpenEntry struct {
	Trade     model.Trade `json:"trade"`
	Remaining int64       `json:"remaining"`
}

// Settlement is the outcome of netting a ledger.
type Settlement struct {
	Results   []TradingResult `json:"results"`
	OpenLong  []OpenEntry     `json:"open_long"`
	OpenShort []OpenEntry     `json:"open_short"`
}

// Settle FIFO-nets trades, which must be in execution order.
func Settle(trades []model.Trade, c Costs) Settlement {
	var s Settlement
	for _, t := range trades {
		if t.Direction == model.DirectionLong {
			s.OpenShort, s.OpenLong = s.close(t, s.OpenShort, s.OpenLong, -1, c)
		} else {
			s.OpenLong, s.OpenShort = s.close(t, s.OpenLong, s.OpenShort, 1, c)
		}
	}
	return s
}

// close matches exit against the opposite queue. sign is the direction of
// the entries being closed. Any volume left once the opposite queue is
// empty opens a new entry on the exit's own side.
func (s *Settlement) close(exit model.Trade, opposite, same []OpenEntry, sign int64, c Costs) ([]OpenEntry, []OpenEntry) {
	remaining := exit.Volume
	for remaining > 0 && len(opposite) > 0 {
		entry := &opposite[0]
		closed := min(remaining, entry.Remaining)
		s.Results = append(s.Results, NewTradingResult(entry.Trade, exit, sign*closed, c))
		entry.Remaining -= closed
		remaining -= closed
		if entry.Remaining == 0 {
			opposite = opposite[1:]
		}
	}
	if remaining > 0 {
		same = append(same, OpenEntry{Trade: exit, Remaining: remaining})
	}
	return opposite, same
}
