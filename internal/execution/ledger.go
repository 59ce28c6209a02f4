package execution

import "backtester/internal/model"

// Ledger is the append-only record of executions for one run.
type Ledger struct {
	trades []model.Trade
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{trades: make([]model.Trade, 0, 256)}
}

// Append records a trade.
func (l *Ledger) Append(t model.Trade) {
	l.trades = append(l.trades, t)
}

// Trades returns a copy of the ledger in execution order.
func (l *Ledger) Trades() []model.Trade {
	cp := make([]model.Trade, len(l.trades))
	copy(cp, l.trades)
	return cp
}

// Len returns the number of trades recorded.
func (l *Ledger) Len() int { return len(l.trades) }
