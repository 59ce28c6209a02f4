// Package execution simulates an exchange for a single backtest run: the
// order book of resting limit and stop orders, the matching rules that fill
// them against each new bar or tick, and the append-only trade ledger.
//
// Everything here is single-threaded by contract. One simulation owns one
// Book, one Matcher and one Ledger.
package execution

import (
	"time"

	"backtester/internal/model"
)

// Book holds every order submitted during a run. Working sets keep
// submission order; terminated orders stay in the registries.
type Book struct {
	limitSeq int64
	stopSeq  int64

	limitOrders map[string]*model.LimitOrder
	stopOrders  map[string]*model.StopOrder

	workingLimit []*model.LimitOrder
	workingStop  []*model.StopOrder

	// registry order for snapshots
	limitIDs []string
	stopIDs  []string
}

// NewBook creates an empty order book.
func NewBook() *Book {
	return &Book{
		limitOrders: make(map[string]*model.LimitOrder),
		stopOrders:  make(map[string]*model.StopOrder),
	}
}

// SubmitLimit rests a new pending limit order and returns its id.
func (b *Book) SubmitLimit(symbol string, dir model.Direction, off model.Offset, price float64, volume int64, now time.Time) string {
	o := &model.LimitOrder{
		OrderID:   b.nextLimitID(),
		Symbol:    symbol,
		Direction: dir,
		Offset:    off,
		Price:     price,
		Volume:    volume,
		Status:    model.OrderPending,
		OrderTime: now,
	}
	b.register(o)
	b.workingLimit = append(b.workingLimit, o)
	return o.OrderID
}

// CancelLimit cancels a pending order. Unknown or resolved ids are ignored.
func (b *Book) CancelLimit(id string, now time.Time) bool {
	o, ok := b.limitOrders[id]
	if !ok || !o.Active() {
		return false
	}
	o.Status = model.OrderCancelled
	o.CancelTime = now
	b.removeLimit(o)
	return true
}

// SubmitStop rests a new waiting stop order and returns its id.
func (b *Book) SubmitStop(symbol string, dir model.Direction, off model.Offset, price float64, volume int64) string {
	b.stopSeq++
	so := &model.StopOrder{
		StopOrderID: model.FormatID(model.StopOrderPrefix, b.stopSeq),
		Symbol:      symbol,
		Direction:   dir,
		Offset:      off,
		Price:       price,
		Volume:      volume,
		Status:      model.StopWaiting,
	}
	b.stopOrders[so.StopOrderID] = so
	b.stopIDs = append(b.stopIDs, so.StopOrderID)
	b.workingStop = append(b.workingStop, so)
	return so.StopOrderID
}

// CancelStop cancels a waiting stop order. Unknown or resolved ids are ignored.
func (b *Book) CancelStop(id string) bool {
	so, ok := b.stopOrders[id]
	if !ok || !so.Active() {
		return false
	}
	so.Status = model.StopCancelled
	b.removeStop(so)
	return true
}

// LimitOrder returns a copy of the order with the given id.
func (b *Book) LimitOrder(id string) (model.LimitOrder, bool) {
	o, ok := b.limitOrders[id]
	if !ok {
		return model.LimitOrder{}, false
	}
	return *o, true
}

// StopOrder returns a copy of the stop order with the given id.
func (b *Book) StopOrder(id string) (model.StopOrder, bool) {
	so, ok := b.stopOrders[id]
	if !ok {
		return model.StopOrder{}, false
	}
	return *so, true
}

// LimitOrders returns copies of every limit order in id order, including
// filled orders generated by stop triggers.
func (b *Book) LimitOrders() []model.LimitOrder {
	out := make([]model.LimitOrder, len(b.limitIDs))
	for i, id := range b.limitIDs {
		out[i] = *b.limitOrders[id]
	}
	return out
}

// StopOrders returns copies of every stop order in id order.
func (b *Book) StopOrders() []model.StopOrder {
	out := make([]model.StopOrder, len(b.stopIDs))
	for i, id := range b.stopIDs {
		out[i] = *b.stopOrders[id]
	}
	return out
}

// WorkingLimit returns copies of the pending limit orders.
func (b *Book) WorkingLimit() []model.LimitOrder {
	out := make([]model.LimitOrder, len(b.workingLimit))
	for i, o := range b.workingLimit {
		out[i] = *o
	}
	return out
}

// WorkingStops returns copies of the waiting stop orders.
func (b *Book) WorkingStops() []model.StopOrder {
	out := make([]model.StopOrder, len(b.workingStop))
	for i, so := range b.workingStop {
		out[i] = *so
	}
	return out
}

// snapshot returns the current working sets; the slices are private copies
// so the book may change while the caller iterates.
func (b *Book) snapshot() ([]*model.LimitOrder, []*model.StopOrder) {
	limits := make([]*model.LimitOrder, len(b.workingLimit))
	copy(limits, b.workingLimit)
	stops := make([]*model.StopOrder, len(b.workingStop))
	copy(stops, b.workingStop)
	return limits, stops
}

func (b *Book) fill(o *model.LimitOrder) {
	o.TradedVolume = o.Volume
	o.Status = model.OrderFilled
	b.removeLimit(o)
}

// trigger marks so triggered and records the filled order it becomes.
func (b *Book) trigger(so *model.StopOrder, now time.Time) *model.LimitOrder {
	o := &model.LimitOrder{
		OrderID:      b.nextLimitID(),
		Symbol:       so.Symbol,
		Direction:    so.Direction,
		Offset:       so.Offset,
		Price:        so.Price,
		Volume:       so.Volume,
		TradedVolume: so.Volume,
		Status:       model.OrderFilled,
		OrderTime:    now,
	}
	b.register(o)
	so.Status = model.StopTriggered
	so.OrderID = o.OrderID
	b.removeStop(so)
	return o
}

func (b *Book) nextLimitID() string {
	b.limitSeq++
	return model.FormatID("", b.limitSeq)
}

func (b *Book) register(o *model.LimitOrder) {
	b.limitOrders[o.OrderID] = o
	b.limitIDs = append(b.limitIDs, o.OrderID)
}

func (b *Book) removeLimit(o *model.LimitOrder) {
	for i, w := range b.workingLimit {
		if w == o {
			b.workingLimit = append(b.workingLimit[:i], b.workingLimit[i+1:]...)
			return
		}
	}
}

func (b *Book) removeStop(so *model.StopOrder) {
	for i, w := range b.workingStop {
		if w == so {
			b.workingStop = append(b.workingStop[:i], b.workingStop[i+1:]...)
			return
		}
	}
}
