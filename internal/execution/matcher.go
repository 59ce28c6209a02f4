package execution

import (
	"time"

	"backtester/internal/model"
)

// Notifier receives execution callbacks. For every fill OnTrade is called
// first, then OnOrder with the order's final state.
type Notifier interface {
	OnTrade(trade model.Trade)
	OnOrder(order model.LimitOrder)
}

// Observer is told about matching outcomes, e.g. for metrics. Optional.
type Observer interface {
	LimitFilled()
	StopTriggered()
	Cancelled(kind string)
}

// crossPrices are the reference prices one event offers to resting orders.
type crossPrices struct {
	buyLimit      float64 // long limit fills when price >= this
	sellLimit     float64 // short limit fills when price <= this
	buyBestLimit  float64
	sellBestLimit float64

	buyStop  float64 // long stop triggers when price <= this
	sellStop float64 // short stop triggers when price >= this
	bestStop float64
}

func barPrices(b model.Bar) crossPrices {
	return crossPrices{
		buyLimit:      b.Low,
		sellLimit:     b.High,
		buyBestLimit:  b.Open,
		sellBestLimit: b.Open,
		buyStop:       b.High,
		sellStop:      b.Low,
		bestStop:      b.Open,
	}
}

func tickPrices(t model.Tick) crossPrices {
	return crossPrices{
		buyLimit:      t.AskPrice,
		sellLimit:     t.BidPrice,
		buyBestLimit:  t.AskPrice,
		sellBestLimit: t.BidPrice,
		buyStop:       t.LastPrice,
		sellStop:      t.LastPrice,
		bestStop:      t.LastPrice,
	}
}

type deferredCancel struct {
	id   string
	stop bool
}

// Matcher owns the book, ledger and position of one simulation and
// decides, per primary event, which resting orders execute.
type Matcher struct {
	book     *Book
	ledger   *Ledger
	pos      model.Position
	tradeSeq int64
	now      time.Time

	matching bool
	deferred []deferredCancel

	Observer Observer
}

// NewMatcher creates a matcher with a fresh book, ledger and flat position.
func NewMatcher(symbol string) *Matcher {
	return &Matcher{
		book:   NewBook(),
		ledger: NewLedger(),
		pos:    model.Position{Symbol: symbol},
	}
}

// Book exposes the order book for read access.
func (m *Matcher) Book() *Book { return m.book }

// Ledger exposes the trade ledger for read access.
func (m *Matcher) Ledger() *Ledger { return m.ledger }

// Position returns the current signed position.
func (m *Matcher) Position() model.Position { return m.pos }

// SetClock sets the simulation time used to stamp orders and cancels.
func (m *Matcher) SetClock(now time.Time) { m.now = now }

// SubmitLimit rests a limit order. It always succeeds.
func (m *Matcher) SubmitLimit(symbol string, dir model.Direction, off model.Offset, price float64, volume int64) string {
	return m.book.SubmitLimit(symbol, dir, off, price, volume, m.now)
}

// SubmitStop rests a stop order. It always succeeds.
func (m *Matcher) SubmitStop(symbol string, dir model.Direction, off model.Offset, price float64, volume int64) string {
	return m.book.SubmitStop(symbol, dir, off, price, volume)
}

// CancelLimit cancels a pending limit order. Cancels requested while an
// event is being matched take effect once matching for that event is done.
func (m *Matcher) CancelLimit(id string) {
	if m.matching {
		m.deferred = append(m.deferred, deferredCancel{id: id})
		return
	}
	if m.book.CancelLimit(id, m.now) && m.Observer != nil {
		m.Observer.Cancelled("limit")
	}
}

// CancelStop cancels a waiting stop order, deferred like CancelLimit.
func (m *Matcher) CancelStop(id string) {
	if m.matching {
		m.deferred = append(m.deferred, deferredCancel{id: id, stop: true})
		return
	}
	if m.book.CancelStop(id) && m.Observer != nil {
		m.Observer.Cancelled("stop")
	}
}

// CrossBar matches resting orders against a new bar.
func (m *Matcher) CrossBar(bar model.Bar, n Notifier) {
	m.now = bar.TS
	m.cross(barPrices(bar), n)
}

// CrossTick matches resting orders against a new tick.
func (m *Matcher) CrossTick(tick model.Tick, n Notifier) {
	m.now = tick.TS
	m.cross(tickPrices(tick), n)
}

// cross runs the limit pass then the stop pass over the working sets as
// they stood when the event arrived. Orders placed from callbacks during
// this event wait for the next one.
func (m *Matcher) cross(p crossPrices, n Notifier) {
	limits, stops := m.book.snapshot()
	m.matching = true

	for _, o := range limits {
		if !o.Active() {
			continue
		}
		buyCross := o.Direction == model.DirectionLong && o.Price >= p.buyLimit
		sellCross := o.Direction == model.DirectionShort && o.Price <= p.sellLimit
		if !buyCross && !sellCross {
			continue
		}
		// A limit resting since before this event may fill at the open
		// when the open is already through its price.
		var price float64
		if buyCross {
			price = min(o.Price, p.buyBestLimit)
		} else {
			price = max(o.Price, p.sellBestLimit)
		}
		m.book.fill(o)
		m.execute(o, price, n)
		if m.Observer != nil {
			m.Observer.LimitFilled()
		}
	}

	for _, so := range stops {
		if !so.Active() {
			continue
		}
		buyCross := so.Direction == model.DirectionLong && so.Price <= p.buyStop
		sellCross := so.Direction == model.DirectionShort && so.Price >= p.sellStop
		if !buyCross && !sellCross {
			continue
		}
		// Once crossed the stop is never filled better than its level;
		// a gap through it fills at the worse open.
		var price float64
		if buyCross {
			price = max(p.bestStop, so.Price)
		} else {
			price = min(p.bestStop, so.Price)
		}
		o := m.book.trigger(so, m.now)
		m.execute(o, price, n)
		if m.Observer != nil {
			m.Observer.StopTriggered()
		}
	}

	m.matching = false
	m.flushDeferred()
}

func (m *Matcher) execute(o *model.LimitOrder, price float64, n Notifier) {
	m.tradeSeq++
	trade := model.Trade{
		TradeID:   model.FormatID("", m.tradeSeq),
		OrderID:   o.OrderID,
		Symbol:    o.Symbol,
		Direction: o.Direction,
		Offset:    o.Offset,
		Price:     price,
		Volume:    o.Volume,
		TS:        m.now,
	}
	m.ledger.Append(trade)
	m.pos.Apply(trade)
	if n != nil {
		n.OnTrade(trade)
		n.OnOrder(*o)
	}
}

func (m *Matcher) flushDeferred() {
	if len(m.deferred) == 0 {
		return
	}
	pending := m.deferred
	m.deferred = nil
	for _, d := range pending {
		if d.stop {
			m.CancelStop(d.id)
		} else {
			m.CancelLimit(d.id)
		}
	}
}
