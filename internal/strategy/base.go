package strategy

import (
	"backtester/internal/marketdata/replay"
	"backtester/internal/model"
)

// Base carries the Gateway and provides the order shorthands and no-op
// callbacks. Strategies embed it and override what they need.
type Base struct {
	Gateway
	name string
}

// NewBase binds a strategy name to a gateway.
func NewBase(gw Gateway, name string) Base {
	return Base{Gateway: gw, name: name}
}

func (b *Base) Name() string { return b.name }

func (b *Base) OnInit() error                    { return nil }
func (b *Base) OnStart()                         {}
func (b *Base) OnStop()                          {}
func (b *Base) OnBar(model.Bar, replay.Snapshot) {}
func (b *Base) OnTick(model.Tick)                {}
func (b *Base) OnOrder(model.LimitOrder)         {}
func (b *Base) OnTrade(model.Trade)              {}

// Buy opens or adds to a long position.
func (b *Base) Buy(price float64, volume int64) string {
	return b.SendOrder(model.OrderBuy, price, volume)
}

// Sell closes a long position.
func (b *Base) Sell(price float64, volume int64) string {
	return b.SendOrder(model.OrderSell, price, volume)
}

// Short opens or adds to a short position.
func (b *Base) Short(price float64, volume int64) string {
	return b.SendOrder(model.OrderShort, price, volume)
}

// Cover closes a short position.
func (b *Base) Cover(price float64, volume int64) string {
	return b.SendOrder(model.OrderCover, price, volume)
}

func (b *Base) BuyStop(price float64, volume int64) string {
	return b.SendStopOrder(model.OrderBuy, price, volume)
}

func (b *Base) SellStop(price float64, volume int64) string {
	return b.SendStopOrder(model.OrderSell, price, volume)
}

func (b *Base) ShortStop(price float64, volume int64) string {
	return b.SendStopOrder(model.OrderShort, price, volume)
}

func (b *Base) CoverStop(price float64, volume int64) string {
	return b.SendStopOrder(model.OrderCover, price, volume)
}

// CancelAll cancels every id in ids, limit or stop, and returns ids[:0].
func (b *Base) CancelAll(ids []string) []string {
	for _, id := range ids {
		if isStopID(id) {
			b.CancelStopOrder(id)
		} else {
			b.CancelOrder(id)
		}
	}
	return ids[:0]
}

func isStopID(id string) bool {
	return len(id) > len(model.StopOrderPrefix) && id[:len(model.StopOrderPrefix)] == model.StopOrderPrefix
}
