package model

import "time"

// Direction is the side of an order or trade.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Offset says whether an order opens or closes exposure.
type Offset string

const (
	OffsetOpen  Offset = "OPEN"
	OffsetClose Offset = "CLOSE"
)

// OrderStatus is the lifecycle state of a limit order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// StopStatus is the lifecycle state of a stop order.
type StopStatus string

const (
	StopWaiting   StopStatus = "WAITING"
	StopTriggered StopStatus = "TRIGGERED"
	StopCancelled StopStatus = "CANCELLED"
)

// StopOrderPrefix prefixes every stop order id.
const StopOrderPrefix = "STOP."

// LimitOrder is a resting order that fills only at its price or better.
// Orders generated by a stop trigger are recorded here already filled.
type LimitOrder struct {
	OrderID      string      `json:"order_id"`
	Symbol       string      `json:"symbol"`
	Direction    Direction   `json:"direction"`
	Offset       Offset      `json:"offset"`
	Price        float64     `json:"price"`
	Volume       int64       `json:"volume"`
	TradedVolume int64       `json:"traded_volume"`
	Status       OrderStatus `json:"status"`
	OrderTime    time.Time   `json:"order_time"`
	CancelTime   time.Time   `json:"cancel_time,omitempty"`
}

// Active reports whether the order can still fill.
func (o *LimitOrder) Active() bool { return o.Status == OrderPending }

// StopOrder is a conditional order that becomes a filled LimitOrder once
// price crosses its trigger level.
type StopOrder struct {
	StopOrderID string     `json:"stop_order_id"`
	Symbol      string     `json:"symbol"`
	Direction   Direction  `json:"direction"`
	Offset      Offset     `json:"offset"`
	Price       float64    `json:"price"`
	Volume      int64      `json:"volume"`
	Status      StopStatus `json:"status"`
	OrderID     string     `json:"order_id,omitempty"` // filled order generated on trigger
}

// Active reports whether the stop order is still waiting for its trigger.
func (s *StopOrder) Active() bool { return s.Status == StopWaiting }

// OrderType is the strategy-facing shorthand for a direction/offset pair.
type OrderType string

const (
	OrderBuy   OrderType = "BUY"   // long, open
	OrderSell  OrderType = "SELL"  // short, close
	OrderShort OrderType = "SHORT" // short, open
	OrderCover OrderType = "COVER" // long, close
)

// Split returns the direction and offset an order type stands for.
func (t OrderType) Split() (Direction, Offset, bool) {
	switch t {
	case OrderBuy:
		return DirectionLong, OffsetOpen, true
	case OrderSell:
		return DirectionShort, OffsetClose, true
	case OrderShort:
		return DirectionShort, OffsetOpen, true
	case OrderCover:
		return DirectionLong, OffsetClose, true
	}
	return "", "", false
}
