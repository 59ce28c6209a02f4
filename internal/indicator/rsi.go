package indicator

import (
	"fmt"

	"backtester/internal/model"
)

// RSI is Wilder's relative strength index over closes. It needs period+1
// bars since the first bar only establishes the reference close.
type RSI struct {
	gain, loss seeded
	prev       float64
	seen       bool
}

func NewRSI(period int) *RSI {
	return &RSI{gain: wilder(period), loss: wilder(period)}
}

func (r *RSI) Name() string { return fmt.Sprintf("RSI(%d)", r.gain.period) }

func (r *RSI) Update(bar model.Bar) {
	if r.seen {
		d := bar.Close - r.prev
		r.gain.add(max(d, 0))
		r.loss.add(max(-d, 0))
	}
	r.prev = bar.Close
	r.seen = true
}

func (r *RSI) Ready() bool { return r.gain.ready() }

// Value is 100 whenever the average loss is zero, flat series included.
func (r *RSI) Value() float64 {
	if !r.Ready() {
		return 0
	}
	if r.loss.value == 0 {
		return 100
	}
	return 100 - 100/(1+r.gain.value/r.loss.value)
}
