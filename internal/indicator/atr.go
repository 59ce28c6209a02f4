package indicator

import (
	"fmt"
	"math"

	"backtester/internal/model"
)

// ATR is the Wilder-smoothed average true range. The first bar has no
// previous close, so its true range is high minus low.
type ATR struct {
	avg       seeded
	prevClose float64
	seen      bool
}

func NewATR(period int) *ATR {
	return &ATR{avg: wilder(period)}
}

func (a *ATR) Name() string { return fmt.Sprintf("ATR(%d)", a.avg.period) }

func (a *ATR) Update(bar model.Bar) {
	tr := bar.High - bar.Low
	if a.seen {
		tr = max(tr, math.Abs(bar.High-a.prevClose), math.Abs(bar.Low-a.prevClose))
	}
	a.avg.add(tr)
	a.prevClose = bar.Close
	a.seen = true
}

func (a *ATR) Value() float64 { return a.avg.current() }
func (a *ATR) Ready() bool    { return a.avg.ready() }
