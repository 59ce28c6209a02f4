package indicator

import (
	"fmt"

	"backtester/internal/model"
)

// SMA is the arithmetic mean of the last period prices.
type SMA struct {
	period int
	src    Source
	window []float64
	next   int
	filled bool
	sum    float64
}

func NewSMA(period int) *SMA {
	return &SMA{period: period, window: make([]float64, period)}
}

// From switches the price the average consumes and returns the receiver.
func (s *SMA) From(src Source) *SMA {
	s.src = src
	return s
}

func (s *SMA) Name() string { return fmt.Sprintf("SMA(%d)", s.period) }

func (s *SMA) Update(bar model.Bar) {
	x := s.src.Of(bar)
	s.sum += x - s.window[s.next]
	s.window[s.next] = x
	s.next++
	if s.next == s.period {
		s.next = 0
		s.filled = true
	}
}

func (s *SMA) Ready() bool { return s.filled }

func (s *SMA) Value() float64 {
	if !s.filled {
		return 0
	}
	return s.sum / float64(s.period)
}

// seeded is the recursive average shared by EMA, SMMA, RSI and ATR: the
// first period inputs are averaged plainly, after which every input moves
// the value by alpha of its distance from it.
type seeded struct {
	period int
	alpha  float64
	n      int
	sum    float64
	value  float64
}

func newSeeded(period int, alpha float64) seeded {
	return seeded{period: period, alpha: alpha}
}

// wilder smooths with alpha 1/period, i.e. (prev*(period-1) + x) / period.
func wilder(period int) seeded { return newSeeded(period, 1/float64(period)) }

func (s *seeded) add(x float64) {
	if s.n < s.period {
		s.n++
		s.sum += x
		if s.n == s.period {
			s.value = s.sum / float64(s.period)
		}
		return
	}
	s.value += s.alpha * (x - s.value)
}

func (s *seeded) ready() bool { return s.n >= s.period }

func (s *seeded) current() float64 {
	if !s.ready() {
		return 0
	}
	return s.value
}

// EMA is the exponential moving average with alpha 2/(period+1), seeded
// with the SMA of its first period prices.
type EMA struct {
	avg seeded
	src Source
}

func NewEMA(period int) *EMA {
	return &EMA{avg: newSeeded(period, 2/float64(period+1))}
}

func (e *EMA) From(src Source) *EMA {
	e.src = src
	return e
}

func (e *EMA) Name() string         { return fmt.Sprintf("EMA(%d)", e.avg.period) }
func (e *EMA) Update(bar model.Bar) { e.avg.add(e.src.Of(bar)) }
func (e *EMA) Value() float64       { return e.avg.current() }
func (e *EMA) Ready() bool          { return e.avg.ready() }

// SMMA is Wilder's smoothed moving average.
type SMMA struct {
	avg seeded
	src Source
}

func NewSMMA(period int) *SMMA {
	return &SMMA{avg: wilder(period)}
}

func (m *SMMA) From(src Source) *SMMA {
	m.src = src
	return m
}

func (m *SMMA) Name() string         { return fmt.Sprintf("SMMA(%d)", m.avg.period) }
func (m *SMMA) Update(bar model.Bar) { m.avg.add(m.src.Of(bar)) }
func (m *SMMA) Value() float64       { return m.avg.current() }
func (m *SMMA) Ready() bool          { return m.avg.ready() }
