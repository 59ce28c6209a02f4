// Package indicator computes streaming technical indicators over bars.
//
// Strategies own their indicator instances; nothing here is shared between
// simulations, so no type in this package is safe for concurrent use.
package indicator

import (
	"fmt"
	"strings"

	"backtester/internal/model"
)

// Indicator is fed one bar at a time and exposes the latest value.
type Indicator interface {
	Name() string
	Update(bar model.Bar)
	// Value is 0 until Ready reports true.
	Value() float64
	Ready() bool
}

// Source selects which bar price a moving average consumes.
type Source int

const (
	Close   Source = iota // close
	Median                // (high+low)/2
	Typical               // (high+low+close)/3
)

// Of extracts the selected price from bar.
func (s Source) Of(bar model.Bar) float64 {
	switch s {
	case Median:
		return (bar.High + bar.Low) / 2
	case Typical:
		return (bar.High + bar.Low + bar.Close) / 3
	default:
		return bar.Close
	}
}

func (s Source) String() string {
	switch s {
	case Close:
		return "close"
	case Median:
		return "median"
	case Typical:
		return "typical"
	}
	return fmt.Sprintf("Source(%d)", int(s))
}

// Valid reports whether s is one of the defined sources.
func (s Source) Valid() bool { return s >= Close && s <= Typical }

// New builds an indicator by kind ("SMA", "EMA", "SMMA", "RSI", "ATR").
// Moving averages read src; RSI always reads the close and ATR the full range.
func New(kind string, period int, src Source) (Indicator, error) {
	if period <= 0 {
		return nil, fmt.Errorf("indicator %s: period must be positive, got %d", kind, period)
	}
	if !src.Valid() {
		return nil, fmt.Errorf("indicator %s: unknown price source %d", kind, int(src))
	}
	switch strings.ToUpper(kind) {
	case "SMA":
		return NewSMA(period).From(src), nil
	case "EMA":
		return NewEMA(period).From(src), nil
	case "SMMA":
		return NewSMMA(period).From(src), nil
	case "RSI":
		return NewRSI(period), nil
	case "ATR":
		return NewATR(period), nil
	}
	return nil, fmt.Errorf("indicator: unknown kind %q", kind)
}
