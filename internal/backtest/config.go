package backtest

import (
	"errors"
	"fmt"
	"time"

	"backtester/internal/model"
	"backtester/internal/portfolio"
)

// ErrInvalidConfig is returned for a configuration that cannot be run.
var ErrInvalidConfig = errors.New("invalid backtest config")

// Mode selects the primary event type.
type Mode string

const (
	ModeBar  Mode = "bar"
	ModeTick Mode = "tick"
)

// DateLayout is the layout of start and end dates in configuration.
const DateLayout = "20060102"

// Config is the plain, copyable description of one simulation. It carries
// no engine state, so optimization tasks can each receive their own copy.
type Config struct {
	Mode        Mode      `json:"mode"`
	Symbol      string    `json:"symbol"`
	InfoSymbols []string  `json:"info_symbols,omitempty"`
	DataStart   time.Time `json:"data_start"`
	InitDays    int       `json:"init_days"`
	End         time.Time `json:"end,omitempty"` // inclusive date, zero = open-ended

	Slippage float64 `json:"slippage"`
	Rate     float64 `json:"rate"`
	Size     float64 `json:"size"`
}

// Validate checks the config and reports the first problem.
func (c Config) Validate() error {
	switch {
	case c.Mode != ModeBar && c.Mode != ModeTick:
		return fmt.Errorf("%w: mode %q", ErrInvalidConfig, c.Mode)
	case c.Symbol == "":
		return fmt.Errorf("%w: symbol is empty", ErrInvalidConfig)
	case c.Mode == ModeTick && len(c.InfoSymbols) > 0:
		return fmt.Errorf("%w: info symbols need bar mode", ErrInvalidConfig)
	case c.InitDays < 0:
		return fmt.Errorf("%w: init days %d", ErrInvalidConfig, c.InitDays)
	case !c.End.IsZero() && c.End.Before(c.DataStart):
		return fmt.Errorf("%w: end %s before start %s", ErrInvalidConfig,
			c.End.Format(DateLayout), c.DataStart.Format(DateLayout))
	case c.Size <= 0:
		return fmt.Errorf("%w: contract size %v", ErrInvalidConfig, c.Size)
	case c.Rate < 0 || c.Slippage < 0:
		return fmt.Errorf("%w: negative costs", ErrInvalidConfig)
	}
	seen := map[string]bool{c.Symbol: true}
	for _, s := range c.InfoSymbols {
		if seen[s] {
			return fmt.Errorf("%w: duplicate symbol %q", ErrInvalidConfig, s)
		}
		seen[s] = true
	}
	return nil
}

// InitRange is the warm-up window [start, start+initDays).
func (c Config) InitRange() model.Range {
	return model.Range{From: c.DataStart, To: c.DataStart.AddDate(0, 0, c.InitDays)}
}

// RunRange is the trading window from the end of warm-up through the end
// date inclusive.
func (c Config) RunRange() model.Range {
	r := model.Range{From: c.DataStart.AddDate(0, 0, c.InitDays)}
	if !c.End.IsZero() {
		r.To = c.End.AddDate(0, 0, 1)
	}
	return r
}

// Costs returns the settlement cost parameters.
func (c Config) Costs() portfolio.Costs {
	return portfolio.Costs{Rate: c.Rate, Slippage: c.Slippage, Size: c.Size}
}

// ParseDate parses a YYYYMMDD date in UTC. Empty input is the zero time.
func ParseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q: %v", ErrInvalidConfig, s, err)
	}
	return t, nil
}
