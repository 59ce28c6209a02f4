// Package synth generates reproducible synthetic market data for demos and
// tests: a seeded random walk of last prices with a quoted spread.
package synth

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"backtester/internal/model"
)

// Config parameterizes a random walk.
type Config struct {
	Symbol     string
	Start      time.Time
	Step       time.Duration // spacing between ticks
	StartPrice float64
	Volatility float64 // max relative move per tick, e.g. 0.001 = 0.1%
	TickSize   float64 // price grid; also the quoted half-spread
	MaxVolume  int     // per-tick volume is uniform in [1, MaxVolume]
	Seed       uint64
}

// DefaultConfig returns a one-second walk around 100 on a 0.25 grid.
func DefaultConfig(symbol string, start time.Time) Config {
	return Config{
		Symbol:     symbol,
		Start:      start,
		Step:       time.Second,
		StartPrice: 100,
		Volatility: 0.001,
		TickSize:   0.25,
		MaxVolume:  100,
		Seed:       1,
	}
}

// Walk produces ticks one at a time. The same Config always yields the
// same sequence.
type Walk struct {
	cfg   Config
	rng   *rand.Rand
	price float64
	ts    time.Time
}

// NewWalk validates cfg and returns a walk positioned before its first tick.
func NewWalk(cfg Config) (*Walk, error) {
	switch {
	case cfg.Symbol == "":
		return nil, fmt.Errorf("synth: symbol is required")
	case cfg.Step <= 0:
		return nil, fmt.Errorf("synth: step must be positive, got %v", cfg.Step)
	case cfg.TickSize <= 0:
		return nil, fmt.Errorf("synth: tick size must be positive, got %v", cfg.TickSize)
	case cfg.StartPrice < cfg.TickSize:
		return nil, fmt.Errorf("synth: start price %v below tick size %v", cfg.StartPrice, cfg.TickSize)
	case cfg.Volatility < 0:
		return nil, fmt.Errorf("synth: volatility must be non-negative, got %v", cfg.Volatility)
	case cfg.MaxVolume <= 0:
		return nil, fmt.Errorf("synth: max volume must be positive, got %d", cfg.MaxVolume)
	}
	return &Walk{
		cfg:   cfg,
		rng:   rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		price: cfg.roundPrice(cfg.StartPrice),
		ts:    cfg.Start.UTC(),
	}, nil
}

func (c Config) roundPrice(p float64) float64 {
	return math.Round(p/c.TickSize) * c.TickSize
}

// Next returns the next tick. The last price never drops below one tick,
// and bid/ask straddle it by one tick.
func (w *Walk) Next() model.Tick {
	pct := (w.rng.Float64()*2 - 1) * w.cfg.Volatility
	w.price = max(w.cfg.roundPrice(w.price*(1+pct)), w.cfg.TickSize)
	w.ts = w.ts.Add(w.cfg.Step)
	return model.Tick{
		Symbol:    w.cfg.Symbol,
		TS:        w.ts,
		LastPrice: w.price,
		BidPrice:  w.price - w.cfg.TickSize,
		AskPrice:  w.price + w.cfg.TickSize,
		Volume:    float64(w.rng.IntN(w.cfg.MaxVolume) + 1),
	}
}

// Ticks returns the next n ticks.
func (w *Walk) Ticks(n int) []model.Tick {
	out := make([]model.Tick, n)
	for i := range out {
		out[i] = w.Next()
	}
	return out
}
