// Package strategy defines the contract between trading strategies and the
// engine that drives them.
//
// A Strategy receives lifecycle, market data and execution callbacks. It acts
// only through the Gateway handed to its Factory, which is the same command
// surface whether the engine is a backtest or something else.
package strategy

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"backtester/internal/marketdata/replay"
	"backtester/internal/model"
)

// Strategy is the interface that all trading strategies must implement.
type Strategy interface {
	// Name returns the unique name of the strategy.
	Name() string

	// OnInit prepares indicators, typically by calling Gateway.WarmUp.
	OnInit() error

	// OnStart is called once trading is enabled; OnStop after the last event.
	OnStart()
	OnStop()

	// OnBar is called for each primary bar with the auxiliary bars that
	// became available at or before its timestamp.
	OnBar(bar model.Bar, info replay.Snapshot)

	// OnTick is called for each primary tick in tick mode.
	OnTick(tick model.Tick)

	// OnOrder reports the new state of an order. OnTrade reports a fill
	// and always precedes the OnOrder of the same fill.
	OnOrder(order model.LimitOrder)
	OnTrade(trade model.Trade)
}

// Gateway is the command and query surface a strategy trades through.
type Gateway interface {
	// SendOrder rests a limit order and returns its id, or "" while
	// trading is not enabled.
	SendOrder(t model.OrderType, price float64, volume int64) string
	CancelOrder(id string)

	// SendStopOrder rests a stop order and returns its id, or "" while
	// trading is not enabled.
	SendStopOrder(t model.OrderType, price float64, volume int64) string
	CancelStopOrder(id string)

	// Symbol is the traded instrument; InfoSymbols the auxiliary streams.
	Symbol() string
	InfoSymbols() []string

	// Pos is the current signed position.
	Pos() int64

	// Now is the timestamp of the event being processed.
	Now() time.Time

	// Trading reports whether orders are accepted.
	Trading() bool

	// WarmUp replays the initialization window through OnBar/OnTick with
	// trading disabled.
	WarmUp() error

	// WriteLog records a message stamped with the simulation time.
	WriteLog(msg string)
}

// Factory builds a fresh strategy instance bound to gw.
type Factory func(gw Gateway, p Params) (Strategy, error)

// Registry maps strategy names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry holds the strategies shipped with this module.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(SMACrossoverName, NewSMACrossover)
	r.Register(BreakOutName, NewBreakOut)
	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Lookup returns the factory registered under name.
func (r *Registry) Lookup(name string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("strategy %q not registered", name)
	}
	return f, nil
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
