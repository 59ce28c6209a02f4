// Package backtest drives one simulation: it replays the warm-up and
// trading windows of a history source through a strategy, routes the
// strategy's commands to the matching engine and settles the resulting
// ledger.
//
// An Engine is single-use and single-threaded. Run it once, then read its
// results.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"backtester/internal/execution"
	"backtester/internal/logger"
	"backtester/internal/marketdata/replay"
	"backtester/internal/metrics"
	"backtester/internal/model"
	"backtester/internal/portfolio"
	"backtester/internal/strategy"
)

// ErrNoStrategy is returned by Run before InitStrategy succeeded.
var ErrNoStrategy = errors.New("no strategy initialized")

type phase int

const (
	phaseIdle phase = iota
	phaseInit
	phaseRun
	phaseDone
)

// Engine is the strategy-facing side of a backtest. It implements
// strategy.Gateway and execution.Notifier.
type Engine struct {
	cfg     Config
	source  model.HistorySource
	log     *slog.Logger
	runLog  *slog.Logger // run_id only; handed to collaborators that name their own component
	metrics *metrics.Metrics
	runID   string

	strat        strategy.Strategy
	strategyName string
	params       strategy.Params

	matcher *execution.Matcher
	ctx     context.Context
	phase   phase
	trading bool
	now     time.Time
	events  int

	logs []string
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

// WithMetrics records run metrics. A nil *Metrics is allowed.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithRunID overrides the generated run id.
func WithRunID(id string) Option { return func(e *Engine) { e.runID = id } }

// New creates an engine over source for cfg.
func New(cfg Config, source model.HistorySource, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if source == nil {
		return nil, fmt.Errorf("%w: nil history source", ErrInvalidConfig)
	}
	e := &Engine{
		cfg:     cfg,
		source:  source,
		matcher: execution.NewMatcher(cfg.Symbol),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.runID == "" {
		e.runID = logger.NewRunID()
	}
	e.runLog = e.log.With(slog.String("run_id", e.runID))
	e.log = e.runLog.With(slog.String("component", "backtest"))
	if e.metrics != nil {
		e.matcher.Observer = e.metrics
	}
	return e, nil
}

// InitStrategy builds the strategy from its factory with a private copy of p.
func (e *Engine) InitStrategy(f strategy.Factory, p strategy.Params) error {
	if e.phase != phaseIdle {
		return errors.New("backtest: strategy already running")
	}
	params := p.Clone()
	s, err := f(e, params)
	if err != nil {
		return fmt.Errorf("init strategy: %w", err)
	}
	e.strat = s
	e.strategyName = s.Name()
	e.params = params
	return nil
}

// Run executes warm-up and the main replay. It returns ctx.Err() if the
// context is cancelled between events.
func (e *Engine) Run(ctx context.Context) (err error) {
	if e.strat == nil {
		return ErrNoStrategy
	}
	if e.phase != phaseIdle {
		return errors.New("backtest: engine already ran")
	}
	e.ctx = logger.WithRunID(ctx, e.runID)
	start := time.Now()
	defer func() {
		outcome := "ok"
		switch {
		case err != nil:
			outcome = "error"
		case e.matcher.Ledger().Len() == 0:
			outcome = "empty"
		}
		e.metrics.RunFinished(time.Since(start), outcome)
		e.phase = phaseDone
	}()

	e.log.Info("initializing strategy",
		slog.String("strategy", e.strategyName),
		slog.String("symbol", e.cfg.Symbol),
		slog.String("params", e.params.String()))
	e.phase = phaseInit
	if err := e.strat.OnInit(); err != nil {
		return fmt.Errorf("strategy %s init: %w", e.strategyName, err)
	}

	e.phase = phaseRun
	e.trading = true
	e.strat.OnStart()
	e.log.Info("replaying", slog.Time("from", e.cfg.RunRange().From), slog.Time("to", e.cfg.RunRange().To))

	if e.cfg.Mode == ModeTick {
		err = e.runTicks()
	} else {
		err = e.runBars()
	}
	e.trading = false
	e.strat.OnStop()
	if err != nil {
		return err
	}

	e.log.Info("replay finished",
		slog.Int("events", e.events),
		slog.Int("trades", e.matcher.Ledger().Len()),
		slog.Int64("position", e.Pos()),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

// openInfo builds a synchronizer over fresh info cursors for rng. Streams
// that are empty are logged by the synchronizer and stay silent.
func (e *Engine) openInfo(rng model.Range) (*replay.Synchronizer, error) {
	streams := make([]replay.Stream, 0, len(e.cfg.InfoSymbols))
	for _, sym := range e.cfg.InfoSymbols {
		c, err := e.source.Bars(e.ctx, sym, rng)
		if err != nil {
			for _, s := range streams {
				s.Cursor.Close()
			}
			return nil, fmt.Errorf("open info %s: %w", sym, err)
		}
		streams = append(streams, replay.Stream{Name: sym, Cursor: c})
	}
	sync, err := replay.New(e.runLog, streams...)
	if err != nil && !errors.Is(err, replay.ErrNoData) {
		sync.Close()
		return nil, err
	}
	sync.OnExhausted = func(string) { e.metrics.InfoStreamExhausted() }
	return sync, nil
}

// replayBars feeds every bar of rng to handle with its info snapshot.
// It reports whether any bar was seen.
func (e *Engine) replayBars(rng model.Range, handle func(model.Bar, replay.Snapshot)) (bool, error) {
	cur, err := e.source.Bars(e.ctx, e.cfg.Symbol, rng)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", e.cfg.Symbol, err)
	}
	defer cur.Close()

	sync, err := e.openInfo(rng)
	if err != nil {
		return false, err
	}
	defer sync.Close()

	seen := false
	for {
		if err := e.ctx.Err(); err != nil {
			return seen, err
		}
		bar, ok := cur.Next()
		if !ok {
			break
		}
		seen = true
		handle(bar, sync.Advance(bar.TS))
	}
	if err := cur.Err(); err != nil {
		return seen, fmt.Errorf("read %s: %w", e.cfg.Symbol, err)
	}
	return seen, nil
}

func (e *Engine) replayTicks(rng model.Range, handle func(model.Tick)) (bool, error) {
	cur, err := e.source.Ticks(e.ctx, e.cfg.Symbol, rng)
	if err != nil {
		return false, fmt.Errorf("open %s ticks: %w", e.cfg.Symbol, err)
	}
	defer cur.Close()

	seen := false
	for {
		if err := e.ctx.Err(); err != nil {
			return seen, err
		}
		tick, ok := cur.Next()
		if !ok {
			break
		}
		seen = true
		handle(tick)
	}
	if err := cur.Err(); err != nil {
		return seen, fmt.Errorf("read %s ticks: %w", e.cfg.Symbol, err)
	}
	return seen, nil
}

func (e *Engine) runBars() error {
	seen, err := e.replayBars(e.cfg.RunRange(), func(bar model.Bar, info replay.Snapshot) {
		e.now = bar.TS
		e.events++
		e.metrics.Event(string(ModeBar))
		e.matcher.SetClock(bar.TS)
		e.matcher.CrossBar(bar, e)
		e.strat.OnBar(bar, info)
	})
	if err != nil {
		return err
	}
	if !seen {
		return fmt.Errorf("primary %s: %w", e.cfg.Symbol, replay.ErrNoData)
	}
	return nil
}

func (e *Engine) runTicks() error {
	seen, err := e.replayTicks(e.cfg.RunRange(), func(tick model.Tick) {
		e.now = tick.TS
		e.events++
		e.metrics.Event(string(ModeTick))
		e.matcher.SetClock(tick.TS)
		e.matcher.CrossTick(tick, e)
		e.strat.OnTick(tick)
	})
	if err != nil {
		return err
	}
	if !seen {
		return fmt.Errorf("primary %s ticks: %w", e.cfg.Symbol, replay.ErrNoData)
	}
	return nil
}

// WarmUp replays the initialization window with trading disabled. It may
// only be called from OnInit.
func (e *Engine) WarmUp() error {
	if e.phase != phaseInit {
		return errors.New("backtest: warm-up outside strategy init")
	}
	rng := e.cfg.InitRange()
	if !rng.From.Before(rng.To) {
		return nil
	}
	var (
		seen bool
		err  error
	)
	if e.cfg.Mode == ModeTick {
		seen, err = e.replayTicks(rng, func(tick model.Tick) {
			e.now = tick.TS
			e.strat.OnTick(tick)
		})
	} else {
		seen, err = e.replayBars(rng, func(bar model.Bar, info replay.Snapshot) {
			e.now = bar.TS
			e.strat.OnBar(bar, info)
		})
	}
	if err != nil {
		return fmt.Errorf("warm-up: %w", err)
	}
	if !seen {
		e.log.Warn("no warm-up data", slog.Time("from", rng.From), slog.Time("to", rng.To))
	}
	return nil
}

// SendOrder implements strategy.Gateway.
func (e *Engine) SendOrder(t model.OrderType, price float64, volume int64) string {
	dir, off, ok := t.Split()
	if !ok || !e.trading || volume <= 0 {
		return ""
	}
	return e.matcher.SubmitLimit(e.cfg.Symbol, dir, off, price, volume)
}

// SendStopOrder implements strategy.Gateway.
func (e *Engine) SendStopOrder(t model.OrderType, price float64, volume int64) string {
	dir, off, ok := t.Split()
	if !ok || !e.trading || volume <= 0 {
		return ""
	}
	return e.matcher.SubmitStop(e.cfg.Symbol, dir, off, price, volume)
}

func (e *Engine) CancelOrder(id string)     { e.matcher.CancelLimit(id) }
func (e *Engine) CancelStopOrder(id string) { e.matcher.CancelStop(id) }
func (e *Engine) Symbol() string            { return e.cfg.Symbol }
func (e *Engine) Pos() int64                { return e.matcher.Position().Qty }
func (e *Engine) Now() time.Time            { return e.now }
func (e *Engine) Trading() bool             { return e.trading }

func (e *Engine) InfoSymbols() []string {
	out := make([]string, len(e.cfg.InfoSymbols))
	copy(out, e.cfg.InfoSymbols)
	return out
}

// WriteLog records msg stamped with the current simulation time.
func (e *Engine) WriteLog(msg string) {
	line := e.now.Format("2006-01-02 15:04:05") + "\t" + msg
	e.logs = append(e.logs, line)
	e.log.Debug(msg, slog.Time("sim_time", e.now))
}

// OnTrade implements execution.Notifier by forwarding to the strategy.
func (e *Engine) OnTrade(t model.Trade) { e.strat.OnTrade(t) }

// OnOrder implements execution.Notifier by forwarding to the strategy.
func (e *Engine) OnOrder(o model.LimitOrder) { e.strat.OnOrder(o) }

// RunID identifies this run in logs, the journal and published results.
func (e *Engine) RunID() string { return e.runID }

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// StrategyName is the name reported by the initialized strategy.
func (e *Engine) StrategyName() string { return e.strategyName }

// Params returns the strategy's parameters.
func (e *Engine) Params() strategy.Params { return e.params.Clone() }

// Trades returns the ledger in execution order.
func (e *Engine) Trades() []model.Trade { return e.matcher.Ledger().Trades() }

// LimitOrders returns every limit order ever created, by id.
func (e *Engine) LimitOrders() []model.LimitOrder { return e.matcher.Book().LimitOrders() }

// StopOrders returns every stop order ever created, by id.
func (e *Engine) StopOrders() []model.StopOrder { return e.matcher.Book().StopOrders() }

// Logs returns the strategy log lines.
func (e *Engine) Logs() []string {
	out := make([]string, len(e.logs))
	copy(out, e.logs)
	return out
}

// Settlement pairs the ledger FIFO into round trips.
func (e *Engine) Settlement() portfolio.Settlement {
	return portfolio.Settle(e.Trades(), e.cfg.Costs())
}

// ComputeResult summarizes the run. ok is false when nothing was settled.
func (e *Engine) ComputeResult() (portfolio.Summary, bool) {
	return portfolio.Compute(e.Trades(), e.cfg.Costs())
}
