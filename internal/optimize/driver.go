// Package optimize sweeps a strategy over a parameter grid. Every
// combination runs in its own simulation and the rows are ranked by a
// target metric.
package optimize

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"backtester/internal/backtest"
	"backtester/internal/logger"
	"backtester/internal/metrics"
	"backtester/internal/model"
	"backtester/internal/portfolio"
	"backtester/internal/strategy"
)

// Runner executes one isolated simulation for p. ok is false when the run
// produced no statistics.
type Runner func(ctx context.Context, p strategy.Params) (sum portfolio.Summary, ok bool, err error)

// BacktestRunner returns a Runner that builds a fresh engine per call from
// a copy of cfg. source must be safe for concurrent reads when the driver
// runs in parallel.
func BacktestRunner(cfg backtest.Config, source model.HistorySource, factory strategy.Factory, opts ...backtest.Option) Runner {
	return func(ctx context.Context, p strategy.Params) (portfolio.Summary, bool, error) {
		e, err := backtest.New(cfg, source, opts...)
		if err != nil {
			return portfolio.Summary{}, false, err
		}
		if err := e.InitStrategy(factory, p); err != nil {
			return portfolio.Summary{}, false, err
		}
		if err := e.Run(ctx); err != nil {
			return portfolio.Summary{}, false, err
		}
		sum, ok := e.ComputeResult()
		return sum, ok, nil
	}
}

// Row is one ranked combination. Target is 0 when the run failed or
// produced no statistics.
type Row struct {
	Index  int             `json:"index"`
	Params strategy.Params `json:"params"`
	Target float64         `json:"target"`
	OK     bool            `json:"ok"`
	Err    error           `json:"-"`
}

// Error returns the row's failure text, or "".
func (r Row) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Driver runs sweeps. The zero value is not usable; see NewDriver.
type Driver struct {
	run     Runner
	workers int
	sweepID string
	log     *slog.Logger
	metrics *metrics.Metrics

	// OnResult, if set, sees every row as it completes. Calls are
	// serialized but arrive in completion order.
	OnResult func(Row)
	mu       sync.Mutex
}

// DriverOption customizes a Driver.
type DriverOption func(*Driver)

// WithWorkers bounds the parallel pool. n <= 0 means runtime.NumCPU().
func WithWorkers(n int) DriverOption { return func(d *Driver) { d.workers = n } }

// WithSweepID fixes the sweep id used in logs instead of a fresh one per sweep.
func WithSweepID(id string) DriverOption { return func(d *Driver) { d.sweepID = id } }

func WithDriverLogger(l *slog.Logger) DriverOption { return func(d *Driver) { d.log = l } }

func WithDriverMetrics(m *metrics.Metrics) DriverOption { return func(d *Driver) { d.metrics = m } }

// NewDriver creates a driver around run.
func NewDriver(run Runner, opts ...DriverOption) *Driver {
	d := &Driver{run: run}
	for _, opt := range opts {
		opt(d)
	}
	if d.workers <= 0 {
		d.workers = runtime.NumCPU()
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	d.log = d.log.With(slog.String("component", "optimize"))
	return d
}

// Workers is the parallel pool size.
func (d *Driver) Workers() int { return d.workers }

// RunSequential runs every combination in order on the calling goroutine.
func (d *Driver) RunSequential(ctx context.Context, s *Setting) ([]Row, error) {
	return d.sweep(ctx, s, func(grid []strategy.Params, rows []Row) {
		for i, p := range grid {
			rows[i] = d.task(ctx, i, p, s.Target())
		}
	})
}

// RunParallel runs combinations on a pool of Workers goroutines. Each task
// owns its engine; a failing task only affects its own row.
func (d *Driver) RunParallel(ctx context.Context, s *Setting) ([]Row, error) {
	return d.sweep(ctx, s, func(grid []strategy.Params, rows []Row) {
		var g errgroup.Group
		g.SetLimit(d.workers)
		for i, p := range grid {
			g.Go(func() error {
				rows[i] = d.task(ctx, i, p, s.Target())
				return nil
			})
		}
		_ = g.Wait()
	})
}

func (d *Driver) sweep(ctx context.Context, s *Setting, exec func([]strategy.Params, []Row)) ([]Row, error) {
	grid, err := s.Generate()
	if err != nil {
		return nil, err
	}
	sweepID := d.sweepID
	if sweepID == "" {
		sweepID = logger.NewRunID()
	}
	log := d.log.With(slog.String("sweep_id", sweepID))
	log.Info("optimization started",
		slog.Int("combinations", len(grid)),
		slog.String("target", s.Target()),
		slog.Int("workers", d.workers))
	start := time.Now()

	rows := make([]Row, len(grid))
	exec(grid, rows)
	Rank(rows)
	d.metrics.SweepFinished(time.Since(start))

	failed := 0
	for _, r := range rows {
		if r.Err != nil {
			failed++
		}
	}
	attrs := []any{slog.Int("rows", len(rows)), slog.Int("failed", failed), slog.Duration("elapsed", time.Since(start))}
	if len(rows) > 0 {
		attrs = append(attrs, slog.String("best", rows[0].Params.String()), slog.Float64("best_target", rows[0].Target))
	}
	log.Info("optimization finished", attrs...)
	return rows, ctx.Err()
}

func (d *Driver) task(ctx context.Context, i int, p strategy.Params, target string) (row Row) {
	row = Row{Index: i, Params: p}
	d.metrics.TaskStarted()
	outcome := "ok"
	defer func() {
		if r := recover(); r != nil {
			row.Target, row.OK = 0, false
			row.Err = fmt.Errorf("task %d panicked: %v", i, r)
			outcome = "panic"
		}
		if row.Err != nil {
			d.log.Warn("optimization task failed",
				slog.Int("index", i), slog.String("params", p.String()), slog.Any("err", row.Err))
		}
		d.metrics.TaskFinished(outcome)
		d.emit(row)
	}()

	if err := ctx.Err(); err != nil {
		row.Err = err
		outcome = "skipped"
		return row
	}
	sum, ok, err := d.run(ctx, p.Clone())
	switch {
	case err != nil:
		row.Err = err
		outcome = "error"
	case !ok:
		outcome = "empty"
	default:
		row.Target, _ = sum.Metric(target)
		row.OK = true
	}
	return row
}

func (d *Driver) emit(r Row) {
	if d.OnResult == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OnResult(r)
}

// Rank sorts rows by Target descending, keeping grid order among ties.
func Rank(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Target != rows[j].Target {
			return rows[i].Target > rows[j].Target
		}
		return rows[i].Index < rows[j].Index
	})
}
