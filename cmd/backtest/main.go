// cmd/backtest runs a strategy over stored history, either once with a fixed
// parameter set or as an optimization sweep over a parameter grid.
//
// Usage:
//
//	go run ./cmd/backtest -strategy=SMA_Crossover -symbol=ES -start=20240101 -params=fast=5,slow=20
//	go run ./cmd/backtest -strategy=SMA_Crossover -symbol=ES -start=20240101 \
//	    -grid='fast=3:9:2;slow=20|30' -target=capital -parallel
//	go run ./cmd/backtest -journal=data/journal.db -replay-run=<run id>
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"backtester/config"
	"backtester/internal/backtest"
	"backtester/internal/execution"
	"backtester/internal/gateway"
	"backtester/internal/logger"
	"backtester/internal/marketdata/feed"
	"backtester/internal/metrics"
	"backtester/internal/model"
	"backtester/internal/notification"
	"backtester/internal/optimize"
	"backtester/internal/portfolio"
	redisstore "backtester/internal/store/redis"
	sqlitestore "backtester/internal/store/sqlite"
	"backtester/internal/strategy"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	cfg := config.Load()

	// Flags default to the environment and override it.
	flag.StringVar(&cfg.Source, "source", cfg.Source, "History source: sqlite, csv or redis")
	flag.StringVar(&cfg.SQLitePath, "db", cfg.SQLitePath, "Path to SQLite database")
	flag.StringVar(&cfg.CSVDir, "csv", cfg.CSVDir, "Directory of <symbol>.csv files")
	flag.StringVar(&cfg.Mode, "mode", cfg.Mode, "Event mode: bar or tick")
	flag.StringVar(&cfg.Symbol, "symbol", cfg.Symbol, "Traded symbol")
	flag.StringVar(&cfg.InfoSymbols, "info", cfg.InfoSymbols, "Comma-separated auxiliary bar symbols")
	flag.StringVar(&cfg.Start, "start", cfg.Start, "Data start date YYYYMMDD")
	flag.IntVar(&cfg.InitDays, "init-days", cfg.InitDays, "Warm-up days before trading starts")
	flag.StringVar(&cfg.End, "end", cfg.End, "Last trading date YYYYMMDD (inclusive)")
	flag.Float64Var(&cfg.Slippage, "slippage", cfg.Slippage, "Slippage per unit, in price points")
	flag.Float64Var(&cfg.Rate, "rate", cfg.Rate, "Commission rate on turnover")
	flag.Float64Var(&cfg.Size, "size", cfg.Size, "Contract multiplier")
	flag.IntVar(&cfg.Workers, "workers", cfg.Workers, "Parallel optimization workers (0 = NumCPU)")
	flag.StringVar(&cfg.JournalPath, "journal", cfg.JournalPath, "SQLite trade journal path (empty = off)")
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Metrics/health listen address (empty = off)")
	flag.StringVar(&cfg.WSAddr, "ws", cfg.WSAddr, "Optimization feed listen address (empty = off)")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	stratName := flag.String("strategy", strategy.SMACrossoverName, "Strategy name")
	paramStr := flag.String("params", "", "Strategy params k=v,k=v")
	grid := flag.String("grid", "", "Optimization grid name=start:end:step;name=v1|v2")
	target := flag.String("target", "capital", "Optimization target metric")
	parallel := flag.Bool("parallel", false, "Run the grid on a worker pool")
	top := flag.Int("top", 10, "Rows to print after an optimization")
	publish := flag.Bool("publish", false, "Publish results to Redis")
	replayRun := flag.String("replay-run", "", "Re-settle a journaled run instead of simulating")
	list := flag.Bool("list", false, "List strategies and metrics, then exit")
	flag.Parse()

	slogger := logger.Init("backtest", logger.ParseLevel(cfg.LogLevel))
	registry := strategy.DefaultRegistry()

	if *list {
		fmt.Println("strategies:", strings.Join(registry.Names(), ", "))
		fmt.Println("metrics:   ", strings.Join(portfolio.MetricNames, ", "))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slogger.Warn("interrupt received, stopping")
		cancel()
	}()

	if *replayRun != "" {
		if err := replayJournal(ctx, cfg, *replayRun); err != nil {
			log.Fatalf("[backtest] %v", err)
		}
		return
	}

	bc, err := cfg.BacktestConfig()
	if err != nil {
		log.Fatalf("[backtest] config: %v", err)
	}
	factory, err := registry.Lookup(*stratName)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	params, err := strategy.ParseParams(*paramStr)
	if err != nil {
		log.Fatalf("[backtest] params: %v", err)
	}

	// Metrics on a private registry so sweeps do not collide with globals.
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	src, deps, err := openSource(cfg)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	defer deps.close()

	health := metrics.NewHealthStatus(deps.rdb != nil, deps.db != nil)
	health.StartLivenessChecker(ctx, deps.rdb, deps.db, 10*time.Second)
	if cfg.MetricsAddr != "" {
		srv := metrics.NewServer(cfg.MetricsAddr, reg, health)
		srv.Start()
		defer func() {
			stopCtx, stop := context.WithTimeout(context.Background(), 3*time.Second)
			defer stop()
			srv.Stop(stopCtx)
		}()
	}

	var publisher *redisstore.ResultPublisher
	if *publish {
		rdb := deps.rdb
		if rdb == nil {
			rdb = goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
			defer rdb.Close()
		}
		cb := redisstore.NewBreaker(5, 10*time.Second)
		cb.OnTransition = func(from, to redisstore.BreakerState) {
			log.Printf("[backtest] redis breaker %s -> %s", from, to)
			m.BreakerState(int(to), to == redisstore.StateOpen)
		}
		publisher = redisstore.NewResultPublisher(rdb, cb, 0)
	}

	var journal *execution.Journal
	if cfg.JournalPath != "" {
		journal, err = execution.NewJournal(cfg.JournalPath)
		if err != nil {
			log.Fatalf("[backtest] %v", err)
		}
		defer journal.Close()
	}

	notifier := buildNotifier(cfg)

	health.SetRunning(true)
	defer health.SetRunning(false)

	if *grid != "" {
		setting, err := optimize.ParseGrid(*grid, *target)
		if err != nil {
			log.Fatalf("[backtest] grid: %v", err)
		}
		// Fixed params apply to every combination unless the grid overrides them.
		base := params
		runner := optimize.BacktestRunner(bc, src, withBase(factory, base), backtest.WithMetrics(m), backtest.WithLogger(slogger))
		err = runSweep(ctx, sweepOpts{
			setting: setting, runner: runner, parallel: *parallel, workers: cfg.Workers,
			top: *top, wsAddr: cfg.WSAddr, publisher: publisher, notifier: notifier,
			metrics: m, health: health, log: slogger,
		})
		if err != nil {
			log.Fatalf("[backtest] optimization: %v", err)
		}
		return
	}

	if err := runSingle(ctx, bc, src, factory, params, m, slogger, journal, publisher, notifier); err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	health.RunCompleted(time.Now())
}

// sourceDeps are the connections behind a history source, kept for health
// checks and cleanup.
type sourceDeps struct {
	closer func() error
	rdb    *goredis.Client
	db     *sql.DB
}

func (d sourceDeps) close() {
	if d.closer != nil {
		if err := d.closer(); err != nil {
			log.Printf("[backtest] close source: %v", err)
		}
	}
}

func openSource(cfg *config.Config) (model.HistorySource, sourceDeps, error) {
	switch cfg.Source {
	case "sqlite":
		r, err := sqlitestore.NewReader(cfg.SQLitePath)
		if err != nil {
			return nil, sourceDeps{}, err
		}
		return r, sourceDeps{closer: r.Close, db: r.DB()}, nil
	case "csv":
		return feed.NewCSVSource(cfg.CSVDir), sourceDeps{}, nil
	case "redis":
		rdb, err := redisstore.Dial(context.Background(), redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			return nil, sourceDeps{}, err
		}
		return redisstore.NewSource(rdb, 0), sourceDeps{closer: rdb.Close, rdb: rdb}, nil
	}
	return nil, sourceDeps{}, fmt.Errorf("unknown source %q", cfg.Source)
}

// withBase merges fixed params under each grid combination.
func withBase(f strategy.Factory, base strategy.Params) strategy.Factory {
	return func(gw strategy.Gateway, p strategy.Params) (strategy.Strategy, error) {
		merged := base.Clone()
		for k, v := range p {
			merged[k] = v
		}
		return f(gw, merged)
	}
}

func runSingle(ctx context.Context, bc backtest.Config, src model.HistorySource, factory strategy.Factory,
	params strategy.Params, m *metrics.Metrics, slogger *slog.Logger,
	journal *execution.Journal, publisher *redisstore.ResultPublisher, notifier notification.Notifier) error {

	engine, err := backtest.New(bc, src, backtest.WithLogger(slogger), backtest.WithMetrics(m))
	if err != nil {
		return err
	}
	if err := engine.InitStrategy(factory, params); err != nil {
		return err
	}
	start := time.Now()
	if err := engine.Run(ctx); err != nil {
		return fmt.Errorf("run %s: %w", engine.RunID(), err)
	}

	for _, line := range engine.Logs() {
		fmt.Println(line)
	}
	sum, ok := engine.ComputeResult()

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║        BACKTEST COMPLETE             ║")
	fmt.Println("╚══════════════════════════════════════╝")
	fmt.Printf("Run:               %s\n", engine.RunID())
	fmt.Printf("Strategy:          %s (%s)\n", engine.StrategyName(), engine.Params())
	fmt.Printf("Trades:            %d\n", len(engine.Trades()))
	fmt.Printf("Elapsed:           %v\n", time.Since(start).Round(time.Millisecond))
	if err := portfolio.WriteReport(os.Stdout, sum); err != nil {
		return err
	}

	if journal != nil {
		rec := execution.RunRecord{
			RunID: engine.RunID(), Strategy: engine.StrategyName(), Symbol: bc.Symbol, Params: engine.Params(),
		}
		if err := journal.RecordRun(ctx, rec, engine.Trades()); err != nil {
			return err
		}
		slogger.Info("run journaled", slog.String("run_id", engine.RunID()))
	}
	if publisher != nil {
		payload := redisstore.RunPayload{
			RunID: engine.RunID(), Strategy: engine.StrategyName(), Symbol: bc.Symbol,
			Params: engine.Params(), Trades: len(engine.Trades()),
		}
		if ok {
			payload.Summary = &sum
		}
		if err := publisher.PublishRun(ctx, payload); err != nil {
			slogger.Warn("publish run failed", slog.Any("err", err))
		}
	}
	if notifier != nil {
		alert := notification.RunAlert(engine.RunID(), engine.StrategyName(), sum, ok)
		if err := notifier.Send(ctx, alert); err != nil {
			slogger.Warn("notify failed", slog.Any("err", err))
		}
	}
	return nil
}

// buildNotifier enables every channel whose settings are present.
func buildNotifier(cfg *config.Config) notification.Notifier {
	var m notification.Multi
	if cfg.WebhookURL != "" {
		m = append(m, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		m = append(m, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

type sweepOpts struct {
	setting   *optimize.Setting
	runner    optimize.Runner
	parallel  bool
	workers   int
	top       int
	wsAddr    string
	publisher *redisstore.ResultPublisher
	notifier  notification.Notifier
	metrics   *metrics.Metrics
	health    *metrics.HealthStatus
	log       *slog.Logger
}

func runSweep(ctx context.Context, o sweepOpts) error {
	sweepID := logger.NewRunID()
	driver := optimize.NewDriver(o.runner,
		optimize.WithWorkers(o.workers),
		optimize.WithSweepID(sweepID),
		optimize.WithDriverLogger(o.log),
		optimize.WithDriverMetrics(o.metrics))

	grid, err := o.setting.Generate()
	if err != nil {
		return err
	}

	var hub *gateway.Hub
	if o.wsAddr != "" {
		hub = gateway.NewHub(4096)
		mux := http.NewServeMux()
		gateway.RegisterRoutes(mux, hub)
		srv := &http.Server{Addr: o.wsAddr, Handler: mux}
		go func() {
			log.Printf("[backtest] optimization feed on %s", o.wsAddr)
			if err := srv.ListenAndServe(); err != http.ErrServerClosed {
				log.Printf("[backtest] feed server error: %v", err)
			}
		}()
		defer srv.Close()
		hub.StartSweep(sweepID, o.setting.Target(), len(grid))
	}

	driver.OnResult = func(r optimize.Row) {
		o.health.RunCompleted(time.Now())
		if hub != nil {
			hub.PublishRow(r)
		}
		if o.publisher != nil {
			if err := o.publisher.PublishRow(ctx, sweepID, r); err != nil {
				o.log.Warn("publish row failed", slog.Any("err", err))
			}
		}
	}

	var rows []optimize.Row
	if o.parallel {
		rows, err = driver.RunParallel(ctx, o.setting)
	} else {
		rows, err = driver.RunSequential(ctx, o.setting)
	}
	if hub != nil {
		hub.FinishSweep(rows)
		if n := hub.Dropped(); n > 0 {
			log.Printf("[backtest] feed dropped %d envelopes on slow clients", n)
		}
	}
	if o.publisher != nil {
		o.publisher.Flush(ctx)
	}
	if o.notifier != nil {
		// The sweep context may already be cancelled.
		nctx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		if nerr := o.notifier.Send(nctx, notification.SweepAlert(sweepID, o.setting.Target(), rows, o.top, err)); nerr != nil {
			o.log.Warn("notify failed", slog.Any("err", nerr))
		}
		stop()
	}
	if err != nil {
		return err
	}

	fmt.Printf("\nOptimization %s: %d combinations, target %s\n", sweepID, len(rows), o.setting.Target())
	for i, r := range rows {
		if i >= o.top {
			break
		}
		status := ""
		if r.Err != nil {
			status = "  error: " + r.Error()
		} else if !r.OK {
			status = "  (no trades)"
		}
		fmt.Printf("%3d. %-40s %14s%s\n", i+1, r.Params.String(), portfolio.FormatNumber(r.Target), status)
	}
	return nil
}

// replayJournal re-settles a stored ledger with the current cost settings.
func replayJournal(ctx context.Context, cfg *config.Config, runID string) error {
	if cfg.JournalPath == "" {
		return fmt.Errorf("-replay-run needs -journal")
	}
	journal, err := execution.NewJournal(cfg.JournalPath)
	if err != nil {
		return err
	}
	defer journal.Close()

	trades, err := journal.Trades(ctx, runID)
	if err != nil {
		return err
	}
	costs := portfolio.Costs{Rate: cfg.Rate, Slippage: cfg.Slippage, Size: cfg.Size}
	settlement := portfolio.Settle(trades, costs)
	sum, _ := portfolio.Summarize(settlement.Results)

	fmt.Printf("Run %s: %d trades, %d round trips, %d open long, %d open short\n",
		runID, len(trades), len(settlement.Results), len(settlement.OpenLong), len(settlement.OpenShort))
	return portfolio.WriteReport(os.Stdout, sum)
}
