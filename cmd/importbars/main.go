// cmd/importbars loads CSV history into the stores the backtester reads:
// the SQLite bars/ticks tables and the Redis bar:{symbol}/tick:{symbol}
// streams. Bars can also be built from tick files and resampled into
// coarser series for use as auxiliary symbols.
//
// Usage:
//
//	go run ./cmd/importbars -csv=data/csv -symbols=ES,NQ -to=sqlite
//	go run ./cmd/importbars -csv=data/csv -symbols=ES -ticks -to=both
//	go run ./cmd/importbars -csv=data/csv -symbols=ES -from-ticks=1m -resample=5m,1h
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"backtester/config"
	"backtester/internal/marketdata/agg"
	"backtester/internal/marketdata/bus"
	"backtester/internal/marketdata/feed"
	"backtester/internal/marketdata/tfbuilder"
	"backtester/internal/model"
	redisstore "backtester/internal/store/redis"
	sqlitestore "backtester/internal/store/sqlite"
)

const (
	tickBatch = 1000
	chanSize  = 1000
)

// importer owns the destination writers shared by every symbol.
type importer struct {
	csvDir   string
	csv      *feed.CSVSource
	sqlite   *sqlitestore.Writer
	redis    *redisstore.Writer
	fromTick time.Duration
	resample []int
	resume   bool
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[importbars] starting...")
	cfg := config.Load()

	flag.StringVar(&cfg.CSVDir, "csv", cfg.CSVDir, "Directory of <symbol>.csv and <symbol>.ticks.csv files")
	flag.StringVar(&cfg.SQLitePath, "db", cfg.SQLitePath, "Path to SQLite database")
	flag.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "Redis address")
	symbols := flag.String("symbols", cfg.Symbol, "Comma-separated symbols to import")
	to := flag.String("to", "sqlite", "Destination: sqlite, redis or both")
	ticks := flag.Bool("ticks", false, "Import tick files as ticks")
	fromTicks := flag.Duration("from-ticks", 0, "Build bars of this interval from tick files instead of reading bar files")
	resample := flag.String("resample", "", "Also store bars resampled to these timeframes, e.g. 5m,1h")
	resume := flag.Bool("resume", false, "Skip bars at or before the last stored SQLite bar")
	flag.Parse()

	syms := splitSymbols(*symbols)
	if len(syms) == 0 {
		log.Fatal("[importbars] no symbols given")
	}
	toSQLite := *to == "sqlite" || *to == "both"
	toRedis := *to == "redis" || *to == "both"
	if !toSQLite && !toRedis {
		log.Fatalf("[importbars] unknown destination %q", *to)
	}

	im := &importer{csvDir: cfg.CSVDir, csv: feed.NewCSVSource(cfg.CSVDir), fromTick: *fromTicks, resume: *resume}
	if *resample != "" {
		tfs, err := tfbuilder.ParseTFs(*resample)
		if err != nil {
			log.Fatalf("[importbars] %v", err)
		}
		im.resample = tfs
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("[importbars] interrupt received, stopping")
		cancel()
	}()

	if toSQLite {
		if dir := filepath.Dir(cfg.SQLitePath); dir != "" {
			os.MkdirAll(dir, 0o755)
		}
		w, err := sqlitestore.NewWriter(ctx, cfg.SQLitePath)
		if err != nil {
			log.Fatalf("[importbars] sqlite init failed: %v", err)
		}
		defer w.Close()
		im.sqlite = w
	}
	if toRedis {
		rdb, err := redisstore.Dial(ctx, redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			log.Fatalf("[importbars] redis init failed: %v", err)
		}
		defer rdb.Close()
		im.redis = redisstore.NewWriter(rdb)
	}

	start := time.Now()
	for _, sym := range syms {
		if ctx.Err() != nil {
			break
		}
		var err error
		if *ticks {
			err = im.importTicks(ctx, sym)
		} else {
			err = im.importBars(ctx, sym)
		}
		if errors.Is(err, context.Canceled) {
			log.Printf("[importbars] %s: interrupted", sym)
			break
		}
		if err != nil {
			log.Fatalf("[importbars] %s: %v", sym, err)
		}
	}
	log.Printf("[importbars] done in %v", time.Since(start).Round(time.Millisecond))
}

func splitSymbols(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// importBars runs one symbol through the pipeline
//
//	csv bars | csv ticks -> agg  ->  fan-out -> writers
//	                                   \-> tfbuilder -> fan-out -> writers
func (im *importer) importBars(ctx context.Context, sym string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var from time.Time
	if im.resume && im.sqlite != nil {
		if prev, ok, err := im.sqlite.LastImport(ctx, sym, "bars"); err != nil {
			return err
		} else if ok {
			log.Printf("[importbars] %s: previous import of %d bars finished %v", sym, prev.Rows, prev.FinishedAt.Format(time.RFC3339))
		}
		last, err := im.sqlite.LastTimestamp(ctx, sym)
		if err != nil {
			return err
		}
		if !last.IsZero() {
			from = last.Add(time.Nanosecond)
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 3)

	bars, err := im.source(ctx, &wg, errCh, sym, from)
	if err != nil {
		return err
	}

	primary := bus.New[model.Bar](chanSize, bus.Block)
	var resampled <-chan model.Bar
	if len(im.resample) > 0 {
		builder, err := tfbuilder.New(im.resample)
		if err != nil {
			return err
		}
		builder.OnStaleBar = func(b model.Bar, tf int) {
			log.Printf("[importbars] %s: stale bar at %v for %s", sym, b.TS, tfbuilder.Label(tf))
		}
		builderIn := primary.Subscribe("tfbuilder")
		out := make(chan model.Bar, chanSize)
		resampled = out
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := builder.Run(ctx, builderIn, out); err != nil {
				errCh <- err
			}
		}()
	}
	im.sink(ctx, &wg, primary, sym)
	var seen span
	if im.sqlite != nil {
		ch := primary.Subscribe("ledger")
		wg.Add(1)
		go func() {
			defer wg.Done()
			for b := range ch {
				seen.add(b.TS)
			}
		}()
	}
	if resampled != nil {
		derived := bus.New[model.Bar](chanSize, bus.Block)
		im.sink(ctx, &wg, derived, sym+" resampled")
		wg.Add(1)
		go func() {
			defer wg.Done()
			derived.Run(ctx, resampled)
		}()
	}

	read := primary.Run(ctx, bars)
	wg.Wait()
	close(errCh)
	log.Printf("[importbars] %s: read %d bars", sym, read)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return im.record(ctx, sym, "bars", read, seen)
}

// span tracks the first and last timestamp of an imported series.
type span struct{ first, last time.Time }

func (s *span) add(ts time.Time) {
	if s.first.IsZero() {
		s.first = ts
	}
	s.last = ts
}

// record appends a finished import to the SQLite ledger.
func (im *importer) record(ctx context.Context, sym, kind string, rows int, s span) error {
	if im.sqlite == nil {
		return nil
	}
	source := filepath.Join(im.csvDir, sym)
	if kind == "bars" && im.fromTick > 0 {
		source += " ticks @" + im.fromTick.String()
	}
	return im.sqlite.RecordImport(ctx, sqlitestore.Import{
		Symbol: sym, Kind: kind, Source: source, Rows: rows,
		First: s.first, Last: s.last, FinishedAt: time.Now().UTC(),
	})
}

// source starts the goroutines producing sym's bars: straight from the bar
// file, or aggregated from the tick file when -from-ticks is set.
func (im *importer) source(ctx context.Context, wg *sync.WaitGroup, errCh chan<- error, sym string, from time.Time) (<-chan model.Bar, error) {
	bars := make(chan model.Bar, chanSize)
	rng := model.Range{From: from}

	if im.fromTick <= 0 {
		cur, err := im.csv.Bars(ctx, sym, rng)
		if err != nil {
			return nil, err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer close(bars)
			defer cur.Close()
			errCh <- pump(ctx, cur.Next, cur.Err, bars)
		}()
		return bars, nil
	}

	a, err := agg.New(im.fromTick)
	if err != nil {
		return nil, err
	}
	dropped := 0
	a.OnDroppedTick = func(model.Tick) { dropped++ }
	cur, err := im.csv.Ticks(ctx, sym, rng)
	if err != nil {
		return nil, err
	}
	ticks := make(chan model.Tick, chanSize)
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer close(ticks)
		defer cur.Close()
		errCh <- pump(ctx, cur.Next, cur.Err, ticks)
	}()
	go func() {
		defer wg.Done()
		if err := a.Run(ctx, ticks, bars); err != nil {
			errCh <- err
		}
		if dropped > 0 {
			log.Printf("[importbars] %s: dropped %d out-of-order ticks", sym, dropped)
		}
	}()
	return bars, nil
}

// pump copies a cursor into ch.
func pump[T any](ctx context.Context, next func() (T, bool), errf func() error, ch chan<- T) error {
	for {
		v, ok := next()
		if !ok {
			return errf()
		}
		select {
		case ch <- v:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// sink subscribes every enabled writer to fo.
func (im *importer) sink(ctx context.Context, wg *sync.WaitGroup, fo *bus.FanOut[model.Bar], label string) {
	if im.sqlite != nil {
		ch := fo.Subscribe("sqlite")
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := im.sqlite.Run(ctx, ch)
			log.Printf("[importbars] %s: %d bars committed to sqlite", label, n)
		}()
	}
	if im.redis != nil {
		ch := fo.Subscribe("redis")
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := im.redis.Run(ctx, ch)
			log.Printf("[importbars] %s: %d bars appended to redis", label, n)
		}()
	}
}

// importTicks reads one symbol's tick file and writes it in fixed batches.
func (im *importer) importTicks(ctx context.Context, sym string) error {
	cur, err := im.csv.Ticks(ctx, sym, model.Range{})
	if err != nil {
		return err
	}
	defer cur.Close()

	batch := make([]model.Tick, 0, tickBatch)
	total := 0
	var seen span
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if im.sqlite != nil {
			if err := im.sqlite.InsertTicks(ctx, batch); err != nil {
				return err
			}
		}
		if im.redis != nil {
			if err := im.redis.AddTicks(ctx, batch); err != nil {
				return err
			}
		}
		total += len(batch)
		batch = batch[:0]
		return nil
	}

	for ctx.Err() == nil {
		t, ok := cur.Next()
		if !ok {
			break
		}
		batch = append(batch, t)
		seen.add(t.TS)
		if len(batch) >= tickBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := cur.Err(); err != nil {
		return err
	}
	if err := flush(); err != nil {
		return err
	}
	log.Printf("[importbars] %s: %d ticks imported", sym, total)
	if err := ctx.Err(); err != nil {
		return err
	}
	return im.record(ctx, sym, "ticks", total, seen)
}
