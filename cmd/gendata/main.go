// cmd/gendata writes reproducible synthetic history as CSV files that
// cmd/importbars and the csv source read: a seeded random walk of ticks,
// aggregated into bars.
//
// Usage:
//
//	go run ./cmd/gendata -out=data/csv -symbols=ES,NQ -start=20240101 -days=30
//	go run ./cmd/gendata -symbols=ES -step=250ms -bar=1m -ticks -seed=7
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"backtester/internal/backtest"
	"backtester/internal/marketdata/agg"
	"backtester/internal/marketdata/feed"
	"backtester/internal/marketdata/synth"
	"backtester/internal/model"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	out := flag.String("out", "data/csv", "Output directory")
	symbols := flag.String("symbols", "ES", "Comma-separated symbols")
	startStr := flag.String("start", "20240101", "First day YYYYMMDD")
	days := flag.Int("days", 30, "Number of days to generate")
	step := flag.Duration("step", time.Second, "Tick spacing")
	barIvl := flag.Duration("bar", time.Minute, "Bar interval")
	price := flag.Float64("price", 100, "Starting price")
	vol := flag.Float64("vol", 0.001, "Max relative move per tick")
	tickSize := flag.Float64("tick-size", 0.25, "Price grid")
	seed := flag.Uint64("seed", 1, "Random seed; symbols use seed, seed+1, ...")
	writeTicks := flag.Bool("ticks", false, "Also write <symbol>.ticks.csv")
	flag.Parse()

	start, err := backtest.ParseDate(*startStr)
	if err != nil {
		log.Fatalf("[gendata] %v", err)
	}
	if *days <= 0 {
		log.Fatal("[gendata] -days must be positive")
	}
	if err := os.MkdirAll(*out, 0o755); err != nil {
		log.Fatalf("[gendata] %v", err)
	}
	src := feed.NewCSVSource(*out)
	n := int(time.Duration(*days) * 24 * time.Hour / *step)

	for i, sym := range strings.Split(*symbols, ",") {
		sym = strings.TrimSpace(sym)
		if sym == "" {
			continue
		}
		cfg := synth.DefaultConfig(sym, start)
		cfg.Step = *step
		cfg.StartPrice = *price
		cfg.Volatility = *vol
		cfg.TickSize = *tickSize
		cfg.Seed = *seed + uint64(i)
		walk, err := synth.NewWalk(cfg)
		if err != nil {
			log.Fatalf("[gendata] %s: %v", sym, err)
		}
		a, err := agg.New(*barIvl)
		if err != nil {
			log.Fatalf("[gendata] %v", err)
		}

		ticks := walk.Ticks(n)
		bars := make([]model.Bar, 0, n/int(max(*barIvl / *step, 1))+1)
		for _, t := range ticks {
			if b, ok := a.Add(t); ok {
				bars = append(bars, b)
			}
		}
		bars = append(bars, a.Flush()...)

		if err := writeFile(src.BarPath(sym), func(f *os.File) error { return feed.WriteBarsCSV(f, bars) }); err != nil {
			log.Fatalf("[gendata] %s: %v", sym, err)
		}
		log.Printf("[gendata] %s: %d bars -> %s", sym, len(bars), src.BarPath(sym))
		if *writeTicks {
			if err := writeFile(src.TickPath(sym), func(f *os.File) error { return feed.WriteTicksCSV(f, ticks) }); err != nil {
				log.Fatalf("[gendata] %s: %v", sym, err)
			}
			log.Printf("[gendata] %s: %d ticks -> %s", sym, len(ticks), src.TickPath(sym))
		}
	}
}

// writeFile writes through a temp file and renames, so readers never see a
// partial file.
func writeFile(path string, write func(*os.File) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
