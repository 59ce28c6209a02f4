package feed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"backtester/internal/model"
)

// Accepted timestamp layouts for the datetime column.
var csvTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
	"20060102 15:04:05",
	"2006-01-02",
}

// Required header columns.
var (
	barColumns  = []string{"datetime", "open", "high", "low", "close", "volume"}
	tickColumns = []string{"datetime", "last", "bid", "ask", "volume"}
)

// CSVSource reads history from a directory of CSV exports:
//
//	<dir>/<symbol>.csv        datetime,open,high,low,close,volume
//	<dir>/<symbol>.ticks.csv  datetime,last,bid,ask,volume
//
// Column order is taken from the header row. Rows must be in ascending
// timestamp order; prices are parsed as exact decimals before conversion.
type CSVSource struct {
	Dir string
}

// NewCSVSource creates a CSV source rooted at dir.
func NewCSVSource(dir string) *CSVSource {
	return &CSVSource{Dir: dir}
}

// BarPath returns the bar file path for symbol.
func (s *CSVSource) BarPath(symbol string) string {
	return filepath.Join(s.Dir, symbol+".csv")
}

// TickPath returns the tick file path for symbol.
func (s *CSVSource) TickPath(symbol string) string {
	return filepath.Join(s.Dir, symbol+".ticks.csv")
}

// Bars implements model.HistorySource.
func (s *CSVSource) Bars(_ context.Context, symbol string, rng model.Range) (model.BarCursor, error) {
	rc, err := openCSV(s.BarPath(symbol), barColumns)
	if err != nil {
		return nil, err
	}
	return &csvBarCursor{csvRows: rc, symbol: symbol, rng: rng}, nil
}

// Ticks implements model.HistorySource.
func (s *CSVSource) Ticks(_ context.Context, symbol string, rng model.Range) (model.TickCursor, error) {
	rc, err := openCSV(s.TickPath(symbol), tickColumns)
	if err != nil {
		return nil, err
	}
	return &csvTickCursor{csvRows: rc, symbol: symbol, rng: rng}, nil
}

// csvRows wraps a csv.Reader with header-resolved column positions.
type csvRows struct {
	f      *os.File
	r      *csv.Reader
	cols   map[string]int
	line   int
	last   time.Time
	err    error
	closed bool
}

func openCSV(path string, required []string) (*csvRows, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("csv open %s: %w", path, err)
	}
	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	header, err := r.Read()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("csv header %s: %w", path, err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range required {
		if _, ok := cols[c]; !ok {
			f.Close()
			return nil, fmt.Errorf("csv %s: missing column %q", path, c)
		}
	}
	return &csvRows{f: f, r: r, cols: cols, line: 1}, nil
}

// next reads one record; it returns nil at EOF or after an error.
func (c *csvRows) next() []string {
	if c.closed || c.err != nil {
		return nil
	}
	rec, err := c.r.Read()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			c.err = fmt.Errorf("csv line %d: %w", c.line+1, err)
		}
		c.Close()
		return nil
	}
	c.line++
	return rec
}

func (c *csvRows) field(rec []string, name string) string {
	return rec[c.cols[name]]
}

func (c *csvRows) fail(format string, args ...any) {
	if c.err != nil {
		return
	}
	c.err = fmt.Errorf("csv line %d: "+format, append([]any{c.line}, args...)...)
	c.Close()
}

// stamp parses the datetime column and enforces ascending order.
func (c *csvRows) stamp(rec []string) (time.Time, bool) {
	raw := strings.TrimSpace(c.field(rec, "datetime"))
	ts, err := parseCSVTime(raw)
	if err != nil {
		c.fail("%v", err)
		return time.Time{}, false
	}
	if ts.Before(c.last) {
		c.fail("timestamp %s before previous %s", ts.Format(time.RFC3339), c.last.Format(time.RFC3339))
		return time.Time{}, false
	}
	c.last = ts
	return ts, true
}

func (c *csvRows) number(rec []string, name string) (float64, bool) {
	d, err := decimal.NewFromString(strings.TrimSpace(c.field(rec, name)))
	if err != nil {
		c.fail("column %s: %v", name, err)
		return 0, false
	}
	return d.InexactFloat64(), true
}

func (c *csvRows) Err() error { return c.err }

func (c *csvRows) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.f.Close()
}

func parseCSVTime(raw string) (time.Time, error) {
	for _, layout := range csvTimeLayouts {
		if ts, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised datetime %q", raw)
}

type csvBarCursor struct {
	*csvRows
	symbol string
	rng    model.Range
}

func (c *csvBarCursor) Next() (model.Bar, bool) {
	for {
		rec := c.next()
		if rec == nil {
			return model.Bar{}, false
		}
		ts, ok := c.stamp(rec)
		if !ok {
			return model.Bar{}, false
		}
		if ts.Before(c.rng.From) {
			continue
		}
		if !c.rng.Contains(ts) {
			c.Close()
			return model.Bar{}, false
		}
		b := model.Bar{Symbol: c.symbol, TS: ts}
		var okO, okH, okL, okC, okV bool
		b.Open, okO = c.number(rec, "open")
		b.High, okH = c.number(rec, "high")
		b.Low, okL = c.number(rec, "low")
		b.Close, okC = c.number(rec, "close")
		b.Volume, okV = c.number(rec, "volume")
		if !(okO && okH && okL && okC && okV) {
			return model.Bar{}, false
		}
		if err := b.Validate(); err != nil {
			c.fail("%v", err)
			return model.Bar{}, false
		}
		return b, true
	}
}

type csvTickCursor struct {
	*csvRows
	symbol string
	rng    model.Range
}

func (c *csvTickCursor) Next() (model.Tick, bool) {
	for {
		rec := c.next()
		if rec == nil {
			return model.Tick{}, false
		}
		ts, ok := c.stamp(rec)
		if !ok {
			return model.Tick{}, false
		}
		if ts.Before(c.rng.From) {
			continue
		}
		if !c.rng.Contains(ts) {
			c.Close()
			return model.Tick{}, false
		}
		t := model.Tick{Symbol: c.symbol, TS: ts}
		var okL, okB, okA, okV bool
		t.LastPrice, okL = c.number(rec, "last")
		t.BidPrice, okB = c.number(rec, "bid")
		t.AskPrice, okA = c.number(rec, "ask")
		t.Volume, okV = c.number(rec, "volume")
		if !(okL && okB && okA && okV) {
			return model.Tick{}, false
		}
		return t, true
	}
}
