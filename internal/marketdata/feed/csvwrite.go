package feed

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"backtester/internal/model"
)

// WriteBarsCSV writes bars in the layout CSVSource reads.
func WriteBarsCSV(w io.Writer, bars []model.Bar) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(barColumns); err != nil {
		return err
	}
	for _, b := range bars {
		rec := []string{stampString(b.TS), num(b.Open), num(b.High), num(b.Low), num(b.Close), num(b.Volume)}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("csv write bar %s: %w", stampString(b.TS), err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTicksCSV writes ticks in the layout CSVSource reads.
func WriteTicksCSV(w io.Writer, ticks []model.Tick) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tickColumns); err != nil {
		return err
	}
	for _, t := range ticks {
		rec := []string{stampString(t.TS), num(t.LastPrice), num(t.BidPrice), num(t.AskPrice), num(t.Volume)}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("csv write tick %s: %w", stampString(t.TS), err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func stampString(ts time.Time) string { return ts.UTC().Format(time.RFC3339Nano) }

// num prints the shortest decimal that round-trips, without float noise
// such as 100.25000000000001.
func num(v float64) string { return decimal.NewFromFloat(v).String() }
