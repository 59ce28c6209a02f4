package portfolio

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FormatNumber rounds to two decimals and groups the integer part with
// thousands separators, e.g. -1234567.891 -> "-1,234,567.89".
func FormatNumber(v float64) string {
	s := decimal.NewFromFloat(v).StringFixed(2)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	intPart, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	if neg && strings.Trim(intPart+frac, "0") != "" {
		b.WriteByte('-')
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}

// WriteReport prints the run summary in the layout of the CLI report.
func WriteReport(w io.Writer, s Summary) error {
	if s.TotalResult == 0 {
		_, err := fmt.Fprintln(w, "no closed trades")
		return err
	}
	n := float64(s.TotalResult)
	lines := []struct{ label, value string }{
		{"First trade", s.TimeSeries[0].Format(time.DateTime)},
		{"Last trade", s.TimeSeries[len(s.TimeSeries)-1].Format(time.DateTime)},
		{"Total trades", FormatNumber(n)},
		{"Total return", FormatNumber(s.Capital)},
		{"Max drawdown", FormatNumber(s.MaxDrawdown())},
		{"Avg trade return", FormatNumber(s.Capital / n)},
		{"Avg slippage", FormatNumber(s.TotalSlippage / n)},
		{"Avg commission", FormatNumber(s.TotalCommission / n)},
		{"Win ratio %", FormatNumber(s.WinningRate)},
		{"Avg win", FormatNumber(s.AverageWinning)},
		{"Avg loss", FormatNumber(s.AverageLosing)},
		{"Profit factor", FormatNumber(s.ProfitLossRatio)},
	}
	for _, l := range lines {
		if _, err := fmt.Fprintf(w, "%-18s %s\n", l.label+":", l.value); err != nil {
			return err
		}
	}
	return nil
}
