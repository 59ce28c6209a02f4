package portfolio

import (
	"time"

	"backtester/internal/model"
)

// Summary aggregates a sequence of trading results into the equity curve
// and performance ratios of a run. Series are indexed by result, in order.
type Summary struct {
	Capital         float64 `json:"capital"`
	MaxCapital      float64 `json:"maxCapital"`
	Drawdown        float64 `json:"drawdown"`
	TotalResult     int     `json:"totalResult"`
	TotalTurnover   float64 `json:"totalTurnover"`
	TotalCommission float64 `json:"totalCommission"`
	TotalSlippage   float64 `json:"totalSlippage"`

	TimeSeries     []time.Time `json:"timeList"`
	PnLSeries      []float64   `json:"pnlList"`
	CapitalSeries  []float64   `json:"capitalList"`
	DrawdownSeries []float64   `json:"drawdownList"`

	WinningRate     float64 `json:"winningRate"`
	AverageWinning  float64 `json:"averageWinning"`
	AverageLosing   float64 `json:"averageLosing"`
	ProfitLossRatio float64 `json:"profitLossRatio"`
}

// Compute settles trades and summarizes the results. It reports false when
// there is nothing to summarize: no trades, or no closed round trip.
func Compute(trades []model.Trade, c Costs) (Summary, bool) {
	if len(trades) == 0 {
		return Summary{}, false
	}
	return Summarize(Settle(trades, c).Results)
}

// Summarize aggregates results in order. Equity starts at zero, so the
// running maximum never falls below the starting capital.
func Summarize(results []TradingResult) (Summary, bool) {
	if len(results) == 0 {
		return Summary{}, false
	}

	s := Summary{
		TimeSeries:     make([]time.Time, 0, len(results)),
		PnLSeries:      make([]float64, 0, len(results)),
		CapitalSeries:  make([]float64, 0, len(results)),
		DrawdownSeries: make([]float64, 0, len(results)),
	}
	var wins, losses int
	var totalWin, totalLoss float64

	for _, r := range results {
		s.Capital += r.PnL
		s.MaxCapital = max(s.MaxCapital, s.Capital)
		s.Drawdown = s.Capital - s.MaxCapital

		s.TimeSeries = append(s.TimeSeries, r.ExitTime)
		s.PnLSeries = append(s.PnLSeries, r.PnL)
		s.CapitalSeries = append(s.CapitalSeries, s.Capital)
		s.DrawdownSeries = append(s.DrawdownSeries, s.Drawdown)

		s.TotalResult++
		s.TotalTurnover += r.Turnover
		s.TotalCommission += r.Commission
		s.TotalSlippage += r.Slippage

		if r.PnL >= 0 {
			wins++
			totalWin += r.PnL
		} else {
			losses++
			totalLoss += r.PnL
		}
	}

	s.WinningRate = float64(wins) / float64(s.TotalResult) * 100
	if wins > 0 {
		s.AverageWinning = totalWin / float64(wins)
	}
	if losses > 0 {
		s.AverageLosing = totalLoss / float64(losses)
	}
	if s.AverageLosing != 0 {
		s.ProfitLossRatio = -s.AverageWinning / s.AverageLosing
	}
	return s, true
}

// MaxDrawdown is the deepest point of the drawdown series.
func (s *Summary) MaxDrawdown() float64 {
	var m float64
	for _, d := range s.DrawdownSeries {
		m = min(m, d)
	}
	return m
}

// MetricNames lists the scalar metrics an optimization can target.
var MetricNames = []string{
	"capital", "maxCapital", "drawdown", "maxDrawdown",
	"totalResult", "totalTurnover", "totalCommission", "totalSlippage",
	"winningRate", "averageWinning", "averageLosing", "profitLossRatio",
}

// IsMetric reports whether name is one of MetricNames.
func IsMetric(name string) bool {
	for _, n := range MetricNames {
		if n == name {
			return true
		}
	}
	return false
}

// Metric returns the named scalar metric.
func (s *Summary) Metric(name string) (float64, bool) {
	switch name {
	case "capital":
		return s.Capital, true
	case "maxCapital":
		return s.MaxCapital, true
	case "drawdown":
		return s.Drawdown, true
	case "maxDrawdown":
		return s.MaxDrawdown(), true
	case "totalResult":
		return float64(s.TotalResult), true
	case "totalTurnover":
		return s.TotalTurnover, true
	case "totalCommission":
		return s.TotalCommission, true
	case "totalSlippage":
		return s.TotalSlippage, true
	case "winningRate":
		return s.WinningRate, true
	case "averageWinning":
		return s.AverageWinning, true
	case "averageLosing":
		return s.AverageLosing, true
	case "profitLossRatio":
		return s.ProfitLossRatio, true
	}
	return 0, false
}
