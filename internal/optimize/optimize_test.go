package optimize

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtester/internal/backtest"
	"backtester/internal/marketdata/feed"
	"backtester/internal/model"
	"backtester/internal/portfolio"
	"backtester/internal/strategy"
)

func TestAddParameterRange(t *testing.T) {
	s := NewSetting()
	require.NoError(t, s.AddParameter("k", 0.1, 0.5, 0.1))
	require.NoError(t, s.SetTarget("capital"))
	grid, err := s.Generate()
	require.NoError(t, err)
	got := make([]float64, len(grid))
	for i, p := range grid {
		got[i] = p["k"]
	}
	assert.Equal(t, []float64{0.1, 0.2, 0.3, 0.4, 0.5}, got)
}

func TestSettingValidation(t *testing.T) {
	s := NewSetting()
	assert.ErrorIs(t, s.AddParameter("k", 5, 5, 1), ErrInvalidSetting)
	assert.ErrorIs(t, s.AddParameter("k", 1, 5, 0), ErrInvalidSetting)
	assert.ErrorIs(t, s.AddValues("k"), ErrInvalidSetting)
	assert.ErrorIs(t, s.AddValues("", 1), ErrInvalidSetting)
	assert.ErrorIs(t, s.SetTarget("sharpe"), ErrUnknownTarget)

	_, err := s.Generate()
	assert.ErrorIs(t, err, ErrInvalidSetting, "empty grid")

	require.NoError(t, s.AddValues("k", 1))
	_, err = s.Generate()
	assert.ErrorIs(t, err, ErrUnknownTarget, "missing target")
}

func TestGenerateCartesianOrder(t *testing.T) {
	s := NewSetting()
	require.NoError(t, s.AddValues("x", 1, 2))
	require.NoError(t, s.AddValues("y", 10, 20, 30))
	require.NoError(t, s.SetTarget("capital"))
	grid, err := s.Generate()
	require.NoError(t, err)
	require.Len(t, grid, 6)
	assert.Equal(t, strategy.Params{"x": 1, "y": 10}, grid[0])
	assert.Equal(t, strategy.Params{"x": 1, "y": 20}, grid[1])
	assert.Equal(t, strategy.Params{"x": 2, "y": 30}, grid[5])
	assert.Equal(t, []string{"x", "y"}, s.Names())
}

func scenarioD(t *testing.T) *Setting {
	t.Helper()
	s := NewSetting()
	require.NoError(t, s.AddValues("x", 1, 2))
	require.NoError(t, s.AddValues("y", 10, 20))
	require.NoError(t, s.SetTarget("capital"))
	return s
}

// productRunner reports capital = x*y after a delay that inverts
// completion order relative to grid order.
func productRunner(ctx context.Context, p strategy.Params) (portfolio.Summary, bool, error) {
	time.Sleep(time.Duration(100-p["x"]*p["y"]) * time.Millisecond / 10)
	return portfolio.Summary{Capital: p["x"] * p["y"]}, true, nil
}

func TestScenarioDSequentialAndParallelAgree(t *testing.T) {
	want := []float64{40, 20, 20, 10}
	wantFirst := strategy.Params{"x": 2, "y": 20}

	seq, err := NewDriver(productRunner).RunSequential(context.Background(), scenarioD(t))
	require.NoError(t, err)
	require.Len(t, seq, 4)

	par, err := NewDriver(productRunner, WithWorkers(4)).RunParallel(context.Background(), scenarioD(t))
	require.NoError(t, err)
	require.Len(t, par, 4)

	for i := range want {
		assert.Equal(t, want[i], seq[i].Target)
		assert.Equal(t, seq[i].Params, par[i].Params, "row %d", i)
		assert.Equal(t, seq[i].Target, par[i].Target, "row %d", i)
	}
	assert.Equal(t, wantFirst, seq[0].Params)
	// x=1,y=20 and x=2,y=10 tie; grid order decides.
	assert.Equal(t, strategy.Params{"x": 1, "y": 20}, par[1].Params)
}

func TestFailuresAreIsolated(t *testing.T) {
	run := func(ctx context.Context, p strategy.Params) (portfolio.Summary, bool, error) {
		switch {
		case p["x"] == 1 && p["y"] == 10:
			return portfolio.Summary{}, false, errors.New("boom")
		case p["x"] == 2 && p["y"] == 10:
			panic("bad strategy")
		case p["x"] == 1 && p["y"] == 20:
			return portfolio.Summary{}, false, nil
		}
		return portfolio.Summary{Capital: -5}, true, nil
	}
	var seen atomic.Int32
	d := NewDriver(run, WithWorkers(2))
	d.OnResult = func(Row) { seen.Add(1) }

	rows, err := d.RunParallel(context.Background(), scenarioD(t))
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.EqualValues(t, 4, seen.Load())

	byIndex := map[int]Row{}
	for _, r := range rows {
		byIndex[r.Index] = r
	}
	assert.EqualError(t, byIndex[0].Err, "boom")
	assert.Contains(t, byIndex[2].Error(), "panicked")
	assert.NoError(t, byIndex[1].Err)
	assert.False(t, byIndex[1].OK)
	assert.True(t, byIndex[3].OK)
	assert.Equal(t, -5.0, byIndex[3].Target)
	// Sentinel zeros outrank the one real loss.
	assert.Equal(t, 3, rows[3].Index)
}

func TestCancelledSweepSkipsRemaining(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var once sync.Once
	run := func(ctx context.Context, p strategy.Params) (portfolio.Summary, bool, error) {
		once.Do(cancel)
		return portfolio.Summary{Capital: 1}, true, nil
	}
	rows, err := NewDriver(run).RunSequential(ctx, scenarioD(t))
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, rows, 4)
	assert.True(t, rows[0].OK)
	for _, r := range rows[1:] {
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
}

func TestBacktestRunnerIsolatesRuns(t *testing.T) {
	src := feed.NewSliceSource()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	price := 100.0
	for i := range 120 {
		// A slow sine-like zigzag so both averages cross several times.
		if (i/15)%2 == 0 {
			price += 1
		} else {
			price -= 1
		}
		src.AddBars(model.Bar{Symbol: "ES", TS: start.Add(time.Duration(i) * time.Hour),
			Open: price, High: price + 2, Low: price - 2, Close: price, Volume: 1})
	}
	cfg := backtest.Config{Mode: backtest.ModeBar, Symbol: "ES", DataStart: start, InitDays: 1, Size: 1}

	s := NewSetting()
	require.NoError(t, s.AddValues("fast", 3, 5))
	require.NoError(t, s.AddValues("slow", 10, 12))
	require.NoError(t, s.SetTarget("totalResult"))

	d := NewDriver(BacktestRunner(cfg, src, strategy.NewSMACrossover), WithWorkers(2))
	par, err := d.RunParallel(context.Background(), s)
	require.NoError(t, err)
	seq, err := d.RunSequential(context.Background(), s)
	require.NoError(t, err)

	require.Len(t, par, 4)
	for i := range par {
		require.NoError(t, par[i].Err)
		assert.Equal(t, seq[i].Params, par[i].Params)
		assert.Equal(t, seq[i].Target, par[i].Target)
	}
	assert.Positive(t, par[0].Target)
}

func TestBacktestRunnerReportsBadParams(t *testing.T) {
	cfg := backtest.Config{Mode: backtest.ModeBar, Symbol: "ES", Size: 1}
	run := BacktestRunner(cfg, feed.NewSliceSource(), strategy.NewSMACrossover)
	_, _, err := run(context.Background(), strategy.Params{"fast": 20, "slow": 10})
	assert.Error(t, err)
}

func TestParseGrid(t *testing.T) {
	s, err := ParseGrid("fast=3:7:2; slow=10|20", "capital")
	require.NoError(t, err)
	grid, err := s.Generate()
	require.NoError(t, err)
	require.Len(t, grid, 6)
	assert.Equal(t, strategy.Params{"fast": 7, "slow": 20}, grid[5])

	for _, bad := range []string{"", "fast", "fast=a|b", "fast=5:1:1"} {
		_, err := ParseGrid(bad, "capital")
		assert.ErrorIs(t, err, ErrInvalidSetting, bad)
	}
	_, err = ParseGrid("fast=1", "nope")
	assert.ErrorIs(t, err, ErrUnknownTarget)
}
