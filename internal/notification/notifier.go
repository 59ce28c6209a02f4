// Package notification delivers alerts about finished backtests and
// optimization sweeps to external channels (Telegram, webhooks).
package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"backtester/internal/optimize"
	"backtester/internal/portfolio"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level AlertLevel `json:"level"`
	// Subject is the run or sweep id the alert is about.
	Subject string `json:"subject,omitempty"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts instead of delivering them.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Multi sends every alert to all of its notifiers and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RunAlert summarizes a single finished run.
func RunAlert(runID, strategyName string, sum portfolio.Summary, ok bool) Alert {
	title := fmt.Sprintf("Backtest %s finished", strategyName)
	if !ok {
		return Alert{
			Level:   AlertWarning,
			Subject: runID,
			Title:   title,
			Message: fmt.Sprintf("run %s closed no trades", runID),
		}
	}
	return Alert{
		Level:   AlertInfo,
		Subject: runID,
		Title:   title,
		Message: fmt.Sprintf("run %s: %d trades, capital %s, max drawdown %s, win ratio %s%%",
			runID, sum.TotalResult, portfolio.FormatNumber(sum.Capital),
			portfolio.FormatNumber(sum.MaxDrawdown()), portfolio.FormatNumber(sum.WinningRate)),
	}
}

// SweepAlert summarizes a finished optimization sweep. rows must already be
// ranked; up to top of them are listed. A non-nil err marks the sweep as
// interrupted.
func SweepAlert(sweepID, target string, rows []optimize.Row, top int, err error) Alert {
	failed := 0
	for _, r := range rows {
		if r.Err != nil {
			failed++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "sweep %s: %d combinations, %d failed, target %s", sweepID, len(rows), failed, target)
	for i, r := range rows {
		if i >= top {
			break
		}
		fmt.Fprintf(&b, "\n%d. %s = %s", i+1, r.Params.String(), portfolio.FormatNumber(r.Target))
	}

	a := Alert{Level: AlertInfo, Subject: sweepID, Title: "Optimization finished", Message: b.String()}
	switch {
	case err != nil:
		a.Level = AlertCritical
		a.Title = "Optimization interrupted"
		a.Message += "\nerror: " + err.Error()
	case len(rows) > 0 && failed == len(rows):
		a.Level = AlertWarning
	}
	return a
}
