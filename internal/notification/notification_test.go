package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"backtester/internal/optimize"
	"backtester/internal/portfolio"
	"backtester/internal/strategy"
)

func TestWebhookNotifier(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected request %s %s", r.Method, r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	if err := n.Send(context.Background(), Alert{Level: AlertWarning, Subject: "run-1", Title: "t", Message: "m"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got["level"] != "WARNING" || got["title"] != "t" || got["message"] != "m" || got["ts"] == "" ||
		got["subject"] != "run-1" || got["source"] != "backtester" {
		t.Errorf("payload = %v", got)
	}
}

func TestWebhookNotifier_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{Title: "x"})
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusInternalServerError || se.Body != "boom" {
		t.Fatalf("err = %v, want StatusError 500 boom", err)
	}
	if se.Channel != "webhook" {
		t.Errorf("channel = %q", se.Channel)
	}
}

func TestTelegramNotifier(t *testing.T) {
	var path string
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewDecoder(r.Body).Decode(&body)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42")
	n.baseURL = srv.URL
	if err := n.Send(context.Background(), Alert{Level: AlertCritical, Subject: "s-1", Title: "Run 1.5", Message: "a_b"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if path != "/botTOKEN/sendMessage" {
		t.Errorf("path = %s", path)
	}
	if body["chat_id"] != "42" || body["parse_mode"] != "MarkdownV2" {
		t.Errorf("body = %v", body)
	}
	text, _ := body["text"].(string)
	if !strings.Contains(text, `Run 1\.5`) || !strings.Contains(text, `a\_b`) ||
		!strings.Contains(text, "`s\\-1`") {
		t.Errorf("text not escaped: %q", text)
	}
}

type recorder struct {
	alerts []Alert
	err    error
}

func (r *recorder) Send(_ context.Context, a Alert) error {
	r.alerts = append(r.alerts, a)
	return r.err
}

func TestMulti(t *testing.T) {
	ok := &recorder{}
	bad := &recorder{err: errors.New("down")}
	err := Multi{ok, bad, NewLogNotifier()}.Send(context.Background(), Alert{Title: "x"})
	if err == nil || !strings.Contains(err.Error(), "down") {
		t.Fatalf("err = %v", err)
	}
	if len(ok.alerts) != 1 || len(bad.alerts) != 1 {
		t.Error("every notifier should receive the alert")
	}
}

func TestRunAlert(t *testing.T) {
	a := RunAlert("r1", "SMA_Crossover", portfolio.Summary{}, false)
	if a.Level != AlertWarning || a.Subject != "r1" || !strings.Contains(a.Message, "no trades") {
		t.Errorf("empty run alert = %+v", a)
	}

	sum := portfolio.Summary{TotalResult: 3, Capital: 1234.5, WinningRate: 66.666}
	a = RunAlert("r2", "SMA_Crossover", sum, true)
	if a.Level != AlertInfo || !strings.Contains(a.Message, "3 trades") || !strings.Contains(a.Message, "1,234.50") {
		t.Errorf("run alert = %+v", a)
	}
}

func TestSweepAlert(t *testing.T) {
	rows := []optimize.Row{
		{Index: 1, Params: strategy.Params{"fast": 5}, Target: 30, OK: true},
		{Index: 0, Params: strategy.Params{"fast": 3}, Target: 20, OK: true},
		{Index: 2, Params: strategy.Params{"fast": 7}, Err: errors.New("boom")},
	}
	a := SweepAlert("s1", "capital", rows, 2, nil)
	if a.Level != AlertInfo || a.Subject != "s1" {
		t.Errorf("level = %s subject = %s", a.Level, a.Subject)
	}
	if !strings.Contains(a.Message, "3 combinations, 1 failed") || !strings.Contains(a.Message, "1. fast=5 = 30.00") {
		t.Errorf("message = %q", a.Message)
	}
	if strings.Contains(a.Message, "3. ") {
		t.Errorf("top limit ignored: %q", a.Message)
	}

	a = SweepAlert("s1", "capital", rows, 2, context.Canceled)
	if a.Level != AlertCritical || !strings.Contains(a.Message, "context canceled") {
		t.Errorf("interrupted alert = %+v", a)
	}

	a = SweepAlert("s1", "capital", rows[2:], 2, nil)
	if a.Level != AlertWarning {
		t.Errorf("all-failed sweep level = %s", a.Level)
	}
}
