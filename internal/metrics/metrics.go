// Package metrics exposes Prometheus instrumentation and a health endpoint
// for backtest and optimization runs.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the backtester. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	EventsTotal   *prometheus.CounterVec // labels: mode=bar|tick
	LimitFills    prometheus.Counter
	StopTriggers  prometheus.Counter
	TradesTotal   prometheus.Counter
	CancelsTotal  *prometheus.CounterVec // labels: kind=limit|stop
	RunDuration   prometheus.Histogram
	RunsTotal     *prometheus.CounterVec // labels: outcome=ok|empty|error
	InfoExhausted prometheus.Counter

	// Optimization sweep
	OptTasksTotal *prometheus.CounterVec // labels: outcome=ok|error
	OptDuration   prometheus.Histogram
	OptInFlight   prometheus.Gauge

	// Result publishing
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
}

// New creates all metrics and registers them with reg. A nil reg uses
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backtest_events_total",
			Help: "Primary events replayed (by mode)",
		}, []string{"mode"}),
		LimitFills: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtest_limit_fills_total",
			Help: "Limit orders filled",
		}),
		StopTriggers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtest_stop_triggers_total",
			Help: "Stop orders triggered",
		}),
		TradesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtest_trades_total",
			Help: "Trades appended to ledgers",
		}),
		CancelsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backtest_cancels_total",
			Help: "Orders cancelled (by kind)",
		}, []string{"kind"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "backtest_run_duration_seconds",
			Help:    "Wall time of one simulation",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backtest_runs_total",
			Help: "Completed simulations (by outcome)",
		}, []string{"outcome"}),
		InfoExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtest_info_streams_exhausted_total",
			Help: "Auxiliary streams that ran out of data",
		}),
		OptTasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optimize_tasks_total",
			Help: "Optimization tasks finished (by outcome)",
		}, []string{"outcome"}),
		OptDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "optimize_duration_seconds",
			Help:    "Wall time of a full optimization sweep",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		OptInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "optimize_tasks_in_flight",
			Help: "Optimization tasks currently running",
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backtest_redis_circuit_breaker_state",
			Help: "Result publisher circuit breaker (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtest_redis_circuit_breaker_trips_total",
			Help: "Times the result publisher circuit breaker opened",
		}),
	}

	reg.MustRegister(
		m.EventsTotal,
		m.LimitFills,
		m.StopTriggers,
		m.TradesTotal,
		m.CancelsTotal,
		m.RunDuration,
		m.RunsTotal,
		m.InfoExhausted,
		m.OptTasksTotal,
		m.OptDuration,
		m.OptInFlight,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
	)
	return m
}

func (m *Metrics) Event(mode string) {
	if m != nil {
		m.EventsTotal.WithLabelValues(mode).Inc()
	}
}

// LimitFilled, StopTriggered and Cancelled make *Metrics usable as a
// matching observer.
func (m *Metrics) LimitFilled() {
	if m != nil {
		m.LimitFills.Inc()
		m.TradesTotal.Inc()
	}
}

func (m *Metrics) StopTriggered() {
	if m != nil {
		m.StopTriggers.Inc()
		m.TradesTotal.Inc()
	}
}

func (m *Metrics) Cancelled(kind string) {
	if m != nil {
		m.CancelsTotal.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) InfoStreamExhausted() {
	if m != nil {
		m.InfoExhausted.Inc()
	}
}

// RunFinished records one simulation's duration and outcome.
func (m *Metrics) RunFinished(d time.Duration, outcome string) {
	if m != nil {
		m.RunDuration.Observe(d.Seconds())
		m.RunsTotal.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) TaskStarted() {
	if m != nil {
		m.OptInFlight.Inc()
	}
}

func (m *Metrics) TaskFinished(outcome string) {
	if m != nil {
		m.OptInFlight.Dec()
		m.OptTasksTotal.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) SweepFinished(d time.Duration) {
	if m != nil {
		m.OptDuration.Observe(d.Seconds())
	}
}

// BreakerState records a circuit breaker transition (0, 1 or 2).
func (m *Metrics) BreakerState(state int, tripped bool) {
	if m == nil {
		return
	}
	m.RedisCircuitBreakerState.Set(float64(state))
	if tripped {
		m.RedisCircuitBreakerTrips.Inc()
	}
}

// HealthStatus represents the process health.
type HealthStatus struct {
	mu sync.RWMutex

	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	Running        bool      `json:"running"`
	CompletedRuns  int       `json:"completed_runs"`
	LastRunAt      time.Time `json:"last_run_at"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`

	redisRequired  bool
	sqliteRequired bool
}

// NewHealthStatus returns a default health status. Only the listed
// dependencies affect the reported status.
func NewHealthStatus(redisRequired, sqliteRequired bool) *HealthStatus {
	return &HealthStatus{
		StartedAt:      time.Now(),
		redisRequired:  redisRequired,
		sqliteRequired: sqliteRequired,
	}
}

func (h *HealthStatus) SetRunning(v bool) {
	h.mu.Lock()
	h.Running = v
	h.mu.Unlock()
}

// RunCompleted counts a finished simulation.
func (h *HealthStatus) RunCompleted(at time.Time) {
	h.mu.Lock()
	h.CompletedRuns++
	h.LastRunAt = at
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if (h.redisRequired && !h.RedisConnected) || (h.sqliteRequired && !h.SQLiteOK) {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	lastRun := ""
	if !h.LastRunAt.IsZero() {
		lastRun = h.LastRunAt.Format(time.RFC3339)
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		Running         bool    `json:"running"`
		CompletedRuns   int     `json:"completed_runs"`
		LastRunAt       string  `json:"last_run_at"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		Running:         h.Running,
		CompletedRuns:   h.CompletedRuns,
		LastRunAt:       lastRun,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server over gatherer.
func NewServer(addr string, gatherer prometheus.Gatherer, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
