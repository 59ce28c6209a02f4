package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"backtester/internal/backtest"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Event source: sqlite, csv or redis
	Source string

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	CSVDir        string
	JournalPath   string
	MetricsAddr   string
	WSAddr        string
	GatewayAddr   string
	LogLevel      string

	// Notifications; each channel is enabled when its settings are present
	WebhookURL       string
	TelegramBotToken string
	TelegramChatID   string

	// Simulation
	Mode        string
	Symbol      string
	InfoSymbols string // comma-separated
	Start       string // YYYYMMDD
	InitDays    int
	End         string // YYYYMMDD, inclusive; empty = until data runs out
	Slippage    float64
	Rate        float64
	Size        float64

	// Optimization
	Workers int
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is applied first if present; real
// environment variables win.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Printf("[config] loaded .env")
	}
	return &Config{
		Source: getEnv("BACKTEST_SOURCE", "sqlite"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/candles.db"),
		CSVDir:        getEnv("CSV_DIR", "data/csv"),
		JournalPath:   getEnv("JOURNAL_PATH", ""),
		MetricsAddr:   getEnv("METRICS_ADDR", ""),
		WSAddr:        getEnv("WS_ADDR", ""),
		GatewayAddr:   getEnv("GATEWAY_ADDR", ":8090"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		WebhookURL:       getEnv("NOTIFY_WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),

		Mode:        getEnv("BACKTEST_MODE", "bar"),
		Symbol:      getEnv("BACKTEST_SYMBOL", ""),
		InfoSymbols: getEnv("INFO_SYMBOLS", ""),
		Start:       getEnv("BACKTEST_START", ""),
		InitDays:    getEnvInt("BACKTEST_INIT_DAYS", 10),
		End:         getEnv("BACKTEST_END", ""),
		Slippage:    getEnvFloat("BACKTEST_SLIPPAGE", 0),
		Rate:        getEnvFloat("BACKTEST_RATE", 0),
		Size:        getEnvFloat("BACKTEST_SIZE", 1),

		Workers: getEnvInt("OPT_WORKERS", 0),
	}
}

// ParseInfoSymbols splits InfoSymbols, dropping blanks.
func (c *Config) ParseInfoSymbols() []string {
	parts := strings.Split(c.InfoSymbols, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// BacktestConfig converts to a validated simulation config.
func (c *Config) BacktestConfig() (backtest.Config, error) {
	start, err := backtest.ParseDate(c.Start)
	if err != nil {
		return backtest.Config{}, fmt.Errorf("BACKTEST_START: %w", err)
	}
	end, err := backtest.ParseDate(c.End)
	if err != nil {
		return backtest.Config{}, fmt.Errorf("BACKTEST_END: %w", err)
	}
	bc := backtest.Config{
		Mode:        backtest.Mode(strings.ToLower(c.Mode)),
		Symbol:      c.Symbol,
		InfoSymbols: c.ParseInfoSymbols(),
		DataStart:   start,
		InitDays:    c.InitDays,
		End:         end,
		Slippage:    c.Slippage,
		Rate:        c.Rate,
		Size:        c.Size,
	}
	if err := bc.Validate(); err != nil {
		return backtest.Config{}, err
	}
	return bc, nil
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return f
}
