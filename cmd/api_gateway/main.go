// cmd/api_gateway serves optimization and run results that cmd/backtest
// published to Redis with -publish:
//
//	GET /api/v1/sweeps/{id}/top?n=N   ranked rows
//	GET /api/v1/sweeps/{id}/stream    live rows over websocket
//	GET /api/v1/runs/{id}             single run summary
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backtester/config"
	"backtester/internal/api"
	redisstore "backtester/internal/store/redis"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[api_gateway] starting...")
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := redisstore.Dial(ctx, redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err != nil {
		log.Fatalf("[api_gateway] redis connection failed: %v", err)
	}
	defer rdb.Close()

	router := api.NewRouter(redisstore.NewResultReader(rdb))
	srv := &http.Server{
		Addr:              cfg.GatewayAddr,
		Handler:           api.WithCORS(router),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("[api_gateway] listening on %s", cfg.GatewayAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[api_gateway] server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("[api_gateway] received %v, shutting down...", sig)
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[api_gateway] shutdown error: %v", err)
	}
	log.Println("[api_gateway] stopped")
}
