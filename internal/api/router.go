// Package api serves stored backtest results over HTTP and websocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	redisstore "backtester/internal/store/redis"
)

const (
	defaultTop = 20
	maxTop     = 1000
	writeWait  = 10 * time.Second
)

// ResultStore is the read side of the result store.
type ResultStore interface {
	TopRows(ctx context.Context, sweepID string, n int64) ([]redisstore.RowPayload, error)
	Run(ctx context.Context, runID string) (redisstore.RunPayload, error)
	SubscribeRows(ctx context.Context, sweepID string) (<-chan redisstore.RowPayload, error)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// NewRouter sets up the HTTP routes:
//
//	GET /api/v1/health
//	GET /api/v1/sweeps/{id}/top?n=N   best N rows of a sweep
//	GET /api/v1/sweeps/{id}/stream    websocket, one JSON row per message
//	GET /api/v1/runs/{id}             summary of a single run
func NewRouter(store ResultStore) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	mux.HandleFunc("GET /api/v1/sweeps/{id}/top", func(w http.ResponseWriter, r *http.Request) {
		n := int64(defaultTop)
		if s := r.URL.Query().Get("n"); s != "" {
			v, err := strconv.ParseInt(s, 10, 64)
			if err != nil || v <= 0 || v > maxTop {
				writeError(w, http.StatusBadRequest, "n must be between 1 and 1000")
				return
			}
			n = v
		}
		rows, err := store.TopRows(r.Context(), r.PathValue("id"), n)
		if err != nil {
			log.Printf("[api] top rows %s: %v", r.PathValue("id"), err)
			writeError(w, http.StatusBadGateway, "result store unavailable")
			return
		}
		if rows == nil {
			rows = []redisstore.RowPayload{}
		}
		writeJSON(w, http.StatusOK, rows)
	})

	mux.HandleFunc("GET /api/v1/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		run, err := store.Run(r.Context(), r.PathValue("id"))
		switch {
		case errors.Is(err, redisstore.ErrNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case err != nil:
			log.Printf("[api] run %s: %v", r.PathValue("id"), err)
			writeError(w, http.StatusBadGateway, "result store unavailable")
		default:
			writeJSON(w, http.StatusOK, run)
		}
	})

	mux.HandleFunc("GET /api/v1/sweeps/{id}/stream", func(w http.ResponseWriter, r *http.Request) {
		sweepID := r.PathValue("id")
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		rows, err := store.SubscribeRows(ctx, sweepID)
		if err != nil {
			log.Printf("[api] subscribe %s: %v", sweepID, err)
			writeError(w, http.StatusBadGateway, "result store unavailable")
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[api] ws upgrade error: %v", err)
			return
		}
		defer conn.Close()

		// Reads only detect the client going away.
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case row, ok := <-rows:
				if !ok {
					conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"),
						time.Now().Add(writeWait))
					return
				}
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(row); err != nil {
					return
				}
			}
		}
	})

	return mux
}

// WithCORS allows read-only cross-origin access from any origin.
func WithCORS(h http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(h)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
