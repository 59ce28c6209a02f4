package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	goredis "github.com/go-redis/redis/v8"
)

// ErrNotFound is returned when a run or sweep has no stored result.
var ErrNotFound = errors.New("result not found")

// ResultReader is the read side of ResultPublisher: ranked sweep rows,
// single-run summaries and the live row channel.
type ResultReader struct {
	client goredis.UniversalClient
}

// NewResultReader wraps an existing client.
func NewResultReader(client goredis.UniversalClient) *ResultReader {
	return &ResultReader{client: client}
}

// TopRows returns up to n rows of a sweep, best first.
func (r *ResultReader) TopRows(ctx context.Context, sweepID string, n int64) ([]RowPayload, error) {
	return topRows(ctx, r.client, sweepID, n)
}

// Run returns the stored summary of a single run.
func (r *ResultReader) Run(ctx context.Context, runID string) (RunPayload, error) {
	var run RunPayload
	data, err := r.client.HGet(ctx, runKey(runID), "data").Result()
	if err == goredis.Nil {
		return run, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return run, fmt.Errorf("redis HGET %s: %w", runKey(runID), err)
	}
	if err := json.Unmarshal([]byte(data), &run); err != nil {
		return run, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return run, nil
}

// SubscribeRows streams rows published for sweepID until ctx is cancelled.
// The returned channel is closed when the subscription ends. Undecodable
// messages are logged and skipped.
func (r *ResultReader) SubscribeRows(ctx context.Context, sweepID string) (<-chan RowPayload, error) {
	ps := r.client.Subscribe(ctx, rowsChannel(sweepID))
	// Wait for the subscription to be confirmed so no row is missed.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("redis SUBSCRIBE %s: %w", rowsChannel(sweepID), err)
	}

	out := make(chan RowPayload, 64)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var row RowPayload
				if err := json.Unmarshal([]byte(msg.Payload), &row); err != nil {
					log.Printf("[redis-results] bad row on %s: %v", msg.Channel, err)
					continue
				}
				select {
				case out <- row:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func topRows(ctx context.Context, client goredis.Cmdable, sweepID string, n int64) ([]RowPayload, error) {
	if n <= 0 {
		return nil, nil
	}
	keys, err := client.ZRevRange(ctx, rankKey(sweepID), 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis ZREVRANGE %s: %w", rankKey(sweepID), err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := client.HMGet(ctx, rowsKey(sweepID), keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis HMGET %s: %w", rowsKey(sweepID), err)
	}
	out := make([]RowPayload, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var row RowPayload
		if err := json.Unmarshal([]byte(s), &row); err != nil {
			return nil, fmt.Errorf("decode row: %w", err)
		}
		out = append(out, row)
	}
	return out, nil
}
