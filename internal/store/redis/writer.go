package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"backtester/internal/model"
)

const writeBatchSize = 500

// Writer appends history to the bar:{symbol} and tick:{symbol} streams that
// Source replays. Entry ids come from the record timestamp, so every stream
// must be written in time order; Redis rejects an id not above the last one.
type Writer struct {
	client goredis.Cmdable
}

// NewWriter borrows client; closing it stays with the caller.
func NewWriter(client goredis.Cmdable) *Writer {
	return &Writer{client: client}
}

// Run drains bars in pipelined batches until the channel closes or ctx
// ends, and returns how many bars were appended. A failed batch is logged
// and skipped.
func (w *Writer) Run(ctx context.Context, bars <-chan model.Bar) int {
	batch := make([]model.Bar, 0, writeBatchSize)
	written := 0
	for {
		bar, ok := <-bars
		if ok && ctx.Err() == nil {
			batch = append(batch, bar)
			if len(batch) < writeBatchSize {
				continue
			}
		}
		if len(batch) > 0 && ctx.Err() == nil {
			if err := w.AddBars(ctx, batch); err != nil {
				log.Printf("[redis] dropped batch of %d bars: %v", len(batch), err)
			} else {
				written += len(batch)
			}
			batch = batch[:0]
		}
		if !ok || ctx.Err() != nil {
			return written
		}
	}
}

// AddBars appends bars in one pipeline.
func (w *Writer) AddBars(ctx context.Context, bars []model.Bar) error {
	return w.append(ctx, "bars", len(bars), func(pipe goredis.Pipeliner) error {
		for i := range bars {
			b := &bars[i]
			if err := xadd(ctx, pipe, BarStream(b.Symbol), b.TS, b.JSON()); err != nil {
				return err
			}
		}
		return nil
	})
}

// AddTicks appends ticks in one pipeline.
func (w *Writer) AddTicks(ctx context.Context, ticks []model.Tick) error {
	return w.append(ctx, "ticks", len(ticks), func(pipe goredis.Pipeliner) error {
		for _, t := range ticks {
			data, err := json.Marshal(t)
			if err != nil {
				return fmt.Errorf("marshal tick: %w", err)
			}
			if err := xadd(ctx, pipe, TickStream(t.Symbol), t.TS, data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (w *Writer) append(ctx context.Context, what string, n int, queue func(goredis.Pipeliner) error) error {
	if n == 0 {
		return nil
	}
	pipe := w.client.Pipeline()
	if err := queue(pipe); err != nil {
		pipe.Discard()
		return err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis XADD %d %s: %w", n, what, err)
	}
	return nil
}

func xadd(ctx context.Context, pipe goredis.Pipeliner, stream string, ts time.Time, data []byte) error {
	id, err := StreamID(ts)
	if err != nil {
		return err
	}
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: stream,
		ID:     id,
		Values: map[string]interface{}{"data": string(data)},
	})
	return nil
}
