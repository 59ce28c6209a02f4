package redis

import (
	"context"
	"fmt"

	goredis "github.com/go-redis/redis/v8"

	"backtester/internal/model"
)

const defaultPageSize = 1000

// Source serves bar:{symbol} and tick:{symbol} streams as lazy cursors.
// Each cursor pages through its stream with XRANGE; nothing is consumed,
// so cursors can be re-acquired freely.
type Source struct {
	client   goredis.Cmdable
	pageSize int64
}

// NewSource reads through client, pageSize entries per XRANGE call
// (default 1000).
func NewSource(client goredis.Cmdable, pageSize int64) *Source {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Source{client: client, pageSize: pageSize}
}

// Bars implements model.HistorySource.
func (s *Source) Bars(ctx context.Context, symbol string, rng model.Range) (model.BarCursor, error) {
	start, stop := rangeBounds(rng)
	return &streamCursor[model.Bar]{
		ctx: ctx, client: s.client, stream: BarStream(symbol),
		next: start, stop: stop, page: s.pageSize,
		decode: func(m goredis.XMessage) (model.Bar, error) { return decodeBar(symbol, m) },
	}, nil
}

// Ticks implements model.HistorySource.
func (s *Source) Ticks(ctx context.Context, symbol string, rng model.Range) (model.TickCursor, error) {
	start, stop := rangeBounds(rng)
	return &streamCursor[model.Tick]{
		ctx: ctx, client: s.client, stream: TickStream(symbol),
		next: start, stop: stop, page: s.pageSize,
		decode: func(m goredis.XMessage) (model.Tick, error) { return decodeTick(symbol, m) },
	}, nil
}

type streamCursor[T any] struct {
	ctx    context.Context
	client goredis.Cmdable
	stream string
	next   string // start argument of the next XRANGE
	stop   string
	page   int64
	decode func(goredis.XMessage) (T, error)

	buf  []goredis.XMessage
	last bool // the previous page was short: stream end reached
	err  error
	done bool
}

func (c *streamCursor[T]) Next() (T, bool) {
	var zero T
	if c.done {
		return zero, false
	}
	if len(c.buf) == 0 {
		if c.last || !c.fetch() {
			c.done = true
			return zero, false
		}
	}
	msg := c.buf[0]
	c.buf = c.buf[1:]
	v, err := c.decode(msg)
	if err != nil {
		c.err = fmt.Errorf("%s: %w", c.stream, err)
		c.done = true
		return zero, false
	}
	return v, true
}

func (c *streamCursor[T]) fetch() bool {
	msgs, err := c.client.XRangeN(c.ctx, c.stream, c.next, c.stop, c.page).Result()
	if err != nil {
		c.err = fmt.Errorf("redis XRANGE %s: %w", c.stream, err)
		return false
	}
	if len(msgs) == 0 {
		return false
	}
	c.buf = msgs
	c.last = int64(len(msgs)) < c.page
	c.next = "(" + msgs[len(msgs)-1].ID
	return true
}

func (c *streamCursor[T]) Err() error { return c.err }

func (c *streamCursor[T]) Close() error {
	c.done = true
	c.buf = nil
	return nil
}
