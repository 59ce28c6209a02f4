package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"backtester/internal/optimize"
	"backtester/internal/portfolio"
)

const (
	defaultMaxBuffer = 10000
	defaultResultTTL = 7 * 24 * time.Hour
)

// Result key layout:
//
//	opt:{sweep}:rank   sorted set, member = params string, score = target
//	opt:{sweep}:rows   hash, params string -> row JSON
//	pub:opt:{sweep}    pubsub channel, one message per row
//	run:{run}          hash with the summary of a single run
func rankKey(sweepID string) string { return "opt:" + sweepID + ":rank" }
func rowsKey(sweepID string) string { return "opt:" + sweepID + ":rows" }
func rowsChannel(sweepID string) string {
	return "pub:opt:" + sweepID
}
func runKey(runID string) string { return "run:" + runID }

// RowPayload is the JSON form of an optimization row.
type RowPayload struct {
	SweepID string             `json:"sweep_id"`
	Index   int                `json:"index"`
	Params  map[string]float64 `json:"params"`
	Key     string             `json:"key"`
	Target  float64            `json:"target"`
	OK      bool               `json:"ok"`
	Error   string             `json:"error,omitempty"`
}

// NewRowPayload converts a driver row.
func NewRowPayload(sweepID string, r optimize.Row) RowPayload {
	return RowPayload{
		SweepID: sweepID,
		Index:   r.Index,
		Params:  r.Params,
		Key:     r.Params.String(),
		Target:  r.Target,
		OK:      r.OK,
		Error:   r.Error(),
	}
}

// pendingWrite is a publish that was buffered while the circuit was open.
type pendingWrite struct {
	kind string // "row" or "run"
	key  string // sweep or run id
	data []byte
}

// ResultPublisher writes optimization rows and run summaries to Redis
// through a circuit breaker. While the circuit is open writes are buffered
// locally and replayed after the next successful write or on Flush.
type ResultPublisher struct {
	client goredis.Cmdable
	cb     *Breaker
	ttl    time.Duration

	mu     sync.Mutex
	buffer []pendingWrite
	maxBuf int // max buffered writes before dropping oldest

	// Callbacks
	OnBuffer func()          // called when a write is buffered
	OnFlush  func(count int) // called after flushing buffered writes
}

// NewResultPublisher creates a publisher. maxBufferSize <= 0 selects the default.
func NewResultPublisher(client goredis.Cmdable, cb *Breaker, maxBufferSize int) *ResultPublisher {
	if maxBufferSize <= 0 {
		maxBufferSize = defaultMaxBuffer
	}
	return &ResultPublisher{
		client: client,
		cb:     cb,
		ttl:    defaultResultTTL,
		buffer: make([]pendingWrite, 0, 64),
		maxBuf: maxBufferSize,
	}
}

// PublishRow records one optimization row. A failed write is kept for
// retry; the Redis error is still returned unless the circuit was open.
func (p *ResultPublisher) PublishRow(ctx context.Context, sweepID string, r optimize.Row) error {
	data, err := json.Marshal(NewRowPayload(sweepID, r))
	if err != nil {
		return fmt.Errorf("marshal row: %w", err)
	}
	return p.write(ctx, pendingWrite{kind: "row", key: sweepID, data: data})
}

// RunPayload is the JSON form of a single run's outcome.
type RunPayload struct {
	RunID    string             `json:"run_id"`
	Strategy string             `json:"strategy"`
	Symbol   string             `json:"symbol"`
	Params   map[string]float64 `json:"params"`
	Trades   int                `json:"trades"`
	Summary  *portfolio.Summary `json:"summary,omitempty"`
}

// PublishRun records the summary of one run under run:{id}.
func (p *ResultPublisher) PublishRun(ctx context.Context, run RunPayload) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	return p.write(ctx, pendingWrite{kind: "run", key: run.RunID, data: data})
}

func (p *ResultPublisher) write(ctx context.Context, w pendingWrite) error {
	err := p.cb.Do(func() error { return p.send(ctx, w) })
	switch {
	case err == ErrCircuitOpen:
		p.bufferWrite(w)
		return nil
	case err != nil:
		p.bufferWrite(w)
		return err
	}
	p.Flush(ctx)
	return nil
}

func (p *ResultPublisher) send(ctx context.Context, w pendingWrite) error {
	pipe := p.client.Pipeline()
	switch w.kind {
	case "row":
		var row RowPayload
		if err := json.Unmarshal(w.data, &row); err != nil {
			return err
		}
		pipe.ZAdd(ctx, rankKey(w.key), &goredis.Z{Score: row.Target, Member: row.Key})
		pipe.HSet(ctx, rowsKey(w.key), row.Key, string(w.data))
		pipe.Expire(ctx, rankKey(w.key), p.ttl)
		pipe.Expire(ctx, rowsKey(w.key), p.ttl)
		pipe.Publish(ctx, rowsChannel(w.key), string(w.data))
	case "run":
		pipe.HSet(ctx, runKey(w.key), "data", string(w.data), "updated_at", time.Now().Unix())
		pipe.Expire(ctx, runKey(w.key), p.ttl)
	default:
		return fmt.Errorf("unknown write kind %q", w.kind)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (p *ResultPublisher) bufferWrite(w pendingWrite) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.buffer) >= p.maxBuf {
		// Buffer full: drop oldest
		p.buffer = p.buffer[1:]
	}
	p.buffer = append(p.buffer, w)

	if p.OnBuffer != nil {
		p.OnBuffer()
	}
}

// Flush replays buffered writes. Writes that fail again stay buffered.
func (p *ResultPublisher) Flush(ctx context.Context) {
	p.mu.Lock()
	if len(p.buffer) == 0 {
		p.mu.Unlock()
		return
	}
	toFlush := p.buffer
	p.buffer = make([]pendingWrite, 0, 64)
	p.mu.Unlock()

	flushed := 0
	for i, w := range toFlush {
		if err := p.cb.Do(func() error { return p.send(ctx, w) }); err != nil {
			p.mu.Lock()
			p.buffer = append(append([]pendingWrite(nil), toFlush[i:]...), p.buffer...)
			p.mu.Unlock()
			break
		}
		flushed++
	}

	if flushed > 0 {
		log.Printf("[redis-publisher] flushed %d buffered writes", flushed)
	}
	if p.OnFlush != nil {
		p.OnFlush(flushed)
	}
}

// PendingCount returns the number of buffered writes waiting to be flushed.
func (p *ResultPublisher) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}

// TopRows returns up to n rows of a sweep, best first.
func (p *ResultPublisher) TopRows(ctx context.Context, sweepID string, n int64) ([]RowPayload, error) {
	return topRows(ctx, p.client, sweepID, n)
}
