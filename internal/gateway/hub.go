// Package gateway streams optimization progress to websocket clients and
// serves the current ranking over REST.
package gateway

import (
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"backtester/internal/optimize"
)

// RowOut is the wire form of one optimization row.
type RowOut struct {
	Index  int                `json:"index"`
	Params map[string]float64 `json:"params"`
	Key    string             `json:"key"`
	Target float64            `json:"target"`
	OK     bool               `json:"ok"`
	Error  string             `json:"error,omitempty"`
}

func rowOut(r optimize.Row) RowOut {
	return RowOut{Index: r.Index, Params: r.Params, Key: r.Params.String(), Target: r.Target, OK: r.OK, Error: r.Error()}
}

// Results is the REST view of the current sweep.
type Results struct {
	SweepID string   `json:"sweep_id"`
	Target  string   `json:"target"`
	Total   int      `json:"total"`
	Done    bool     `json:"done"`
	Rows    []RowOut `json:"rows"`
}

// Envelope wraps every websocket message.
type Envelope struct {
	Type    string          `json:"type"` // "start", "row", "done" or "resync"
	SweepID string          `json:"sweep_id"`
	Seq     int64           `json:"seq"`
	TS      time.Time       `json:"ts"`
	Data    json.RawMessage `json:"data"`
}

// Resync is the payload of a "resync" envelope: the client asked to resume
// from a seq older than the history still holds and should reload
// /api/results before trusting the stream.
type Resync struct {
	OldestSeq int64 `json:"oldest_seq"`
}

// Hub fans optimization events out to websocket clients. It keeps the rows
// of the current sweep and a bounded history so late clients can catch up.
type Hub struct {
	mu      sync.RWMutex
	peers   map[*peer]struct{}
	seq     int64
	results Results
	hist    *history
	dropped int
}

// NewHub creates an idle hub remembering up to historySize envelopes.
func NewHub(historySize int) *Hub {
	return &Hub{
		peers: make(map[*peer]struct{}),
		hist:  newHistory(historySize),
	}
}

// StartSweep resets the hub for a new sweep of total combinations.
func (h *Hub) StartSweep(sweepID, target string, total int) {
	h.mu.Lock()
	h.results = Results{SweepID: sweepID, Target: target, Total: total, Rows: []RowOut{}}
	h.hist.reset()
	h.mu.Unlock()
	h.broadcast("start", map[string]any{"target": target, "total": total})
}

// PublishRow records and broadcasts one finished combination. It can be
// used directly as optimize.Driver.OnResult.
func (h *Hub) PublishRow(r optimize.Row) {
	out := rowOut(r)
	h.mu.Lock()
	h.results.Rows = append(h.results.Rows, out)
	h.mu.Unlock()
	h.broadcast("row", out)
}

// FinishSweep replaces the collected rows with the final ranking.
func (h *Hub) FinishSweep(rows []optimize.Row) {
	ranked := make([]RowOut, len(rows))
	for i, r := range rows {
		ranked[i] = rowOut(r)
	}
	h.mu.Lock()
	h.results.Rows = ranked
	h.results.Done = true
	h.mu.Unlock()
	h.broadcast("done", ranked)
}

// Results returns the current sweep, best rows first.
func (h *Hub) Results() Results {
	h.mu.RLock()
	res := h.results
	res.Rows = append([]RowOut(nil), h.results.Rows...)
	h.mu.RUnlock()
	sort.SliceStable(res.Rows, func(i, j int) bool {
		if res.Rows[i].Target != res.Rows[j].Target {
			return res.Rows[i].Target > res.Rows[j].Target
		}
		return res.Rows[i].Index < res.Rows[j].Index
	})
	return res
}

// envelope must be called with h.mu held for writing.
func (h *Hub) envelope(kind string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	h.seq++
	return json.Marshal(Envelope{Type: kind, SweepID: h.results.SweepID, Seq: h.seq, TS: time.Now().UTC(), Data: data})
}

func (h *Hub) broadcast(kind string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	buf, err := h.envelope(kind, payload)
	if err != nil {
		log.Printf("[gateway] marshal %s: %v", kind, err)
		return
	}
	h.hist.add(h.seq, buf)
	for p := range h.peers {
		if !p.offer(buf) {
			// the peer can resume with after_seq once it drains
			h.dropped++
		}
	}
}

// Attach registers an upgraded connection. Envelopes with seq > afterSeq
// still in the history are queued first, preceded by a "resync" envelope
// when some of them were already trimmed.
func (h *Hub) Attach(conn *websocket.Conn, afterSeq int64) {
	p := newPeer(conn)

	h.mu.Lock()
	recs, gap := h.hist.since(afterSeq)
	if gap {
		// seq 0: resync envelopes are per-client and never enter the history
		data, _ := json.Marshal(Resync{OldestSeq: h.hist.oldest()})
		buf, err := json.Marshal(Envelope{Type: "resync", SweepID: h.results.SweepID, TS: time.Now().UTC(), Data: data})
		if err == nil {
			p.offer(buf)
		}
	}
	for _, r := range recs {
		if !p.offer(r.data) {
			h.dropped++
			break
		}
	}
	h.peers[p] = struct{}{}
	count := len(h.peers)
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected (%d total)", count)
	p.serve(h.detach)
}

func (h *Hub) detach(p *peer) {
	h.mu.Lock()
	_, ok := h.peers[p]
	delete(h.peers, p)
	count := len(h.peers)
	h.mu.Unlock()
	if ok {
		close(p.queue)
		log.Printf("[gateway] ws client disconnected (%d left)", count)
	}
}

// ClientCount returns the number of connected websocket clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Dropped counts envelopes not delivered to slow clients.
func (h *Hub) Dropped() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}
