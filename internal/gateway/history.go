package gateway

import "sort"

type record struct {
	seq  int64
	data []byte
}

// history keeps the latest envelopes of the current sweep in seq order so
// reconnecting clients can resume. It is guarded by the hub lock.
type history struct {
	limit   int
	recs    []record
	dropped bool
}

func newHistory(limit int) *history {
	if limit <= 0 {
		limit = 1000
	}
	return &history{limit: limit}
}

// add appends an envelope. Trimming back to limit happens once the log
// reaches twice that, so appends stay amortized O(1).
func (h *history) add(seq int64, data []byte) {
	h.recs = append(h.recs, record{seq: seq, data: append([]byte(nil), data...)})
	if len(h.recs) >= 2*h.limit {
		n := copy(h.recs, h.recs[len(h.recs)-h.limit:])
		clear(h.recs[n:])
		h.recs = h.recs[:n]
		h.dropped = true
	}
}

// since returns the envelopes with seq > after, oldest first. gap reports
// that some envelope the caller has not seen was already trimmed.
func (h *history) since(after int64) (recs []record, gap bool) {
	i := sort.Search(len(h.recs), func(i int) bool { return h.recs[i].seq > after })
	if h.dropped && len(h.recs) > 0 && h.recs[0].seq > after+1 {
		gap = true
	}
	return h.recs[i:], gap
}

func (h *history) oldest() int64 {
	if len(h.recs) == 0 {
		return 0
	}
	return h.recs[0].seq
}

func (h *history) reset() {
	clear(h.recs)
	h.recs = h.recs[:0]
	h.dropped = false
}

func (h *history) len() int { return len(h.recs) }
