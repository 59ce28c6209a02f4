package gateway

import "testing"

func fill(h *history, from, to int64) {
	for s := from; s <= to; s++ {
		h.add(s, []byte{byte(s)})
	}
}

func seqs(recs []record) []int64 {
	out := make([]int64, len(recs))
	for i, r := range recs {
		out[i] = r.seq
	}
	return out
}

func TestHistory_Since(t *testing.T) {
	h := newHistory(100)
	fill(h, 1, 10)

	recs, gap := h.since(7)
	if gap || len(recs) != 3 || recs[0].seq != 8 || recs[2].seq != 10 {
		t.Fatalf("since(7) = %v gap=%v", seqs(recs), gap)
	}
	if recs, _ := h.since(10); len(recs) != 0 {
		t.Errorf("since(latest) = %v", seqs(recs))
	}
}

func TestHistory_TrimAndGap(t *testing.T) {
	h := newHistory(3)
	fill(h, 1, 6) // reaching 6 entries trims to 4, 5, 6
	if h.len() != 3 || h.oldest() != 4 {
		t.Fatalf("len=%d oldest=%d", h.len(), h.oldest())
	}

	if recs, gap := h.since(3); gap || len(recs) != 3 {
		t.Errorf("since(3): %v gap=%v, nothing unseen was trimmed", seqs(recs), gap)
	}
	if recs, gap := h.since(1); !gap || len(recs) != 3 {
		t.Errorf("since(1): %v gap=%v, seqs 2 and 3 were trimmed", seqs(recs), gap)
	}
}

func TestHistory_CopiesAndResets(t *testing.T) {
	h := newHistory(4)
	data := []byte("row")
	h.add(1, data)
	data[0] = 'X'
	if recs, _ := h.since(0); string(recs[0].data) != "row" {
		t.Errorf("stored data aliased the caller's slice: %q", recs[0].data)
	}

	fill(h, 2, 8)
	h.reset()
	if recs, gap := h.since(0); h.len() != 0 || len(recs) != 0 || gap {
		t.Fatal("reset kept state")
	}
}
