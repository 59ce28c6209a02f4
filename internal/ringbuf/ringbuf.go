// Package ringbuf provides a fixed-capacity rolling window of bars. Once
// full, each Push overwrites the oldest bar, so a strategy can keep the last
// N bars of a stream without reallocating.
//
// A Window belongs to one strategy instance and is not safe for concurrent use.
package ringbuf

import "backtester/internal/model"

// Window is a rolling buffer of the most recent bars.
type Window struct {
	buf   []model.Bar
	head  int // next write position
	count int

	// Overwritten counts bars pushed out of a full window.
	overwritten uint64
}

// New creates a window holding up to size bars. Minimum size is 1.
func New(size int) *Window {
	if size < 1 {
		size = 1
	}
	return &Window{buf: make([]model.Bar, size)}
}

// Push appends a bar, evicting the oldest one if the window is full.
func (w *Window) Push(b model.Bar) {
	if w.count == len(w.buf) {
		w.overwritten++
	} else {
		w.count++
	}
	w.buf[w.head] = b
	w.head = (w.head + 1) % len(w.buf)
}

// At returns the i-th bar, oldest first. Negative i counts from the newest
// (-1 is the latest bar).
func (w *Window) At(i int) (model.Bar, bool) {
	if i < 0 {
		i += w.count
	}
	if i < 0 || i >= w.count {
		return model.Bar{}, false
	}
	start := w.head - w.count
	if start < 0 {
		start += len(w.buf)
	}
	return w.buf[(start+i)%len(w.buf)], true
}

// Last returns the newest bar.
func (w *Window) Last() (model.Bar, bool) { return w.At(-1) }

// Len returns the current number of bars in the window.
func (w *Window) Len() int { return w.count }

// Cap returns the window capacity.
func (w *Window) Cap() int { return len(w.buf) }

// Full reports whether the window holds Cap bars.
func (w *Window) Full() bool { return w.count == len(w.buf) }

// Overwritten returns the total number of bars evicted by Push.
func (w *Window) Overwritten() uint64 { return w.overwritten }

// Highest returns the highest high over the window.
func (w *Window) Highest() float64 {
	var h float64
	for i := 0; i < w.count; i++ {
		b, _ := w.At(i)
		if i == 0 || b.High > h {
			h = b.High
		}
	}
	return h
}

// Lowest returns the lowest low over the window.
func (w *Window) Lowest() float64 {
	var l float64
	for i := 0; i < w.count; i++ {
		b, _ := w.At(i)
		if i == 0 || b.Low < l {
			l = b.Low
		}
	}
	return l
}

// Closes returns the close prices, oldest first.
func (w *Window) Closes() []float64 {
	out := make([]float64, w.count)
	for i := range out {
		b, _ := w.At(i)
		out[i] = b.Close
	}
	return out
}
