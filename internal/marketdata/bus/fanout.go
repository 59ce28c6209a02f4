// Package bus copies one record stream to several consumers.
package bus

import (
	"context"
	"sync"
	"sync/atomic"
)

// Policy is what Run does when a subscriber's buffer is full.
type Policy int

const (
	// DropNewest skips the record for that subscriber only.
	DropNewest Policy = iota
	// Block waits until the subscriber has room, stalling every other one.
	Block
)

type subscriber[T any] struct {
	name      string
	ch        chan T
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// FanOut broadcasts every record read from one channel to all subscribers,
// in input order. Subscribers must be registered before Run starts.
type FanOut[T any] struct {
	buf    int
	policy Policy

	mu      sync.Mutex
	subs    []*subscriber[T]
	started bool
}

func New[T any](buf int, policy Policy) *FanOut[T] {
	return &FanOut[T]{buf: buf, policy: policy}
}

// Subscribe registers a named consumer. It panics once Run has started.
func (f *FanOut[T]) Subscribe(name string) <-chan T {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		panic("bus: Subscribe after Run")
	}
	s := &subscriber[T]{name: name, ch: make(chan T, f.buf)}
	f.subs = append(f.subs, s)
	return s.ch
}

// Run forwards input until it closes or ctx ends, then closes every
// subscriber channel. It returns how many records were read.
func (f *FanOut[T]) Run(ctx context.Context, input <-chan T) int {
	f.mu.Lock()
	f.started = true
	subs := f.subs
	f.mu.Unlock()
	defer func() {
		for _, s := range subs {
			close(s.ch)
		}
	}()

	read := 0
	for {
		var rec T
		var ok bool
		select {
		case <-ctx.Done():
			return read
		case rec, ok = <-input:
		}
		if !ok {
			return read
		}
		read++
		for _, s := range subs {
			if !f.deliver(ctx, s, rec) {
				return read
			}
		}
	}
}

// deliver reports false only when ctx ended while blocked.
func (f *FanOut[T]) deliver(ctx context.Context, s *subscriber[T], rec T) bool {
	if f.policy == Block {
		select {
		case s.ch <- rec:
			s.delivered.Add(1)
			return true
		case <-ctx.Done():
			return false
		}
	}
	select {
	case s.ch <- rec:
		s.delivered.Add(1)
	default:
		s.dropped.Add(1)
	}
	return true
}

// Stat describes one subscriber.
type Stat struct {
	Name      string
	Delivered uint64
	Dropped   uint64
	Queued    int
}

// Stats is safe to call while Run is active.
func (f *FanOut[T]) Stats() []Stat {
	f.mu.Lock()
	subs := f.subs
	f.mu.Unlock()
	out := make([]Stat, len(subs))
	for i, s := range subs {
		out[i] = Stat{Name: s.name, Delivered: s.delivered.Load(), Dropped: s.dropped.Load(), Queued: len(s.ch)}
	}
	return out
}
