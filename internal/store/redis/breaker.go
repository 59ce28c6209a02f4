package redis

import (
	"context"
	"errors"
	"sync"
	"time"
)

// BreakerState is exported as a gauge: 0 closed, 1 open, 2 half-open.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

var stateNames = [...]string{"closed", "open", "half-open"}

func (s BreakerState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// ErrCircuitOpen is returned without calling fn while the breaker is open
// or while a half-open probe is already in flight.
var ErrCircuitOpen = errors.New("redis: circuit breaker is open")

// Breaker stops result publishing from hammering an unreachable Redis.
//
// threshold consecutive failures open it. Once cooldown has passed since the
// last failure a single probe is let through; its outcome closes or reopens
// the breaker. Context cancellation is the caller giving up, so it neither
// counts as a failure nor resets the streak.
type Breaker struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	state    BreakerState
	streak   int
	trips    int
	openedAt time.Time
	probing  bool

	// OnTransition runs with the breaker locked; it must not call back in.
	OnTransition func(from, to BreakerState)
}

func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{threshold: max(threshold, 1), cooldown: cooldown, now: time.Now}
}

// Do runs fn if the breaker admits it and records the outcome.
func (b *Breaker) Do(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	err = fn()
	b.record(probe, err)
	return err
}

func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false, ErrCircuitOpen
		}
		b.moveTo(StateHalfOpen)
	case StateHalfOpen:
		if b.probing {
			return false, ErrCircuitOpen
		}
	}
	if b.state == StateHalfOpen {
		b.probing = true
		return true, nil
	}
	return false, nil
}

func (b *Breaker) record(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if probe {
		b.probing = false
	}
	switch {
	case err == nil:
		b.streak = 0
		if probe {
			b.moveTo(StateClosed)
		}
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// an abandoned probe leaves the breaker half-open for the next caller
	default:
		b.streak++
		if probe || b.streak >= b.threshold {
			b.openedAt = b.now()
			b.moveTo(StateOpen)
		}
	}
}

func (b *Breaker) moveTo(to BreakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if to == StateOpen {
		b.trips++
	}
	if to == StateClosed {
		b.streak = 0
	}
	if b.OnTransition != nil {
		b.OnTransition(from, to)
	}
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Trips counts transitions into the open state.
func (b *Breaker) Trips() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trips
}
