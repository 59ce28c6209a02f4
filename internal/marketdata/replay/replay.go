// Package replay aligns auxiliary ("information") bar streams to the clock
// of the primary execution stream without look-ahead.
//
// A Synchronizer holds one pre-fetched record per stream. Each call to
// Advance hands out, per stream, the pending record if its timestamp is
// not after the primary timestamp, and "no update" otherwise. The warm-up
// replay and the main replay each build their own Synchronizer over their
// own cursors.
package replay

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"backtester/internal/model"
)

// ErrNoData is returned when a stream yields no records at initialization.
var ErrNoData = errors.New("stream has no data")

// Stream names an auxiliary cursor.
type Stream struct {
	Name   string
	Cursor model.BarCursor
}

type pending struct {
	name      string
	cursor    model.BarCursor
	bar       model.Bar
	exhausted bool
}

// Synchronizer emits auxiliary bars aligned to a primary clock.
// It is not safe for concurrent use.
type Synchronizer struct {
	streams []*pending
	log     *slog.Logger

	// OnExhausted is called once per stream when it runs dry (optional).
	OnExhausted func(name string)
}

// New pre-fetches the first record of every stream. A stream that is empty
// at this point is marked exhausted and reported through the returned error
// (wrapping ErrNoData); the Synchronizer is still usable and that stream
// reports "no update" forever.
func New(log *slog.Logger, streams ...Stream) (*Synchronizer, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Synchronizer{
		streams: make([]*pending, 0, len(streams)),
		log:     log.With(slog.String("component", "replay")),
	}
	var errs []error
	for _, st := range streams {
		p := &pending{name: st.Name, cursor: st.Cursor}
		bar, ok := st.Cursor.Next()
		if !ok {
			p.exhausted = true
			err := fmt.Errorf("info stream %s: %w", st.Name, ErrNoData)
			if cerr := st.Cursor.Err(); cerr != nil {
				err = fmt.Errorf("info stream %s: %w: %w", st.Name, ErrNoData, cerr)
			}
			s.log.Error("info stream empty at initialization", slog.String("stream", st.Name), slog.Any("err", err))
			errs = append(errs, err)
		} else {
			p.bar = bar
		}
		s.streams = append(s.streams, p)
	}
	return s, errors.Join(errs...)
}

// Names returns the stream names in registration order.
func (s *Synchronizer) Names() []string {
	names := make([]string, len(s.streams))
	for i, p := range s.streams {
		names[i] = p.name
	}
	return names
}

// Advance returns the snapshot for primary timestamp t. Every stream gets
// an entry; streams without a record at or before t map to nil.
func (s *Synchronizer) Advance(t time.Time) Snapshot {
	snap := make(Snapshot, len(s.streams))
	for _, p := range s.streams {
		if p.exhausted || p.bar.TS.After(t) {
			snap[p.name] = nil
			continue
		}
		bar := p.bar
		snap[p.name] = &bar
		s.fetch(p)
	}
	return snap
}

func (s *Synchronizer) fetch(p *pending) {
	next, ok := p.cursor.Next()
	if ok {
		p.bar = next
		return
	}
	p.exhausted = true
	p.bar = model.Bar{}
	attrs := []any{slog.String("stream", p.name)}
	if err := p.cursor.Err(); err != nil {
		attrs = append(attrs, slog.Any("err", err))
	}
	s.log.Info("no more data in info stream", attrs...)
	if s.OnExhausted != nil {
		s.OnExhausted(p.name)
	}
}

// Close closes every underlying cursor.
func (s *Synchronizer) Close() error {
	var errs []error
	for _, p := range s.streams {
		if err := p.cursor.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", p.name, err))
		}
	}
	return errors.Join(errs...)
}

// Snapshot maps stream name to the bar emitted for this primary event,
// or nil when that stream has no update.
type Snapshot map[string]*model.Bar

// Get returns the update for name, if any.
func (s Snapshot) Get(name string) (model.Bar, bool) {
	b := s[name]
	if b == nil {
		return model.Bar{}, false
	}
	return *b, true
}

// Updated returns the number of streams that produced a bar.
func (s Snapshot) Updated() int {
	n := 0
	for _, b := range s {
		if b != nil {
			n++
		}
	}
	return n
}
