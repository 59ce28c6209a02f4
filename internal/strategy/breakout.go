package strategy

import (
	"fmt"

	"backtester/internal/indicator"
	"backtester/internal/marketdata/replay"
	"backtester/internal/model"
	"backtester/internal/ringbuf"
)

// BreakOutName is the registry name of BreakOut.
const BreakOutName = "BreakOut"

// BreakOut is an intraday open-range breakout traded on a fast execution
// stream with two information streams: a signal timeframe (first info
// symbol, e.g. 30 minute bars) and a range timeframe (second, e.g. daily).
//
// The breakout levels are the last range bar's close plus and minus
// mult times its high-low range. It enters when both the last signal bar
// and the execution close are beyond a level, and exits when the close
// falls back through the range bar's close. With prot_mult > 0 a protective
// stop is rested prot_mult ATRs (signal timeframe) away from the entry.
//
// Params: mult (0.5), buffer (100), qty (1), offset (0.5), atr (14),
// prot_mult (0). Bar mode only.
type BreakOut struct {
	Base

	signalName string
	rangeName  string
	signalWin  *ringbuf.Window
	rangeWin   *ringbuf.Window
	atr        *indicator.ATR

	mult     float64
	protMult float64
	offset   float64
	qty      int64
	buffer   int
	count    int

	initialPoint float64
	levelLong    float64
	levelShort   float64

	working []string
	stops   []string
}

// NewBreakOut creates the breakout strategy. The gateway must carry at
// least two info symbols.
func NewBreakOut(gw Gateway, p Params) (Strategy, error) {
	info := gw.InfoSymbols()
	if len(info) < 2 {
		return nil, fmt.Errorf("%s: needs 2 info symbols (signal, range), got %d", BreakOutName, len(info))
	}
	buffer := p.Int("buffer", 100)
	qty := int64(p.Int("qty", 1))
	if buffer <= 0 || qty <= 0 {
		return nil, fmt.Errorf("%s: buffer and qty must be positive", BreakOutName)
	}
	return &BreakOut{
		Base:       NewBase(gw, BreakOutName),
		signalName: info[0],
		rangeName:  info[1],
		signalWin:  ringbuf.New(buffer),
		rangeWin:   ringbuf.New(buffer),
		atr:        indicator.NewATR(p.Int("atr", 14)),
		mult:       p.Get("mult", 0.5),
		protMult:   p.Get("prot_mult", 0),
		offset:     p.Get("offset", 0.5),
		qty:        qty,
		buffer:     buffer,
	}, nil
}

func (s *BreakOut) OnInit() error {
	s.WriteLog(s.Name() + " strategy initializing")
	return s.WarmUp()
}

func (s *BreakOut) OnStart() { s.WriteLog(s.Name() + " strategy starting") }
func (s *BreakOut) OnStop()  { s.WriteLog(s.Name() + " strategy stopping") }

// updateInfo folds this event's information bars into the rolling windows
// and reports whether any stream updated.
func (s *BreakOut) updateInfo(info replay.Snapshot) bool {
	updated := false
	if b, ok := info.Get(s.signalName); ok {
		s.signalWin.Push(b)
		s.atr.Update(b)
		updated = true
	}
	if b, ok := info.Get(s.rangeName); ok {
		s.rangeWin.Push(b)
		updated = true
	}
	return updated
}

func (s *BreakOut) OnBar(bar model.Bar, info replay.Snapshot) {
	tradeOn := s.updateInfo(info)

	// Do not trade until the buffer zone has enough data
	s.count++
	if s.count < s.buffer {
		return
	}
	rangeBar, ok := s.rangeWin.Last()
	if !ok {
		return
	}
	signalBar, ok := s.signalWin.Last()
	if !ok {
		return
	}

	if tradeOn {
		stretch := (rangeBar.High - rangeBar.Low) * s.mult
		s.initialPoint = rangeBar.Close
		s.levelLong = s.initialPoint + stretch
		s.levelShort = s.initialPoint - stretch
	}
	if !s.Trading() || s.initialPoint == 0 {
		return
	}

	pos := s.Pos()
	switch {
	case pos == 0 && tradeOn:
		s.working = s.CancelAll(s.working)
		if signalBar.High > s.levelLong && bar.Close > s.levelLong {
			s.track(s.Buy(bar.Close+s.offset, s.qty))
		} else if signalBar.Low < s.levelShort && bar.Close < s.levelShort {
			s.track(s.Short(bar.Close-s.offset, s.qty))
		}

	case pos > 0 && bar.Close < s.initialPoint:
		s.working = s.CancelAll(s.working)
		s.track(s.Sell(bar.Close-s.offset, pos))

	case pos < 0 && bar.Close > s.initialPoint:
		s.working = s.CancelAll(s.working)
		s.track(s.Cover(bar.Close+s.offset, -pos))
	}
}

// OnTrade rests the protective stop after an entry. Once the position is
// flat again every resting order goes: a stop-out must not leave a close
// order behind to reopen the other way.
func (s *BreakOut) OnTrade(trade model.Trade) {
	if s.Pos() == 0 {
		s.stops = s.CancelAll(s.stops)
		s.working = s.CancelAll(s.working)
		return
	}
	if trade.Offset != model.OffsetOpen || s.protMult <= 0 || !s.atr.Ready() {
		return
	}
	s.stops = s.CancelAll(s.stops)
	dist := s.atr.Value() * s.protMult
	var id string
	if s.Pos() > 0 {
		id = s.SellStop(trade.Price-dist, s.Pos())
	} else {
		id = s.CoverStop(trade.Price+dist, -s.Pos())
	}
	if id != "" {
		s.stops = append(s.stops, id)
	}
}

func (s *BreakOut) track(id string) {
	if id != "" {
		s.working = append(s.working, id)
	}
}
