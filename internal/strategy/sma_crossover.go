package strategy

import (
	"fmt"

	"backtester/internal/indicator"
	"backtester/internal/marketdata/replay"
	"backtester/internal/model"
)

// SMACrossoverName is the registry name of SMACrossover.
const SMACrossoverName = "SMA_Crossover"

// SMACrossover implements a simple SMA crossover strategy.
//
// Buy signal: fast SMA crosses above slow SMA (golden cross)
// Sell signal: fast SMA crosses below slow SMA (death cross)
//
// Optional RSI filter prevents buying when overbought (>70)
// or selling when oversold (<30).
//
// Params: fast (9), slow (21), qty (1), rsi (0 = off), rsi_period (14),
// allow_short (1), offset (0, added to the close for limit prices),
// ma (0 = SMA, 1 = EMA, 2 = SMMA), price (0 = close, 1 = median, 2 = typical).
type SMACrossover struct {
	Base

	fast       indicator.Indicator
	slow       indicator.Indicator
	rsi        *indicator.RSI
	qty        int64
	offset     float64
	allowShort bool

	// Previous SMA values for crossover detection
	prevFast float64
	prevSlow float64
	ready    bool

	working []string
}

// NewSMACrossover creates a new SMA crossover strategy.
func NewSMACrossover(gw Gateway, p Params) (Strategy, error) {
	fast, slow := p.Int("fast", 9), p.Int("slow", 21)
	if fast <= 0 || slow <= 0 || fast >= slow {
		return nil, fmt.Errorf("%s: need 0 < fast < slow, got fast=%d slow=%d", SMACrossoverName, fast, slow)
	}
	qty := int64(p.Int("qty", 1))
	if qty <= 0 {
		return nil, fmt.Errorf("%s: qty must be positive, got %d", SMACrossoverName, qty)
	}
	kinds := []string{"SMA", "EMA", "SMMA"}
	ma := p.Int("ma", 0)
	if ma < 0 || ma >= len(kinds) {
		return nil, fmt.Errorf("%s: ma must be 0..%d, got %d", SMACrossoverName, len(kinds)-1, ma)
	}
	src := indicator.Source(p.Int("price", 0))
	fastInd, err := indicator.New(kinds[ma], fast, src)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", SMACrossoverName, err)
	}
	slowInd, err := indicator.New(kinds[ma], slow, src)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", SMACrossoverName, err)
	}
	s := &SMACrossover{
		Base:       NewBase(gw, SMACrossoverName),
		fast:       fastInd,
		slow:       slowInd,
		qty:        qty,
		offset:     p.Get("offset", 0),
		allowShort: p.Get("allow_short", 1) != 0,
	}
	if p.Get("rsi", 0) != 0 {
		s.rsi = indicator.NewRSI(p.Int("rsi_period", 14))
	}
	return s, nil
}

func (s *SMACrossover) OnInit() error {
	s.WriteLog(s.Name() + " strategy initializing")
	return s.WarmUp()
}

func (s *SMACrossover) OnStart() { s.WriteLog(s.Name() + " strategy starting") }
func (s *SMACrossover) OnStop()  { s.WriteLog(s.Name() + " strategy stopping") }

func (s *SMACrossover) OnBar(bar model.Bar, _ replay.Snapshot) {
	s.fast.Update(bar)
	s.slow.Update(bar)
	if s.rsi != nil {
		s.rsi.Update(bar)
	}

	// Need enough data for both SMAs
	if !s.slow.Ready() {
		return
	}

	fastSMA, slowSMA := s.fast.Value(), s.slow.Value()
	defer func() {
		s.prevFast = fastSMA
		s.prevSlow = slowSMA
		s.ready = true
	}()

	if !s.ready || !s.Trading() {
		return
	}

	switch {
	case s.prevFast <= s.prevSlow && fastSMA > slowSMA:
		if s.rsi != nil && s.rsi.Ready() && s.rsi.Value() > 70 {
			s.WriteLog(fmt.Sprintf("golden cross filtered by RSI %.1f > 70", s.rsi.Value()))
			return
		}
		s.goLong(bar.Close + s.offset)

	case s.prevFast >= s.prevSlow && fastSMA < slowSMA:
		if s.rsi != nil && s.rsi.Ready() && s.rsi.Value() < 30 {
			s.WriteLog(fmt.Sprintf("death cross filtered by RSI %.1f < 30", s.rsi.Value()))
			return
		}
		s.goShort(bar.Close - s.offset)
	}
}

func (s *SMACrossover) goLong(price float64) {
	s.working = s.CancelAll(s.working)
	pos := s.Pos()
	if pos < 0 {
		s.track(s.Cover(price, -pos))
	}
	if pos <= 0 {
		s.track(s.Buy(price, s.qty))
	}
}

func (s *SMACrossover) goShort(price float64) {
	s.working = s.CancelAll(s.working)
	pos := s.Pos()
	if pos > 0 {
		s.track(s.Sell(price, pos))
	}
	if pos >= 0 && s.allowShort {
		s.track(s.Short(price, s.qty))
	}
}

func (s *SMACrossover) track(id string) {
	if id != "" {
		s.working = append(s.working, id)
	}
}
