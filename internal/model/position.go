package model

// Position is the running signed volume of one simulation.
// Positive = long, negative = short.
type Position struct {
	Symbol string `json:"symbol"`
	Qty    int64  `json:"qty"`
}

// Apply adjusts the position by a fill.
func (p *Position) Apply(t Trade) {
	p.Qty += t.SignedVolume()
}

// Flat reports whether there is no open exposure.
func (p *Position) Flat() bool { return p.Qty == 0 }
