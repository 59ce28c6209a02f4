package optimize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"backtester/internal/portfolio"
	"backtester/internal/strategy"
)

var (
	// ErrInvalidSetting reports an empty grid or a malformed parameter range.
	ErrInvalidSetting = errors.New("invalid optimization setting")
	// ErrUnknownTarget reports a target that is not a portfolio metric.
	ErrUnknownTarget = errors.New("unknown optimization target")
)

// Setting is a parameter grid plus the metric used to rank its runs.
// Parameters keep the order they were added in; the last one varies
// fastest in Generate.
type Setting struct {
	names  []string
	values map[string][]float64
	target string
}

// NewSetting creates an empty grid.
func NewSetting() *Setting {
	return &Setting{values: make(map[string][]float64)}
}

// AddParameter adds start, start+step, ... up to and including end.
// Steps are accumulated in decimal so 0.1 increments land exactly.
func (s *Setting) AddParameter(name string, start, end, step float64) error {
	if end <= start {
		return fmt.Errorf("%w: %s: end %v must exceed start %v", ErrInvalidSetting, name, end, start)
	}
	if step <= 0 {
		return fmt.Errorf("%w: %s: step %v must be positive", ErrInvalidSetting, name, step)
	}
	d0, d1, ds := decimal.NewFromFloat(start), decimal.NewFromFloat(end), decimal.NewFromFloat(step)
	var vals []float64
	for v := d0; v.LessThanOrEqual(d1); v = v.Add(ds) {
		vals = append(vals, v.InexactFloat64())
	}
	return s.AddValues(name, vals...)
}

// AddValues sets an explicit value list for name, replacing any earlier one.
func (s *Setting) AddValues(name string, values ...float64) error {
	if name == "" {
		return fmt.Errorf("%w: empty parameter name", ErrInvalidSetting)
	}
	if len(values) == 0 {
		return fmt.Errorf("%w: %s has no values", ErrInvalidSetting, name)
	}
	if _, ok := s.values[name]; !ok {
		s.names = append(s.names, name)
	}
	s.values[name] = append([]float64(nil), values...)
	return nil
}

// SetTarget selects the ranking metric; see portfolio.MetricNames.
func (s *Setting) SetTarget(name string) error {
	if !portfolio.IsMetric(name) {
		return fmt.Errorf("%w: %q", ErrUnknownTarget, name)
	}
	s.target = name
	return nil
}

// Target returns the ranking metric name.
func (s *Setting) Target() string { return s.target }

// Names returns the parameter names in insertion order.
func (s *Setting) Names() []string { return append([]string(nil), s.names...) }

// Validate checks the grid can be swept.
func (s *Setting) Validate() error {
	if len(s.names) == 0 {
		return fmt.Errorf("%w: no parameters", ErrInvalidSetting)
	}
	if s.target == "" {
		return fmt.Errorf("%w: no target set", ErrUnknownTarget)
	}
	return nil
}

// Generate returns the Cartesian product of all parameter values.
func (s *Setting) Generate() ([]strategy.Params, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	total := 1
	for _, n := range s.names {
		total *= len(s.values[n])
	}
	out := make([]strategy.Params, 0, total)
	idx := make([]int, len(s.names))
	for range total {
		p := make(strategy.Params, len(s.names))
		for i, n := range s.names {
			p[n] = s.values[n][idx[i]]
		}
		out = append(out, p)
		for i := len(idx) - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < len(s.values[s.names[i]]) {
				break
			}
			idx[i] = 0
		}
	}
	return out, nil
}

// ParseGrid builds a Setting from "name=values;name=values" where values is
// either start:end:step or a |-separated value list.
func ParseGrid(s, target string) (*Setting, error) {
	st := NewSetting()
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, rhs, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("%w: %q is not name=values", ErrInvalidSetting, part)
		}
		name = strings.TrimSpace(name)
		if r := strings.Split(rhs, ":"); len(r) == 3 {
			vals, err := parseFloats(r)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSetting, name, err)
			}
			if err := st.AddParameter(name, vals[0], vals[1], vals[2]); err != nil {
				return nil, err
			}
			continue
		}
		vals, err := parseFloats(strings.Split(rhs, "|"))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSetting, name, err)
		}
		if err := st.AddValues(name, vals...); err != nil {
			return nil, err
		}
	}
	if err := st.SetTarget(target); err != nil {
		return nil, err
	}
	return st, st.Validate()
}

func parseFloats(parts []string) ([]float64, error) {
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
