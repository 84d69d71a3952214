package hpo

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"golang.org/x/exp/constraints"
)

//////
// Distributions.
//////

// Distribution describes the values one hyperparameter may take.
//
// Every distribution maps its values to an internal float64 representation
// (the value itself for numeric ranges, the choice index for categorical
// ones); that representation is what samplers reason about and what the
// store persists.
type Distribution interface {
	// Validate reports a malformed distribution.
	Validate() error

	// toInternal converts an external value to its internal representation.
	toInternal(v any) (float64, error)

	// toExternal converts an internal representation back.
	toExternal(f float64) any

	// contains reports whether an internal value lies in the distribution.
	contains(f float64) bool
}

// Categorical is a finite, ordered set of choices. Choices should be
// strings, bools, ints or float64s so they survive persistence unchanged.
type Categorical struct {
	Choices []any
}

// Choices is shorthand for a Categorical distribution.
func Choices(choices ...any) Categorical {
	return Categorical{Choices: choices}
}

// Validate implements Distribution.
func (c Categorical) Validate() error {
	if len(c.Choices) == 0 {
		return fmt.Errorf("categorical distribution has no choices: %w", ErrConfiguration)
	}

	for i, v := range c.Choices {
		switch v := v.(type) {
		case string, bool, int, int64:
		case float64:
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("categorical choice %v is not finite: %w", v, ErrConfiguration)
			}
		default:
			return fmt.Errorf("unsupported categorical choice %v (%T): %w", v, v, ErrConfiguration)
		}

		// A repeated choice would always encode to its first index.
		for _, prev := range c.Choices[:i] {
			if prev == v {
				return fmt.Errorf("duplicate categorical choice %v: %w", v, ErrConfiguration)
			}
		}
	}

	return nil
}

func (c Categorical) toInternal(v any) (float64, error) {
	for i, choice := range c.Choices {
		if choice == v {
			return float64(i), nil
		}
	}

	return 0, fmt.Errorf("%v is not a choice: %w", v, ErrInvalidArgument)
}

func (c Categorical) toExternal(f float64) any {
	return c.Choices[int(f)]
}

func (c Categorical) contains(f float64) bool {
	i := int(f)

	return float64(i) == f && i >= 0 && i < len(c.Choices)
}

// Float is a continuous range [Low, High]. Log ranges are sampled uniformly
// in log space and need Low > 0.
type Float struct {
	Low  float64
	High float64
	Log  bool
}

// Validate implements Distribution.
func (d Float) Validate() error {
	if math.IsNaN(d.Low) || math.IsNaN(d.High) || d.Low > d.High {
		return fmt.Errorf("float range [%v, %v] needs low <= high: %w", d.Low, d.High, ErrInvalidArgument)
	}

	if math.IsInf(d.Low, 0) || math.IsInf(d.High, 0) {
		return fmt.Errorf("float range [%v, %v] needs finite bounds: %w", d.Low, d.High, ErrInvalidArgument)
	}

	if d.Log && d.Low <= 0 {
		return fmt.Errorf("log float range needs low > 0, got %v: %w", d.Low, ErrInvalidArgument)
	}

	return nil
}

func (d Float) toInternal(v any) (float64, error) {
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("%v (%T) is not a float64: %w", v, v, ErrInvalidArgument)
	}

	return f, nil
}

func (d Float) toExternal(f float64) any { return f }

func (d Float) contains(f float64) bool { return f >= d.Low && f <= d.High }

// Int is an integer range [Low, High] with an optional Step (default 1).
type Int struct {
	Low  int
	High int
	Step int
}

// Validate implements Distribution.
func (d Int) Validate() error {
	if d.Low > d.High {
		return fmt.Errorf("int range [%d, %d] needs low <= high: %w", d.Low, d.High, ErrInvalidArgument)
	}

	if d.Step < 0 {
		return fmt.Errorf("int range step %d is negative: %w", d.Step, ErrInvalidArgument)
	}

	return nil
}

func (d Int) step() int {
	if d.Step <= 0 {
		return 1
	}

	return d.Step
}

// count returns the number of values in the range.
func (d Int) count() int { return (d.High-d.Low)/d.step() + 1 }

// at returns the i-th value of the range.
func (d Int) at(i int) int { return d.Low + i*d.step() }

// snap rounds f to the nearest value of the range.
func (d Int) snap(f float64) int {
	step := float64(d.step())
	v := d.Low + int(math.Round((f-float64(d.Low))/step))*d.step()

	if v > d.High {
		v -= d.step()
	}

	if v < d.Low {
		v = d.Low
	}

	return v
}

func (d Int) toInternal(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("%v (%T) is not an int: %w", v, v, ErrInvalidArgument)
	}
}

func (d Int) toExternal(f float64) any { return int(math.Round(f)) }

func (d Int) contains(f float64) bool {
	return f >= float64(d.Low) && f <= float64(d.High) && f == math.Round(f)
}

// Range returns the numeric range [low, high]: an Int for integer types and
// a Float for floating point ones.
//
// Usage example:
//
//	space := SearchSpace{
//	    "lr":     Range(0.001, 0.1), // Float
//	    "epochs": Range(5, 50),      // Int
//	}
func Range[T constraints.Integer | constraints.Float](low, high T) Distribution {
	switch any(low).(type) {
	case float32, float64:
		return Float{Low: float64(low), High: float64(high)}
	default:
		return Int{Low: int(low), High: int(high)}
	}
}

//////
// Search space.
//////

// SearchSpace maps each hyperparameter name to its distribution.
type SearchSpace map[string]Distribution

// Params is one concrete assignment of a SearchSpace.
type Params map[string]any

// Names returns the parameter names in sorted order. Samplers walk the space
// in this order so a seeded run is reproducible.
func (s SearchSpace) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Validate checks every distribution. An empty space is a configuration
// error: there is nothing to optimise.
func (s SearchSpace) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("search space is empty: %w", ErrConfiguration)
	}

	for _, name := range s.Names() {
		if name == "" {
			return fmt.Errorf("search space has an unnamed parameter: %w", ErrInvalidArgument)
		}

		if s[name] == nil {
			return fmt.Errorf("parameter %q has no distribution: %w", name, ErrConfiguration)
		}

		if err := s[name].Validate(); err != nil {
			return fmt.Errorf("parameter %q: %w", name, err)
		}
	}

	return nil
}

// encode converts an assignment to internal representations.
func (s SearchSpace) encode(p Params) (map[string]float64, error) {
	out := make(map[string]float64, len(p))

	for name, v := range p {
		d, ok := s[name]
		if !ok {
			return nil, fmt.Errorf("parameter %q is not in the search space: %w", name, ErrInvalidArgument)
		}

		f, err := d.toInternal(v)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", name, err)
		}

		out[name] = f
	}

	return out, nil
}

// decode converts internal representations back. Parameters that no longer
// belong to the space, or whose value lies outside it, are dropped.
func (s SearchSpace) decode(internal map[string]float64) Params {
	out := make(Params, len(internal))

	for name, f := range internal {
		d, ok := s[name]
		if !ok || !d.contains(f) {
			continue
		}

		out[name] = d.toExternal(f)
	}

	return out
}

//////
// Persistence.
//////

type wireChoice struct {
	Kind  string          `json:"kind"`
	Value json.RawMessage `json:"value"`
}

type wireDistribution struct {
	Type    string       `json:"type"`
	Low     float64      `json:"low,omitempty"`
	High    float64      `json:"high,omitempty"`
	Log     bool         `json:"log,omitempty"`
	Step    int          `json:"step,omitempty"`
	Choices []wireChoice `json:"choices,omitempty"`
}

// MarshalJSON encodes the space with the Go kind of every categorical choice
// so ints stay ints across a reload.
func (s SearchSpace) MarshalJSON() ([]byte, error) {
	wire := make(map[string]wireDistribution, len(s))

	for name, d := range s {
		switch d := d.(type) {
		case Float:
			wire[name] = wireDistribution{Type: "float", Low: d.Low, High: d.High, Log: d.Log}
		case Int:
			wire[name] = wireDistribution{Type: "int", Low: float64(d.Low), High: float64(d.High), Step: d.Step}
		case Categorical:
			w := wireDistribution{Type: "categorical"}

			for _, c := range d.Choices {
				raw, err := json.Marshal(c)
				if err != nil {
					return nil, fmt.Errorf("encoding choice of %q: %w", name, err)
				}

				w.Choices = append(w.Choices, wireChoice{Kind: fmt.Sprintf("%T", c), Value: raw})
			}

			wire[name] = w
		default:
			return nil, fmt.Errorf("parameter %q: unsupported distribution %T: %w", name, d, ErrConfiguration)
		}
	}

	return json.Marshal(wire)
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *SearchSpace) UnmarshalJSON(data []byte) error {
	var wire map[string]wireDistribution
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	out := make(SearchSpace, len(wire))

	for name, w := range wire {
		switch w.Type {
		case "float":
			out[name] = Float{Low: w.Low, High: w.High, Log: w.Log}
		case "int":
			out[name] = Int{Low: int(w.Low), High: int(w.High), Step: w.Step}
		case "categorical":
			c := Categorical{}

			for _, wc := range w.Choices {
				v, err := decodeChoice(wc)
				if err != nil {
					return fmt.Errorf("parameter %q: %w", name, err)
				}

				c.Choices = append(c.Choices, v)
			}

			out[name] = c
		default:
			return fmt.Errorf("parameter %q: unknown distribution type %q", name, w.Type)
		}
	}

	*s = out

	return nil
}

func decodeChoice(wc wireChoice) (any, error) {
	var err error

	switch wc.Kind {
	case "string":
		var v string
		err = json.Unmarshal(wc.Value, &v)

		return v, err
	case "bool":
		var v bool
		err = json.Unmarshal(wc.Value, &v)

		return v, err
	case "int":
		var v int
		err = json.Unmarshal(wc.Value, &v)

		return v, err
	case "int64":
		var v int64
		err = json.Unmarshal(wc.Value, &v)

		return v, err
	case "float64":
		var v float64
		err = json.Unmarshal(wc.Value, &v)

		return v, err
	default:
		return nil, fmt.Errorf("unsupported choice kind %q", wc.Kind)
	}
}
