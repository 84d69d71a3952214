package hpo

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

//////
// Sampler protocol.
//////

// SampleContext is everything a sampler may look at when proposing the next
// assignment.
type SampleContext struct {
	// Study is the study name.
	Study string

	// Number is the number the proposed trial will get.
	Number int

	Direction Direction
	Space     SearchSpace

	// History holds every finished trial of the study, ordered by number.
	History []Trial
}

// Sampler proposes parameter assignments.
//
// Implementations must be deterministic for a given seed and context, and
// must suggest exactly one value per search space entry.
type Sampler interface {
	Sample(ctx SampleContext) (Params, error)
}

// errGridExhausted stops a run once every grid point has been evaluated.
var errGridExhausted = errors.New("grid exhausted")

// sampleUniform draws one value of d uniformly at random.
func sampleUniform(rng *rand.Rand, d Distribution) any {
	switch d := d.(type) {
	case Categorical:
		return d.Choices[rng.Intn(len(d.Choices))]
	case Int:
		return d.at(rng.Intn(d.count()))
	case Float:
		if d.Log {
			low, high := math.Log(d.Low), math.Log(d.High)

			return clampFloat(math.Exp(low+rng.Float64()*(high-low)), d.Low, d.High)
		}

		return d.Low + rng.Float64()*(d.High-d.Low)
	default:
		return nil
	}
}

func clampFloat(v, low, high float64) float64 {
	return math.Max(low, math.Min(high, v))
}

// observation is one historical (internal value, score) pair for a parameter.
type observation struct {
	value float64
	score float64
}

// completeObservations returns, for every complete trial carrying a value and
// the named parameter, its internal value and its score.
func completeObservations(ctx SampleContext, name string) []observation {
	d := ctx.Space[name]

	var out []observation

	for _, t := range ctx.History {
		if t.State != Complete || !t.HasValue {
			continue
		}

		v, ok := t.Params[name]
		if !ok {
			continue
		}

		f, err := d.toInternal(v)
		if err != nil || !d.contains(f) {
			continue
		}

		out = append(out, observation{value: f, score: t.Value})
	}

	return out
}

func completeCount(history []Trial) int {
	n := 0

	for _, t := range history {
		if t.State == Complete && t.HasValue {
			n++
		}
	}

	return n
}

//////
// Random.
//////

// RandomSampler samples every parameter independently and uniformly.
type RandomSampler struct {
	Seed int64
}

// Sample implements Sampler.
func (s *RandomSampler) Sample(ctx SampleContext) (Params, error) {
	rng := rand.New(rand.NewSource(rngSeed(s.Seed, ctx.Number)))

	params := make(Params, len(ctx.Space))
	for _, name := range ctx.Space.Names() {
		params[name] = sampleUniform(rng, ctx.Space[name])
	}

	return params, nil
}

//////
// Grid.
//////

// GridSampler walks the cartesian product of the search space. Categorical
// and integer axes contribute their values (integer axes thinned to
// GridPoints values when longer), float axes contribute GridPoints evenly
// spaced values including both bounds.
//
// The grid is fixed at construction, which is why grid search needs the
// search space before the study is created. Each trial takes the first grid
// point no earlier trial has evaluated; once every point is taken the run
// stops.
type GridSampler struct {
	space SearchSpace
	names []string
	axes  [][]float64
}

// NewGridSampler enumerates the grid of space.
func NewGridSampler(space SearchSpace, points int) (*GridSampler, error) {
	if err := space.Validate(); err != nil {
		return nil, fmt.Errorf("grid search: %w", err)
	}

	if points < 2 {
		points = 2
	}

	g := &GridSampler{space: space, names: space.Names()}

	for _, name := range g.names {
		g.axes = append(g.axes, gridAxis(space[name], points))
	}

	return g, nil
}

func gridAxis(d Distribution, points int) []float64 {
	switch d := d.(type) {
	case Categorical:
		axis := make([]float64, len(d.Choices))
		for i := range axis {
			axis[i] = float64(i)
		}

		return axis
	case Int:
		n := d.count()
		if n <= points {
			axis := make([]float64, n)
			for i := range axis {
				axis[i] = float64(d.at(i))
			}

			return axis
		}

		seen := map[int]bool{}

		var axis []float64

		for i := 0; i < points; i++ {
			v := d.at(int(math.Round(float64(i) * float64(n-1) / float64(points-1))))
			if !seen[v] {
				seen[v] = true
				axis = append(axis, float64(v))
			}
		}

		return axis
	case Float:
		if d.Low == d.High {
			return []float64{d.Low}
		}

		axis := make([]float64, points)

		for i := range axis {
			frac := float64(i) / float64(points-1)
			if d.Log {
				low, high := math.Log(d.Low), math.Log(d.High)
				axis[i] = clampFloat(math.Exp(low+frac*(high-low)), d.Low, d.High)
			} else {
				axis[i] = d.Low + frac*(d.High-d.Low)
			}
		}

		axis[0], axis[points-1] = d.Low, d.High

		return axis
	default:
		return nil
	}
}

// Size returns the number of grid points.
func (g *GridSampler) Size() int {
	size := 1
	for _, axis := range g.axes {
		size *= len(axis)
	}

	return size
}

// point returns the grid point with index i, in internal representation.
func (g *GridSampler) point(i int) map[string]float64 {
	p := make(map[string]float64, len(g.names))

	for k := len(g.names) - 1; k >= 0; k-- {
		axis := g.axes[k]
		p[g.names[k]] = axis[i%len(axis)]
		i /= len(axis)
	}

	return p
}

// Sample implements Sampler.
func (g *GridSampler) Sample(ctx SampleContext) (Params, error) {
	if !sameNames(ctx.Space, g.space) {
		return nil, fmt.Errorf("grid search space %v differs from the requested %v: %w", g.names, ctx.Space.Names(), ErrConfiguration)
	}

	visited := make(map[string]bool, len(ctx.History))

	for _, t := range ctx.History {
		internal, err := g.space.encode(t.Params)
		if err != nil {
			continue
		}

		visited[gridKey(g.names, internal)] = true
	}

	for i := 0; i < g.Size(); i++ {
		p := g.point(i)
		if !visited[gridKey(g.names, p)] {
			return g.space.decode(p), nil
		}
	}

	return nil, errGridExhausted
}

func gridKey(names []string, p map[string]float64) string {
	key := make([]byte, 0, 16*len(names))
	for _, name := range names {
		key = fmt.Appendf(key, "%s=%v;", name, p[name])
	}

	return string(key)
}

func sameNames(a, b SearchSpace) bool {
	if len(a) != len(b) {
		return false
	}

	an, bn := a.Names(), b.Names()

	for i := range an {
		if an[i] != bn[i] {
			return false
		}
	}

	return true
}
