package hpo

import (
	"math"
	"math/rand"
	"sort"
)

// TPESampler implements the Tree-structured Parzen Estimator.
//
// How it works:
//   - The first StartupTrials trials are sampled at random
//   - Afterwards complete trials are split into a "good" group (the best
//     gamma fraction) and a "bad" group
//   - Each parameter gets two Parzen estimators, l(x) over the good group and
//     g(x) over the bad one
//   - Candidates are drawn from l(x); the one maximising l(x)/g(x) wins
//
// Parameters are modelled independently. Integer ranges are modelled as
// continuous and snapped; log ranges are modelled in log space.
type TPESampler struct {
	Seed          int64
	StartupTrials int
	Candidates    int
}

// gamma returns the size of the good group out of n observations.
func tpeGamma(n int) int {
	return int(math.Min(math.Ceil(0.1*float64(n)), 25))
}

// Sample implements Sampler.
func (s *TPESampler) Sample(ctx SampleContext) (Params, error) {
	rng := rand.New(rand.NewSource(rngSeed(s.Seed, ctx.Number)))

	params := make(Params, len(ctx.Space))

	if completeCount(ctx.History) < s.StartupTrials {
		for _, name := range ctx.Space.Names() {
			params[name] = sampleUniform(rng, ctx.Space[name])
		}

		return params, nil
	}

	candidates := s.Candidates
	if candidates <= 0 {
		candidates = 24
	}

	for _, name := range ctx.Space.Names() {
		d := ctx.Space[name]

		obs := completeObservations(ctx, name)
		if len(obs) < 2 {
			params[name] = sampleUniform(rng, d)

			continue
		}

		below, above := splitObservations(obs, ctx.Direction)

		switch d := d.(type) {
		case Categorical:
			params[name] = d.Choices[sampleCategoricalTPE(rng, len(d.Choices), below, above, candidates)]
		case Float:
			params[name] = sampleNumericTPE(rng, d.Low, d.High, d.Log, below, above, candidates)
		case Int:
			v := sampleNumericTPE(rng, float64(d.Low)-0.5, float64(d.High)+0.5, false, below, above, candidates)
			params[name] = d.snap(v)
		default:
			params[name] = sampleUniform(rng, d)
		}
	}

	return params, nil
}

// splitObservations sorts obs best first and splits off the good group.
func splitObservations(obs []observation, direction Direction) (below, above []float64) {
	sorted := make([]observation, len(obs))
	copy(sorted, obs)

	sort.SliceStable(sorted, func(i, j int) bool {
		return direction.better(sorted[i].score, sorted[j].score)
	})

	n := tpeGamma(len(sorted))
	if n < 1 {
		n = 1
	}

	for i, o := range sorted {
		if i < n {
			below = append(below, o.value)
		} else {
			above = append(above, o.value)
		}
	}

	return below, above
}

//////
// Numeric Parzen estimator.
//////

// parzen is a mixture of truncated normals over [low, high] plus a flat-ish
// prior centred on the range.
type parzen struct {
	low, high float64
	mus       []float64
	sigmas    []float64
}

func newParzen(low, high float64, points []float64) parzen {
	span := high - low
	if span <= 0 {
		span = 1
	}

	p := parzen{low: low, high: high}

	// Prior component.
	p.mus = append(p.mus, low+span/2)
	p.sigmas = append(p.sigmas, span)

	// Scott-style bandwidth, clipped to a sensible band.
	bw := span * math.Pow(float64(len(points)+1), -1.0/5.0)
	bw = math.Max(span/100, math.Min(span, bw))

	for _, x := range points {
		p.mus = append(p.mus, x)
		p.sigmas = append(p.sigmas, bw)
	}

	return p
}

// sample draws one point from the mixture, components weighted equally.
func (p parzen) sample(rng *rand.Rand) float64 {
	k := rng.Intn(len(p.mus))

	for attempt := 0; attempt < 16; attempt++ {
		x := p.mus[k] + p.sigmas[k]*rng.NormFloat64()
		if x >= p.low && x <= p.high {
			return x
		}
	}

	return clampFloat(p.mus[k], p.low, p.high)
}

// logPDF returns the log density of the truncated mixture at x.
func (p parzen) logPDF(x float64) float64 {
	var sum float64

	for k := range p.mus {
		mu, sigma := p.mus[k], p.sigmas[k]
		mass := normalCDF((p.high-mu)/sigma) - normalCDF((p.low-mu)/sigma)

		if mass <= 0 {
			continue
		}

		sum += normalPDF((x-mu)/sigma) / (sigma * mass)
	}

	if sum <= 0 {
		return math.Inf(-1)
	}

	return math.Log(sum / float64(len(p.mus)))
}

func sampleNumericTPE(rng *rand.Rand, low, high float64, logScale bool, below, above []float64, candidates int) float64 {
	transform := func(v float64) float64 { return v }
	inverse := transform

	if logScale {
		transform = math.Log
		inverse = math.Exp
	}

	tl, th := transform(low), transform(high)
	if tl == th {
		return low
	}

	tb := make([]float64, len(below))
	for i, v := range below {
		tb[i] = transform(v)
	}

	ta := make([]float64, len(above))
	for i, v := range above {
		ta[i] = transform(v)
	}

	l, g := newParzen(tl, th, tb), newParzen(tl, th, ta)

	best, bestScore := l.sample(rng), math.Inf(-1)

	for i := 0; i < candidates; i++ {
		x := l.sample(rng)
		if score := l.logPDF(x) - g.logPDF(x); score > bestScore {
			best, bestScore = x, score
		}
	}

	return clampFloat(inverse(best), low, high)
}

//////
// Categorical Parzen estimator.
//////

func categoricalWeights(n int, indexes []float64) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1.0 / float64(n)
	}

	for _, idx := range indexes {
		w[int(idx)]++
	}

	var total float64
	for _, v := range w {
		total += v
	}

	for i := range w {
		w[i] /= total
	}

	return w
}

func sampleCategoricalTPE(rng *rand.Rand, n int, below, above []float64, candidates int) int {
	l, g := categoricalWeights(n, below), categoricalWeights(n, above)

	draw := func() int {
		u := rng.Float64()
		for i, w := range l {
			if u < w {
				return i
			}

			u -= w
		}

		return n - 1
	}

	best := draw()
	bestScore := l[best] / g[best]

	for i := 0; i < candidates; i++ {
		c := draw()
		if score := l[c] / g[c]; score > bestScore {
			best, bestScore = c, score
		}
	}

	return best
}
