package hpo

import (
	"math"
	"math/rand"
)

// gpSampler is Bayesian optimisation with the kernel model of
// gaussianProcess and a configurable acquisition function.
//
// How it works:
// 1. Takes StartupTrials random samples to build an initial model
// 2. For each further trial:
//   - Encodes every complete trial into the unit cube and fits the model
//   - Generates Candidates random candidate points
//   - Uses the model to predict the loss at each point
//   - Uses the acquisition function to select the most promising point
type gpSampler struct {
	seed          int64
	startupTrials int
	candidates    int
	acquisition   AcquisitionFunc
	acqParams     AcquisitionParams
}

func newGPSampler(cfg MethodConfig) *gpSampler {
	return &gpSampler{
		seed:          cfg.Seed,
		startupTrials: cfg.StartupTrials,
		candidates:    cfg.Candidates,
		acquisition:   acquisitionByName(cfg.Acquisition),
		acqParams:     AcquisitionParams{Beta: cfg.Beta, Xi: cfg.Xi},
	}
}

// Sample implements Sampler.
func (s *gpSampler) Sample(ctx SampleContext) (Params, error) {
	rng := rand.New(rand.NewSource(rngSeed(s.seed, ctx.Number)))
	names := ctx.Space.Names()

	// safeRandomParams generates a random assignment; used both for the
	// startup phase and for candidates.
	safeRandomParams := func() Params {
		params := make(Params, len(names))
		for _, name := range names {
			params[name] = sampleUniform(rng, ctx.Space[name])
		}

		return params
	}

	if completeCount(ctx.History) < s.startupTrials {
		return safeRandomParams(), nil
	}

	// The model minimises, so maximised scores are negated.
	loss := func(score float64) float64 {
		if ctx.Direction == Maximize {
			return -score
		}

		return score
	}

	gp := newGaussianProcess()
	gp.SetSigma(0.25)

	bestLoss := math.MaxFloat64

	for _, t := range ctx.History {
		if t.State != Complete || !t.HasValue {
			continue
		}

		x, ok := encodeUnit(ctx.Space, names, t.Params)
		if !ok {
			continue
		}

		gp.Update(x, loss(t.Value))
		bestLoss = math.Min(bestLoss, loss(t.Value))
	}

	params := s.acqParams
	params.BestSoFar = bestLoss
	params.RandomState = rng

	var nextParams Params

	bestAcquisition := math.MaxFloat64

	// Choose the most promising candidate according to the acquisition
	// function.
	for j := 0; j < s.candidates; j++ {
		candidate := safeRandomParams()

		x, _ := encodeUnit(ctx.Space, names, candidate)
		mean, variance := gp.Predict(x)

		if acquisition := s.acquisition(mean, variance, params); acquisition < bestAcquisition || nextParams == nil {
			bestAcquisition = acquisition
			nextParams = candidate
		}
	}

	return nextParams, nil
}

// encodeUnit maps an assignment into the unit cube, one coordinate per name.
func encodeUnit(space SearchSpace, names []string, p Params) ([]float64, bool) {
	x := make([]float64, len(names))

	for i, name := range names {
		v, ok := p[name]
		if !ok {
			return nil, false
		}

		f, err := space[name].toInternal(v)
		if err != nil {
			return nil, false
		}

		x[i] = unitCoordinate(space[name], f)
	}

	return x, true
}

func unitCoordinate(d Distribution, f float64) float64 {
	var low, high float64

	switch d := d.(type) {
	case Categorical:
		low, high = 0, float64(len(d.Choices)-1)
	case Int:
		low, high = float64(d.Low), float64(d.High)
	case Float:
		low, high = d.Low, d.High
		if d.Log {
			low, high, f = math.Log(low), math.Log(high), math.Log(f)
		}
	}

	if high <= low {
		return 0
	}

	return (f - low) / (high - low)
}
