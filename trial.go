package hpo

import (
	"fmt"
	"math"
)

// TrialContext is the handle an objective gets for the running trial. It is
// only valid during the objective call.
type TrialContext struct {
	// Number is the number the trial will be recorded with.
	Number int

	study     string
	direction Direction
	proposal  Params
	params    Params
	pruner    Pruner
	history   []Trial

	intermediate map[int]float64
	lastStep     int
}

func newTrialContext(study string, number int, direction Direction, proposal Params, pruner Pruner, history []Trial) *TrialContext {
	return &TrialContext{
		Number:       number,
		study:        study,
		direction:    direction,
		proposal:     proposal,
		pruner:       pruner,
		history:      history,
		intermediate: map[int]float64{},
		lastStep:     -1,
	}
}

// Params returns a copy of the assignment being evaluated.
func (t *TrialContext) Params() Params {
	out := make(Params, len(t.params))
	for k, v := range t.params {
		out[k] = v
	}

	return out
}

// Report records an intermediate value of the objective at step (an epoch,
// an iteration). Steps must not be negative; reporting a step twice keeps the
// first value.
func (t *TrialContext) Report(step int, value float64) error {
	if step < 0 {
		return fmt.Errorf("step %d is negative: %w", step, ErrInvalidArgument)
	}

	if _, ok := t.intermediate[step]; ok {
		return nil
	}

	t.intermediate[step] = value
	t.lastStep = max(t.lastStep, step)

	return nil
}

// ShouldPrune asks the pruner whether the trial should stop, based on the
// latest reported value. It is false until something was reported. An
// objective that sees true should return ErrPruned.
func (t *TrialContext) ShouldPrune() bool {
	if t.lastStep < 0 || t.pruner == nil {
		return false
	}

	return t.pruner.Prune(PruneContext{
		Study:        t.study,
		Number:       t.Number,
		Direction:    t.direction,
		Step:         t.lastStep,
		Value:        t.intermediate[t.lastStep],
		Intermediate: t.Intermediate(),
		History:      t.history,
	})
}

// Intermediate returns a copy of the reported values, keyed by step.
func (t *TrialContext) Intermediate() map[int]float64 {
	out := make(map[int]float64, len(t.intermediate))
	for k, v := range t.intermediate {
		out[k] = v
	}

	return out
}

// lastValue returns the value reported at the highest step.
func (t *TrialContext) lastValue() (float64, bool) {
	if t.lastStep < 0 || math.IsNaN(t.intermediate[t.lastStep]) {
		return 0, false
	}

	return t.intermediate[t.lastStep], true
}

// Suggest turns the sampler's proposal held by tc into the assignment of
// space: exactly one value per parameter, each inside its distribution.
//
// Suggest has no side effects; Optimize calls it once per trial.
func Suggest(tc *TrialContext, space SearchSpace) (Params, error) {
	if tc == nil {
		return nil, fmt.Errorf("nil trial context: %w", ErrInvalidArgument)
	}

	params := make(Params, len(space))

	for _, name := range space.Names() {
		v, ok := tc.proposal[name]
		if !ok {
			return nil, fmt.Errorf("trial %d: no value proposed for %q: %w", tc.Number, name, ErrConfiguration)
		}

		f, err := space[name].toInternal(v)
		if err != nil {
			return nil, fmt.Errorf("trial %d: parameter %q: %w", tc.Number, name, err)
		}

		if !space[name].contains(f) {
			return nil, fmt.Errorf("trial %d: %v is outside the range of %q: %w", tc.Number, v, name, ErrInvalidArgument)
		}

		params[name] = v
	}

	return params, nil
}
