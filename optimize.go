package hpo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

//////
// Exported functionalities.
//////

// Optimize runs nTrials more trials of the study, one after the other, and
// records each of them. Trial numbers continue from the persisted count, so
// a study resumed after N trials numbers the new ones N, N+1, ...
//
// Parameters:
//   - ctx: checked between trials; once done, Optimize returns ctx.Err()
//     and every trial finished so far stays recorded
//   - objective: the function being optimised, see Objective
//   - dataset: opaque handle passed to the objective untouched
//   - nTrials: number of trials to run, at least 1
//   - space: the search space; nil means the one the study was created with,
//     anything else must equal it
//   - kwargs: extra arguments passed to the objective untouched
//
// How a trial ends:
//   - The objective returns a score: COMPLETE
//   - The objective returns ErrPruned: PRUNED, with its last reported value
//   - The objective returns any other error or a NaN score: FAILED, the run
//     continues with the next trial
//   - The objective returns Fatal(err): nothing is recorded for the trial and
//     Optimize returns err
//
// A grid search stops early once every grid point was evaluated.
//
// Usage example:
//
//	err := study.Optimize(ctx, objective, dataset, enum.Fast.Trials(), nil, nil)
//	if err != nil {
//	    return err
//	}
//	result, err := study.Summarize()
//
// Important notes:
// - Trials never run concurrently, and other Study methods block until
// Optimize returns, so the objective must not call them
// - Each trial is persisted in one transaction right after it finishes
// - Progress updates are sent without blocking, see WithProgress.
func (s *Study) Optimize(
	ctx context.Context,
	objective Objective,
	dataset any,
	nTrials int,
	space SearchSpace,
	kwargs map[string]any,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.ready() {
		return fmt.Errorf("optimize needs a created or loaded study, state is %s: %w", s.state, ErrInvalidState)
	}

	if objective == nil {
		return fmt.Errorf("objective is nil: %w", ErrInvalidArgument)
	}

	if nTrials < 1 {
		return fmt.Errorf("number of trials %d must be at least 1: %w", nTrials, ErrInvalidArgument)
	}

	if space == nil {
		space = s.space
	} else if err := s.sameSpace(space); err != nil {
		return err
	}

	runID := uuid.NewString()
	log := s.logger.WithValues("study", s.name, "run", runID)

	log.Info("optimization started", "method", s.method, "trials", nTrials, "recorded", len(s.trials))

	for i := 0; i < nTrials; i++ {
		if err := ctx.Err(); err != nil {
			log.Info("optimization cancelled", "completed", i)

			return err
		}

		trial, err := s.runTrial(ctx, objective, dataset, space, kwargs, runID)
		if errors.Is(err, errGridExhausted) {
			log.Info("grid exhausted, stopping early", "completed", i)

			break
		}

		if err != nil {
			log.Error(err, "optimization aborted", "completed", i)

			return err
		}

		// Persist before exposing the trial anywhere else.
		rec, err := toRecord(space, trial)
		if err != nil {
			return fmt.Errorf("trial %d: %w", trial.Number, err)
		}

		if err := s.store.AppendTrial(context.WithoutCancel(ctx), s.name, rec); err != nil {
			err = storageError(fmt.Sprintf("recording trial %d", trial.Number), err)
			log.Error(err, "optimization aborted", "completed", i)

			return err
		}

		s.trials = append(s.trials, trial)
		s.metrics.observe(s.name, trial)

		if trial.State == Failed {
			log.Error(fmt.Errorf("%w: %s", ErrTrial, trial.Err), "trial failed", "trial", trial.Number)
		} else {
			log.V(1).Info("trial finished", "trial", trial.Number, "state", trial.State, "value", trial.Value, "duration", trial.Duration)
		}

		s.sendProgress(i+1, nTrials, trial)
	}

	s.state = StateComplete

	log.Info("optimization finished", "recorded", len(s.trials))

	return nil
}

//////
// Trial runner.
//////

// runTrial samples, evaluates and classifies the next trial. It records
// nothing.
func (s *Study) runTrial(
	ctx context.Context,
	objective Objective,
	dataset any,
	space SearchSpace,
	kwargs map[string]any,
	runID string,
) (Trial, error) {
	number := len(s.trials)

	proposal, err := s.sampler.Sample(SampleContext{
		Study:     s.name,
		Number:    number,
		Direction: s.direction,
		Space:     space,
		History:   s.trials,
	})
	if err != nil {
		if errors.Is(err, errGridExhausted) {
			return Trial{}, err
		}

		return Trial{}, fmt.Errorf("sampling trial %d: %w", number, err)
	}

	tc := newTrialContext(s.name, number, s.direction, proposal, s.pruner, s.trials)

	params, err := Suggest(tc, space)
	if err != nil {
		return Trial{}, err
	}

	tc.params = params

	start := time.Now()
	value, objErr := objective(ctx, tc, dataset, tc.Params(), kwargs)
	end := time.Now()

	if isFatal(objErr) {
		return Trial{}, fmt.Errorf("trial %d: %w", number, objErr)
	}

	trial := Trial{
		Number:       number,
		RunID:        runID,
		Params:       params,
		Intermediate: tc.Intermediate(),
		Start:        start,
		End:          end,
		Duration:     end.Sub(start),
	}

	switch {
	case errors.Is(objErr, ErrPruned):
		trial.State = Pruned
		trial.Value, trial.HasValue = tc.lastValue()
	case objErr != nil:
		trial.State = Failed
		trial.Err = objErr.Error()
	case math.IsNaN(value):
		trial.State = Failed
		trial.Err = "objective returned NaN"
	default:
		trial.State = Complete
		trial.Value, trial.HasValue = value, true
	}

	return trial, nil
}

// sameSpace checks space against the bound one.
func (s *Study) sameSpace(space SearchSpace) error {
	if err := space.Validate(); err != nil {
		return err
	}

	a, err := json.Marshal(space)
	if err != nil {
		return fmt.Errorf("encoding search space: %w", err)
	}

	b, err := json.Marshal(s.space)
	if err != nil {
		return fmt.Errorf("encoding search space: %w", err)
	}

	if !equalJSON(a, b) {
		return fmt.Errorf("search space of study %s cannot change between runs: %w", s.name, ErrConfiguration)
	}

	return nil
}

// sendProgress sends a progress update without blocking.
func (s *Study) sendProgress(current, total int, trial Trial) {
	if s.progress == nil {
		return
	}

	update := ProgressUpdate{
		Study:        s.name,
		CurrentTrial: current,
		TotalTrials:  total,
		Trial:        trial,
	}

	if best, err := Summarize(s.trials, s.direction); err == nil {
		update.BestParams = best.BestParams
		update.BestScore = best.BestScore
		update.HasBest = true
	}

	select {
	case s.progress <- update:
	default:
		// Skip update if channel is full.
	}
}
