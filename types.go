package hpo

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Direction tells whether higher or lower scores are better.
type Direction string

const (
	// Maximize prefers higher scores.
	Maximize Direction = "MAXIMIZE"

	// Minimize prefers lower scores.
	Minimize Direction = "MINIMIZE"
)

// ParseDirection parses "maximize" or "minimize" in any case.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToUpper(strings.TrimSpace(s))); d {
	case Maximize, Minimize:
		return d, nil
	default:
		return "", fmt.Errorf("unknown direction %q: %w", s, ErrInvalidArgument)
	}
}

// better reports whether a beats b under d. Equal scores never beat each
// other, which keeps the earliest trial on ties.
func (d Direction) better(a, b float64) bool {
	if d == Minimize {
		return a < b
	}

	return a > b
}

// TrialState is the final state of a trial.
type TrialState string

const (
	// Complete: the objective returned a score.
	Complete TrialState = "COMPLETE"

	// Pruned: the objective stopped early on request of the pruner.
	Pruned TrialState = "PRUNED"

	// Failed: the objective returned an error or a NaN score.
	Failed TrialState = "FAILED"
)

// Trial is one finished evaluation of the objective. Trials are immutable
// once the study has recorded them.
type Trial struct {
	// Number is the position of the trial in its study, starting at 0.
	Number int

	// RunID identifies the Optimize call that produced the trial, so trials
	// of a resumed study can be told apart from the original session's.
	RunID string

	State  TrialState
	Params Params

	// Value is the score for complete trials and the last intermediate value
	// for pruned ones. HasValue is false when there is none.
	Value    float64
	HasValue bool

	// Intermediate holds the values reported through TrialContext.Report,
	// keyed by step.
	Intermediate map[int]float64

	// Err is the objective's error message for failed trials.
	Err string

	Start    time.Time
	End      time.Time
	Duration time.Duration
}

// Objective evaluates one parameter assignment and returns its score.
//
// Parameters:
//   - ctx: the context passed to Optimize; objectives may observe it
//   - trial: handle used to report intermediate values and ask the pruner
//   - dataset: opaque handle passed through untouched
//   - params: the assignment suggested for this trial
//   - kwargs: extra arguments passed through untouched
//
// Returning ErrPruned prunes the trial, returning Fatal(err) aborts the run,
// returning any other error fails only this trial.
//
// Usage example:
//
//	objective := func(ctx context.Context, trial *TrialContext, dataset any, params Params, kwargs map[string]any) (float64, error) {
//	    for epoch := 1; epoch <= 10; epoch++ {
//	        acc := train(dataset, params["lr"].(float64), epoch)
//	        trial.Report(epoch, acc)
//	        if trial.ShouldPrune() {
//	            return 0, ErrPruned
//	        }
//	    }
//	    return evaluate(dataset), nil
//	}
//
// Objectives must not create or load studies themselves.
type Objective func(ctx context.Context, trial *TrialContext, dataset any, params Params, kwargs map[string]any) (float64, error)

// Result summarises a study.
type Result struct {
	BestTrial  int
	BestParams Params
	BestScore  float64

	// TotalTime sums the duration of every trial, pruned and failed ones
	// included.
	TotalTime time.Duration
}

// ProgressUpdate reports the state of an Optimize call after each trial.
type ProgressUpdate struct {
	// Study is the study name.
	Study string

	// CurrentTrial is the 1-based index of the trial within this Optimize
	// call, TotalTrials the number requested.
	CurrentTrial int
	TotalTrials  int

	// Trial is the trial just recorded.
	Trial Trial

	// BestParams and BestScore describe the best complete trial so far;
	// HasBest is false until there is one.
	BestParams Params
	BestScore  float64
	HasBest    bool
}
