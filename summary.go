package hpo

import (
	"fmt"
	"time"
)

// Summarize returns the best complete trial of trials under direction, plus
// the total time spent in every trial.
//
// The best trial has the strictly best score; among equal scores the lowest
// trial number wins. Pruned and failed trials only count towards TotalTime.
// Without a single complete trial, Summarize fails with ErrEmptyResult.
func Summarize(trials []Trial, direction Direction) (Result, error) {
	var (
		best  *Trial
		total time.Duration
	)

	for i := range trials {
		t := &trials[i]
		total += t.Duration

		if t.State != Complete || !t.HasValue {
			continue
		}

		if best == nil || direction.better(t.Value, best.Value) ||
			(t.Value == best.Value && t.Number < best.Number) {
			best = t
		}
	}

	if best == nil {
		return Result{TotalTime: total}, fmt.Errorf("%d trials recorded: %w", len(trials), ErrEmptyResult)
	}

	params := make(Params, len(best.Params))
	for k, v := range best.Params {
		params[k] = v
	}

	return Result{
		BestTrial:  best.Number,
		BestParams: params,
		BestScore:  best.Value,
		TotalTime:  total,
	}, nil
}

// Summarize summarises the recorded trials of the study, see Summarize.
func (s *Study) Summarize() (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.ready() {
		return Result{}, fmt.Errorf("summarize needs a created or loaded study, state is %s: %w", s.state, ErrInvalidState)
	}

	return Summarize(s.trials, s.direction)
}
