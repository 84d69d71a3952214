package hpo

import (
	"context"
	"errors"

	"github.com/thalesfsp/hpo/enum"
)

// RunConfig describes a one-shot optimisation.
type RunConfig struct {
	// Name is the study name.
	Name string

	Method    enum.HPOMethod
	Direction Direction
	Space     SearchSpace

	// Trials is the number of trials to run.
	Trials int

	// Config is the method configuration, zero fields take their defaults.
	Config MethodConfig

	// Resume continues an existing study of the same name instead of
	// failing.
	Resume bool
}

// Run creates the study described by cfg, runs its trials and summarises it.
// The study is closed before Run returns.
//
// Usage example:
//
//	result, err := Run(ctx, "/var/hub", RunConfig{
//	    Name:      "t1",
//	    Method:    enum.TPESampler,
//	    Direction: Maximize,
//	    Space:     SearchSpace{"lr": Range(0.001, 0.1), "opt": Choices("adam", "sgd")},
//	    Trials:    20,
//	}, objective, dataset, nil)
func Run(
	ctx context.Context,
	hubRoot string,
	cfg RunConfig,
	objective Objective,
	dataset any,
	kwargs map[string]any,
	opts ...Option,
) (result Result, err error) {
	study, err := New(hubRoot, cfg.Method, append([]Option{WithMethodConfig(cfg.Config)}, opts...)...)
	if err != nil {
		return Result{}, err
	}

	defer func() {
		err = errors.Join(err, study.Close())
	}()

	if err := study.SetName(cfg.Name); err != nil {
		return Result{}, err
	}

	var createOpts []CreateOption
	if cfg.Resume {
		createOpts = append(createOpts, Resume())
	}

	if err := study.Create(ctx, cfg.Direction, cfg.Space, createOpts...); err != nil {
		return Result{}, err
	}

	if err := study.Optimize(ctx, objective, dataset, cfg.Trials, cfg.Space, kwargs); err != nil {
		return Result{}, err
	}

	return study.Summarize()
}
