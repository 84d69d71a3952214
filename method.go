package hpo

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/thalesfsp/hpo/enum"
)

//////
// Method configuration.
//////

// MethodConfig holds the construction parameters of a sampler/pruner pair.
// Zero fields take the defaults listed on each field.
type MethodConfig struct {
	// Pruner overrides the method's default pruner. It must be compatible
	// with the method, see Validate.
	Pruner enum.PrunerKind `json:"pruner,omitempty" yaml:"pruner,omitempty"`

	// Seed makes sampling reproducible. Zero picks a time-based seed when the
	// study is created; the chosen seed is persisted with the study.
	Seed int64 `json:"seed,omitempty" yaml:"seed,omitempty"`

	// StartupTrials is the number of random trials TPE and GP sample before
	// modelling the objective. Default: 10.
	StartupTrials int `json:"startup_trials,omitempty" yaml:"startup_trials,omitempty"`

	// Candidates is the number of candidates TPE and GP score per trial.
	// Default: 24.
	Candidates int `json:"candidates,omitempty" yaml:"candidates,omitempty"`

	// GridPoints is the number of grid values per continuous axis.
	// Default: 5.
	GridPoints int `json:"grid_points,omitempty" yaml:"grid_points,omitempty"`

	// MinResource, MaxResource and ReductionFactor configure successive
	// halving and hyperband. Defaults: 1, 100, 3.
	MinResource     int `json:"min_resource,omitempty" yaml:"min_resource,omitempty"`
	MaxResource     int `json:"max_resource,omitempty" yaml:"max_resource,omitempty"`
	ReductionFactor int `json:"reduction_factor,omitempty" yaml:"reduction_factor,omitempty"`

	// MedianStartupTrials is the number of complete trials before the median
	// pruner starts pruning. Default: 5. WarmupSteps skips pruning for the
	// first steps of every trial.
	MedianStartupTrials int `json:"median_startup_trials,omitempty" yaml:"median_startup_trials,omitempty"`
	WarmupSteps         int `json:"warmup_steps,omitempty" yaml:"warmup_steps,omitempty"`

	// Acquisition selects the GP acquisition function: UCB (default), PI, EI
	// or THOMPSON. Beta and Xi are its parameters (defaults 2.0 and 0.01).
	Acquisition string  `json:"acquisition,omitempty" yaml:"acquisition,omitempty"`
	Beta        float64 `json:"beta,omitempty" yaml:"beta,omitempty"`
	Xi          float64 `json:"xi,omitempty" yaml:"xi,omitempty"`
}

// DefaultMethodConfig returns the defaults for method, with its default
// pruner filled in.
func DefaultMethodConfig(method enum.HPOMethod) MethodConfig {
	cfg := MethodConfig{}.withDefaults()

	if def, ok := methods.Get(string(method)); ok {
		cfg.Pruner = def.pruner
	}

	return cfg
}

func (c MethodConfig) withDefaults() MethodConfig {
	if c.StartupTrials <= 0 {
		c.StartupTrials = 10
	}

	if c.Candidates <= 0 {
		c.Candidates = 24
	}

	if c.GridPoints <= 0 {
		c.GridPoints = 5
	}

	if c.MinResource <= 0 {
		c.MinResource = 1
	}

	if c.MaxResource <= 0 {
		c.MaxResource = 100
	}

	if c.ReductionFactor <= 0 {
		c.ReductionFactor = 3
	}

	if c.MedianStartupTrials <= 0 {
		c.MedianStartupTrials = 5
	}

	if c.Acquisition == "" {
		c.Acquisition = "UCB"
	}

	if c.Beta == 0 {
		c.Beta = 2.0
	}

	if c.Xi == 0 {
		c.Xi = 0.01
	}

	return c
}

// resolve fills the defaults of cfg for method and validates the result.
func (c MethodConfig) resolve(method enum.HPOMethod) (enum.HPOMethod, MethodConfig, error) {
	def, ok := methods.Get(string(method))
	if !ok {
		return "", c, fmt.Errorf("unknown HPO method %q (want one of %s): %w", method, enum.HPOMethods, ErrConfiguration)
	}

	c = c.withDefaults()

	if c.Pruner == "" {
		c.Pruner = def.pruner
	}

	pruner, err := enum.PrunerKinds.Parse(string(c.Pruner))
	if err != nil {
		return "", c, fmt.Errorf("%w: %w", err, ErrConfiguration)
	}

	c.Pruner = pruner

	if !def.allows(pruner) {
		return "", c, fmt.Errorf("method %s cannot run with pruner %s: %w", def.method, pruner, ErrConfiguration)
	}

	if pruner == enum.SuccessiveHalvingPruner || pruner == enum.HyperbandPruner {
		if c.MinResource >= c.MaxResource && pruner == enum.HyperbandPruner {
			return "", c, fmt.Errorf("hyperband needs min resource %d < max resource %d: %w", c.MinResource, c.MaxResource, ErrConfiguration)
		}

		if c.ReductionFactor < 2 {
			return "", c, fmt.Errorf("reduction factor %d must be at least 2: %w", c.ReductionFactor, ErrConfiguration)
		}
	}

	c.Acquisition = strings.ToUpper(c.Acquisition)

	switch c.Acquisition {
	case "UCB", "PI", "EI", "THOMPSON":
	default:
		return "", c, fmt.Errorf("unknown acquisition function %q: %w", c.Acquisition, ErrConfiguration)
	}

	return def.method, c, nil
}

// Validate checks that method is known and that cfg describes a compatible
// sampler/pruner pair: BOHB needs hyperband, grid search allows no pruning or
// median pruning only.
func (c MethodConfig) Validate(method enum.HPOMethod) error {
	_, _, err := c.resolve(method)

	return err
}

//////
// Method table.
//////

type methodDef struct {
	method  enum.HPOMethod
	pruner  enum.PrunerKind
	pruners []enum.PrunerKind
	sampler func(space SearchSpace, cfg MethodConfig) (Sampler, error)
}

func (s methodDef) allows(p enum.PrunerKind) bool {
	if len(s.pruners) == 0 {
		return true
	}

	for _, allowed := range s.pruners {
		if allowed == p {
			return true
		}
	}

	return false
}

// methods resolves a method name, in exact, lower or upper case, to its
// sampler and allowed pruners.
var methods = enum.BuildTable(
	enum.Entry[enum.HPOMethod, methodDef]{Key: enum.RandomSampler, Value: methodDef{
		method: enum.RandomSampler,
		pruner: enum.MedianPruner,
		sampler: func(_ SearchSpace, cfg MethodConfig) (Sampler, error) {
			return &RandomSampler{Seed: cfg.Seed}, nil
		},
	}},
	enum.Entry[enum.HPOMethod, methodDef]{Key: enum.GridSampler, Value: methodDef{
		method:  enum.GridSampler,
		pruner:  enum.NoPruner,
		pruners: []enum.PrunerKind{enum.NoPruner, enum.MedianPruner},
		sampler: func(space SearchSpace, cfg MethodConfig) (Sampler, error) {
			return NewGridSampler(space, cfg.GridPoints)
		},
	}},
	enum.Entry[enum.HPOMethod, methodDef]{Key: enum.TPESampler, Value: methodDef{
		method: enum.TPESampler,
		pruner: enum.MedianPruner,
		sampler: func(_ SearchSpace, cfg MethodConfig) (Sampler, error) {
			return &TPESampler{Seed: cfg.Seed, StartupTrials: cfg.StartupTrials, Candidates: cfg.Candidates}, nil
		},
	}},
	enum.Entry[enum.HPOMethod, methodDef]{Key: enum.BOHB, Value: methodDef{
		method:  enum.BOHB,
		pruner:  enum.HyperbandPruner,
		pruners: []enum.PrunerKind{enum.HyperbandPruner},
		sampler: func(_ SearchSpace, cfg MethodConfig) (Sampler, error) {
			return &TPESampler{Seed: cfg.Seed, StartupTrials: cfg.StartupTrials, Candidates: cfg.Candidates}, nil
		},
	}},
	enum.Entry[enum.HPOMethod, methodDef]{Key: enum.GPSampler, Value: methodDef{
		method: enum.GPSampler,
		pruner: enum.MedianPruner,
		sampler: func(_ SearchSpace, cfg MethodConfig) (Sampler, error) {
			return newGPSampler(cfg), nil
		},
	}},
)

//////
// Resolver.
//////

// InitializeMethod builds the sampler and pruner for method.
//
// Parameters:
//   - method: one of the enum.HPOMethods members, in any case
//   - space: the search space; required by grid search, which enumerates its
//     grid when the sampler is built
//   - cfg: construction parameters, zero fields take their defaults
//
// Returns ErrConfiguration for an unknown method, an incompatible pruner or
// a grid search without a valid search space.
//
// Usage example:
//
//	sampler, pruner, err := InitializeMethod(enum.BOHB, space, MethodConfig{Seed: 42})
func InitializeMethod(method enum.HPOMethod, space SearchSpace, cfg MethodConfig) (Sampler, Pruner, error) {
	method, cfg, err := cfg.resolve(method)
	if err != nil {
		return nil, nil, err
	}

	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	def, _ := methods.Get(string(method))

	sampler, err := def.sampler(space, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("building %s sampler: %w", method, err)
	}

	return sampler, newPruner(cfg), nil
}

func newPruner(cfg MethodConfig) Pruner {
	switch cfg.Pruner {
	case enum.MedianPruner:
		return &MedianPruner{StartupTrials: cfg.MedianStartupTrials, WarmupSteps: cfg.WarmupSteps}
	case enum.SuccessiveHalvingPruner:
		return &SuccessiveHalvingPruner{MinResource: cfg.MinResource, ReductionFactor: cfg.ReductionFactor}
	case enum.HyperbandPruner:
		return NewHyperbandPruner(cfg.MinResource, cfg.MaxResource, cfg.ReductionFactor)
	default:
		return NopPruner{}
	}
}

// rngSeed derives the seed of one trial from the study seed, so a resumed
// study keeps sampling a fresh sequence instead of replaying the first one.
func rngSeed(seed int64, number int) int64 {
	return seed ^ int64(uint64(number+1)*0x9E3779B97F4A7C15&math.MaxInt64)
}
