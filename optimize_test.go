package hpo

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/thalesfsp/hpo/enum"
	"github.com/thalesfsp/hpo/storage"
)

// constant returns an objective always scoring v.
func constant(v float64) Objective {
	return func(context.Context, *TrialContext, any, Params, map[string]any) (float64, error) {
		return v, nil
	}
}

// lrObjective scores lr, negated for sgd.
func lrObjective(_ context.Context, _ *TrialContext, _ any, params Params, _ map[string]any) (float64, error) {
	lr := params["lr"].(float64)
	if params["opt"] == "sgd" {
		return -lr, nil
	}

	return lr, nil
}

func TestOptimizeLearningRateScenario(t *testing.T) {
	ctx := context.Background()

	// The grid starts with the smallest lr paired with adam, so five trials
	// always include an adam trial.
	s := newStudy(t, storage.NewMemory().Opener(), enum.GridSampler, "t1")
	require.NoError(t, s.Create(ctx, Maximize, testSpace))
	require.NoError(t, s.Optimize(ctx, lrObjective, nil, 5, testSpace, nil))

	result, err := s.Summarize()
	require.NoError(t, err)

	assert.Equal(t, "adam", result.BestParams["opt"])
	assert.Greater(t, result.BestScore, 0.0)
	assert.Len(t, s.Trials(), 5)
}

func TestOptimizeRandomScenario(t *testing.T) {
	ctx := context.Background()

	for _, method := range []enum.HPOMethod{enum.RandomSampler, enum.TPESampler, enum.BOHB, enum.GPSampler} {
		t.Run(string(method), func(t *testing.T) {
			s := newStudy(t, storage.NewMemory().Opener(), method, "t1", WithMethodConfig(MethodConfig{Seed: 1}))
			require.NoError(t, s.Create(ctx, Maximize, testSpace))
			require.NoError(t, s.Optimize(ctx, lrObjective, nil, 15, nil, nil))

			result, err := s.Summarize()
			require.NoError(t, err)

			// A positive best score can only come from adam.
			if result.BestScore > 0 {
				assert.Equal(t, "adam", result.BestParams["opt"])
			} else {
				assert.Equal(t, "sgd", result.BestParams["opt"])
			}

			for _, tr := range s.Trials() {
				assertInSpace(t, testSpace, tr.Params)
			}
		})
	}
}

func TestOptimizeFailedTrialDoesNotStopTheRun(t *testing.T) {
	ctx := context.Background()

	s := newStudy(t, storage.NewMemory().Opener(), enum.TPESampler, "t1")
	require.NoError(t, s.Create(ctx, Minimize, testSpace))

	boom := errors.New("out of memory")

	err := s.Optimize(ctx, func(ctx context.Context, trial *TrialContext, dataset any, params Params, kwargs map[string]any) (float64, error) {
		if trial.Number == 2 {
			return 0, boom
		}

		return params["lr"].(float64), nil
	}, nil, 5, nil, nil)
	require.NoError(t, err)

	trials := s.Trials()
	require.Len(t, trials, 5)

	var failed []Trial

	for _, tr := range trials {
		if tr.State == Failed {
			failed = append(failed, tr)
		}
	}

	require.Len(t, failed, 1)
	assert.Equal(t, 2, failed[0].Number)
	assert.Equal(t, "out of memory", failed[0].Err)
	assert.False(t, failed[0].HasValue)
}

func TestOptimizeNaNFails(t *testing.T) {
	ctx := context.Background()

	s := newStudy(t, storage.NewMemory().Opener(), enum.RandomSampler, "t1")
	require.NoError(t, s.Create(ctx, Maximize, testSpace))
	require.NoError(t, s.Optimize(ctx, constant(math.NaN()), nil, 2, nil, nil))

	for _, tr := range s.Trials() {
		assert.Equal(t, Failed, tr.State)
	}

	_, err := s.Summarize()
	assert.ErrorIs(t, err, ErrEmptyResult)
}

func TestOptimizeResumeNumbering(t *testing.T) {
	ctx := context.Background()
	hub := t.TempDir()

	first, err := New(hub, enum.TPESampler)
	require.NoError(t, err)
	require.NoError(t, first.SetName("t1"))
	require.NoError(t, first.Create(ctx, Maximize, testSpace))
	require.NoError(t, first.Optimize(ctx, lrObjective, nil, 3, nil, nil))
	require.NoError(t, first.Close())

	// Resume through Load.
	second, err := New(hub, enum.TPESampler)
	require.NoError(t, err)
	require.NoError(t, second.Load(ctx, "t1"))
	require.NoError(t, second.Optimize(ctx, lrObjective, nil, 4, testSpace, nil))
	require.NoError(t, second.Close())

	// Resume through Create.
	third, err := New(hub, enum.TPESampler)
	require.NoError(t, err)
	require.NoError(t, third.SetName("t1"))
	require.NoError(t, third.Create(ctx, Maximize, testSpace, Resume()))
	require.NoError(t, third.Optimize(ctx, lrObjective, nil, 2, nil, nil))

	defer third.Close()

	trials := third.Trials()
	require.Len(t, trials, 9)

	runs := map[string]bool{}

	for i, tr := range trials {
		assert.Equal(t, i, tr.Number)

		runs[tr.RunID] = true
	}

	assert.Len(t, runs, 3)

	// Resumed sessions keep sampling fresh points.
	assert.NotEqual(t, trials[0].Params, trials[3].Params)
}

func TestOptimizePruning(t *testing.T) {
	ctx := context.Background()

	s := newStudy(t, storage.NewMemory().Opener(), enum.RandomSampler, "t1",
		WithMethodConfig(MethodConfig{MedianStartupTrials: 1}))
	require.NoError(t, s.Create(ctx, Maximize, testSpace))

	objective := func(ctx context.Context, trial *TrialContext, dataset any, params Params, kwargs map[string]any) (float64, error) {
		score := 1.0
		if trial.Number > 0 {
			score = 0.0
		}

		for step := 0; step < 3; step++ {
			require.NoError(t, trial.Report(step, score))

			if trial.ShouldPrune() {
				return 0, ErrPruned
			}
		}

		return score, nil
	}

	require.NoError(t, s.Optimize(ctx, objective, nil, 3, nil, nil))

	trials := s.Trials()
	require.Len(t, trials, 3)

	assert.Equal(t, Complete, trials[0].State)
	assert.Equal(t, map[int]float64{0: 1, 1: 1, 2: 1}, trials[0].Intermediate)

	for _, tr := range trials[1:] {
		assert.Equal(t, Pruned, tr.State)
		assert.True(t, tr.HasValue)
		assert.Equal(t, 0.0, tr.Value)
		assert.Equal(t, map[int]float64{0: 0}, tr.Intermediate)
	}
}

func TestOptimizeNonFiniteIntermediateOnSQLite(t *testing.T) {
	ctx := context.Background()
	hub := t.TempDir()

	s, err := New(hub, enum.RandomSampler, WithLogger(testr.New(t)))
	require.NoError(t, err)
	require.NoError(t, s.SetName("t1"))
	require.NoError(t, s.Create(ctx, Minimize, testSpace))

	// A diverging loss reports infinities and NaN; none of it may stop the run.
	objective := func(ctx context.Context, trial *TrialContext, dataset any, params Params, kwargs map[string]any) (float64, error) {
		switch trial.Number {
		case 0:
			require.NoError(t, trial.Report(0, math.Inf(1)))
			require.NoError(t, trial.Report(1, 0.5))

			return 0.5, nil
		case 1:
			require.NoError(t, trial.Report(0, math.Inf(-1)))

			return 0.25, nil
		case 2:
			require.NoError(t, trial.Report(1, math.NaN()))

			return 0, ErrPruned
		default:
			return 1, nil
		}
	}

	require.NoError(t, s.Optimize(ctx, objective, nil, 4, nil, nil))
	require.Len(t, s.Trials(), 4)
	require.NoError(t, s.Close())

	loaded, err := New(hub, enum.RandomSampler)
	require.NoError(t, err)

	defer loaded.Close()

	require.NoError(t, loaded.Load(ctx, "t1"))

	trials := loaded.Trials()
	require.Len(t, trials, 4)

	assert.True(t, math.IsInf(trials[0].Intermediate[0], 1))
	assert.Equal(t, 0.5, trials[0].Intermediate[1])
	assert.True(t, math.IsInf(trials[1].Intermediate[0], -1))

	assert.Equal(t, Pruned, trials[2].State)
	assert.False(t, trials[2].HasValue)
	require.Contains(t, trials[2].Intermediate, 1)
	assert.True(t, math.IsNaN(trials[2].Intermediate[1]))

	assert.Equal(t, Complete, trials[3].State)
	assert.Empty(t, trials[3].Intermediate)
}

func TestOptimizeFatalAborts(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()

	s := newStudy(t, mem.Opener(), enum.RandomSampler, "t1")
	require.NoError(t, s.Create(ctx, Maximize, testSpace))

	gpu := errors.New("gpu lost")

	err := s.Optimize(ctx, func(ctx context.Context, trial *TrialContext, dataset any, params Params, kwargs map[string]any) (float64, error) {
		if trial.Number == 1 {
			return 0, Fatal(gpu)
		}

		return 1, nil
	}, nil, 5, nil, nil)

	assert.ErrorIs(t, err, gpu)
	assert.Len(t, s.Trials(), 1)

	// So does a store that stops accepting trials.
	mem.FailOn(func(op string) error {
		if op == "append" {
			return errors.New("disk full")
		}

		return nil
	})

	err = s.Optimize(ctx, constant(1), nil, 3, nil, nil)
	assert.ErrorIs(t, err, ErrStorage)
	assert.Len(t, s.Trials(), 1)
}

func TestOptimizeCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newStudy(t, storage.NewMemory().Opener(), enum.RandomSampler, "t1")
	require.NoError(t, s.Create(ctx, Maximize, testSpace))

	err := s.Optimize(ctx, func(ctx context.Context, trial *TrialContext, dataset any, params Params, kwargs map[string]any) (float64, error) {
		if trial.Number == 1 {
			cancel()
		}

		return 1, nil
	}, nil, 10, nil, nil)

	// The trial running during the cancellation is still recorded.
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, s.Trials(), 2)
}

func TestOptimizeGridExhaustion(t *testing.T) {
	ctx := context.Background()

	s := newStudy(t, storage.NewMemory().Opener(), enum.GridSampler, "t1")
	require.NoError(t, s.Create(ctx, Maximize, SearchSpace{"opt": Choices("adam", "sgd")}))
	require.NoError(t, s.Optimize(ctx, constant(1), nil, 5, nil, nil))

	assert.Len(t, s.Trials(), 2)
	assert.Equal(t, StateComplete, s.State())
}

func TestOptimizeArguments(t *testing.T) {
	ctx := context.Background()

	s := newStudy(t, storage.NewMemory().Opener(), enum.RandomSampler, "t1")
	require.NoError(t, s.Create(ctx, Maximize, testSpace))

	assert.ErrorIs(t, s.Optimize(ctx, nil, nil, 1, nil, nil), ErrInvalidArgument)
	assert.ErrorIs(t, s.Optimize(ctx, constant(1), nil, 0, nil, nil), ErrInvalidArgument)
	assert.ErrorIs(t, s.Optimize(ctx, constant(1), nil, 1, SearchSpace{"lr": Range(0.0, 1.0)}, nil), ErrConfiguration)

	// Dataset and kwargs reach the objective untouched.
	dataset := &struct{ rows int }{rows: 3}
	kwargs := map[string]any{"epochs": 10}

	require.NoError(t, s.Optimize(ctx, func(ctx context.Context, trial *TrialContext, d any, params Params, kw map[string]any) (float64, error) {
		assert.Same(t, dataset, d)
		assert.Equal(t, kwargs, kw)
		assert.Equal(t, trial.Params(), params)

		return 1, nil
	}, dataset, 1, nil, kwargs))
}

func TestOptimizeProgressChannel(t *testing.T) {
	ctx := context.Background()
	nTrials := 5

	// Create a bidirectional channel for progress updates
	progressChan := make(chan ProgressUpdate, nTrials)

	s := newStudy(t, storage.NewMemory().Opener(), enum.TPESampler, "t1", WithProgress(progressChan))
	require.NoError(t, s.Create(ctx, Maximize, testSpace))

	// This isn't necessary when collecting metrics. This just exist for testing
	// purposes.
	var counter int32

	done := make(chan struct{})

	// Start a goroutine to handle progress updates.
	go func() {
		defer close(done)

		for update := range progressChan {
			atomic.AddInt32(&counter, int32(update.CurrentTrial))

			assert.Equal(t, "t1", update.Study)
			assert.Equal(t, nTrials, update.TotalTrials)
		}
	}()

	require.NoError(t, s.Optimize(ctx, lrObjective, nil, nTrials, nil, nil))

	close(progressChan)
	<-done

	// Ensure every update was emitted: 1+2+3+4+5.
	assert.Equal(t, int32(15), atomic.LoadInt32(&counter))
}

func TestOptimizeMetrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()

	m, err := NewMetrics(reg)
	require.NoError(t, err)

	// Registering again reuses the collectors.
	again, err := NewMetrics(reg)
	require.NoError(t, err)

	s := newStudy(t, storage.NewMemory().Opener(), enum.RandomSampler, "t1", WithMetrics(again))
	require.NoError(t, s.Create(ctx, Maximize, testSpace))

	require.NoError(t, s.Optimize(ctx, func(ctx context.Context, trial *TrialContext, dataset any, params Params, kwargs map[string]any) (float64, error) {
		if trial.Number == 0 {
			return 0, errors.New("boom")
		}

		return 1, nil
	}, nil, 3, nil, nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.trials.WithLabelValues("t1", "COMPLETE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.trials.WithLabelValues("t1", "FAILED")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.duration))
}

func TestExportArtifacts(t *testing.T) {
	ctx := context.Background()
	hub := t.TempDir()

	s, err := New(hub, enum.RandomSampler)
	require.NoError(t, err)

	defer s.Close()

	require.NoError(t, s.SetName("t1"))
	require.NoError(t, s.Create(ctx, Maximize, testSpace))
	require.NoError(t, s.Optimize(ctx, lrObjective, nil, 4, nil, nil))

	paths, err := s.ExportArtifacts()
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(hub, "t1", TrialsFile), filepath.Join(hub, "t1", SummaryFile)}, paths)

	f, err := os.Open(paths[0])
	require.NoError(t, err)

	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, []string{"number", "state", "value", "datetime_start", "datetime_complete", "duration_seconds", "run_id", "error", "params_lr", "params_opt"}, rows[0])
	assert.Equal(t, "0", rows[1][0])
	assert.Equal(t, "COMPLETE", rows[1][1])

	data, err := os.ReadFile(paths[1])
	require.NoError(t, err)

	var summary StudySummary
	require.NoError(t, yaml.Unmarshal(data, &summary))

	result, err := s.Summarize()
	require.NoError(t, err)

	assert.Equal(t, "t1", summary.Study)
	assert.Equal(t, Maximize, summary.Direction)
	assert.Equal(t, 4, summary.Trials)
	assert.Equal(t, 4, summary.States["COMPLETE"])
	require.NotNil(t, summary.BestTrial)
	assert.Equal(t, result.BestTrial, *summary.BestTrial)
	assert.Equal(t, result.BestScore, *summary.BestScore)
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	open := storage.NewMemory().Opener()

	cfg := RunConfig{
		Name:      "t1",
		Method:    enum.GridSampler,
		Direction: Maximize,
		Space:     testSpace,
		Trials:    enum.Fast.Trials(),
	}

	result, err := Run(ctx, "/hub", cfg, lrObjective, nil, nil, WithStoreOpener(open))
	require.NoError(t, err)
	assert.Equal(t, "adam", result.BestParams["opt"])
	assert.Equal(t, 0.1, result.BestScore)

	// The store was released and the study exists now.
	_, err = Run(ctx, "/hub", cfg, lrObjective, nil, nil, WithStoreOpener(open))
	assert.ErrorIs(t, err, ErrStorage)

	cfg.Resume = true
	cfg.Trials = 1

	// Every grid point was evaluated already.
	resumed, err := Run(ctx, "/hub", cfg, lrObjective, nil, nil, WithStoreOpener(open))
	require.NoError(t, err)
	assert.Equal(t, result, resumed)
}

func TestSuggest(t *testing.T) {
	tc := newTrialContext("t1", 0, Maximize, Params{"lr": 0.01, "opt": "adam", "extra": 1}, nil, nil)

	params, err := Suggest(tc, testSpace)
	require.NoError(t, err)
	assert.Equal(t, Params{"lr": 0.01, "opt": "adam"}, params)

	_, err = Suggest(newTrialContext("t1", 0, Maximize, Params{"lr": 0.01}, nil, nil), testSpace)
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = Suggest(newTrialContext("t1", 0, Maximize, Params{"lr": 0.5, "opt": "adam"}, nil, nil), testSpace)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = Suggest(nil, testSpace)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestTrialContextReport(t *testing.T) {
	tc := newTrialContext("t1", 0, Maximize, nil, NopPruner{}, nil)

	assert.False(t, tc.ShouldPrune())

	_, ok := tc.lastValue()
	assert.False(t, ok)

	assert.ErrorIs(t, tc.Report(-1, 0), ErrInvalidArgument)
	require.NoError(t, tc.Report(2, 0.5))
	require.NoError(t, tc.Report(2, 0.9))
	require.NoError(t, tc.Report(1, 0.3))

	assert.Equal(t, map[int]float64{1: 0.3, 2: 0.5}, tc.Intermediate())

	v, ok := tc.lastValue()
	assert.True(t, ok)
	assert.Equal(t, 0.5, v)
}
