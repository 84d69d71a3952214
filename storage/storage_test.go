package storage

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleStudy(name string) StudyRecord {
	return StudyRecord{
		Name:         name,
		Direction:    "MAXIMIZE",
		Method:       "TPESAMPLER",
		SearchSpace:  []byte(`{"lr":{"type":"float","low":0.001,"high":0.1}}`),
		MethodConfig: []byte(`{}`),
		CreatedAt:    time.Unix(1700000000, 0).UTC(),
	}
}

func sampleTrial(number int, value float64) TrialRecord {
	start := time.Unix(1700000000+int64(number), 0).UTC()

	return TrialRecord{
		Number:       number,
		RunID:        "run-1",
		State:        "COMPLETE",
		Value:        &value,
		Params:       map[string]float64{"lr": 0.01 * float64(number+1)},
		Intermediate: map[int]float64{1: value / 2, 2: value},
		Start:        start,
		End:          start.Add(time.Second),
	}
}

// exercise runs the contract every Store implementation must satisfy.
func exercise(t *testing.T, open Opener, path string) {
	ctx := context.Background()

	_, err := open(path, false)
	require.ErrorIs(t, err, ErrStudyNotFound)

	s, err := open(path, true)
	require.NoError(t, err)

	_, err = s.LoadStudy(ctx, "t1")
	require.ErrorIs(t, err, ErrStudyNotFound)

	require.NoError(t, s.CreateStudy(ctx, sampleStudy("t1")))
	require.ErrorIs(t, s.CreateStudy(ctx, sampleStudy("t1")), ErrStudyExists)

	require.NoError(t, s.AppendTrial(ctx, "t1", sampleTrial(0, 0.5)))

	failed := TrialRecord{Number: 1, RunID: "run-1", State: "FAILED", Params: map[string]float64{"lr": 0.02}, Error: "boom"}
	require.NoError(t, s.AppendTrial(ctx, "t1", failed))

	// Numbers must continue the sequence.
	require.ErrorIs(t, s.AppendTrial(ctx, "t1", sampleTrial(5, 1)), ErrTrialNumber)
	require.ErrorIs(t, s.AppendTrial(ctx, "t1", sampleTrial(1, 1)), ErrTrialNumber)

	require.NoError(t, s.Close())

	// Everything reads back after reopening.
	s, err = open(path, false)
	require.NoError(t, err)
	defer s.Close()

	rec, err := s.LoadStudy(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, sampleStudy("t1"), rec)

	trials, err := s.Trials(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, trials, 2)

	assert.Equal(t, sampleTrial(0, 0.5), trials[0])
	assert.Equal(t, 1, trials[1].Number)
	assert.Nil(t, trials[1].Value)
	assert.Equal(t, "boom", trials[1].Error)
	assert.Empty(t, trials[1].Intermediate)
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t1", "t1"+Extension)
	exercise(t, OpenSQLite, path)
}

func TestSQLiteNonFiniteValues(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "t1", "t1"+Extension)

	s, err := OpenSQLite(path, true)
	require.NoError(t, err)
	require.NoError(t, s.CreateStudy(ctx, sampleStudy("t1")))

	inf := math.Inf(1)
	trial := sampleTrial(0, 0)
	trial.State = "PRUNED"
	trial.Value = &inf
	trial.Intermediate = map[int]float64{0: math.Inf(-1), 1: inf, 2: math.NaN()}

	require.NoError(t, s.AppendTrial(ctx, "t1", trial))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path, false)
	require.NoError(t, err)
	defer s.Close()

	trials, err := s.Trials(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, trials, 1)

	require.NotNil(t, trials[0].Value)
	assert.True(t, math.IsInf(*trials[0].Value, 1))
	require.Len(t, trials[0].Intermediate, 3)
	assert.True(t, math.IsInf(trials[0].Intermediate[0], -1))
	assert.True(t, math.IsInf(trials[0].Intermediate[1], 1))
	assert.True(t, math.IsNaN(trials[0].Intermediate[2]))
}

func TestSQLiteClosed(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "t1", "t1"+Extension), true)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Trials(context.Background(), "t1")
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, s.AppendTrial(context.Background(), "t1", sampleTrial(0, 1)), ErrClosed)
}

func TestMemoryStore(t *testing.T) {
	exercise(t, NewMemory().Opener(), "mem/t1")
}

func TestSQLiteSingleWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t1", "t1"+Extension)

	first, err := OpenSQLite(path, true)
	require.NoError(t, err)

	_, err = OpenSQLite(path, true)
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, first.Close())

	// Closing releases the lock.
	second, err := OpenSQLite(path, false)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestMemorySingleWriter(t *testing.T) {
	open := NewMemory().Opener()

	first, err := open("p", true)
	require.NoError(t, err)

	_, err = open("p", true)
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, first.Close())

	_, err = first.Trials(context.Background(), "x")
	require.ErrorIs(t, err, ErrClosed)
}

func TestMemoryFailOn(t *testing.T) {
	m := NewMemory()
	s, err := m.Opener()("p", true)
	require.NoError(t, err)

	require.NoError(t, s.CreateStudy(context.Background(), sampleStudy("t1")))

	m.FailOn(func(op string) error {
		if op == "append" {
			return assert.AnError
		}

		return nil
	})

	require.ErrorIs(t, s.AppendTrial(context.Background(), "t1", sampleTrial(0, 1)), assert.AnError)

	trials, err := s.Trials(context.Background(), "t1")
	require.NoError(t, err)
	assert.Empty(t, trials)
}
