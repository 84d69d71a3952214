package hpo

import (
	"errors"
	"fmt"

	"github.com/thalesfsp/hpo/storage"
)

// Error taxonomy. Every error returned by this package wraps exactly one of
// these, test with errors.Is.
var (
	// ErrConfiguration: bad or missing method kind, incompatible pruner,
	// malformed search space.
	ErrConfiguration = errors.New("configuration error")

	// ErrInvalidArgument: empty study name, low > high range, unknown choice.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrStorage: unreadable or unwritable store, name collision, locked store.
	ErrStorage = errors.New("storage error")

	// ErrNotFound: loading a study that was never created.
	ErrNotFound = errors.New("not found")

	// ErrEmptyResult: summarising a study without a single complete trial.
	ErrEmptyResult = errors.New("no completed trials")

	// ErrTrial: the objective failed. Scoped to one trial, never aborts a run.
	ErrTrial = errors.New("trial failed")

	// ErrInvalidState: an operation was called in the wrong study state.
	ErrInvalidState = errors.New("invalid study state")
)

// ErrPruned is returned by an objective to stop its trial early. The trial is
// recorded as PRUNED with its last reported intermediate value.
var ErrPruned = errors.New("trial pruned")

// fatalError marks an objective error as not trial-scoped.
type fatalError struct{ err error }

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal wraps err so that, returned from an objective, it aborts the whole
// run instead of failing a single trial. Nothing is persisted for the trial
// that returned it.
func Fatal(err error) error {
	if err == nil {
		return nil
	}

	return &fatalError{err: err}
}

func isFatal(err error) bool {
	var f *fatalError

	return errors.As(err, &f)
}

// storageError maps a storage error onto the taxonomy.
func storageError(op string, err error) error {
	switch {
	case errors.Is(err, storage.ErrStudyNotFound):
		return fmt.Errorf("%s: %w: %w", op, ErrNotFound, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
	}
}
