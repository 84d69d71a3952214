// Package storage persists optimisation studies and their trials.
//
// A store holds exactly one writer at a time. The sqlite store enforces this
// with an exclusive database lock held for the lifetime of the connection; a
// second process opening the same file gets ErrLocked. The lock is released
// by the operating system when the owning process exits, so a crashed run can
// always be reopened and resumed.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrStudyExists is returned when creating a study whose name is taken.
	ErrStudyExists = errors.New("study already exists")

	// ErrStudyNotFound is returned when loading a study that was never created.
	ErrStudyNotFound = errors.New("study not found")

	// ErrLocked is returned when another writer holds the store.
	ErrLocked = errors.New("store is locked by another writer")

	// ErrTrialNumber is returned when an appended trial does not continue the
	// persisted sequence.
	ErrTrialNumber = errors.New("trial number out of sequence")

	// ErrClosed is returned by a store after Close.
	ErrClosed = errors.New("store is closed")
)

// StudyRecord is the persisted header of a study.
type StudyRecord struct {
	Name      string
	Direction string
	Method    string

	// SearchSpace and MethodConfig are opaque JSON documents owned by the
	// caller.
	SearchSpace  []byte
	MethodConfig []byte

	CreatedAt time.Time
}

// TrialRecord is one finished trial.
type TrialRecord struct {
	Number int
	RunID  string
	State  string

	// Value is nil for failed trials and for pruned trials that never
	// reported an intermediate value.
	Value *float64

	// Params holds the internal representation of each parameter: the value
	// itself for numeric ranges, the choice index for categorical ones.
	Params map[string]float64

	Intermediate map[int]float64
	Error        string
	Start        time.Time
	End          time.Time
}

// Store is a persisted study store.
type Store interface {
	// CreateStudy persists a new study header.
	CreateStudy(ctx context.Context, study StudyRecord) error

	// LoadStudy reads back a study header.
	LoadStudy(ctx context.Context, name string) (StudyRecord, error)

	// AppendTrial atomically persists a finished trial. Its number must equal
	// the number of trials already stored for the study.
	AppendTrial(ctx context.Context, study string, trial TrialRecord) error

	// Trials returns every stored trial ordered by number.
	Trials(ctx context.Context, study string) ([]TrialRecord, error)

	Close() error
}

// Opener opens the store at path. When create is false and nothing exists at
// path, it fails with ErrStudyNotFound without creating anything.
type Opener func(path string, create bool) (Store, error)
