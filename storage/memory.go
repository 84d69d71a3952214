package storage

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process Store. Several paths can live in one Memory; use
// Opener to hand it to code that opens stores by path.
type Memory struct {
	mu     sync.Mutex
	files  map[string]*memoryFile
	failOn func(op string) error
}

type memoryFile struct {
	studies map[string]StudyRecord
	trials  map[string][]TrialRecord
	open    bool
}

// NewMemory returns an empty in-memory store collection.
func NewMemory() *Memory {
	return &Memory{files: map[string]*memoryFile{}}
}

// FailOn installs a hook consulted before every operation ("create", "load",
// "append", "trials"). A non-nil return aborts the operation with that error.
func (m *Memory) FailOn(hook func(op string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failOn = hook
}

// Opener returns an Opener backed by m. Like the sqlite store, a path can be
// held by one open handle at a time.
func (m *Memory) Opener() Opener {
	return func(path string, create bool) (Store, error) {
		m.mu.Lock()
		defer m.mu.Unlock()

		f, ok := m.files[path]
		if !ok {
			if !create {
				return nil, fmt.Errorf("%s: %w", path, ErrStudyNotFound)
			}

			f = &memoryFile{studies: map[string]StudyRecord{}, trials: map[string][]TrialRecord{}}
			m.files[path] = f
		}

		if f.open {
			return nil, fmt.Errorf("%s: %w", path, ErrLocked)
		}

		f.open = true

		return &memoryHandle{m: m, f: f}, nil
	}
}

type memoryHandle struct {
	m      *Memory
	f      *memoryFile
	closed bool
}

func (h *memoryHandle) check(op string) error {
	if h.closed {
		return ErrClosed
	}

	if h.m.failOn != nil {
		return h.m.failOn(op)
	}

	return nil
}

func (h *memoryHandle) CreateStudy(_ context.Context, study StudyRecord) error {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()

	if err := h.check("create"); err != nil {
		return err
	}

	if _, ok := h.f.studies[study.Name]; ok {
		return fmt.Errorf("%q: %w", study.Name, ErrStudyExists)
	}

	h.f.studies[study.Name] = study

	return nil
}

func (h *memoryHandle) LoadStudy(_ context.Context, name string) (StudyRecord, error) {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()

	if err := h.check("load"); err != nil {
		return StudyRecord{}, err
	}

	rec, ok := h.f.studies[name]
	if !ok {
		return StudyRecord{}, fmt.Errorf("%q: %w", name, ErrStudyNotFound)
	}

	return rec, nil
}

func (h *memoryHandle) AppendTrial(_ context.Context, study string, trial TrialRecord) error {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()

	if err := h.check("append"); err != nil {
		return err
	}

	if _, ok := h.f.studies[study]; !ok {
		return fmt.Errorf("%q: %w", study, ErrStudyNotFound)
	}

	if next := len(h.f.trials[study]); trial.Number != next {
		return fmt.Errorf("trial %d, next is %d: %w", trial.Number, next, ErrTrialNumber)
	}

	h.f.trials[study] = append(h.f.trials[study], cloneTrial(trial))

	return nil
}

func (h *memoryHandle) Trials(_ context.Context, study string) ([]TrialRecord, error) {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()

	if err := h.check("trials"); err != nil {
		return nil, err
	}

	out := make([]TrialRecord, len(h.f.trials[study]))
	for i, t := range h.f.trials[study] {
		out[i] = cloneTrial(t)
	}

	return out, nil
}

func (h *memoryHandle) Close() error {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()

	if !h.closed {
		h.closed = true
		h.f.open = false
	}

	return nil
}

func cloneTrial(t TrialRecord) TrialRecord {
	if t.Value != nil {
		v := *t.Value
		t.Value = &v
	}

	params := make(map[string]float64, len(t.Params))
	for k, v := range t.Params {
		params[k] = v
	}

	t.Params = params

	if t.Intermediate != nil {
		inter := make(map[int]float64, len(t.Intermediate))
		for k, v := range t.Intermediate {
			inter[k] = v
		}

		t.Intermediate = inter
	}

	return t
}
