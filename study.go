package hpo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/thalesfsp/hpo/enum"
	"github.com/thalesfsp/hpo/storage"
)

//////
// Const, vars, types.
//////

// State is the lifecycle state of a Study.
type State string

const (
	StateUninitialized State = "UNINITIALIZED"
	StateNamed         State = "NAMED"
	StateSamplerBound  State = "SAMPLER_BOUND"
	StateCreated       State = "CREATED"
	StateLoaded        State = "LOADED"
	StateComplete      State = "COMPLETE"
	StateClosed        State = "CLOSED"
)

// ready reports whether trials can be run or read in state s.
func (s State) ready() bool {
	return s == StateCreated || s == StateLoaded || s == StateComplete
}

// Study is a named, persisted optimisation run: an ordered sequence of
// trials plus the method, direction and search space that produced them.
//
// A Study moves through UNINITIALIZED -> NAMED -> SAMPLER_BOUND ->
// CREATED|LOADED -> COMPLETE, and CLOSED once Close is called. Methods are
// safe for concurrent use but trials always run one at a time.
type Study struct {
	mu sync.Mutex

	hubRoot string
	method  enum.HPOMethod
	cfg     MethodConfig

	name      string
	direction Direction
	space     SearchSpace
	state     State

	store   storage.Store
	sampler Sampler
	pruner  Pruner
	trials  []Trial

	logger   logr.Logger
	progress chan<- ProgressUpdate
	metrics  *Metrics
	open     storage.Opener
}

// Option configures a Study.
type Option func(*Study)

// WithLogger sets the logger. Default: discard.
func WithLogger(l logr.Logger) Option {
	return func(s *Study) { s.logger = l }
}

// WithProgress sets a channel receiving one ProgressUpdate per trial. Sends
// never block: updates are dropped while the channel is full.
func WithProgress(ch chan<- ProgressUpdate) Option {
	return func(s *Study) { s.progress = ch }
}

// WithMetrics records every trial on m.
func WithMetrics(m *Metrics) Option {
	return func(s *Study) { s.metrics = m }
}

// WithStoreOpener replaces the sqlite store, e.g. with storage.Memory.
func WithStoreOpener(open storage.Opener) Option {
	return func(s *Study) { s.open = open }
}

// WithMethodConfig sets the method configuration. Default: the method's
// defaults, see DefaultMethodConfig.
func WithMethodConfig(cfg MethodConfig) Option {
	return func(s *Study) { s.cfg = cfg }
}

// CreateOption configures Create.
type CreateOption func(*createOptions)

type createOptions struct {
	resume bool
}

// Resume makes Create load the study when it already exists instead of
// failing with ErrStorage.
func Resume() CreateOption {
	return func(o *createOptions) { o.resume = true }
}

//////
// Factory.
//////

// New returns an unnamed study persisted under hubRoot and optimised with
// method.
//
// The method configuration is validated here, before anything touches the
// store: an unknown method or an incompatible pruner fails with
// ErrConfiguration.
//
// Usage example:
//
//	study, err := New("/var/hub", enum.TPESampler, WithMethodConfig(MethodConfig{Seed: 42}))
//	if err != nil {
//	    return err
//	}
//	defer study.Close()
func New(hubRoot string, method enum.HPOMethod, opts ...Option) (*Study, error) {
	s := &Study{
		hubRoot: hubRoot,
		state:   StateUninitialized,
		logger:  logr.Discard(),
		open:    storage.OpenSQLite,
	}

	for _, opt := range opts {
		opt(s)
	}

	if strings.TrimSpace(hubRoot) == "" {
		return nil, fmt.Errorf("hub root is empty: %w", ErrInvalidArgument)
	}

	resolved, cfg, err := s.cfg.resolve(method)
	if err != nil {
		return nil, err
	}

	s.method, s.cfg = resolved, cfg

	return s, nil
}

// StoragePath returns where the study called name lives under hubRoot.
func StoragePath(hubRoot, name string) string {
	return filepath.Join(hubRoot, name, name+storage.Extension)
}

//////
// Methods.
//////

// SetName names the study. Allowed before the study is created or loaded.
func (s *Study) SetName(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateUninitialized && s.state != StateNamed {
		return fmt.Errorf("cannot rename a study in state %s: %w", s.state, ErrInvalidState)
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("study name is empty: %w", ErrInvalidArgument)
	}

	s.name = name
	s.state = StateNamed

	return nil
}

// Create binds the sampler and pruner and persists a new study with the
// given direction and search space.
//
// The study must be named. A study of the same name that already exists
// fails with ErrStorage unless Resume is passed; resuming requires the same
// direction and search space as the persisted study.
func (s *Study) Create(ctx context.Context, direction Direction, space SearchSpace, opts ...CreateOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var o createOptions
	for _, opt := range opts {
		opt(&o)
	}

	if s.state != StateNamed && s.state != StateSamplerBound {
		return fmt.Errorf("create needs a named study, state is %s: %w", s.state, ErrInvalidState)
	}

	direction, err := ParseDirection(string(direction))
	if err != nil {
		return err
	}

	if err := space.Validate(); err != nil {
		return err
	}

	if s.cfg.Seed == 0 {
		s.cfg.Seed = time.Now().UnixNano()
	}

	sampler, pruner, err := InitializeMethod(s.method, space, s.cfg)
	if err != nil {
		return err
	}

	s.direction, s.space, s.sampler, s.pruner = direction, space, sampler, pruner
	s.state = StateSamplerBound

	spaceJSON, err := json.Marshal(space)
	if err != nil {
		return fmt.Errorf("encoding search space: %w: %w", ErrConfiguration, err)
	}

	cfgJSON, err := json.Marshal(s.cfg)
	if err != nil {
		return fmt.Errorf("encoding method config: %w: %w", ErrConfiguration, err)
	}

	path := StoragePath(s.hubRoot, s.name)

	store, err := s.open(path, true)
	if err != nil {
		return storageError("opening "+path, err)
	}

	err = store.CreateStudy(ctx, storage.StudyRecord{
		Name:         s.name,
		Direction:    string(direction),
		Method:       string(s.method),
		SearchSpace:  spaceJSON,
		MethodConfig: cfgJSON,
		CreatedAt:    time.Now().UTC(),
	})

	switch {
	case err == nil:
		s.store = store
		s.trials = nil
		s.state = StateCreated

		s.logger.Info("study created", "study", s.name, "method", s.method, "direction", direction, "path", path)

		return nil
	case errors.Is(err, storage.ErrStudyExists) && o.resume:
		if err := s.restore(ctx, store, s.name, direction, spaceJSON); err != nil {
			store.Close()

			return err
		}

		s.state = StateLoaded

		s.logger.Info("study resumed", "study", s.name, "trials", len(s.trials), "path", path)

		return nil
	default:
		store.Close()

		return storageError("creating study "+s.name, err)
	}
}

// Load restores the study called name: its direction, method, search space
// and trials. Loading a study that was never created fails with ErrNotFound.
func (s *Study) Load(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateUninitialized && s.state != StateNamed {
		return fmt.Errorf("cannot load into a study in state %s: %w", s.state, ErrInvalidState)
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("study name is empty: %w", ErrInvalidArgument)
	}

	path := StoragePath(s.hubRoot, name)

	store, err := s.open(path, false)
	if err != nil {
		return storageError("opening "+path, err)
	}

	if err := s.restore(ctx, store, name, "", nil); err != nil {
		store.Close()

		return err
	}

	s.name = name
	s.state = StateLoaded

	s.logger.Info("study loaded", "study", s.name, "method", s.method, "trials", len(s.trials), "path", path)

	return nil
}

// restore reads study name and its trials from store and rebinds the
// sampler. A non-empty direction or space must match the persisted one.
// Nothing on s changes unless restore succeeds.
func (s *Study) restore(ctx context.Context, store storage.Store, name string, direction Direction, spaceJSON []byte) error {
	rec, err := store.LoadStudy(ctx, name)
	if err != nil {
		return storageError("loading study "+name, err)
	}

	persisted, err := ParseDirection(rec.Direction)
	if err != nil {
		return fmt.Errorf("study %s: %w", name, err)
	}

	if direction != "" && direction != persisted {
		return fmt.Errorf("study %s is persisted with direction %s, not %s: %w", name, persisted, direction, ErrConfiguration)
	}

	if spaceJSON != nil && !equalJSON(spaceJSON, rec.SearchSpace) {
		return fmt.Errorf("study %s is persisted with a different search space: %w", name, ErrConfiguration)
	}

	var space SearchSpace
	if err := json.Unmarshal(rec.SearchSpace, &space); err != nil {
		return fmt.Errorf("decoding search space of %s: %w: %w", name, ErrStorage, err)
	}

	var cfg MethodConfig
	if err := json.Unmarshal(rec.MethodConfig, &cfg); err != nil {
		return fmt.Errorf("decoding method config of %s: %w: %w", name, ErrStorage, err)
	}

	method, cfg, err := cfg.resolve(enum.HPOMethod(rec.Method))
	if err != nil {
		return err
	}

	if method != s.method {
		s.logger.Info("using the persisted method", "study", name, "method", method, "requested", s.method)
	}

	sampler, pruner, err := InitializeMethod(method, space, cfg)
	if err != nil {
		return err
	}

	records, err := store.Trials(ctx, name)
	if err != nil {
		return storageError("reading trials of "+name, err)
	}

	trials := make([]Trial, 0, len(records))
	for _, r := range records {
		trials = append(trials, fromRecord(space, r))
	}

	s.store = store
	s.method, s.cfg = method, cfg
	s.direction, s.space = persisted, space
	s.sampler, s.pruner = sampler, pruner
	s.trials = trials

	return nil
}

// Close releases the store. Closing twice is a no-op.
func (s *Study) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil
	}

	s.state = StateClosed

	if s.store == nil {
		return nil
	}

	err := s.store.Close()
	s.store = nil

	if err != nil {
		return storageError("closing study "+s.name, err)
	}

	return nil
}

// Name returns the study name.
func (s *Study) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.name
}

// State returns the lifecycle state.
func (s *Study) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Direction returns the optimisation direction, empty before Create or Load.
func (s *Study) Direction() Direction {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.direction
}

// Method returns the resolved method and its configuration.
func (s *Study) Method() (enum.HPOMethod, MethodConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.method, s.cfg
}

// Space returns the bound search space.
func (s *Study) Space() SearchSpace {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.space
}

// Trials returns a copy of the recorded trials, ordered by number.
func (s *Study) Trials() []Trial {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Trial, len(s.trials))
	copy(out, s.trials)

	return out
}

//////
// Record conversion.
//////

func toRecord(space SearchSpace, t Trial) (storage.TrialRecord, error) {
	params, err := space.encode(t.Params)
	if err != nil {
		return storage.TrialRecord{}, err
	}

	rec := storage.TrialRecord{
		Number:       t.Number,
		RunID:        t.RunID,
		State:        string(t.State),
		Params:       params,
		Intermediate: t.Intermediate,
		Error:        t.Err,
		Start:        t.Start,
		End:          t.End,
	}

	if t.HasValue {
		v := t.Value
		rec.Value = &v
	}

	return rec, nil
}

func fromRecord(space SearchSpace, r storage.TrialRecord) Trial {
	t := Trial{
		Number:       r.Number,
		RunID:        r.RunID,
		State:        TrialState(r.State),
		Params:       space.decode(r.Params),
		Intermediate: r.Intermediate,
		Err:          r.Error,
		Start:        r.Start,
		End:          r.End,
		Duration:     r.End.Sub(r.Start),
	}

	if r.Value != nil && !math.IsNaN(*r.Value) {
		t.Value, t.HasValue = *r.Value, true
	}

	return t
}

func equalJSON(a, b []byte) bool {
	var x, y any

	if json.Unmarshal(a, &x) != nil || json.Unmarshal(b, &y) != nil {
		return bytes.Equal(a, b)
	}

	ca, _ := json.Marshal(x)
	cb, _ := json.Marshal(y)

	return bytes.Equal(ca, cb)
}
