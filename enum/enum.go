// Package enum holds the case-insensitive symbolic constants used by the hub
// for dispatch: data formats, task types, split methods, HPO methods, search
// presets and objectives.
//
// Every symbol is an upper-case string, so a symbol and its upper-cased text
// form are interchangeable as map keys. Parsing and matching ignore case:
//
//	m, err := enum.HPOMethods.Parse("bohb") // enum.BOHB
//	enum.Matches(enum.BOHB, "Bohb")          // true
//	enum.HPOMethods.Contains("nope")         // false, never an error
package enum

import (
	"fmt"
	"sort"
	"strings"
)

//////
// Set.
//////

// Set is the membership table of one symbolic type. It is built once and
// never mutated afterwards.
type Set[T ~string] struct {
	kind    string
	members []T
	byName  map[string]T
}

// NewSet builds the membership table for kind out of members. Members are
// normalised to upper case; duplicates panic since they are programming errors.
func NewSet[T ~string](kind string, members ...T) *Set[T] {
	s := &Set[T]{
		kind:    kind,
		members: make([]T, 0, len(members)),
		byName:  make(map[string]T, len(members)),
	}

	for _, m := range members {
		key := strings.ToUpper(string(m))
		if _, ok := s.byName[key]; ok {
			panic(fmt.Sprintf("enum: duplicate %s member %q", kind, key))
		}

		s.byName[key] = T(key)
		s.members = append(s.members, T(key))
	}

	return s
}

// Kind returns the name of the symbolic type, e.g. "HPOMethod".
func (s *Set[T]) Kind() string { return s.kind }

// Parse resolves name, in any case, to its member.
func (s *Set[T]) Parse(name string) (T, error) {
	if m, ok := s.byName[normalize(name)]; ok {
		return m, nil
	}

	return "", fmt.Errorf("unknown %s %q (want one of %s)", s.kind, name, s.String())
}

// Contains reports whether name, in any case, is a member.
func (s *Set[T]) Contains(name string) bool {
	_, ok := s.byName[normalize(name)]

	return ok
}

// Members returns the members in declaration order.
func (s *Set[T]) Members() []T {
	out := make([]T, len(s.members))
	copy(out, s.members)

	return out
}

// String lists the members, sorted, separated by "|".
func (s *Set[T]) String() string {
	names := make([]string, len(s.members))
	for i, m := range s.members {
		names[i] = string(m)
	}

	sort.Strings(names)

	return strings.Join(names, "|")
}

// Matches reports whether sym equals text once both are trimmed and
// upper-cased. The test is symmetric: Matches(X, "x") holds exactly when "x"
// parses to X.
func Matches[T ~string](sym T, text string) bool {
	return normalize(string(sym)) == normalize(text)
}

// normalize is the lookup key of a symbol name: trimmed and upper-cased.
func normalize(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

//////
// Symbolic types.
//////

// DataType identifies a dataset or export format.
type DataType string

const (
	YOLO         DataType = "YOLO"
	Ultralytics  DataType = "ULTRALYTICS"
	COCO         DataType = "COCO"
	AutocareDLT  DataType = "AUTOCARE_DLT"
	Transformers DataType = "TRANSFORMERS"
)

// TaskType identifies the learning task a model is trained for.
type TaskType string

const (
	Classification       TaskType = "CLASSIFICATION"
	ObjectDetection      TaskType = "OBJECT_DETECTION"
	SemanticSegmentation TaskType = "SEMANTIC_SEGMENTATION"
	InstanceSegmentation TaskType = "INSTANCE_SEGMENTATION"
	KeypointDetection    TaskType = "KEYPOINT_DETECTION"
	TextRecognition      TaskType = "TEXT_RECOGNITION"
	Regression           TaskType = "REGRESSION"
)

// SplitMethod identifies how a dataset is split into train/val/test.
type SplitMethod string

const (
	SplitRandom     SplitMethod = "RANDOM"
	SplitStratified SplitMethod = "STRATIFIED"
)

// HPOMethod identifies a sampler strategy (and its default pruner).
type HPOMethod string

const (
	RandomSampler HPOMethod = "RANDOMSAMPLER"
	GridSampler   HPOMethod = "GRIDSAMPLER"
	BOHB          HPOMethod = "BOHB"
	TPESampler    HPOMethod = "TPESAMPLER"
	GPSampler     HPOMethod = "GPSAMPLER"
)

// PrunerKind identifies an early-stopping strategy.
type PrunerKind string

const (
	NoPruner                PrunerKind = "NONE"
	MedianPruner            PrunerKind = "MEDIAN"
	SuccessiveHalvingPruner PrunerKind = "SUCCESSIVEHALVING"
	HyperbandPruner         PrunerKind = "HYPERBAND"
)

// SearchOption is a search budget preset.
type SearchOption string

const (
	Fast   SearchOption = "FAST"
	Medium SearchOption = "MEDIUM"
	Long   SearchOption = "LONG"
)

// Trials returns the number of trials the preset stands for.
func (o SearchOption) Trials() int {
	switch SearchOption(strings.ToUpper(string(o))) {
	case Fast:
		return 10
	case Medium:
		return 50
	case Long:
		return 100
	default:
		return 0
	}
}

// Objective names a (direction, metric) pair.
type Objective string

const (
	MinimizeLoss     Objective = "MINIMIZE_LOSS"
	MaximizeAccuracy Objective = "MAXIMIZE_ACCURACY"
)

var objectiveValues = map[Objective][2]string{
	MinimizeLoss:     {"MINIMIZE", "LOSS"},
	MaximizeAccuracy: {"MAXIMIZE", "ACCURACY"},
}

// Value returns the objective's two-part value. Unknown objectives return
// empty strings.
func (o Objective) Value() (direction, metric string) {
	v := objectiveValues[Objective(strings.ToUpper(string(o)))]

	return v[0], v[1]
}

// Membership tables, one per symbolic type.
var (
	DataTypes     = NewSet("DataType", YOLO, Ultralytics, COCO, AutocareDLT, Transformers)
	TaskTypes     = NewSet("TaskType", Classification, ObjectDetection, SemanticSegmentation, InstanceSegmentation, KeypointDetection, TextRecognition, Regression)
	SplitMethods  = NewSet("SplitMethod", SplitRandom, SplitStratified)
	HPOMethods    = NewSet("HPOMethod", RandomSampler, GridSampler, BOHB, TPESampler, GPSampler)
	PrunerKinds   = NewSet("PrunerKind", NoPruner, MedianPruner, SuccessiveHalvingPruner, HyperbandPruner)
	SearchOptions = NewSet("SearchOption", Fast, Medium, Long)
	Objectives    = NewSet("Objective", MinimizeLoss, MaximizeAccuracy)
)
