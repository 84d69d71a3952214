package hpo

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// TrialsFile and SummaryFile are written by ExportArtifacts next to the
	// study store.
	TrialsFile  = "trials.csv"
	SummaryFile = "summary.yaml"
)

// ExportTrials writes trials as CSV: one row per trial, one params_<name>
// column per parameter.
func ExportTrials(w io.Writer, trials []Trial) error {
	names := map[string]bool{}

	for _, t := range trials {
		for name := range t.Params {
			names[name] = true
		}
	}

	paramNames := make([]string, 0, len(names))
	for name := range names {
		paramNames = append(paramNames, name)
	}

	sort.Strings(paramNames)

	header := []string{"number", "state", "value", "datetime_start", "datetime_complete", "duration_seconds", "run_id", "error"}
	for _, name := range paramNames {
		header = append(header, "params_"+name)
	}

	cw := csv.NewWriter(w)

	if err := cw.Write(header); err != nil {
		return err
	}

	for _, t := range trials {
		value := ""
		if t.HasValue {
			value = strconv.FormatFloat(t.Value, 'g', -1, 64)
		}

		row := []string{
			strconv.Itoa(t.Number),
			string(t.State),
			value,
			t.Start.UTC().Format(time.RFC3339Nano),
			t.End.UTC().Format(time.RFC3339Nano),
			strconv.FormatFloat(t.Duration.Seconds(), 'f', -1, 64),
			t.RunID,
			t.Err,
		}

		for _, name := range paramNames {
			if v, ok := t.Params[name]; ok {
				row = append(row, fmt.Sprint(v))
			} else {
				row = append(row, "")
			}
		}

		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()

	return cw.Error()
}

// StudySummary is the document written to summary.yaml.
type StudySummary struct {
	Study     string         `yaml:"study"`
	Direction Direction      `yaml:"direction"`
	Method    string         `yaml:"method"`
	Trials    int            `yaml:"trials"`
	States    map[string]int `yaml:"states"`

	BestTrial  *int           `yaml:"best_trial,omitempty"`
	BestParams map[string]any `yaml:"best_params,omitempty"`
	BestScore  *float64       `yaml:"best_score,omitempty"`
	TotalTime  string         `yaml:"total_time"`
}

// Summary builds the StudySummary of the study. It does not fail when no
// trial is complete yet: the best_* fields are left out instead.
func (s *Study) Summary() (StudySummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.summary()
}

func (s *Study) summary() (StudySummary, error) {
	if !s.state.ready() {
		return StudySummary{}, fmt.Errorf("summary needs a created or loaded study, state is %s: %w", s.state, ErrInvalidState)
	}

	out := StudySummary{
		Study:     s.name,
		Direction: s.direction,
		Method:    string(s.method),
		Trials:    len(s.trials),
		States:    map[string]int{},
	}

	for _, t := range s.trials {
		out.States[string(t.State)]++
	}

	result, err := Summarize(s.trials, s.direction)

	switch {
	case err == nil:
		out.BestTrial = &result.BestTrial
		out.BestParams = result.BestParams
		out.BestScore = &result.BestScore
	case !errors.Is(err, ErrEmptyResult):
		return StudySummary{}, err
	}

	out.TotalTime = result.TotalTime.String()

	return out, nil
}

// ExportArtifacts writes trials.csv and summary.yaml into the study
// directory and returns their paths.
func (s *Study) ExportArtifacts() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary, err := s.summary()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(StoragePath(s.hubRoot, s.name))

	trialsPath := filepath.Join(dir, TrialsFile)

	f, err := os.Create(trialsPath)
	if err != nil {
		return nil, fmt.Errorf("exporting trials: %w: %w", ErrStorage, err)
	}

	if err := ExportTrials(f, s.trials); err != nil {
		f.Close()

		return nil, fmt.Errorf("exporting trials: %w: %w", ErrStorage, err)
	}

	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("exporting trials: %w: %w", ErrStorage, err)
	}

	data, err := yaml.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("encoding summary: %w", err)
	}

	summaryPath := filepath.Join(dir, SummaryFile)

	if err := os.WriteFile(summaryPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("exporting summary: %w: %w", ErrStorage, err)
	}

	s.logger.Info("artifacts exported", "study", s.name, "trials", trialsPath, "summary", summaryPath)

	return []string{trialsPath, summaryPath}, nil
}
