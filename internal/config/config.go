// Package config loads study definitions from YAML.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/thalesfsp/hpo"
	"github.com/thalesfsp/hpo/enum"
)

type Config struct {
	HubRoot     string               `yaml:"hub_root"`
	Study       Study                `yaml:"study"`
	SearchSpace map[string]Parameter `yaml:"search_space"`
}

type Study struct {
	Name   string `yaml:"name"`
	Method string `yaml:"method"`

	// Direction is MAXIMIZE or MINIMIZE. It may be left out when Objective
	// is set.
	Direction string `yaml:"direction"`
	Objective string `yaml:"objective"`

	// Trials wins over SearchOption.
	Trials       int    `yaml:"trials"`
	SearchOption string `yaml:"search_option"`

	Resume       bool             `yaml:"resume"`
	MethodConfig hpo.MethodConfig `yaml:"method_config"`
}

// Parameter is one search space entry. Categorical parameters list their
// choices; numeric ones set low and high, and type int for integer ranges.
type Parameter struct {
	Type    string  `yaml:"type"`
	Low     float64 `yaml:"low"`
	High    float64 `yaml:"high"`
	Log     bool    `yaml:"log"`
	Step    int     `yaml:"step"`
	Choices []any   `yaml:"choices"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w: %w", path, hpo.ErrConfiguration, err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.HubRoot == "" {
		cfg.HubRoot = "."
	}
	if strings.TrimSpace(cfg.Study.Name) == "" {
		return fmt.Errorf("study.name is required: %w", hpo.ErrConfiguration)
	}
	if cfg.Study.Method == "" {
		cfg.Study.Method = string(enum.TPESampler)
	}
	method, err := enum.HPOMethods.Parse(cfg.Study.Method)
	if err != nil {
		return fmt.Errorf("study.method: %w: %w", err, hpo.ErrConfiguration)
	}
	cfg.Study.Method = string(method)
	if err := cfg.Study.MethodConfig.Validate(method); err != nil {
		return fmt.Errorf("study.method_config: %w", err)
	}
	if _, err := cfg.Direction(); err != nil {
		return err
	}
	if cfg.Trials() < 1 {
		return fmt.Errorf("study.trials or study.search_option is required: %w", hpo.ErrConfiguration)
	}
	if _, err := cfg.Space(); err != nil {
		return err
	}
	return nil
}

// Direction resolves the study direction, from the objective when no
// explicit direction is set.
func (c *Config) Direction() (hpo.Direction, error) {
	if c.Study.Direction != "" {
		d, err := hpo.ParseDirection(c.Study.Direction)
		if err != nil {
			return "", fmt.Errorf("study.direction: %w", err)
		}
		return d, nil
	}
	if c.Study.Objective == "" {
		return "", fmt.Errorf("study.direction or study.objective is required: %w", hpo.ErrConfiguration)
	}
	objective, err := enum.Objectives.Parse(c.Study.Objective)
	if err != nil {
		return "", fmt.Errorf("study.objective: %w: %w", err, hpo.ErrConfiguration)
	}
	direction, _ := objective.Value()
	return hpo.ParseDirection(direction)
}

// Trials returns the number of trials to run.
func (c *Config) Trials() int {
	if c.Study.Trials > 0 {
		return c.Study.Trials
	}
	option, err := enum.SearchOptions.Parse(c.Study.SearchOption)
	if err != nil {
		return 0
	}
	return option.Trials()
}

// Space builds the search space.
func (c *Config) Space() (hpo.SearchSpace, error) {
	space := make(hpo.SearchSpace, len(c.SearchSpace))
	for name, p := range c.SearchSpace {
		switch strings.ToLower(p.Type) {
		case "categorical":
			space[name] = hpo.Categorical{Choices: p.Choices}
		case "int":
			space[name] = hpo.Int{Low: int(p.Low), High: int(p.High), Step: p.Step}
		case "float":
			space[name] = hpo.Float{Low: p.Low, High: p.High, Log: p.Log}
		case "":
			if len(p.Choices) > 0 {
				space[name] = hpo.Categorical{Choices: p.Choices}
			} else {
				space[name] = hpo.Float{Low: p.Low, High: p.High, Log: p.Log}
			}
		default:
			return nil, fmt.Errorf("search_space.%s: unknown type %q: %w", name, p.Type, hpo.ErrConfiguration)
		}
	}
	if err := space.Validate(); err != nil {
		return nil, fmt.Errorf("search_space: %w", err)
	}
	return space, nil
}
