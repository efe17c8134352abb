package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// StageDef declares one pipeline stage: its stable name, how many attempts
// the orchestrator may make, and the wall-clock budget per attempt.
type StageDef struct {
	Name        string        `yaml:"name"`
	MaxAttempts int           `yaml:"max_attempts"`
	Timeout     time.Duration `yaml:"timeout"`
}

// UnmarshalYAML decodes a stage entry, accepting Go duration strings like
// "5m" for the timeout.
func (s *StageDef) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Name        string `yaml:"name"`
		MaxAttempts int    `yaml:"max_attempts"`
		Timeout     string `yaml:"timeout"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	s.Name = raw.Name
	s.MaxAttempts = raw.MaxAttempts
	if raw.Timeout != "" {
		d, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return fmt.Errorf("stage %q: invalid timeout %q: %w", raw.Name, raw.Timeout, err)
		}
		s.Timeout = d
	}
	return nil
}

// PipelineDef is the ordered stage list the agent executes for every project.
type PipelineDef struct {
	Stages []StageDef `yaml:"stages"`
}

// DefaultPipeline returns the built-in six-stage clip pipeline.
func DefaultPipeline() PipelineDef {
	return PipelineDef{Stages: []StageDef{
		{Name: "outline", MaxAttempts: 1, Timeout: 10 * time.Minute},
		{Name: "timeline", MaxAttempts: 1, Timeout: 10 * time.Minute},
		{Name: "scoring", MaxAttempts: 1, Timeout: 10 * time.Minute},
		{Name: "titles", MaxAttempts: 1, Timeout: 5 * time.Minute},
		{Name: "collections", MaxAttempts: 1, Timeout: 5 * time.Minute},
		{Name: "cutting", MaxAttempts: 2, Timeout: 30 * time.Minute},
	}}
}

// LoadPipeline reads a YAML pipeline definition. An empty path or a missing
// file yields the built-in default pipeline.
func LoadPipeline(path string) (PipelineDef, error) {
	if path == "" {
		return DefaultPipeline(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultPipeline(), nil
		}
		return PipelineDef{}, fmt.Errorf("read pipeline file: %w", err)
	}

	var def PipelineDef
	if err := yaml.Unmarshal(data, &def); err != nil {
		return PipelineDef{}, fmt.Errorf("parse pipeline file %s: %w", path, err)
	}

	if err := def.Validate(); err != nil {
		return PipelineDef{}, fmt.Errorf("pipeline file %s: %w", path, err)
	}
	return def, nil
}

// Validate checks the definition and fills per-stage defaults.
func (p *PipelineDef) Validate() error {
	if len(p.Stages) == 0 {
		return fmt.Errorf("pipeline has no stages")
	}

	seen := make(map[string]bool, len(p.Stages))
	for i := range p.Stages {
		s := &p.Stages[i]
		if s.Name == "" {
			return fmt.Errorf("stage %d has no name", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate stage name %q", s.Name)
		}
		seen[s.Name] = true

		if s.MaxAttempts <= 0 {
			s.MaxAttempts = 1
		}
		if s.Timeout <= 0 {
			s.Timeout = 10 * time.Minute
		}
	}
	return nil
}

// StageNames returns the ordered stage names.
func (p PipelineDef) StageNames() []string {
	names := make([]string, len(p.Stages))
	for i, s := range p.Stages {
		names[i] = s.Name
	}
	return names
}
