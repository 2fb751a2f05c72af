package scenario

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed data/default.yaml
var defaultYAML []byte

// Default returns the embedded scenario.
func Default() (*Scenario, error) {
	s, err := Parse(defaultYAML)
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded scenario: %w", err)
	}
	return s, nil
}

// Load reads a scenario from path, or the embedded default when path is empty.
func Load(path string) (*Scenario, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return s, nil
}

// Parse decodes and validates a YAML scenario. Unknown fields are rejected
// so typos in template names surface at startup.
func Parse(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s Scenario
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode scenario: %w", err)
	}
	s.Prologue = strings.TrimSpace(s.Prologue)
	s.Persona = strings.TrimSpace(s.Persona)
	s.Epilogue.Prompt = strings.TrimSpace(s.Epilogue.Prompt)

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}
