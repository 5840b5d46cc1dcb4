package matrix

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the YAML form of a matrix used by the CLI when no database is at hand.
type File struct {
	ProjectID string    `yaml:"project"`
	Protocol  string    `yaml:"protocol"`
	Runs      []TestRun `yaml:"runs"`
}

// LoadFile reads a YAML matrix file.
func LoadFile(path string) (Matrix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Matrix{}, fmt.Errorf("read matrix file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML matrix document.
func Parse(data []byte) (Matrix, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Matrix{}, fmt.Errorf("parse matrix file: %w", err)
	}
	if f.Protocol == "" {
		return Matrix{}, fmt.Errorf("parse matrix file: protocol is required")
	}
	return Matrix{ProjectID: f.ProjectID, Protocol: f.Protocol, Runs: f.Runs}, nil
}
