package fileloader

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jungseoik/abnormal-leaderboard/internal/config"
)

// FileLoader loads configuration from a YAML file on disk without consulting
// the environment. Keys absent from the file keep their defaults.
type FileLoader struct {
	// path is the filesystem path to the configuration file.
	path string
}

var _ config.Loader = (*FileLoader)(nil)

// NewFileLoader creates a new FileLoader for path.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{path: path}
}

// Load reads, parses and validates the configuration file.
func (l *FileLoader) Load(ctx context.Context) (*config.Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := config.Defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
