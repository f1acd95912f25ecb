package config

import (
	"context"
)

// Loader provides configuration loading capabilities. It abstracts the source
// of configuration so the binaries can read files and environment while tests
// read fixtures.
type Loader interface {
	// Load retrieves, parses and validates the configuration.
	Load(ctx context.Context) (*Config, error)
}
