package fileloader

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLoader_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
queue:
  worksheet: staging
  check_interval: 5s
leaderboard:
  metrics_worksheet: ""
`), 0o600))

	cfg, err := NewFileLoader(path).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Queue.Worksheet)
	assert.Equal(t, 5*time.Second, cfg.Queue.CheckInterval)
	assert.Equal(t, "benchmark_name", cfg.Queue.BenchmarkColumn)
	assert.Empty(t, cfg.Leaderboard.MetricsWorksheet)
}

func TestFileLoader_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := NewFileLoader(filepath.Join(dir, "absent.yaml")).Load(context.Background())
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("queue: [unclosed"), 0o600))
	_, err = NewFileLoader(bad).Load(context.Background())
	assert.Error(t, err)

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("table:\n  backend: ftp\n"), 0o600))
	_, err = NewFileLoader(invalid).Load(context.Background())
	assert.Error(t, err)
}
