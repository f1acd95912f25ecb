package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults_AreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "unknown backend", mutate: func(c *Config) { c.Table.Backend = "excel" }, wantErr: "Backend"},
		{name: "gsheets without url", mutate: func(c *Config) { c.Table.Backend = BackendGSheets }, wantErr: "SpreadsheetURL"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Table.Backend = BackendPostgres }, wantErr: "PostgresDSN"},
		{name: "negative rate", mutate: func(c *Config) { c.Table.RateLimit = -1 }, wantErr: "RateLimit"},
		{name: "zero interval", mutate: func(c *Config) { c.Queue.CheckInterval = 0 }, wantErr: "CheckInterval"},
		{name: "sibling equals primary", mutate: func(c *Config) { c.Queue.BenchmarkColumn = c.Queue.Column }, wantErr: "BenchmarkColumn"},
		{name: "empty bench command", mutate: func(c *Config) { c.Bench.Command = nil }, wantErr: "Command"},
		{name: "cluster without namespace", mutate: func(c *Config) { c.Cluster.Enabled = true }, wantErr: "Namespace"},
		{name: "kafka without topic", mutate: func(c *Config) { c.Kafka.Brokers = []string{"b:9092"}; c.Kafka.Topic = "" }, wantErr: "Topic"},
		{name: "bad port", mutate: func(c *Config) { c.API.Port = "http" }, wantErr: "Port"},
		{name: "gsheets with url", mutate: func(c *Config) {
			c.Table.Backend = BackendGSheets
			c.Table.SpreadsheetURL = "https://docs.google.com/spreadsheets/d/abc/edit"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

const sampleYAML = `
log_level: debug
table:
  backend: xlsx
  xlsx_path: /data/board.xlsx
queue:
  worksheet: jobs
  check_interval: 3s
bench:
  command: [./bench.sh]
  timeout: 30m
kafka:
  brokers: [kafka:9092]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestViperLoader_FileAndDefaults(t *testing.T) {
	cfg, err := NewViperLoader(writeConfig(t, sampleYAML)).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, BackendXLSX, cfg.Table.Backend)
	assert.Equal(t, "/data/board.xlsx", cfg.Table.XLSXPath)
	assert.Equal(t, "jobs", cfg.Queue.Worksheet)
	assert.Equal(t, "huggingface_id", cfg.Queue.Column, "unset keys keep defaults")
	assert.Equal(t, 3*time.Second, cfg.Queue.CheckInterval)
	assert.Equal(t, []string{"./bench.sh"}, cfg.Bench.Command)
	assert.Equal(t, 30*time.Minute, cfg.Bench.Timeout)
	assert.Equal(t, []string{"kafka:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "benchmark-jobs", cfg.Kafka.Topic)
}

func TestViperLoader_EnvironmentOverrides(t *testing.T) {
	t.Setenv("LEADERBOARD_QUEUE_WORKSHEET", "env-sheet")
	t.Setenv("LEADERBOARD_TABLE_BACKEND", "gsheets")
	t.Setenv("SPREADSHEET_URL", "https://docs.google.com/spreadsheets/d/abc123/edit")
	t.Setenv("LEADERBOARD_QUEUE_WAIT_TIMEOUT", "250ms")

	cfg, err := NewViperLoader("").Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "env-sheet", cfg.Queue.Worksheet)
	assert.Equal(t, BackendGSheets, cfg.Table.Backend)
	assert.Equal(t, "https://docs.google.com/spreadsheets/d/abc123/edit", cfg.Table.SpreadsheetURL)
	assert.Equal(t, 250*time.Millisecond, cfg.Queue.WaitTimeout)
}

func TestViperLoader_Errors(t *testing.T) {
	_, err := NewViperLoader(filepath.Join(t.TempDir(), "missing.yaml")).Load(context.Background())
	assert.Error(t, err)

	_, err = NewViperLoader(writeConfig(t, "table:\n  backend: postgres\n")).Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PostgresDSN")
}
