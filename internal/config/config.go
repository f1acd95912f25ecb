// Package config defines the settings shared by the worker, the API and the
// admin CLI.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Table backends.
const (
	BackendMemory   = "memory"
	BackendXLSX     = "xlsx"
	BackendGSheets  = "gsheets"
	BackendPostgres = "postgres"
)

// Config is the top-level configuration.
type Config struct {
	LogLevel    string `yaml:"log_level" mapstructure:"log_level"`
	MetricsAddr string `yaml:"metrics_addr" mapstructure:"metrics_addr"`
	HealthAddr  string `yaml:"health_addr" mapstructure:"health_addr"`

	Table       TableConfig       `yaml:"table" mapstructure:"table"`
	Queue       QueueConfig       `yaml:"queue" mapstructure:"queue"`
	Leaderboard LeaderboardConfig `yaml:"leaderboard" mapstructure:"leaderboard"`
	Bench       BenchConfig       `yaml:"bench" mapstructure:"bench"`
	Kafka       KafkaConfig       `yaml:"kafka" mapstructure:"kafka"`
	Cluster     ClusterConfig     `yaml:"cluster" mapstructure:"cluster"`
	API         APIConfig         `yaml:"api" mapstructure:"api"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" mapstructure:"telemetry"`
}

// TableConfig selects and configures the spreadsheet backend.
type TableConfig struct {
	Backend        string `yaml:"backend" mapstructure:"backend" validate:"oneof=memory xlsx gsheets postgres"`
	SpreadsheetURL string `yaml:"spreadsheet_url" mapstructure:"spreadsheet_url" validate:"required_if=Backend gsheets"`
	CredentialsEnv string `yaml:"credentials_env" mapstructure:"credentials_env"`
	XLSXPath       string `yaml:"xlsx_path" mapstructure:"xlsx_path" validate:"required_if=Backend xlsx"`
	PostgresDSN    string `yaml:"postgres_dsn" mapstructure:"postgres_dsn" validate:"required_if=Backend postgres"`
	MigrationsURL  string `yaml:"migrations_url" mapstructure:"migrations_url"`

	// RateLimit is in requests per second. Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit" validate:"gte=0"`
	RateBurst int     `yaml:"rate_burst" mapstructure:"rate_burst" validate:"gte=0"`
}

// QueueConfig locates the job queue worksheet.
type QueueConfig struct {
	Worksheet       string        `yaml:"worksheet" mapstructure:"worksheet" validate:"required"`
	Column          string        `yaml:"column" mapstructure:"column" validate:"required"`
	BenchmarkColumn string        `yaml:"benchmark_column" mapstructure:"benchmark_column" validate:"required,nefield=Column"`
	PromptCfgColumn string        `yaml:"prompt_cfg_column" mapstructure:"prompt_cfg_column" validate:"required,nefield=Column,nefield=BenchmarkColumn"`
	CheckInterval   time.Duration `yaml:"check_interval" mapstructure:"check_interval" validate:"gt=0"`
	WaitTimeout     time.Duration `yaml:"wait_timeout" mapstructure:"wait_timeout" validate:"gt=0"`
	IdleBackoff     time.Duration `yaml:"idle_backoff" mapstructure:"idle_backoff" validate:"gte=0"`
}

// LeaderboardConfig locates the score and metrics worksheets.
type LeaderboardConfig struct {
	Worksheet        string `yaml:"worksheet" mapstructure:"worksheet" validate:"required"`
	ModelColumn      string `yaml:"model_column" mapstructure:"model_column" validate:"required"`
	LinkColumn       string `yaml:"link_column" mapstructure:"link_column"`
	DisplayColumn    string `yaml:"display_column" mapstructure:"display_column"`
	MetricsWorksheet string `yaml:"metrics_worksheet" mapstructure:"metrics_worksheet"`
	MetricsColumn    string `yaml:"metrics_column" mapstructure:"metrics_column"`
	ModelLinkPrefix  string `yaml:"model_link_prefix" mapstructure:"model_link_prefix" validate:"omitempty,url"`
}

// BenchConfig configures the external benchmark command.
type BenchConfig struct {
	Command []string      `yaml:"command" mapstructure:"command" validate:"required,min=1,dive,required"`
	WorkDir string        `yaml:"work_dir" mapstructure:"work_dir"`
	Env     []string      `yaml:"env" mapstructure:"env"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"gte=0"`
}

// KafkaConfig enables the Kafka event bus when Brokers is non-empty.
type KafkaConfig struct {
	Brokers  []string `yaml:"brokers" mapstructure:"brokers"`
	Topic    string   `yaml:"topic" mapstructure:"topic" validate:"required_with=Brokers"`
	GroupID  string   `yaml:"group_id" mapstructure:"group_id"`
	ClientID string   `yaml:"client_id" mapstructure:"client_id"`
}

// ClusterConfig enables Kubernetes leader election for the worker.
type ClusterConfig struct {
	Enabled       bool          `yaml:"enabled" mapstructure:"enabled"`
	Namespace     string        `yaml:"namespace" mapstructure:"namespace" validate:"required_if=Enabled true"`
	LeaderLockID  string        `yaml:"leader_lock_id" mapstructure:"leader_lock_id" validate:"required_if=Enabled true"`
	Identity      string        `yaml:"identity" mapstructure:"identity"`
	LeaseDuration time.Duration `yaml:"lease_duration" mapstructure:"lease_duration"`
	RenewDeadline time.Duration `yaml:"renew_deadline" mapstructure:"renew_deadline"`
	RetryPeriod   time.Duration `yaml:"retry_period" mapstructure:"retry_period"`
}

// APIConfig is the HTTP listener of the API server.
type APIConfig struct {
	Host string `yaml:"host" mapstructure:"host"`
	Port string `yaml:"port" mapstructure:"port" validate:"required,numeric"`
}

// TelemetryConfig configures OTLP export. An empty endpoint disables it.
type TelemetryConfig struct {
	Endpoint    string  `yaml:"endpoint" mapstructure:"endpoint"`
	Insecure    bool    `yaml:"insecure" mapstructure:"insecure"`
	Probability float64 `yaml:"probability" mapstructure:"probability" validate:"gte=0,lte=1"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	return Config{
		LogLevel:    "info",
		MetricsAddr: ":9090",
		HealthAddr:  ":8081",
		Table: TableConfig{
			Backend:        BackendMemory,
			CredentialsEnv: "GOOGLE_CREDENTIALS",
			XLSXPath:       "./leaderboard.xlsx",
			RateLimit:      1,
			RateBurst:      5,
		},
		Queue: QueueConfig{
			Worksheet:       "flag",
			Column:          "huggingface_id",
			BenchmarkColumn: "benchmark_name",
			PromptCfgColumn: "prompt_cfg_name",
			CheckInterval:   10 * time.Second,
			WaitTimeout:     time.Second,
		},
		Leaderboard: LeaderboardConfig{
			Worksheet:        "model",
			ModelColumn:      "Model name",
			LinkColumn:       "Model link",
			DisplayColumn:    "Model",
			MetricsWorksheet: "metric",
			MetricsColumn:    "metrics",
			ModelLinkPrefix:  "https://huggingface.co/PIA-SPACE-LAB/",
		},
		Bench: BenchConfig{
			Command: []string{"python", "-m", "pia_bench.run"},
			WorkDir: ".",
			Timeout: 2 * time.Hour,
		},
		Kafka: KafkaConfig{
			Topic:    "benchmark-jobs",
			ClientID: "abnormal-leaderboard",
		},
		Cluster: ClusterConfig{
			LeaderLockID: "leaderboard-worker",
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: "8080",
		},
		Telemetry: TelemetryConfig{
			Probability: 1,
		},
	}
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]error, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Errorf("%s: failed %q", fe.Namespace(), fe.ActualTag()))
			}
			return fmt.Errorf("invalid config: %w", errors.Join(msgs...))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
