package config

import (
	"github.com/jungseoik/abnormal-leaderboard/internal/app/bench"
	"github.com/jungseoik/abnormal-leaderboard/internal/app/leaderboard"
	"github.com/jungseoik/abnormal-leaderboard/internal/app/queue"
	"github.com/jungseoik/abnormal-leaderboard/internal/app/submission"
	"github.com/jungseoik/abnormal-leaderboard/internal/infra/cluster/kubernetes"
	"github.com/jungseoik/abnormal-leaderboard/internal/infra/eventbus/kafka"
	"github.com/jungseoik/abnormal-leaderboard/internal/infra/sheets"
)

// TableOptions opens the configured backend with every worksheet the
// services expect.
func (c *Config) TableOptions() sheets.Options {
	bootstrap := []sheets.WorksheetSpec{
		{Name: c.Queue.Worksheet, Headers: []string{c.Queue.Column, c.Queue.BenchmarkColumn, c.Queue.PromptCfgColumn}},
		{Name: c.Leaderboard.Worksheet, Headers: nonEmpty(c.Leaderboard.ModelColumn, c.Leaderboard.LinkColumn, c.Leaderboard.DisplayColumn)},
	}
	if c.Leaderboard.MetricsWorksheet != "" {
		bootstrap = append(bootstrap, sheets.WorksheetSpec{
			Name:    c.Leaderboard.MetricsWorksheet,
			Headers: nonEmpty(c.Leaderboard.ModelColumn, c.Leaderboard.MetricsColumn),
		})
	}

	return sheets.Options{
		Backend:        c.Table.Backend,
		SpreadsheetURL: c.Table.SpreadsheetURL,
		CredentialsEnv: c.Table.CredentialsEnv,
		XLSXPath:       c.Table.XLSXPath,
		PostgresDSN:    c.Table.PostgresDSN,
		MigrationsURL:  c.Table.MigrationsURL,
		RateLimit:      c.Table.RateLimit,
		RateBurst:      c.Table.RateBurst,
		Bootstrap:      bootstrap,
	}
}

// StoreConfig binds a queue store to the primary queue column.
func (c *Config) StoreConfig() queue.StoreConfig {
	return queue.StoreConfig{Worksheet: c.Queue.Worksheet, Column: c.Queue.Column}
}

// DispatcherConfig carries the sibling columns and wait settings.
func (c *Config) DispatcherConfig() queue.DispatcherConfig {
	return queue.DispatcherConfig{
		BenchmarkColumn: c.Queue.BenchmarkColumn,
		PromptCfgColumn: c.Queue.PromptCfgColumn,
		WaitTimeout:     c.Queue.WaitTimeout,
		IdleBackoff:     c.Queue.IdleBackoff,
	}
}

// SubmissionConfig points the submission service at the queue columns.
func (c *Config) SubmissionConfig() submission.Config {
	return submission.Config{
		Worksheet:       c.Queue.Worksheet,
		ModelColumn:     c.Queue.Column,
		BenchmarkColumn: c.Queue.BenchmarkColumn,
		PromptCfgColumn: c.Queue.PromptCfgColumn,
	}
}

// LeaderboardConfig maps the leaderboard section.
func (c *Config) LeaderboardConfig() leaderboard.Config {
	return leaderboard.Config{
		Worksheet:        c.Leaderboard.Worksheet,
		ModelColumn:      c.Leaderboard.ModelColumn,
		LinkColumn:       c.Leaderboard.LinkColumn,
		DisplayColumn:    c.Leaderboard.DisplayColumn,
		ModelLinkPrefix:  c.Leaderboard.ModelLinkPrefix,
		MetricsWorksheet: c.Leaderboard.MetricsWorksheet,
		MetricsColumn:    c.Leaderboard.MetricsColumn,
	}
}

// CommandConfig maps the bench section.
func (c *Config) CommandConfig() bench.CommandConfig {
	return bench.CommandConfig{
		Command: c.Bench.Command,
		WorkDir: c.Bench.WorkDir,
		Env:     c.Bench.Env,
		Timeout: c.Bench.Timeout,
	}
}

// KafkaConfig returns nil when no brokers are configured.
func (c *Config) KafkaConfig() *kafka.Config {
	if len(c.Kafka.Brokers) == 0 {
		return nil
	}
	return &kafka.Config{
		Brokers:  c.Kafka.Brokers,
		Topic:    c.Kafka.Topic,
		GroupID:  c.Kafka.GroupID,
		ClientID: c.Kafka.ClientID,
	}
}

// K8sConfig returns nil when leader election is disabled.
func (c *Config) K8sConfig(identity string) *kubernetes.K8sConfig {
	if !c.Cluster.Enabled {
		return nil
	}
	if c.Cluster.Identity != "" {
		identity = c.Cluster.Identity
	}
	return &kubernetes.K8sConfig{
		Namespace:     c.Cluster.Namespace,
		LeaderLockID:  c.Cluster.LeaderLockID,
		Identity:      identity,
		LeaseDuration: c.Cluster.LeaseDuration,
		RenewDeadline: c.Cluster.RenewDeadline,
		RetryPeriod:   c.Cluster.RetryPeriod,
	}
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
