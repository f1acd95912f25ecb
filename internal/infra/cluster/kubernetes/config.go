package kubernetes

import "time"

// K8sConfig configures lease-based leader election.
type K8sConfig struct {
	Namespace    string `json:"namespace" yaml:"namespace" mapstructure:"namespace"`
	LeaderLockID string `json:"leaderLockId" yaml:"leader_lock_id" mapstructure:"leader_lock_id"`
	Identity     string `json:"identity" yaml:"identity" mapstructure:"identity"`

	LeaseDuration time.Duration `json:"leaseDuration" yaml:"lease_duration" mapstructure:"lease_duration"`
	RenewDeadline time.Duration `json:"renewDeadline" yaml:"renew_deadline" mapstructure:"renew_deadline"`
	RetryPeriod   time.Duration `json:"retryPeriod" yaml:"retry_period" mapstructure:"retry_period"`
}

func (c *K8sConfig) withDefaults() K8sConfig {
	out := *c
	if out.LeaseDuration == 0 {
		out.LeaseDuration = 15 * time.Second
	}
	if out.RenewDeadline == 0 {
		out.RenewDeadline = 10 * time.Second
	}
	if out.RetryPeriod == 0 {
		out.RetryPeriod = 2 * time.Second
	}
	return out
}
