package scheduler

import (
	"time"

	"github.com/Nobledental/NOBLE-OS-sub002/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	Enabled        bool
	RunInterval    time.Duration
	BatchSize      int
	JobTimeout     time.Duration
	ReportLookback time.Duration
	// EnabledJobs limits which jobs run; empty means all of them.
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		RunInterval:    5 * time.Minute,
		BatchSize:      50,
		JobTimeout:     time.Minute,
		ReportLookback: 72 * time.Hour,
	}
}

func ProvideConfig(cfg config.Config) Config {
	out := DefaultConfig()
	out.Enabled = cfg.SchedulerEnabled
	if cfg.SchedulerIntervalSeconds > 0 {
		out.RunInterval = time.Duration(cfg.SchedulerIntervalSeconds) * time.Second
	}
	out.EnabledJobs = cfg.SchedulerJobs
	return out
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.ReportLookback <= 0 {
		c.ReportLookback = defaults.ReportLookback
	}
	return c
}
