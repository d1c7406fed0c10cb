package scheduler

import (
	"time"

	"github.com/smallbiznis/tiergate/internal/config"
)

// Config controls scheduler cadence and job execution limits.
type Config struct {
	TickInterval time.Duration
	JobTimeout   time.Duration

	// MisfireGrace bounds how late a due slot may still fire. A slot
	// missed by more than the grace is skipped, never replayed.
	MisfireGrace time.Duration

	// EnabledJobs limits which jobs run; empty enables all.
	EnabledJobs []string

	// LockTTL caps how long a replica may hold the cross-replica job lock.
	LockTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		TickInterval: time.Minute,
		JobTimeout:   10 * time.Minute,
		MisfireGrace: 5 * time.Minute,
		LockTTL:      15 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.TickInterval <= 0 {
		c.TickInterval = defaults.TickInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.MisfireGrace <= 0 {
		c.MisfireGrace = defaults.MisfireGrace
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		TickInterval: cfg.SchedulerTickInterval,
		JobTimeout:   cfg.SchedulerJobTimeout,
		MisfireGrace: cfg.MisfireGrace,
		EnabledJobs:  cfg.SchedulerEnabledJobs,
	}.withDefaults()
}
