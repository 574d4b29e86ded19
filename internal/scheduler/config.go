package scheduler

import (
	"time"

	"github.com/smallbiznis/salestax/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	Enabled     bool
	RunInterval time.Duration
	BatchSize   int
	Lookback    time.Duration
	JobTimeout  time.Duration
	LockTTL     time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval: time.Minute,
		BatchSize:   50,
		Lookback:    72 * time.Hour,
		JobTimeout:  5 * time.Minute,
		LockTTL:     config.DefaultLockTTL,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.Lookback <= 0 {
		c.Lookback = defaults.Lookback
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:     cfg.Scheduler.Enabled,
		RunInterval: cfg.Scheduler.RunInterval,
		BatchSize:   cfg.Scheduler.BatchSize,
		Lookback:    cfg.Scheduler.Lookback,
		LockTTL:     cfg.Lock.TTL,
	}.withDefaults()
}
