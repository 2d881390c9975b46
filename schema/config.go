package schema

import "time"

// DefaultCommandTimeout bounds a command wait when the caller does not
// supply timeout_ms.
const DefaultCommandTimeout = 30 * time.Second

// MaxCommandTimeout caps caller-supplied timeouts.
const MaxCommandTimeout = 5 * time.Minute

// DefaultHistoryMax caps the diagnostics history lists.
const DefaultHistoryMax = 200

// DefaultHeartbeatInterval is the bridge liveness probe period.
const DefaultHeartbeatInterval = 5 * time.Second

// ServiceConfig controls daemon core behavior.
type ServiceConfig struct {
	DefaultTimeout    time.Duration
	MaxTimeout        time.Duration
	HistoryMax        int
	HeartbeatInterval time.Duration
}

// NormalizeServiceConfig fills zero fields with defaults.
func NormalizeServiceConfig(cfg ServiceConfig) ServiceConfig {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultCommandTimeout
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = MaxCommandTimeout
	}
	if cfg.HistoryMax <= 0 {
		cfg.HistoryMax = DefaultHistoryMax
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	return cfg
}
