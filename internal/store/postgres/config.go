package postgres

import (
	"fmt"
	"time"
)

// JobStoreConfig holds job-specific configuration for the PostgreSQL job store.
// Pool configuration is handled separately via PoolConfig.
type JobStoreConfig struct {
	// QueryTimeout bounds each store query on top of the caller's context.
	// Default: 10s. Negative disables the extra timeout.
	QueryTimeout time.Duration

	// NotifyChannel is the LISTEN/NOTIFY channel the gen_jobs trigger publishes to.
	// Default: gen_jobs_changes (must match the migration)
	NotifyChannel string

	// SubscriberBuffer is the per-subscriber change buffer.
	// Default: 64
	SubscriberBuffer int

	// ReconnectMaxInterval caps the listener's reconnect backoff.
	// Default: 30s
	ReconnectMaxInterval time.Duration

	// PoolStatsInterval is how often pool statistics are logged at debug level.
	// Default: 30s
	PoolStatsInterval time.Duration
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *JobStoreConfig) ApplyDefaults() {
	if c.QueryTimeout == 0 {
		c.QueryTimeout = 10 * time.Second
	}
	if c.NotifyChannel == "" {
		c.NotifyChannel = DefaultNotifyChannel
	}
	if c.SubscriberBuffer == 0 {
		c.SubscriberBuffer = 64
	}
	if c.ReconnectMaxInterval == 0 {
		c.ReconnectMaxInterval = 30 * time.Second
	}
	if c.PoolStatsInterval == 0 {
		c.PoolStatsInterval = 30 * time.Second
	}
}

// Validate checks that the configuration is valid.
func (c *JobStoreConfig) Validate() error {
	if c.SubscriberBuffer < 0 {
		return fmt.Errorf("subscriber buffer must not be negative")
	}
	if c.ReconnectMaxInterval < 0 {
		return fmt.Errorf("reconnect max interval must not be negative")
	}
	return nil
}
