package gateway

import (
	"errors"
	"time"
)

// Config for the submission gateway.
type Config struct {
	// HeartbeatInterval is how often a generating row is touched while the
	// backend call is in flight.
	HeartbeatInterval time.Duration

	// Upsert retry policy for the initial "generating" write and terminal writes.
	WriteMaxTries        uint
	WriteInitialInterval time.Duration

	// AllowedRoutes restricts backend paths when non-empty.
	AllowedRoutes []string
}

func (c *Config) ApplyDefaults() {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = time.Minute
	}
	if c.WriteMaxTries == 0 {
		c.WriteMaxTries = 4
	}
	if c.WriteInitialInterval == 0 {
		c.WriteInitialInterval = time.Second
	}
}

func (c *Config) Validate() error {
	if c.HeartbeatInterval < 0 {
		return errors.New("heartbeat interval must be positive")
	}
	if c.WriteInitialInterval < 0 {
		return errors.New("write retry interval must be positive")
	}
	return nil
}
