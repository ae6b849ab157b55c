package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *BotConfig) Validate() error {
	if c.Token == "" {
		return errors.New("token is required")
	}

	if c.Gateway.Version < 6 {
		return fmt.Errorf("gateway.version must be >= 6, got %d", c.Gateway.Version)
	}
	if c.Gateway.ShardCount < 1 {
		return errors.New("gateway.shard_count must be >= 1")
	}
	if c.Gateway.ShardID < 0 || c.Gateway.ShardID >= c.Gateway.ShardCount {
		return fmt.Errorf("gateway.shard_id must be in [0, %d), got %d",
			c.Gateway.ShardCount, c.Gateway.ShardID)
	}
	if c.Gateway.LargeThreshold < 50 || c.Gateway.LargeThreshold > 250 {
		return fmt.Errorf("gateway.large_threshold must be between 50 and 250, got %d",
			c.Gateway.LargeThreshold)
	}

	if c.Rest.MaxRetries < 0 {
		return errors.New("rest.max_retries must be >= 0")
	}
	if c.Rest.MaxRateLimitWait <= 0 {
		return errors.New("rest.max_rate_limit_wait must be > 0")
	}

	if c.Reconnect.BackoffBase <= 1 {
		return fmt.Errorf("reconnect.backoff_base must be > 1, got %v", c.Reconnect.BackoffBase)
	}
	if c.Reconnect.BackoffMax <= 0 {
		return errors.New("reconnect.backoff_max must be > 0")
	}

	return nil
}
