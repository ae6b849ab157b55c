package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRestURL          = "https://discord.com/api/v10"
	DefaultGatewayVersion   = 10
	DefaultLargeThreshold   = 250
	DefaultShardCount       = 1
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultRestTimeout      = 30 * time.Second
	DefaultMaxRetries       = 3
	DefaultMaxRateLimitWait = 5 * time.Minute
	DefaultBackoffBase      = 1.85
	DefaultBackoffMax       = 10 * time.Minute
)

func (c *BotConfig) applyDefaults() {
	// Gateway defaults
	if c.Gateway.Version == 0 {
		c.Gateway.Version = DefaultGatewayVersion
	}
	if c.Gateway.LargeThreshold == 0 {
		c.Gateway.LargeThreshold = DefaultLargeThreshold
	}
	if c.Gateway.ShardCount == 0 {
		c.Gateway.ShardCount = DefaultShardCount
	}
	if c.Gateway.HandshakeTimeout == 0 {
		c.Gateway.HandshakeTimeout = DefaultHandshakeTimeout
	}

	// Rest defaults
	if c.Rest.BaseURL == "" {
		c.Rest.BaseURL = DefaultRestURL
	}
	if c.Rest.Timeout == 0 {
		c.Rest.Timeout = DefaultRestTimeout
	}
	if c.Rest.MaxRetries == 0 {
		c.Rest.MaxRetries = DefaultMaxRetries
	}
	if c.Rest.MaxRateLimitWait == 0 {
		c.Rest.MaxRateLimitWait = DefaultMaxRateLimitWait
	}

	// Reconnect defaults
	if c.Reconnect.BackoffBase == 0 {
		c.Reconnect.BackoffBase = DefaultBackoffBase
	}
	if c.Reconnect.BackoffMax == 0 {
		c.Reconnect.BackoffMax = DefaultBackoffMax
	}
}
