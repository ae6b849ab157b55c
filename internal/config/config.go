package config

import "time"

// BotConfig is the root configuration for a bot process.
type BotConfig struct {
	Token     string          `yaml:"token"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Rest      RestConfig      `yaml:"rest"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// GatewayConfig holds gateway connection settings.
type GatewayConfig struct {
	URL              string        `yaml:"url"` // empty = discover via the REST API
	Version          int           `yaml:"version"`
	Compress         bool          `yaml:"compress"`
	Intents          uint64        `yaml:"intents"`
	LargeThreshold   int           `yaml:"large_threshold"`
	ShardID          int           `yaml:"shard_id"`
	ShardCount       int           `yaml:"shard_count"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

// RestConfig holds REST API client settings.
type RestConfig struct {
	BaseURL          string        `yaml:"base_url"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxRetries       int           `yaml:"max_retries"`
	MaxRateLimitWait time.Duration `yaml:"max_rate_limit_wait"`
}

// ReconnectConfig holds reconnect pacing settings.
type ReconnectConfig struct {
	BackoffBase float64       `yaml:"backoff_base"`
	BackoffMax  time.Duration `yaml:"backoff_max"`
}
