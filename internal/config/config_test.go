package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
token: tok-123
gateway:
  url: wss://gateway.example
  compress: true
  intents: 513
  shard_id: 2
  shard_count: 4
rest:
  base_url: https://api.example/v10
  timeout: 5s
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Token != "tok-123" {
		t.Errorf("Token = %q, want %q", cfg.Token, "tok-123")
	}
	if cfg.Gateway.URL != "wss://gateway.example" {
		t.Errorf("Gateway.URL = %q", cfg.Gateway.URL)
	}
	if !cfg.Gateway.Compress {
		t.Error("Gateway.Compress = false, want true")
	}
	if cfg.Gateway.Intents != 513 {
		t.Errorf("Gateway.Intents = %d, want 513", cfg.Gateway.Intents)
	}
	if cfg.Gateway.ShardID != 2 || cfg.Gateway.ShardCount != 4 {
		t.Errorf("shard = %d/%d, want 2/4", cfg.Gateway.ShardID, cfg.Gateway.ShardCount)
	}
	if cfg.Rest.Timeout != 5*time.Second {
		t.Errorf("Rest.Timeout = %v, want 5s", cfg.Rest.Timeout)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_BOT_TOKEN", "secret123")

	yaml := `
token: ${TEST_BOT_TOKEN}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Token != "secret123" {
		t.Errorf("Token = %q, want %q", cfg.Token, "secret123")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
token: tok-123
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Gateway.Version != DefaultGatewayVersion {
		t.Errorf("Gateway.Version = %d, want %d", cfg.Gateway.Version, DefaultGatewayVersion)
	}
	if cfg.Gateway.LargeThreshold != DefaultLargeThreshold {
		t.Errorf("Gateway.LargeThreshold = %d, want %d", cfg.Gateway.LargeThreshold, DefaultLargeThreshold)
	}
	if cfg.Gateway.ShardCount != DefaultShardCount {
		t.Errorf("Gateway.ShardCount = %d, want %d", cfg.Gateway.ShardCount, DefaultShardCount)
	}
	if cfg.Rest.BaseURL != DefaultRestURL {
		t.Errorf("Rest.BaseURL = %q, want %q", cfg.Rest.BaseURL, DefaultRestURL)
	}
	if cfg.Rest.MaxRateLimitWait != DefaultMaxRateLimitWait {
		t.Errorf("Rest.MaxRateLimitWait = %v, want %v", cfg.Rest.MaxRateLimitWait, DefaultMaxRateLimitWait)
	}
	if cfg.Reconnect.BackoffBase != DefaultBackoffBase {
		t.Errorf("Reconnect.BackoffBase = %v, want %v", cfg.Reconnect.BackoffBase, DefaultBackoffBase)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *BotConfig {
		cfg := &BotConfig{Token: "tok"}
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*BotConfig)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(c *BotConfig) {},
		},
		{
			name:    "missing token",
			mutate:  func(c *BotConfig) { c.Token = "" },
			wantErr: "token is required",
		},
		{
			name:    "shard id out of range",
			mutate:  func(c *BotConfig) { c.Gateway.ShardID = 1 },
			wantErr: "gateway.shard_id must be in [0, 1), got 1",
		},
		{
			name:    "ancient gateway version",
			mutate:  func(c *BotConfig) { c.Gateway.Version = 4 },
			wantErr: "gateway.version must be >= 6, got 4",
		},
		{
			name:    "large threshold too small",
			mutate:  func(c *BotConfig) { c.Gateway.LargeThreshold = 10 },
			wantErr: "gateway.large_threshold must be between 50 and 250, got 10",
		},
		{
			name:    "backoff base not exponential",
			mutate:  func(c *BotConfig) { c.Reconnect.BackoffBase = 1 },
			wantErr: "reconnect.backoff_base must be > 1, got 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
