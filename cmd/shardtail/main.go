// shardtail connects one gateway shard and streams dispatched events to the
// console.
// Usage: go run ./cmd/shardtail --config configs/bot.example.yaml
//
// The config token field supports env expansion, so a minimal config is:
//
//	token: ${BOT_TOKEN}
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/concordlib/concord/internal/buckets"
	"github.com/concordlib/concord/internal/config"
	"github.com/concordlib/concord/internal/gateway"
	"github.com/concordlib/concord/internal/rest"
	"github.com/concordlib/concord/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/bot.example.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print full event JSON")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	// Setup logger
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	// Load config
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	// One bucket manager shared by every REST consumer in the process.
	limits := buckets.NewManager(cfg.Rest.MaxRateLimitWait, logger)
	apiClient := rest.NewClient(cfg.Token,
		rest.WithBaseURL(cfg.Rest.BaseURL),
		rest.WithTimeout(cfg.Rest.Timeout),
		rest.WithRetries(cfg.Rest.MaxRetries),
		rest.WithBucketManager(limits),
		rest.WithLogger(logger),
	)
	defer limits.Close()

	gatewayURL := cfg.Gateway.URL
	if gatewayURL == "" {
		info, err := apiClient.GetGatewayBot(ctx)
		if err != nil {
			logger.Error("failed to discover gateway url", "error", err)
			os.Exit(1)
		}
		gatewayURL = info.URL
		logger.Info("discovered gateway",
			"url", info.URL,
			"recommended_shards", info.Shards,
			"identifies_remaining", info.SessionStartLimit.Remaining,
		)
	}

	shard, err := gateway.NewShard(gateway.Config{
		Token:            cfg.Token,
		URL:              gatewayURL,
		Version:          cfg.Gateway.Version,
		Compress:         cfg.Gateway.Compress,
		Intents:          gateway.Intents(cfg.Gateway.Intents),
		LargeThreshold:   cfg.Gateway.LargeThreshold,
		ShardID:          cfg.Gateway.ShardID,
		ShardCount:       cfg.Gateway.ShardCount,
		HandshakeTimeout: cfg.Gateway.HandshakeTimeout,
		BackoffBase:      cfg.Reconnect.BackoffBase,
		BackoffMax:       cfg.Reconnect.BackoffMax,
		Logger:           logger,
		Handler: func(s *gateway.Shard, event string, data json.RawMessage) {
			if *verbose {
				logger.Info("event", "type", event, "seq", s.Seq(), "data", string(data))
			} else {
				logger.Info("event", "type", event, "seq", s.Seq())
			}
		},
	})
	if err != nil {
		logger.Error("failed to build shard", "error", err)
		os.Exit(1)
	}

	logger.Info("starting shard",
		"version", version.String(),
		"shard_id", cfg.Gateway.ShardID,
		"shard_count", cfg.Gateway.ShardCount,
	)
	if err := shard.Start(ctx); err != nil {
		logger.Error("shard failed to start", "error", err)
		os.Exit(1)
	}
	logger.Info("shard is ready", "latency", shard.Latency())

	if err := shard.Join(); err != nil {
		logger.Error("shard terminated", "error", err)
		os.Exit(1)
	}
	logger.Info("shard shut down cleanly")
}
