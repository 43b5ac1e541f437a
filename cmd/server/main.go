// Command server starts the Reelgate identity and feed HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"reelgate/internal/api"
	"reelgate/internal/auth/oauth"
	"reelgate/internal/canisters"
	"reelgate/internal/config"
	"reelgate/internal/feed"
	"reelgate/internal/kv"
	"reelgate/internal/observability/logging"
	"reelgate/internal/observability/metrics"
	"reelgate/internal/ranking"
	"reelgate/internal/server"
	"reelgate/internal/session"
)

func main() {
	envFile := flag.String("env", "", "path to a .env file loaded before the environment")
	addr := flag.String("addr", "", "HTTP listen address (overrides REELGATE_ADDR)")
	logLevel := flag.String("log-level", "", "log level (overrides REELGATE_LOG_LEVEL)")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	recorder := metrics.Default()

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, closeStore, err := openKVStore(bootCtx, cfg)
	bootCancel()
	if err != nil {
		logger.Error("failed to open kv store", "backend", cfg.KVBackend, "error", err)
		os.Exit(1)
	}

	canisterClient, err := canisters.NewHTTPClient(canisters.HTTPClientConfig{BaseURL: cfg.CanisterGatewayURL})
	if err != nil {
		logger.Error("failed to configure canister gateway", "error", err)
		os.Exit(1)
	}

	var oauthClient *oauth.Client
	oauthCfg, err := oauth.LoadConfig(cfg.OAuthConfig)
	if err != nil {
		logger.Error("failed to load oauth config", "error", err)
		os.Exit(1)
	}
	if oauthCfg.Enabled() {
		oauthClient, err = oauth.NewClient(oauthCfg)
		if err != nil {
			logger.Error("failed to configure oauth client", "error", err)
			os.Exit(1)
		}
	}

	signingKey, err := cfg.SigningKey()
	if err != nil {
		logger.Error("failed to load signing key", "error", err)
		os.Exit(1)
	}

	sessions, err := session.NewManager(session.Config{
		KV:           store,
		Canisters:    canisterClient,
		OAuth:        oauthClient,
		SigningKey:   signingKey,
		CookieSecret: cfg.CookieSecret,
		Logger:       logging.WithComponent(logger, "session"),
	})
	if err != nil {
		logger.Error("failed to configure session manager", "error", err)
		os.Exit(1)
	}

	source, err := ranking.NewHTTPSource(ranking.HTTPSourceConfig{
		CleanURL:          cfg.FeedCleanURL,
		NSFWURL:           cfg.FeedNSFWURL,
		ColdstartCleanURL: cfg.FeedColdstartCleanURL,
		ColdstartNSFWURL:  cfg.FeedColdstartNSFWURL,
	})
	if err != nil {
		logger.Error("failed to configure ranking source", "error", err)
		os.Exit(1)
	}
	fetcher, err := feed.NewFetcher(feed.FetcherConfig{
		Source:    source,
		Canisters: canisterClient,
		HostNSFW:  cfg.HostNSFW,
		Logger:    logging.WithComponent(logger, "feed-fetcher"),
	})
	if err != nil {
		logger.Error("failed to configure feed fetcher", "error", err)
		os.Exit(1)
	}
	registry, err := feed.NewRegistry(feed.RegistryConfig{
		Fetcher:  fetcher,
		Tunables: feedTunables(cfg),
		Logger:   logging.WithComponent(logger, "feed"),
		Metrics:  recorder,
	})
	if err != nil {
		logger.Error("failed to configure feed registry", "error", err)
		os.Exit(1)
	}

	handler := api.NewHandler(api.HandlerConfig{
		Sessions: sessions,
		Feeds:    registry,
		KV:       store,
		Metrics:  recorder,
		Logger:   logging.WithComponent(logger, "api"),
	})

	srv, err := server.New(handler, server.Config{
		Addr: cfg.Addr,
		TLS:  server.TLSConfig{CertFile: cfg.TLSCert, KeyFile: cfg.TLSKey},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:     cfg.RateGlobalRPS,
			GlobalBurst:   cfg.RateGlobalBurst,
			MintLimit:     cfg.RateMintLimit,
			MintWindow:    cfg.RateMintWindow,
			RedisAddr:     cfg.RateRedisAddr,
			RedisPassword: cfg.RateRedisPassword,
			RedisTimeout:  cfg.RateRedisTimeout,
		},
		CORS:     server.CORSConfig{AllowedOrigins: cfg.CORSOrigins},
		Security: server.SecurityConfig{FrameAncestors: cfg.FrameAncestors},
		Logger:   logger,
		Metrics:  recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	pruneStop := startFeedPruneWorker(workerCtx, logging.WithComponent(logger, "feed-pruner"), feedPruner{registry: registry, recorder: recorder}, cfg.FeedPruneInterval, cfg.FeedSessionIdle)
	defer pruneStop()

	errs := make(chan error, 1)
	go func() {
		logger.Info("reelgate API listening", "addr", cfg.Addr, "mode", cfg.Mode)
		if cfg.TLSCert != "" && cfg.TLSKey != "" {
			logger.Info("TLS enabled", "cert_file", cfg.TLSCert)
		}
		logger.Info("metrics endpoint available", "path", "/metrics")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errs:
		logger.Error("server error", "error", err)
	}

	workerCancel()
	pruneStop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
	if closeStore != nil {
		if err := closeStore(ctx); err != nil {
			logger.Warn("failed to close kv store", "error", err)
		}
	}

	logger.Info("server stopped")
}

// openKVStore builds the configured identity key store and a closer bound
// to its backend.
func openKVStore(ctx context.Context, cfg config.Config) (kv.Store, func(context.Context) error, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.KVBackend)) {
	case "memory":
		return kv.NewMemoryStore(), nil, nil
	case "redis":
		store, err := kv.NewRedisStore(kv.RedisConfig{
			Addr:      cfg.KVRedisAddr,
			Username:  cfg.KVRedisUsername,
			Password:  cfg.KVRedisPassword,
			KeyPrefix: cfg.KVRedisPrefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func(context.Context) error { return store.Close() }, nil
	case "postgres":
		store, err := kv.NewPostgresStore(ctx, cfg.KVPostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported kv backend %q", cfg.KVBackend)
	}
}

func feedTunables(cfg config.Config) feed.Tunables {
	return feed.Tunables{
		DrainBatch:            cfg.FeedDrainBatch,
		BufferLowWater:        cfg.FeedBufferLowWater,
		DirectInsertLookahead: cfg.FeedLookahead,
		TriggerThreshold:      cfg.FeedTrigger,
		GCTrailingWindow:      cfg.FeedGCWindow,
		MaxRenderSlots:        cfg.FeedMaxRenderSlots,
	}
}

// feedPruner adapts the registry to the prune worker and keeps the session
// gauge in step with evictions.
type feedPruner struct {
	registry *feed.Registry
	recorder *metrics.Recorder
}

func (p feedPruner) PruneIdle(maxIdle time.Duration) int {
	pruned := p.registry.Prune(maxIdle)
	for range pruned {
		p.recorder.FeedSessionClosed()
	}
	return pruned
}
