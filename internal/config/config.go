// Package config loads the service configuration from the environment,
// optionally seeded from a .env file during local development. Every
// setting is namespaced under REELGATE_.
package config

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config is the full service configuration.
type Config struct {
	Addr    string `env:"REELGATE_ADDR,default=:8080"`
	Mode    string `env:"REELGATE_MODE,default=development"`
	TLSCert string `env:"REELGATE_TLS_CERT"`
	TLSKey  string `env:"REELGATE_TLS_KEY"`

	LogLevel  string `env:"REELGATE_LOG_LEVEL,default=info"`
	LogFormat string `env:"REELGATE_LOG_FORMAT,default=json"`

	// KVBackend selects where identity keys persist: memory, redis, or
	// postgres.
	KVBackend       string `env:"REELGATE_KV_BACKEND,default=memory"`
	KVRedisAddr     string `env:"REELGATE_KV_REDIS_ADDR"`
	KVRedisUsername string `env:"REELGATE_KV_REDIS_USERNAME"`
	KVRedisPassword string `env:"REELGATE_KV_REDIS_PASSWORD"`
	KVRedisPrefix   string `env:"REELGATE_KV_REDIS_PREFIX,default=reelgate:identity"`
	KVPostgresDSN   string `env:"REELGATE_KV_POSTGRES_DSN"`

	CookieSecret string `env:"REELGATE_COOKIE_SECRET,required"`
	// SigningKeyPath points to a PEM-encoded P-256 private key used to sign
	// migration refresh JWTs. Required when the OAuth issuer is configured.
	SigningKeyPath string `env:"REELGATE_SIGNING_KEY"`

	// OAuthConfig is the issuer description, either inline JSON or a file
	// path. Empty disables the OAuth surface entirely.
	OAuthConfig string `env:"REELGATE_OAUTH_CONFIG"`

	CanisterGatewayURL string `env:"REELGATE_CANISTER_GATEWAY_URL,required"`

	FeedCleanURL          string `env:"REELGATE_FEED_CLEAN_URL,required"`
	FeedNSFWURL           string `env:"REELGATE_FEED_NSFW_URL,required"`
	FeedColdstartCleanURL string `env:"REELGATE_FEED_COLDSTART_CLEAN_URL,required"`
	FeedColdstartNSFWURL  string `env:"REELGATE_FEED_COLDSTART_NSFW_URL,required"`
	// HostNSFW force-enables mature content for dedicated NSFW deployments.
	HostNSFW bool `env:"REELGATE_HOST_NSFW,default=false"`

	FeedSessionIdle   time.Duration `env:"REELGATE_FEED_SESSION_IDLE,default=1h"`
	FeedPruneInterval time.Duration `env:"REELGATE_FEED_PRUNE_INTERVAL,default=15m"`

	RateGlobalRPS     float64       `env:"REELGATE_RATE_GLOBAL_RPS,default=0"`
	RateGlobalBurst   int           `env:"REELGATE_RATE_GLOBAL_BURST,default=0"`
	RateMintLimit     int           `env:"REELGATE_RATE_MINT_LIMIT,default=0"`
	RateMintWindow    time.Duration `env:"REELGATE_RATE_MINT_WINDOW,default=1m"`
	RateRedisAddr     string        `env:"REELGATE_RATE_REDIS_ADDR"`
	RateRedisPassword string        `env:"REELGATE_RATE_REDIS_PASSWORD"`
	RateRedisTimeout  time.Duration `env:"REELGATE_RATE_REDIS_TIMEOUT,default=2s"`

	// CORSOrigins is a semicolon-separated list of allowed origins.
	CORSOrigins []string `env:"REELGATE_CORS_ORIGINS"`
	// FrameAncestors overrides the frame-ancestors directive so the hosting
	// frontend can embed the feed surface.
	FrameAncestors string `env:"REELGATE_FRAME_ANCESTORS"`

	FeedDrainBatch     int `env:"REELGATE_FEED_DRAIN_BATCH,default=0"`
	FeedBufferLowWater int `env:"REELGATE_FEED_BUFFER_LOW_WATER,default=0"`
	FeedLookahead      int `env:"REELGATE_FEED_LOOKAHEAD,default=0"`
	FeedTrigger        int `env:"REELGATE_FEED_TRIGGER,default=0"`
	FeedGCWindow       int `env:"REELGATE_FEED_GC_WINDOW,default=0"`
	FeedMaxRenderSlots int `env:"REELGATE_FEED_MAX_RENDER_SLOTS,default=0"`
}

// Load reads the configuration from the environment. A non-empty envFile is
// loaded first; a missing default .env is not an error.
func Load(envFile string) (Config, error) {
	if strings.TrimSpace(envFile) != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	} else if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return Config{}, fmt.Errorf("load .env: %w", err)
		}
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate applies the cross-field rules envdecode cannot express.
func (c Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Mode)) {
	case "development", "production":
	default:
		return fmt.Errorf("unsupported mode %q", c.Mode)
	}
	switch strings.ToLower(strings.TrimSpace(c.KVBackend)) {
	case "memory":
		if strings.EqualFold(c.Mode, "production") {
			return errors.New("production mode requires a redis or postgres kv backend")
		}
	case "redis":
		if strings.TrimSpace(c.KVRedisAddr) == "" {
			return errors.New("redis kv backend selected without REELGATE_KV_REDIS_ADDR")
		}
	case "postgres":
		if strings.TrimSpace(c.KVPostgresDSN) == "" {
			return errors.New("postgres kv backend selected without REELGATE_KV_POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("unsupported kv backend %q", c.KVBackend)
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return errors.New("TLS requires both REELGATE_TLS_CERT and REELGATE_TLS_KEY")
	}
	if strings.TrimSpace(c.OAuthConfig) != "" && strings.TrimSpace(c.SigningKeyPath) == "" {
		return errors.New("OAuth issuer configured without REELGATE_SIGNING_KEY")
	}
	return nil
}

// SigningKey loads and parses the migration JWT signing key. Returns nil
// without error when no path is configured.
func (c Config) SigningKey() (*ecdsa.PrivateKey, error) {
	path := strings.TrimSpace(c.SigningKeyPath)
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signing key %s: %w", path, err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("signing key %s is not PEM encoded", path)
	}
	switch block.Type {
	case "EC PRIVATE KEY":
		key, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse signing key: %w", err)
		}
		return key, nil
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse signing key: %w", err)
		}
		key, ok := parsed.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("signing key %s is not an ECDSA key", path)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("unsupported signing key PEM block %q", block.Type)
	}
}
