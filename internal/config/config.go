// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"

	"vinefeed-server/internal/nostr"
)

// Config holds all runtime configuration for the feed server.
type Config struct {
	Port     int    `envconfig:"PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Relays is the comma-separated set of relay websocket URLs queried for
	// every feed request.
	Relays []string `envconfig:"RELAYS" default:"wss://relay.openvine.co"`

	// FunnelcakeURL is the optional REST accelerator base URL. Empty means
	// the relay network is the only source.
	FunnelcakeURL string `envconfig:"FUNNELCAKE_URL"`

	// RedisURL enables the Redis cache backend when set; otherwise an
	// in-memory backend is used.
	RedisURL string `envconfig:"REDIS_URL"`

	// DefaultFeedLimit applies when a request does not specify one.
	DefaultFeedLimit int `envconfig:"DEFAULT_FEED_LIMIT" default:"20"`

	// PopularFetchMultiplier widens the relay fallback query for popular
	// feeds so local engagement ranking has enough candidates.
	PopularFetchMultiplier int `envconfig:"POPULAR_FETCH_MULTIPLIER" default:"4"`
}

// Load reads configuration from the environment and normalizes relay URLs.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("loading config: %w", err)
	}

	relays := make([]string, 0, len(cfg.Relays))
	for _, r := range cfg.Relays {
		normalized := nostr.NormalizeRelayURL(strings.TrimSpace(r))
		if normalized == "" {
			return Config{}, fmt.Errorf("invalid relay URL %q", r)
		}
		relays = append(relays, normalized)
	}
	if len(relays) == 0 {
		return Config{}, fmt.Errorf("at least one relay URL is required")
	}
	cfg.Relays = relays

	return cfg, nil
}
