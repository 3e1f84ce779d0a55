package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vinefeed-server/internal/cache"
	"vinefeed-server/internal/config"
	"vinefeed-server/internal/funnelcake"
	"vinefeed-server/internal/videos"
)

var (
	_ videos.NostrClient      = (*RelayClient)(nil)
	_ videos.FunnelcakeClient = (*funnelcake.Client)(nil)
	_ videos.EventStore       = (*cache.EventStore)(nil)
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	InitLogger(cfg.LogLevel)

	backend, backendType := newCacheBackend(cfg)
	defer backend.Close()

	eventStore := cache.NewEventStore(backend, cache.DefaultCacheConfig().EventTTL)
	fc := funnelcake.NewClient(cfg.FunnelcakeURL)

	pool := NewRelayPool()
	defer pool.Close()

	eventCache := NewEventCache(500)
	defer eventCache.Close()

	relayClient := NewRelayClient(cfg.Relays, pool, eventCache)

	repo := videos.NewRepository(relayClient,
		videos.WithFunnelcake(fc),
		videos.WithEventStore(eventStore),
		videos.WithFetchMultiplier(cfg.PopularFetchMultiplier),
	)

	srv := &Server{
		cfg:              cfg,
		repo:             repo,
		funnelcake:       fc,
		relayPool:        pool,
		statsBatcher:     newStatsBatcher(repo),
		cacheBackendType: backendType,
		startTime:        time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/feeds/new", srv.newFeedHandler)
	mux.HandleFunc("/feeds/home", srv.homeFeedHandler)
	mux.HandleFunc("/feeds/popular", srv.popularFeedHandler)
	mux.HandleFunc("/feeds/profile/", srv.profileFeedHandler)
	mux.HandleFunc("/feeds/collab/", srv.collabFeedHandler)
	mux.HandleFunc("/feeds/loops", srv.loopsFeedHandler)
	mux.HandleFunc("/feeds/classics", srv.classicsFeedHandler)
	mux.HandleFunc("/feeds/hashtag/", srv.hashtagFeedHandler)
	mux.HandleFunc("/videos", srv.videosByIDsHandler)
	mux.HandleFunc("/videos/addressable", srv.addressableVideosHandler)
	mux.HandleFunc("/videos/list", srv.listVideosHandler)
	mux.HandleFunc("/videos/", srv.videoHandler)
	mux.HandleFunc("/search", srv.searchHandler)
	mux.HandleFunc("/recommendations/", srv.recommendationsHandler)
	mux.HandleFunc("/health", srv.healthHandler)
	mux.HandleFunc("/metrics", srv.metricsHandler)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      RequestLoggingMiddleware(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting",
			"port", cfg.Port,
			"relays", cfg.Relays,
			"cache_backend", backendType,
			"funnelcake", cfg.FunnelcakeURL != "")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown failed", "error", err)
	}
}

// newCacheBackend selects Redis when configured, falling back to the
// in-memory backend on connection failure so the server still comes up.
func newCacheBackend(cfg config.Config) (cache.CacheBackend, string) {
	if cfg.RedisURL != "" {
		redisCache, err := cache.NewRedisCache(cfg.RedisURL, "vinefeed")
		if err == nil {
			return redisCache, "redis"
		}
		slog.Warn("redis unavailable, using in-memory cache", "error", err)
	}
	return cache.NewMemoryCache(10000, time.Minute), "memory"
}
