// Command server is the ingest pipeline's supervisor (C7): it wires
// together the token cache, persistence layer, match manager, and HTTP
// endpoint, then runs until told to shut down.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dylantcon/countertrak-ingest/internal/audit"
	"github.com/dylantcon/countertrak-ingest/internal/config"
	_ "github.com/dylantcon/countertrak-ingest/internal/docs"
	"github.com/dylantcon/countertrak-ingest/internal/ingest"
	"github.com/dylantcon/countertrak-ingest/internal/match"
	"github.com/dylantcon/countertrak-ingest/internal/store"
	"github.com/dylantcon/countertrak-ingest/internal/tokencache"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "countertrak-ingest:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := newLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := store.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	log.Infow("store opened", "engine", cfg.DBEngine)

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warnw("redis unreachable at startup, continuing without warm tier", "error", err)
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	var auditSink *audit.Sink
	if cfg.ClickHouseURL != "" {
		auditSink, err = audit.Open(cfg.ClickHouseURL, log)
		if err != nil {
			log.Warnw("clickhouse audit sink disabled", "error", err)
			auditSink = nil
		} else {
			defer auditSink.Close()
		}
	}

	cache := tokencache.New(st, redisClient, cfg.TokenRefreshInterval, log)
	cache.RegisterLegacyToken(cfg.LegacyAuthToken)
	if err := initializeCacheWithRetry(ctx, cache, log); err != nil {
		return fmt.Errorf("initialize token cache: %w", err)
	}

	var sink match.AuditSink
	if auditSink != nil {
		sink = auditSink
	}
	manager := match.NewManager(st, sink, cfg.MatchIdleTimeout, log)

	stopRefresh := startTokenRefreshLoop(cache, cfg.TokenRefreshInterval, log)
	defer stopRefresh()

	rateLimiter := ingest.NewTokenRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst)
	defer rateLimiter.Stop()

	router := ingest.NewRouter(ingest.RouterConfig{
		Cache:          cache,
		Manager:        manager,
		Logger:         log,
		MaxBodyBytes:   cfg.RequestBodyMaxBytes,
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimiter:    rateLimiter,
	})

	srv := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.ListenHost, cfg.ListenPort),
		Handler:     router,
		ReadTimeout: cfg.ReadTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Infow("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-quit:
		log.Infow("shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("graceful shutdown failed", "error", err)
	}

	manager.Drain(shutdownCtx)

	log.Info("shutdown complete")
	return nil
}

// initializeCacheWithRetry blocks startup on the token cache's first load,
// with bounded retries so a transient DB hiccup at boot doesn't crash the
// process (spec.md §4.7 "startup sequence").
func initializeCacheWithRetry(ctx context.Context, cache *tokencache.Cache, log *zap.SugaredLogger) error {
	const attempts = 5
	var lastErr error
	for i := 0; i < attempts; i++ {
		// A failed first load still marks the cache initialized, so later
		// attempts reload through Refresh rather than Initialize.
		load := cache.Initialize
		if i > 0 {
			load = cache.Refresh
		}
		if err := load(ctx); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warnw("token cache initialization failed, retrying", "attempt", i+1, "error", err)
			time.Sleep(time.Duration(i+1) * time.Second)
		}
	}
	return lastErr
}

// startTokenRefreshLoop periodically refreshes the token cache in the
// background (spec.md §4.1 "periodic reload").
func startTokenRefreshLoop(cache *tokencache.Cache, interval time.Duration, log *zap.SugaredLogger) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				if err := cache.Refresh(ctx); err != nil {
					log.Warnw("periodic token cache refresh failed", "error", err)
				}
				cancel()
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

func newLogger(env, level string) (*zap.SugaredLogger, error) {
	var cfg zap.Config
	if env == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	if level != "" {
		var lvl zap.AtomicLevel
		if err := lvl.UnmarshalText([]byte(level)); err == nil {
			cfg.Level = lvl
		}
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}
