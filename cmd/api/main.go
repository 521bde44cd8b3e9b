// Package main is the entry point for the chartgate API server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chartgate/chartgate/internal/analytics"
	"github.com/chartgate/chartgate/internal/audit"
	"github.com/chartgate/chartgate/internal/clock"
	"github.com/chartgate/chartgate/internal/config"
	"github.com/chartgate/chartgate/internal/database"
	"github.com/chartgate/chartgate/internal/privilege"
	"github.com/chartgate/chartgate/internal/proxy"
	"github.com/chartgate/chartgate/internal/ratelimit"
	"github.com/chartgate/chartgate/internal/server"
	"github.com/chartgate/chartgate/pkg/logger"
)

// throttleSweep is how often idle login limiters are evicted.
const throttleSweep = time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(os.Stdout, cfg.App.LogLevel)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.SystemClock{}

	gate, err := ratelimit.New(ratelimit.Config{
		ClientLimit: cfg.Rate.ClientRequests,
		Window:      cfg.Rate.ClientWindow,
		DailyLimit:  cfg.Rate.DailyRequests,
	}, ratelimit.WithClock(clk), ratelimit.WithLogger(log))
	if err != nil {
		return fmt.Errorf("failed to create admission gate: %w", err)
	}

	guard, err := privilege.NewGuard(privilege.Config{
		Secret:     cfg.Admin.Password,
		SigningKey: []byte(cfg.Admin.TokenSecret),
		TokenTTL:   cfg.Admin.TokenTTL,
	}, clk)
	if err != nil {
		return fmt.Errorf("failed to create privilege guard: %w", err)
	}
	if guard.Enabled() && cfg.Admin.TokenSecret == "" {
		if cfg.App.IsDevelopment() {
			log.Info("ADMIN_TOKEN_SECRET not set, capability tokens will not survive a restart")
		} else {
			log.Warn("ADMIN_TOKEN_SECRET not set, capability tokens will not survive a restart or be shared across instances")
		}
	}

	throttle := privilege.NewThrottle(cfg.Admin.LoginRate, cfg.Admin.LoginBurst, privilege.WithThrottleClock(clk))
	throttle.StartJanitor(ctx, throttleSweep)

	upstream, err := proxy.New(cfg.Upstream, log)
	if err != nil {
		return fmt.Errorf("failed to create upstream proxy: %w", err)
	}
	if !upstream.HasAPIKey() {
		log.Warn("OPENAI_API_KEY not set, upstream calls will fail")
	}

	deps := server.Deps{
		Clock:     clk,
		Gate:      gate,
		Guard:     guard,
		Throttle:  throttle,
		Proxy:     upstream,
		Audit:     audit.NewLogRecorder(log),
		Decisions: analytics.NopRecorder{},
	}

	var checks []namedCheck

	if cfg.DatabaseEnabled() {
		pool, err := database.NewPool(ctx, &cfg.Database)
		if err != nil {
			return err
		}
		defer pool.Close()

		applied, err := database.EnsureSchema(ctx, pool)
		if err != nil {
			return fmt.Errorf("failed to migrate audit schema: %w", err)
		}
		log.Info("audit database connected", "host", cfg.Database.Host, "migrations_applied", applied)

		deps.Audit = audit.Multi{deps.Audit, audit.NewPostgresRecorder(pool, log)}
		checks = append(checks, namedCheck{"database", pool.HealthCheck})
	}

	if cfg.AnalyticsEnabled() {
		rdb, err := analytics.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()

		flusher := analytics.NewRedisFlusher(rdb, cfg.Analytics.KeyPrefix, cfg.Analytics.TTL, log)
		counter := analytics.NewDecisionCounter(analytics.Config{
			FlushInterval: cfg.Analytics.FlushInterval,
			BatchSize:     cfg.Analytics.BatchSize,
		}, flusher, analytics.WithClock(clk), analytics.WithLogger(log))
		defer func() {
			counter.Stop()
			if n := counter.Dropped(); n > 0 {
				log.Warn("admission decisions dropped", "count", n)
			}
		}()

		deps.Decisions = counter
		deps.History = flusher
		checks = append(checks, namedCheck{"redis", redisCheck(rdb)})
		log.Info("decision analytics enabled", "host", cfg.Redis.Host, "prefix", cfg.Analytics.KeyPrefix)
	}

	srv := server.New(cfg, log, deps)
	for _, c := range checks {
		srv.HealthHandler().AddCheck(c.name, c.check)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

type namedCheck struct {
	name  string
	check func(context.Context) error
}

func redisCheck(rdb *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}
