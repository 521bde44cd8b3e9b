package analytics

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chartgate/chartgate/internal/config"
	"github.com/chartgate/chartgate/pkg/logger"
)

// NewRedisClient connects to Redis and verifies connectivity.
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// RedisFlusher writes per-day outcome counts into a Redis hash:
// HINCRBY <prefix>:<day> <outcome> <n>.
type RedisFlusher struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
	log    *logger.Logger
}

// NewRedisFlusher creates a RedisFlusher. A non-positive ttl keeps keys forever.
func NewRedisFlusher(rdb redis.Cmdable, prefix string, ttl time.Duration, log *logger.Logger) *RedisFlusher {
	if log == nil {
		log = logger.Nop()
	}
	return &RedisFlusher{
		rdb:    rdb,
		prefix: strings.Trim(prefix, ":"),
		ttl:    ttl,
		log:    log,
	}
}

// Key returns the hash key for day.
func (f *RedisFlusher) Key(day string) string {
	return f.prefix + ":" + day
}

// FlushDecisions adds counts to the day's hash in one pipeline.
func (f *RedisFlusher) FlushDecisions(ctx context.Context, day string, counts map[string]int64) error {
	if len(counts) == 0 {
		return nil
	}

	key := f.Key(day)
	pipe := f.rdb.Pipeline()
	var total int64
	for outcome, n := range counts {
		pipe.HIncrBy(ctx, key, outcome, n)
		total += n
	}
	if f.ttl > 0 {
		pipe.Expire(ctx, key, f.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("flush decisions for %s: %w", day, err)
	}

	f.log.Debug("flushed admission decisions", "day", day, "outcomes", len(counts), "total", total)
	return nil
}

// DailyCounts reads back the outcome counts for day.
func (f *RedisFlusher) DailyCounts(ctx context.Context, day string) (map[string]int64, error) {
	raw, err := f.rdb.HGetAll(ctx, f.Key(day)).Result()
	if err != nil {
		return nil, fmt.Errorf("read decisions for %s: %w", day, err)
	}

	out := make(map[string]int64, len(raw))
	for outcome, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %s count %q: %w", outcome, v, err)
		}
		out[outcome] = n
	}
	return out, nil
}
