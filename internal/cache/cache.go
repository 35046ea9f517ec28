/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-backed cache of resolved track queries.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/jukebox/internal/models"
	"github.com/friendsincode/jukebox/internal/telemetry"
)

// DefaultResolveTTL keeps resolutions for a day to save resolver quota.
const DefaultResolveTTL = 24 * time.Hour

// Key prefixes for Redis cache
const (
	KeyPrefix  = "jukebox:cache:"
	KeyResolve = KeyPrefix + "resolve:" // + normalized query
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ResolveTTL time.Duration

	// Fallback behavior
	DisableOnError bool // If true, disable caching on Redis errors
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		ResolveTTL:     DefaultResolveTTL,
		DisableOnError: true,
	}
}

// Cache provides Redis-backed caching with graceful fallback. A nil *Cache
// behaves like a disabled one.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool
}

// New creates a new cache instance. An unreachable Redis yields a disabled
// cache rather than an error.
func New(cfg Config, logger zerolog.Logger) *Cache {
	if cfg.ResolveTTL <= 0 {
		cfg.ResolveTTL = DefaultResolveTTL
	}
	logger = logger.With().Str("component", "cache").Logger()

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		_ = client.Close()
		return &Cache{logger: logger, config: cfg, disabled: true}
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")
	return &Cache{client: client, logger: logger, config: cfg}
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

func (c *Cache) handleError(err error, operation string) {
	if err == nil || errors.Is(err, redis.Nil) {
		return
	}

	telemetry.UpstreamErrorsTotal.WithLabelValues("cache").Inc()
	c.logger.Warn().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

// ResolveKey maps a query to its cache key; case and surrounding whitespace
// are ignored.
func ResolveKey(query string) string {
	return KeyResolve + strings.ToLower(strings.Join(strings.Fields(query), " "))
}

// GetResolved returns the cached track for query.
func (c *Cache) GetResolved(ctx context.Context, query string) (*models.Track, bool) {
	if !c.IsAvailable() {
		return nil, false
	}

	data, err := c.client.Get(ctx, ResolveKey(query)).Bytes()
	if errors.Is(err, redis.Nil) {
		telemetry.CacheRequestsTotal.WithLabelValues("miss").Inc()
		return nil, false
	}
	if err != nil {
		c.handleError(err, "get")
		return nil, false
	}

	var track models.Track
	if err := json.Unmarshal(data, &track); err != nil || track.ID == "" {
		c.logger.Debug().Err(err).Str("query", query).Msg("discarding unreadable cached resolution")
		telemetry.CacheRequestsTotal.WithLabelValues("miss").Inc()
		return nil, false
	}

	telemetry.CacheRequestsTotal.WithLabelValues("hit").Inc()
	return &track, true
}

// SetResolved stores the resolution of query.
func (c *Cache) SetResolved(ctx context.Context, query string, track models.Track) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(track)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, ResolveKey(query), data, c.config.ResolveTTL).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}
	return nil
}

// FlushAll removes all cached data.
func (c *Cache) FlushAll(ctx context.Context) error {
	if !c.IsAvailable() {
		return nil
	}

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, KeyPrefix+"*", 100).Result()
		if err != nil {
			c.handleError(err, "scan")
			return err
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.handleError(err, "delete_batch")
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
