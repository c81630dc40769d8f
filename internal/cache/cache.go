// Package cache is a thin JSON layer over Redis. Values are best-effort;
// every reader must tolerate a miss.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mitsukisegondconpte/Supetelebot/internal/domain"
)

var ErrMiss = errors.New("cache: miss")

const (
	keyStats      = "bot:stats"
	keyPGNPrefix  = "bot:pgn:"
	defaultExpiry = 30 * time.Second
	pgnExpiry     = 10 * time.Minute
)

type Cache struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Cache { return &Cache{rdb: rdb} }

// NewFromURL dials Redis from a redis:// URL and verifies the connection.
func NewFromURL(ctx context.Context, url string) (*Cache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Cache{rdb: rdb}, nil
}

func (c *Cache) Close() error { return c.rdb.Close() }

func (c *Cache) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.rdb.Set(ctx, key, raw, ttl).Err()
}

func (c *Cache) getJSON(ctx context.Context, key string, v any) error {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// SetStats stores a snapshot for the monitor's polling endpoints.
func (c *Cache) SetStats(ctx context.Context, st domain.SystemStats) error {
	return c.setJSON(ctx, keyStats, st, defaultExpiry)
}

func (c *Cache) Stats(ctx context.Context) (domain.SystemStats, error) {
	var st domain.SystemStats
	if err := c.getJSON(ctx, keyStats, &st); err != nil {
		return domain.SystemStats{}, err
	}
	return st, nil
}

// SetPGN caches a rendered export. Finished games never change, so the
// generous TTL is safe.
func (c *Cache) SetPGN(ctx context.Context, gameID int64, pgn string) error {
	return c.rdb.Set(ctx, fmt.Sprintf("%s%d", keyPGNPrefix, gameID), pgn, pgnExpiry).Err()
}

func (c *Cache) PGN(ctx context.Context, gameID int64) (string, error) {
	raw, err := c.rdb.Get(ctx, fmt.Sprintf("%s%d", keyPGNPrefix, gameID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return raw, err
}

// InvalidatePGN drops a cached export after the game state changes.
func (c *Cache) InvalidatePGN(ctx context.Context, gameID int64) error {
	return c.rdb.Del(ctx, fmt.Sprintf("%s%d", keyPGNPrefix, gameID)).Err()
}
