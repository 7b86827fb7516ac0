package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/andresuchdata/metadata-pipeline/internal/config"
	"github.com/andresuchdata/metadata-pipeline/internal/domain"
)

const (
	knowledgeGraphKeyPrefix = "kg:entity:"
	defaultCacheTTL         = time.Hour
	pingTimeout             = 5 * time.Second
)

// KnowledgeGraphCache stores knowledge-graph entities by id between runs.
type KnowledgeGraphCache interface {
	// Get splits ids into cached entities and the ids still to look up.
	Get(ctx context.Context, ids []string) (map[string]domain.KnowledgeGraphEntity, []string, error)
	Set(ctx context.Context, entities []domain.KnowledgeGraphEntity) error
	Close() error
}

type redisKnowledgeGraphCache struct {
	client *redis.Client
	ttl    time.Duration
}

type noopKnowledgeGraphCache struct{}

func NewKnowledgeGraphCache(cfg config.CacheConfig) (KnowledgeGraphCache, error) {
	if !cfg.Enabled {
		return NewNoopKnowledgeGraphCache(), nil
	}

	opts, err := redisOptions(cfg)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("knowledge graph cache: ping %s: %w", opts.Addr, err)
	}

	return NewRedisKnowledgeGraphCache(client, time.Duration(cfg.TTLSeconds)*time.Second), nil
}

// redisOptions prefers a full redis URL and otherwise assembles the address
// from host and port, defaulting to a local server.
func redisOptions(cfg config.CacheConfig) (*redis.Options, error) {
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("knowledge graph cache: parse redis url: %w", err)
		}
		return opts, nil
	}

	host, port := cfg.RedisHost, cfg.RedisPort
	if host == "" {
		host = "127.0.0.1"
	}
	if port == "" {
		port = "6379"
	}
	return &redis.Options{
		Addr:     net.JoinHostPort(host, port),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, nil
}

// NewRedisKnowledgeGraphCache wraps an existing client.
func NewRedisKnowledgeGraphCache(client *redis.Client, ttl time.Duration) KnowledgeGraphCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &redisKnowledgeGraphCache{client: client, ttl: ttl}
}

func NewNoopKnowledgeGraphCache() KnowledgeGraphCache {
	return &noopKnowledgeGraphCache{}
}

func knowledgeGraphKey(id string) string {
	return knowledgeGraphKeyPrefix + id
}

func (c *redisKnowledgeGraphCache) Get(ctx context.Context, ids []string) (map[string]domain.KnowledgeGraphEntity, []string, error) {
	hits := make(map[string]domain.KnowledgeGraphEntity, len(ids))
	if len(ids) == 0 {
		return hits, nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = knowledgeGraphKey(id)
	}

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return hits, ids, fmt.Errorf("redis mget failed: %w", err)
	}

	var misses []string
	for i, v := range values {
		payload, ok := v.(string)
		if !ok {
			misses = append(misses, ids[i])
			continue
		}
		var entity domain.KnowledgeGraphEntity
		if err := json.Unmarshal([]byte(payload), &entity); err != nil {
			misses = append(misses, ids[i])
			continue
		}
		hits[ids[i]] = entity
	}

	return hits, misses, nil
}

func (c *redisKnowledgeGraphCache) Set(ctx context.Context, entities []domain.KnowledgeGraphEntity) error {
	if len(entities) == 0 {
		return nil
	}

	pipe := c.client.Pipeline()
	for _, e := range entities {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode knowledge graph entity %s: %w", e.ID, err)
		}
		pipe.Set(ctx, knowledgeGraphKey(e.ID), payload, c.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (c *redisKnowledgeGraphCache) Close() error {
	return c.client.Close()
}

func (c *noopKnowledgeGraphCache) Get(_ context.Context, ids []string) (map[string]domain.KnowledgeGraphEntity, []string, error) {
	return map[string]domain.KnowledgeGraphEntity{}, ids, nil
}

func (c *noopKnowledgeGraphCache) Set(context.Context, []domain.KnowledgeGraphEntity) error {
	return nil
}

func (c *noopKnowledgeGraphCache) Close() error {
	return nil
}
