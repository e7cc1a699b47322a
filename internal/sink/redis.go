package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pingsantohq/ag53230a/internal/config"
	"github.com/pingsantohq/ag53230a/pkg/types"
)

const (
	defaultKeyPrefix = "ag53230a"
	recentSamples    = 1000
	latestTTL        = time.Hour
)

// Redis keeps the latest sample and a bounded list of recent ones.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(ctx context.Context, cfg config.RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Addr, err)
	}
	return &Redis{client: client, prefix: keyPrefix(cfg.KeyPrefix)}, nil
}

func keyPrefix(p string) string {
	if p == "" {
		return defaultKeyPrefix
	}
	return p
}

func (r *Redis) latestKey() string { return r.prefix + ":latest" }
func (r *Redis) recentKey() string { return r.prefix + ":recent" }

func (r *Redis) runKey(runID string) string {
	return r.prefix + ":run:" + runID + ":latest"
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) Send(ctx context.Context, samples []types.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	for _, s := range samples {
		payload, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("marshal sample: %w", err)
		}
		pipe.LPush(ctx, r.recentKey(), payload)
		if s.RunID != "" {
			pipe.Set(ctx, r.runKey(s.RunID), payload, latestTTL)
		}
	}
	last, err := json.Marshal(samples[len(samples)-1])
	if err != nil {
		return fmt.Errorf("marshal sample: %w", err)
	}
	pipe.Set(ctx, r.latestKey(), last, latestTTL)
	pipe.LTrim(ctx, r.recentKey(), 0, recentSamples-1)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis exec: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
