package redisx

import (
	"context"
	"fmt"
	"time"

	"payverify/internal/config"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Open connects to redis when REDIS_ADDR is set. A nil client means callers
// fall back to their in-process implementations.
func Open(cfg config.RedisCfg) (*redis.Client, error) {
	if cfg.Addr == "" {
		log.Info().Msg("redis not configured; using in-memory token cache and dedup")
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DialTimeout:  800 * time.Millisecond,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	log.Info().Str("addr", cfg.Addr).Msg("redis connected")
	return client, nil
}
