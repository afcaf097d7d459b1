// Package redis holds the Redis-backed coordination stores: reconcile leases, import
// batch dedupe and API rate-limit counters.
package redis

import (
	"context"
	"fmt"
	"time"

	"wallet-reconciler/config"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const dialCheckTimeout = 5 * time.Second

// NewClient opens the client shared by every store in this package and checks that the
// server accepts writes.
func NewClient(ctx context.Context, cfg config.RedisConfig, log zerolog.Logger) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:       cfg.Addr(),
		Password:   cfg.Password,
		DB:         cfg.DB,
		ClientName: "walletd",
	})

	pingCtx, cancel := context.WithTimeout(ctx, dialCheckTimeout)
	defer cancel()
	if err := NewHealthCheck(client).Ping(pingCtx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr(), err)
	}

	log.Info().
		Str("addr", cfg.Addr()).
		Int("db", cfg.DB).
		Msg("redis ready for leases, dedupe and rate limits")

	return client, nil
}
