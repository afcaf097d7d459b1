package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	healthKey = "wr:health"
	healthTTL = time.Minute
)

// HealthCheck implements ports.HealthChecker for Redis. It writes a short-lived key
// because a read-only replica answers PING but cannot hold leases.
type HealthCheck struct {
	client *goredis.Client
	now    func() time.Time
}

// NewHealthCheck creates a Redis health checker.
func NewHealthCheck(client *goredis.Client) *HealthCheck {
	return &HealthCheck{client: client, now: time.Now}
}

// Ping round-trips a write.
func (h *HealthCheck) Ping(ctx context.Context) error {
	if err := h.client.Set(ctx, healthKey, h.now().Unix(), healthTTL).Err(); err != nil {
		return fmt.Errorf("redis write check: %w", err)
	}
	return nil
}

// Name returns the dependency name.
func (h *HealthCheck) Name() string {
	return "redis"
}
