package postgres

import (
	"context"
	"fmt"
)

// schemaCheck fails on an unmigrated database, which answers pings but cannot store wallets.
const schemaCheck = `SELECT 1 FROM wallets LIMIT 1`

// HealthCheck implements ports.HealthChecker for PostgreSQL.
type HealthCheck struct {
	pool Pool
}

// NewHealthCheck creates a PostgreSQL health checker.
func NewHealthCheck(pool Pool) *HealthCheck {
	return &HealthCheck{pool: pool}
}

// Ping checks connectivity and that the wallets table exists.
func (h *HealthCheck) Ping(ctx context.Context) error {
	if _, err := h.pool.Exec(ctx, schemaCheck); err != nil {
		return fmt.Errorf("wallets table: %w", err)
	}
	return nil
}

func (h *HealthCheck) Name() string {
	return "postgresql"
}
