package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ImportDedupe implements ports.ImportDedupe: the report of an applied batch is kept
// under the batch digest for ttl.
type ImportDedupe struct {
	client *goredis.Client
	prefix string
}

// NewImportDedupe creates a Redis-backed batch dedupe store.
func NewImportDedupe(client *goredis.Client) *ImportDedupe {
	return &ImportDedupe{
		client: client,
		prefix: "import:",
	}
}

// Seen returns the stored report for digest, or nil, nil when the batch is new.
func (d *ImportDedupe) Seen(ctx context.Context, digest string) ([]byte, error) {
	val, err := d.client.Get(ctx, d.prefix+digest).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis import dedupe get: %w", err)
	}
	return val, nil
}

// Remember stores report under digest.
func (d *ImportDedupe) Remember(ctx context.Context, digest string, report []byte, ttl time.Duration) error {
	if err := d.client.Set(ctx, d.prefix+digest, report, ttl).Err(); err != nil {
		return fmt.Errorf("redis import dedupe set: %w", err)
	}
	return nil
}
