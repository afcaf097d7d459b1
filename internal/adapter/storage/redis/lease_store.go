package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the lease only while this holder still owns it, so a lease that
// expired and was taken by another reconciler is left alone.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// LeaseStore implements ports.ReconcileLease with SET NX and a per-process owner token.
type LeaseStore struct {
	client *goredis.Client
	prefix string
	owner  string
}

// NewLeaseStore creates a lease store owned by a fresh random holder id.
func NewLeaseStore(client *goredis.Client) *LeaseStore {
	return &LeaseStore{
		client: client,
		prefix: "lease:",
		owner:  uuid.NewString(),
	}
}

// Acquire takes the address lease for ttl. It returns false when another holder has it.
func (s *LeaseStore) Acquire(ctx context.Context, address string, ttl time.Duration) (bool, error) {
	result, err := s.client.SetArgs(ctx, s.prefix+address, s.owner, goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis lease acquire: %w", err)
	}
	return result == "OK", nil
}

// Release drops the lease if this holder owns it.
func (s *LeaseStore) Release(ctx context.Context, address string) error {
	if err := releaseScript.Run(ctx, s.client, []string{s.prefix + address}, s.owner).Err(); err != nil {
		return fmt.Errorf("redis lease release: %w", err)
	}
	return nil
}
