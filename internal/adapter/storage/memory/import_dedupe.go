package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

// ImportDedupe implements ports.ImportDedupe in process memory with a bounded TTL cache.
type ImportDedupe struct {
	cache *ristretto.Cache
}

// NewImportDedupe creates a dedupe cache holding roughly maxBytes of reports.
func NewImportDedupe(maxBytes int64) (*ImportDedupe, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("import dedupe cache: %w", err)
	}
	return &ImportDedupe{cache: cache}, nil
}

// Seen returns the remembered report for digest, or nil.
func (d *ImportDedupe) Seen(_ context.Context, digest string) ([]byte, error) {
	v, ok := d.cache.Get(digest)
	if !ok {
		return nil, nil
	}
	return v.([]byte), nil
}

// Remember stores report under digest for ttl. The write is visible to Seen on return.
func (d *ImportDedupe) Remember(_ context.Context, digest string, report []byte, ttl time.Duration) error {
	d.cache.SetWithTTL(digest, append([]byte(nil), report...), int64(len(report)), ttl)
	d.cache.Wait()
	return nil
}

// Close stops the cache goroutines.
func (d *ImportDedupe) Close() {
	d.cache.Close()
}
