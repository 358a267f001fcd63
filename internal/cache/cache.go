package cache

import (
	"context"
	"time"
)

// BytesCache is a best-effort byte cache. Implementations may fail or miss
// at any time; callers fall back to the source of truth.
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
