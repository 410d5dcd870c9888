package cache

import (
	"context"
	"time"
)

// BytesCache is the minimal cache contract used across the service: current
// snapshot caching in the read path and token storage in the provider client.
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
