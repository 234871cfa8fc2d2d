package cache

import (
	"context"
	"time"
)

// KV is the local persistent store consumed by the cache, the progress
// tracker and the refresh scheduler. The redis client implements it in
// production; tests inject an in-memory fake.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, val string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}
