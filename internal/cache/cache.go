package cache

import (
	"context"
	"time"
)

// BytesCache is a best-effort byte cache; callers must work when it is nil
// or failing.
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
