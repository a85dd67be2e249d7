package out

import (
	"context"
	"time"
)

// Cache defines the outbound port for caching.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	// JSON helpers
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// DeletePrefix removes all keys under a prefix. Used for invalidation.
	DeletePrefix(ctx context.Context, prefix string) error
}
