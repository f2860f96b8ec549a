package cache

import (
	"context"
	"fmt"

	"github.com/dkeye/VoiceHub/internal/core"
)

// Open returns the shared cache selected by driver: memory or redis.
func Open(ctx context.Context, driver, url string) (core.Cache, error) {
	switch driver {
	case "", "memory":
		return NewMemoryCache(), nil
	case "redis":
		return NewRedisCache(ctx, url)
	default:
		return nil, fmt.Errorf("cache: unknown driver %q", driver)
	}
}
