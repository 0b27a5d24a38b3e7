package cache

import (
	"fmt"

	"go.uber.org/zap"

	"bbcompare/internal/config"
)

// Open builds the store named by CACHE_DRIVER.
func Open(cfg *config.Config, logger *zap.Logger) (Store, error) {
	switch cfg.CacheDriver {
	case "", "csv":
		return OpenCSV(cfg.CachePath, logger)
	case "memory":
		return NewMemoryStore(), nil
	case "redis":
		return NewRedisStore(cfg.RedisAddr)
	case "postgres":
		if cfg.PostgresURL == "" {
			return nil, fmt.Errorf("cache driver postgres requires POSTGRES_URL")
		}
		return NewPostgresStore(cfg.PostgresURL)
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.CacheDriver)
	}
}
