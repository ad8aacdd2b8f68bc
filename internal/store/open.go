package store

import (
	"context"
	"fmt"

	"github.com/nomadeum/nomadeum/internal/config"
)

// Open creates the repository selected by STORE_BACKEND.
func Open(ctx context.Context, cfg *config.Config) (Repository, error) {
	switch cfg.StoreBackend {
	case config.StoreSQLite:
		return NewSQLite(cfg.DBPath)
	case config.StoreRedis:
		return NewRedis(ctx, cfg.RedisURL, cfg.ConversationTTL)
	case config.StoreMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
