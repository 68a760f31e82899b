package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"smartsmeta.app/bot/core/config"
	"smartsmeta.app/bot/core/db"
)

// Open builds the Store selected by cfg.Backend. The returned close
// function releases the backend connection.
func Open(ctx context.Context, cfg config.SessionConfig) (Store, func(), error) {
	switch cfg.Backend {
	case "", "memory":
		store, err := NewMemoryStore(cfg.Capacity)
		if err != nil {
			return nil, nil, err
		}
		slog.InfoContext(ctx, "session store ready", "backend", "memory", "capacity", cfg.Capacity)
		return store, func() {}, nil

	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}
		slog.InfoContext(ctx, "session store ready", "backend", "redis", "prefix", cfg.KeyPrefix, "ttl", cfg.TTL)
		return NewRedisStore(client, cfg.KeyPrefix, cfg.TTL), func() { _ = client.Close() }, nil

	case "postgres":
		database, err := db.New(ctx, cfg.DB)
		if err != nil {
			return nil, nil, err
		}
		store, err := NewPostgresStore(ctx, database)
		if err != nil {
			database.Close()
			return nil, nil, err
		}
		slog.InfoContext(ctx, "session store ready", "backend", "postgres")
		return store, database.Close, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
