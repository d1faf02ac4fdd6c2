package securestore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/beeunity/beeunity/client/internal/config"
	"github.com/beeunity/beeunity/client/internal/database"
	"github.com/beeunity/beeunity/client/internal/storage"
	"github.com/beeunity/beeunity/client/pkg/logger"
)

// Backend is an opened store plus whatever must be released on shutdown.
type Backend struct {
	Store Store
	// Redis is set when the backend is Redis, so the local API limiter can
	// share the connection.
	Redis *redis.Client
	close func(context.Context) error
}

// Close releases the underlying connection, if any.
func (b *Backend) Close(ctx context.Context) error {
	if b == nil || b.close == nil {
		return nil
	}
	return b.close(ctx)
}

// Open selects and connects the configured store backend.
func Open(ctx context.Context, cfg *config.Config) (*Backend, error) {
	switch cfg.Store.Backend {
	case config.StoreMemory:
		logger.Warn("using in-memory session store; the session will not survive a restart")
		return &Backend{Store: NewMemoryStore()}, nil
	case config.StoreFile, "":
		fs, err := NewFileStore(cfg.Store.Dir, cfg.Store.Secret)
		if err != nil {
			return nil, err
		}
		logger.Infof("using file session store in %s (passphrase=%t)", cfg.Store.Dir, cfg.Store.Secret != "")
		return &Backend{Store: fs}, nil
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Host + ":" + cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping %s:%s: %w", cfg.Redis.Host, cfg.Redis.Port, err)
		}
		logger.Infof("using Redis session store at %s:%s", cfg.Redis.Host, cfg.Redis.Port)
		return &Backend{
			Store: NewRedisStore(client, "beeunity:"),
			Redis: client,
			close: func(context.Context) error { return client.Close() },
		}, nil
	case config.StoreMongo:
		client, err := database.ConnectMongoWithRetry(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout, 5)
		if err != nil {
			return nil, err
		}
		col := client.Database(cfg.MongoDB.Database).Collection("secure_store")
		logger.Infof("using MongoDB session store (db=%s)", cfg.MongoDB.Database)
		return &Backend{Store: NewMongoStore(col), close: client.Disconnect}, nil
	case config.StoreMinIO:
		ms, err := storage.NewMinIOStore(ctx, cfg.MinIO)
		if err != nil {
			return nil, err
		}
		logger.Infof("using MinIO session store (bucket=%s)", cfg.MinIO.Bucket)
		return &Backend{Store: ms}, nil
	}
	return nil, fmt.Errorf("unknown session store backend %q", cfg.Store.Backend)
}
