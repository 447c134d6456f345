package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Options 选择并配置存储后端
type Options struct {
	Driver      string // postgres / mongo / memory
	PostgresDSN string
	MongoURI    string
	MongoDB     string
	RedisAddr   string
}

// Open 按驱动创建 Store；配置了 RedisAddr 时包一层 CachedStore
func Open(ctx context.Context, opts Options, logger *slog.Logger) (Store, *Cache, error) {
	var (
		store Store
		err   error
	)
	switch strings.ToLower(opts.Driver) {
	case "", "postgres":
		store, err = NewPostgresStore(opts.PostgresDSN, logger)
	case "mongo":
		store, err = NewMongoStore(ctx, opts.MongoURI, opts.MongoDB, logger)
	case "memory":
		store = NewMemoryStore()
	default:
		return nil, nil, fmt.Errorf("storage: %w: %q", ErrUnknownDriver, opts.Driver)
	}
	if err != nil {
		return nil, nil, err
	}

	if opts.RedisAddr == "" {
		return store, nil, nil
	}
	cache := NewCache(opts.RedisAddr, logger)
	return NewCachedStore(store, cache), cache, nil
}
