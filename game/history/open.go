package history

import (
	"context"
	"fmt"
)

// Backend names accepted by Open.
const (
	BackendNone     = "none"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Options selects and configures a Store.
type Options struct {
	Backend     string
	Dir         string
	RedisAddr   string
	RedisPass   string
	DatabaseURL string
}

// Open builds the store named by opts.Backend. An empty backend means none.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", BackendNone:
		return Nop{}, nil
	case BackendFile:
		dir := opts.Dir
		if dir == "" {
			dir = "history"
		}
		return NewFileStore(dir)
	case BackendRedis:
		if opts.RedisAddr == "" {
			return nil, fmt.Errorf("redis history backend needs an address")
		}
		return NewRedisStore(ctx, RedisOptions{Addr: opts.RedisAddr, Password: opts.RedisPass})
	case BackendPostgres:
		if opts.DatabaseURL == "" {
			return nil, fmt.Errorf("postgres history backend needs a database url")
		}
		return NewPostgresStore(ctx, opts.DatabaseURL)
	}
	return nil, fmt.Errorf("unknown history backend %q", opts.Backend)
}
