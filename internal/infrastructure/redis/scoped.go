package redis

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// ScopedAppender opens a fresh connection for every append and closes it afterwards.
// No connection is held between calls.
type ScopedAppender struct {
	opts *redis.Options
}

func NewScopedAppender(cfg Config) (*ScopedAppender, error) {
	opts, err := Options(cfg)
	if err != nil {
		return nil, err
	}
	opts.PoolSize = 1
	opts.MinIdleConns = 0
	return &ScopedAppender{opts: opts}, nil
}

func (a *ScopedAppender) Append(ctx context.Context, stream string, fields ...string) (string, error) {
	client := redis.NewClient(a.opts)
	defer client.Close()

	return NewStore(client).Append(ctx, stream, fields...)
}
