package worker

import (
	"context"
	"errors"
	"fmt"

	redisInfra "streamsworker/internal/infrastructure/redis"
)

// ErrGroupInit marks a group creation failure that must abort startup.
var ErrGroupInit = errors.New("consumer group init failed")

type GroupCreator interface {
	CreateGroup(ctx context.Context, stream, group, start string) error
}

// EnsureGroup creates group on stream positioned at the tail, creating the stream if needed.
// An existing group is not an error.
func EnsureGroup(ctx context.Context, gc GroupCreator, stream, group string) error {
	err := gc.CreateGroup(ctx, stream, group, "$")
	if err == nil || errors.Is(err, redisInfra.ErrGroupExists) {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrGroupInit, err)
}
