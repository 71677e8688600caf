package worker

import (
	"context"
	"log/slog"

	"streamsworker/internal/domain/event"
)

// Delivery is one decoded entry handed to a Handler.
type Delivery struct {
	ID       string
	Consumer string
	Attempt  int
	Message  event.Message
}

type Handler interface {
	Handle(ctx context.Context, d Delivery) error
}

type HandlerFunc func(ctx context.Context, d Delivery) error

func (f HandlerFunc) Handle(ctx context.Context, d Delivery) error {
	return f(ctx, d)
}

// LogHandler only logs each event.
func LogHandler(logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return HandlerFunc(func(ctx context.Context, d Delivery) error {
		logger.InfoContext(ctx, "Event", "id", d.ID, "consumer", d.Consumer, "message", map[string]string(d.Message))
		return nil
	})
}
