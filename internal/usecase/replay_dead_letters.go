package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"streamsworker/internal/domain/deadletter"
	"streamsworker/internal/domain/event"
)

// ReplayDeadLetters re-appends dead-lettered entries with their original fields,
// so the group sees them as new entries.
type ReplayDeadLetters struct {
	appender Appender
	stream   string
	logger   *slog.Logger
}

func NewReplayDeadLetters(appender Appender, stream string, logger *slog.Logger) *ReplayDeadLetters {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReplayDeadLetters{appender: appender, stream: stream, logger: logger}
}

// Execute replays records in order and returns how many were appended.
// It stops at the first failure so callers only mark the replayed prefix as done.
func (uc *ReplayDeadLetters) Execute(ctx context.Context, records []*deadletter.Record) (int, error) {
	for i, r := range records {
		if len(r.Fields) == 0 {
			return i, fmt.Errorf("dead letter %s has no fields", r.ID)
		}
		if _, err := event.Decode(r.Fields); err != nil {
			return i, fmt.Errorf("dead letter %s: %w", r.ID, err)
		}

		stream := r.Stream
		if stream == "" {
			stream = uc.stream
		}
		id, err := uc.appender.Append(ctx, stream, r.Fields...)
		if err != nil {
			return i, fmt.Errorf("replay dead letter %s: %w", r.ID, err)
		}
		uc.logger.Info("Dead letter replayed", "dead_letter_id", r.ID, "original_id", r.EntryID, "new_id", id)
	}
	return len(records), nil
}
