package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"streamsworker/internal/domain/deadletter"
)

// DeadLetterStream appends failed entries to a side stream.
type DeadLetterStream struct {
	store  *Store
	stream string
}

func NewDeadLetterStream(store *Store, stream string) *DeadLetterStream {
	return &DeadLetterStream{store: store, stream: stream}
}

func (d *DeadLetterStream) Publish(ctx context.Context, r *deadletter.Record) error {
	fields, err := json.Marshal(r.Fields)
	if err != nil {
		return fmt.Errorf("marshal dead letter fields: %w", err)
	}

	_, err = d.store.Append(ctx, d.stream,
		"id", r.ID,
		"stream", r.Stream,
		"group", r.Group,
		"consumer", r.Consumer,
		"entry_id", r.EntryID,
		"fields", string(fields),
		"error", r.Error,
		"attempts", strconv.Itoa(r.Attempts),
		"failed_at", r.FailedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("publish dead letter %s: %w", r.EntryID, err)
	}
	return nil
}

// RecordFromMessage rebuilds a Record from a dead-letter stream entry's decoded fields.
func RecordFromMessage(msg map[string]string) (*deadletter.Record, error) {
	r := &deadletter.Record{
		ID:       msg["id"],
		Stream:   msg["stream"],
		Group:    msg["group"],
		Consumer: msg["consumer"],
		EntryID:  msg["entry_id"],
		Error:    msg["error"],
	}
	if raw := msg["fields"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &r.Fields); err != nil {
			return nil, fmt.Errorf("unmarshal dead letter fields: %w", err)
		}
	}
	if raw := msg["attempts"]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("parse attempts: %w", err)
		}
		r.Attempts = n
	}
	if raw := msg["failed_at"]; raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("parse failed_at: %w", err)
		}
		r.FailedAt = t
	}
	return r, nil
}
