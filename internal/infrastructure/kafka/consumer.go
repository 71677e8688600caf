package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"streamsworker/internal/domain/deadletter"

	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DeadLetterConsumer reads records back from the dead-letter topic for replay.
// Offsets are committed only after the caller has re-appended the record.
type DeadLetterConsumer struct {
	reader messageReader
}

func NewDeadLetterConsumer(brokers []string, topic string, groupID string) *DeadLetterConsumer {
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: false, // Force IPv4
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
		MaxWait:     1 * time.Second,
		Dialer:      dialer,
		StartOffset: kafka.FirstOffset,
	})
	return &DeadLetterConsumer{reader: r}
}

// Fetch returns the next record and the message to pass to Commit once it is handled.
func (c *DeadLetterConsumer) Fetch(ctx context.Context) (*deadletter.Record, kafka.Message, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, kafka.Message{}, err
	}

	var r deadletter.Record
	if err := json.Unmarshal(msg.Value, &r); err != nil {
		return nil, msg, fmt.Errorf("unmarshal dead letter at offset %d: %w", msg.Offset, err)
	}
	return &r, msg, nil
}

func (c *DeadLetterConsumer) Commit(ctx context.Context, msgs ...kafka.Message) error {
	return c.reader.CommitMessages(ctx, msgs...)
}

func (c *DeadLetterConsumer) Close() error {
	return c.reader.Close()
}
