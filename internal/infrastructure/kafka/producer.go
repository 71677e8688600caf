package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"streamsworker/internal/domain/deadletter"

	"github.com/segmentio/kafka-go"
)

type Config struct {
	Brokers []string
	Topic   string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DeadLetterProducer publishes failed entries to a Kafka topic as JSON records keyed by entry id.
type DeadLetterProducer struct {
	writer messageWriter
	topic  string
}

func NewDeadLetterProducer(cfg Config) *DeadLetterProducer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		MaxAttempts:            5,
		ReadTimeout:            10 * time.Second,
		WriteTimeout:           10 * time.Second,
		Async:                  false,
		AllowAutoTopicCreation: true,
	}

	return &DeadLetterProducer{writer: w, topic: cfg.Topic}
}

func (p *DeadLetterProducer) Publish(ctx context.Context, r *deadletter.Record) error {
	value, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	err = p.writer.WriteMessages(ctx,
		kafka.Message{
			Key:   []byte(r.EntryID),
			Value: value,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (p *DeadLetterProducer) Topic() string {
	return p.topic
}

func (p *DeadLetterProducer) Close() error {
	return p.writer.Close()
}
