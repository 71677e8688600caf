package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"streamsworker/internal/config"
	"streamsworker/internal/infrastructure/kafka"
	"streamsworker/internal/infrastructure/postgres"
	"streamsworker/internal/infrastructure/redis"
	"streamsworker/internal/usecase"
	"streamsworker/internal/worker"

	pgxpool "github.com/jackc/pgx/v5/pgxpool"
	go_redis "github.com/redis/go-redis/v9"
)

// readTimeoutSlack is added on top of the longest BLOCK so a quiet poll is not a read timeout.
const readTimeoutSlack = 5 * time.Second

type Factory struct {
	cfg      *config.Config
	pgPool   *pgxpool.Pool
	redisCli *go_redis.Client
	// producer side, no ping and no BLOCK-sized read timeout
	producerCli *go_redis.Client
	kafkaDLQ *kafka.DeadLetterProducer
}

func NewFactory(cfg *config.Config) *Factory {
	return &Factory{
		cfg: cfg,
	}
}

func (f *Factory) Postgres(ctx context.Context) (*pgxpool.Pool, error) {
	if f.pgPool != nil {
		return f.pgPool, nil
	}

	var pool *pgxpool.Pool
	var err error

	// Retry connection up to 5 times
	for i := 0; i < 5; i++ {
		pool, err = postgres.NewClient(ctx, postgres.Config{
			Host:     f.cfg.Postgres.Host,
			Port:     f.cfg.Postgres.Port,
			User:     f.cfg.Postgres.User,
			Password: f.cfg.Postgres.Password,
			DBName:   f.cfg.Postgres.DBName,
		})
		if err == nil {
			break
		}
		slog.Warn("Failed to connect to postgres, retrying in 2s", "attempt", i+1, "max", 5, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to init postgres after retries: %w", err)
	}

	f.pgPool = pool
	return pool, nil
}

// Redis returns the long-lived client of the consumer loop and the operator CLI.
// Its ReadTimeout covers the longest XREADGROUP BLOCK.
func (f *Factory) Redis(ctx context.Context) (*go_redis.Client, error) {
	if f.redisCli != nil {
		return f.redisCli, nil
	}

	client, err := redis.NewClient(ctx, redis.Config{
		URL:         f.cfg.Redis.URL,
		ReadTimeout: f.cfg.Consumer.Block + readTimeoutSlack,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init redis: %w", err)
	}

	f.redisCli = client
	return client, nil
}

func (f *Factory) Store(ctx context.Context) (*redis.Store, error) {
	client, err := f.Redis(ctx)
	if err != nil {
		return nil, err
	}
	return redis.NewStore(client), nil
}

// ProducerRedis returns the API process client used for idempotency keys and pooled appends.
// It is not pinged: the API starts while Redis is down and each command fails on its own.
func (f *Factory) ProducerRedis() (*go_redis.Client, error) {
	if f.producerCli != nil {
		return f.producerCli, nil
	}

	opts, err := redis.Options(redis.Config{URL: f.cfg.Redis.URL})
	if err != nil {
		return nil, fmt.Errorf("failed to init redis: %w", err)
	}

	f.producerCli = go_redis.NewClient(opts)
	return f.producerCli, nil
}

// Appender picks the producer's connection strategy from PRODUCER_CONN.
func (f *Factory) Appender() (usecase.Appender, error) {
	if f.cfg.Producer.Conn == "pooled" {
		client, err := f.ProducerRedis()
		if err != nil {
			return nil, err
		}
		return redis.NewStore(client), nil
	}
	return redis.NewScopedAppender(redis.Config{URL: f.cfg.Redis.URL})
}

// DeadLetterSink builds the sink selected by DEADLETTER_SINK.
func (f *Factory) DeadLetterSink(ctx context.Context) (worker.DeadLetterSink, error) {
	switch f.cfg.DeadLetter.Sink {
	case "kafka":
		if f.kafkaDLQ == nil {
			f.kafkaDLQ = kafka.NewDeadLetterProducer(kafka.Config{
				Brokers: f.cfg.Kafka.Brokers,
				Topic:   f.cfg.Kafka.DeadLetterTopic,
			})
		}
		return f.kafkaDLQ, nil
	case "postgres":
		repo, err := f.DeadLetterRepository(ctx)
		if err != nil {
			return nil, err
		}
		return repo, nil
	default:
		store, err := f.Store(ctx)
		if err != nil {
			return nil, err
		}
		return redis.NewDeadLetterStream(store, f.cfg.DeadLetter.Stream), nil
	}
}

func (f *Factory) DeadLetterRepository(ctx context.Context) (*postgres.DeadLetterRepository, error) {
	pool, err := f.Postgres(ctx)
	if err != nil {
		return nil, err
	}
	repo := postgres.NewDeadLetterRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

func (f *Factory) Close() {
	if f.kafkaDLQ != nil {
		f.kafkaDLQ.Close()
	}
	if f.pgPool != nil {
		f.pgPool.Close()
	}
	if f.redisCli != nil {
		f.redisCli.Close()
	}
	if f.producerCli != nil {
		f.producerCli.Close()
	}
}
