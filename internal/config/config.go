package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Stream and group names are fixed for a deployment.
const (
	Stream = "events"
	Group  = "main"
)

type Config struct {
	App        App        `yaml:"app"`
	HTTP       HTTP       `yaml:"http"`
	Log        Log        `yaml:"log"`
	Redis      Redis      `yaml:"redis"`
	Producer   Producer   `yaml:"producer"`
	Consumer   Consumer   `yaml:"consumer"`
	DeadLetter DeadLetter `yaml:"dead_letter"`
	Postgres   Postgres   `yaml:"postgres"`
	Kafka      Kafka      `yaml:"kafka"`
}

type App struct {
	Name    string `yaml:"name" env:"APP_NAME" env-default:"streams-worker"`
	Version string `yaml:"version" env:"APP_VERSION" env-default:"1.0.0"`
}

type HTTP struct {
	Port        string `yaml:"port" env:"PORT" env-default:"3000"`
	MetricsPort string `yaml:"metrics_port" env:"METRICS_PORT" env-default:"9091"`
}

type Log struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

type Redis struct {
	URL string `yaml:"url" env:"REDIS_URL" env-default:"redis://localhost:6379"`
}

type Producer struct {
	// Accept is "async" (respond before the append completes) or "durable".
	Accept string `yaml:"accept" env:"PRODUCER_ACCEPT" env-default:"async"`
	// Conn is "scoped" (one connection per append) or "pooled".
	Conn          string        `yaml:"conn" env:"PRODUCER_CONN" env-default:"scoped"`
	AppendTimeout time.Duration `yaml:"append_timeout" env:"APPEND_TIMEOUT" env-default:"5s"`
}

type Consumer struct {
	Name         string        `yaml:"name" env:"CONSUMER_NAME" env-default:"worker-1"`
	Block        time.Duration `yaml:"block" env:"POLL_BLOCK" env-default:"5s"`
	Count        int64         `yaml:"count" env:"POLL_COUNT" env-default:"10"`
	ClaimMinIdle time.Duration `yaml:"claim_min_idle" env:"CLAIM_MIN_IDLE" env-default:"0s"`
	ErrorPolicy  string        `yaml:"error_policy" env:"ERROR_POLICY" env-default:"crash"`
	MaxAttempts  int           `yaml:"max_attempts" env:"MAX_ATTEMPTS" env-default:"1"`
	RetryBackoff time.Duration `yaml:"retry_backoff" env:"RETRY_BACKOFF" env-default:"1s"`
}

type DeadLetter struct {
	// Sink is "stream", "kafka" or "postgres".
	Sink   string `yaml:"sink" env:"DEADLETTER_SINK" env-default:"stream"`
	Stream string `yaml:"stream" env:"DEADLETTER_STREAM" env-default:"events:dead"`
}

type Postgres struct {
	Host     string `yaml:"host" env:"POSTGRES_HOST" env-default:"localhost"`
	Port     string `yaml:"port" env:"POSTGRES_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"POSTGRES_USER" env-default:"user"`
	Password string `yaml:"password" env:"POSTGRES_PASSWORD" env-default:"password"`
	DBName   string `yaml:"dbname" env:"POSTGRES_DB" env-default:"streams"`
}

type Kafka struct {
	Brokers         []string `yaml:"brokers" env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	DeadLetterTopic string   `yaml:"dead_letter_topic" env:"KAFKA_DEADLETTER_TOPIC" env-default:"events-dead"`
	GroupID         string   `yaml:"group_id" env:"KAFKA_GROUP_ID" env-default:"streams-replay"`
}

func New() (*Config, error) {
	cfg := &Config{}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		// fallback to env vars if file not found
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("config env override: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if !oneOf(c.Producer.Accept, "async", "durable") {
		return fmt.Errorf("invalid PRODUCER_ACCEPT %q", c.Producer.Accept)
	}
	if !oneOf(c.Producer.Conn, "scoped", "pooled") {
		return fmt.Errorf("invalid PRODUCER_CONN %q", c.Producer.Conn)
	}
	if !oneOf(c.Consumer.ErrorPolicy, "crash", "skip", "deadletter") {
		return fmt.Errorf("invalid ERROR_POLICY %q", c.Consumer.ErrorPolicy)
	}
	if !oneOf(c.DeadLetter.Sink, "stream", "kafka", "postgres") {
		return fmt.Errorf("invalid DEADLETTER_SINK %q", c.DeadLetter.Sink)
	}
	if strings.TrimSpace(c.Consumer.Name) == "" {
		return fmt.Errorf("CONSUMER_NAME must not be empty")
	}
	if c.Consumer.Count <= 0 {
		return fmt.Errorf("POLL_COUNT must be positive, got %d", c.Consumer.Count)
	}
	if c.Consumer.Block < 0 || c.Consumer.ClaimMinIdle < 0 {
		return fmt.Errorf("POLL_BLOCK and CLAIM_MIN_IDLE must not be negative")
	}
	if c.Consumer.MaxAttempts < 1 {
		return fmt.Errorf("MAX_ATTEMPTS must be at least 1, got %d", c.Consumer.MaxAttempts)
	}
	return nil
}

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func (l Log) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(l.Level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
