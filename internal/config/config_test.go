package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	cfg, err := New()
	require.NoError(t, err)

	require.Equal(t, "3000", cfg.HTTP.Port)
	require.Equal(t, "redis://localhost:6379", cfg.Redis.URL)
	require.Equal(t, "worker-1", cfg.Consumer.Name)
	require.Equal(t, 5*time.Second, cfg.Consumer.Block)
	require.Equal(t, int64(10), cfg.Consumer.Count)
	require.Equal(t, "crash", cfg.Consumer.ErrorPolicy)
	require.Equal(t, 1, cfg.Consumer.MaxAttempts)
	require.Equal(t, "async", cfg.Producer.Accept)
	require.Equal(t, "scoped", cfg.Producer.Conn)
	require.Equal(t, "events:dead", cfg.DeadLetter.Stream)
}

func TestNewReadsEnv(t *testing.T) {
	t.Setenv("PORT", "8081")
	t.Setenv("REDIS_URL", "redis://cache:6380/2")
	t.Setenv("CONSUMER_NAME", "worker-7")
	t.Setenv("POLL_BLOCK", "250ms")
	t.Setenv("ERROR_POLICY", "deadletter")
	t.Setenv("DEADLETTER_SINK", "kafka")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := New()
	require.NoError(t, err)

	require.Equal(t, "8081", cfg.HTTP.Port)
	require.Equal(t, "redis://cache:6380/2", cfg.Redis.URL)
	require.Equal(t, "worker-7", cfg.Consumer.Name)
	require.Equal(t, 250*time.Millisecond, cfg.Consumer.Block)
	require.Equal(t, "deadletter", cfg.Consumer.ErrorPolicy)
	require.Equal(t, "kafka", cfg.DeadLetter.Sink)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestNewRejectsUnknownPolicy(t *testing.T) {
	t.Setenv("ERROR_POLICY", "ignore")

	_, err := New()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Producer:   Producer{Accept: "async", Conn: "scoped"},
			Consumer:   Consumer{Name: "w", Count: 10, MaxAttempts: 1, ErrorPolicy: "crash"},
			DeadLetter: DeadLetter{Sink: "stream"},
		}
	}

	require.NoError(t, valid().Validate())

	cases := map[string]func(c *Config){
		"accept":       func(c *Config) { c.Producer.Accept = "later" },
		"conn":         func(c *Config) { c.Producer.Conn = "shared" },
		"sink":         func(c *Config) { c.DeadLetter.Sink = "s3" },
		"empty name":   func(c *Config) { c.Consumer.Name = "  " },
		"zero count":   func(c *Config) { c.Consumer.Count = 0 },
		"neg block":    func(c *Config) { c.Consumer.Block = -time.Second },
		"zero attempt": func(c *Config) { c.Consumer.MaxAttempts = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			require.Error(t, c.Validate())
		})
	}
}

func TestSlogLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, Log{Level: "DEBUG"}.SlogLevel())
	require.Equal(t, slog.LevelWarn, Log{Level: "warn"}.SlogLevel())
	require.Equal(t, slog.LevelError, Log{Level: "error"}.SlogLevel())
	require.Equal(t, slog.LevelInfo, Log{Level: ""}.SlogLevel())
}
