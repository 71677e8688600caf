package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"streamsworker/internal/config"
	"streamsworker/internal/domain/deadletter"
	redisInfra "streamsworker/internal/infrastructure/redis"
	"streamsworker/internal/usecase"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*config.Config, *redisInfra.Store) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := &config.Config{
		Redis:      config.Redis{URL: "redis://" + mr.Addr()},
		Consumer:   config.Consumer{Block: time.Second},
		DeadLetter: config.DeadLetter{Sink: "stream", Stream: "events:dead"},
	}
	return cfg, redisInfra.NewStore(client)
}

func run(t *testing.T, cfg *config.Config, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCommand(cfg)
	root.SetOut(&out)
	root.SetArgs(args)
	require.NoError(t, root.ExecuteContext(context.Background()))
	return out.String()
}

func TestPendingCommand(t *testing.T) {
	cfg, store := setup(t)
	ctx := context.Background()

	require.NoError(t, store.CreateGroup(ctx, config.Stream, config.Group, "$"))
	id, err := store.Append(ctx, config.Stream, "payload", "{}")
	require.NoError(t, err)
	_, err = store.ReadGroup(ctx, redisInfra.ReadArgs{Stream: config.Stream, Group: config.Group, Consumer: "worker-1", Count: 10})
	require.NoError(t, err)

	out := run(t, cfg, "pending")
	require.Contains(t, out, "pending=1")
	require.Contains(t, out, "worker-1: 1")
	require.Contains(t, out, id)
}

func TestClaimCommand(t *testing.T) {
	cfg, store := setup(t)
	ctx := context.Background()

	require.NoError(t, store.CreateGroup(ctx, config.Stream, config.Group, "$"))
	id, _ := store.Append(ctx, config.Stream, "payload", "{}")
	_, err := store.ReadGroup(ctx, redisInfra.ReadArgs{Stream: config.Stream, Group: config.Group, Consumer: "worker-1", Count: 10})
	require.NoError(t, err)

	out := run(t, cfg, "claim", "--consumer", "worker-2", "--min-idle", "0s")
	require.Contains(t, out, id)
	require.Contains(t, out, "claimed 1 entries for worker-2")

	summary, err := store.Pending(ctx, config.Stream, config.Group)
	require.NoError(t, err)
	require.Equal(t, int64(1), summary.Consumers["worker-2"])
}

func TestReplayFromStream(t *testing.T) {
	cfg, store := setup(t)
	ctx := context.Background()

	sink := redisInfra.NewDeadLetterStream(store, cfg.DeadLetter.Stream)
	require.NoError(t, sink.Publish(ctx, &deadletter.Record{
		ID:       "dl-1",
		Stream:   config.Stream,
		EntryID:  "1-0",
		Fields:   []string{"payload", `{"retry":true}`},
		Error:    "boom",
		Attempts: 1,
		FailedAt: time.Now(),
	}))

	out := run(t, cfg, "replay", "--from", "stream")
	require.True(t, strings.Contains(out, "replayed 1 dead letters from stream"), out)

	replayed, err := store.Range(ctx, config.Stream, "-", "+", 0)
	require.NoError(t, err)
	require.Len(t, replayed, 1)
	require.Equal(t, []string{"payload", `{"retry":true}`}, replayed[0].Fields)

	left, err := store.Range(ctx, cfg.DeadLetter.Stream, "-", "+", 0)
	require.NoError(t, err)
	require.Empty(t, left)
}

func TestReplayRejectsUnknownSource(t *testing.T) {
	cfg, _ := setup(t)
	root := NewRootCommand(cfg)
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"replay", "--from", "s3"})
	require.Error(t, root.ExecuteContext(context.Background()))
}

type fakeRepo struct {
	records  []*deadletter.Record
	replayed []string
}

func (f *fakeRepo) Create(ctx context.Context, r *deadletter.Record) error {
	f.records = append(f.records, r)
	return nil
}

func (f *fakeRepo) ListRecent(ctx context.Context, limit int) ([]*deadletter.Record, error) {
	return f.records, nil
}

func (f *fakeRepo) ListUnreplayed(ctx context.Context, limit int) ([]*deadletter.Record, error) {
	return f.records, nil
}

func (f *fakeRepo) MarkReplayed(ctx context.Context, ids []string) error {
	f.replayed = append(f.replayed, ids...)
	return nil
}

func TestReplayFromPostgresMarksOnlyReplayedPrefix(t *testing.T) {
	_, store := setup(t)
	repo := &fakeRepo{records: []*deadletter.Record{
		{ID: "a", Fields: []string{"payload", "{}"}},
		{ID: "b", Fields: []string{"payload"}},
	}}

	uc := usecase.NewReplayDeadLetters(store, config.Stream, nil)
	n, err := replayFromPostgres(context.Background(), repo, uc, 10)
	require.Error(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []string{"a"}, repo.replayed)
}
