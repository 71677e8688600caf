package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"streamsworker/internal/domain/event"
	redisInfra "streamsworker/internal/infrastructure/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newMiniStore(t *testing.T) *redisInfra.Store {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return redisInfra.NewStore(client)
}

type failingCreator struct{ err error }

func (f failingCreator) CreateGroup(ctx context.Context, stream, group, start string) error {
	return f.err
}

func TestEnsureGroupTwice(t *testing.T) {
	t.Parallel()
	store := newMiniStore(t)
	ctx := context.Background()

	if err := EnsureGroup(ctx, store, "events", "main"); err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	if err := EnsureGroup(ctx, store, "events", "main"); err != nil {
		t.Fatalf("second ensure must be a no-op, got %v", err)
	}
}

func TestEnsureGroupOtherErrorsAreFatal(t *testing.T) {
	t.Parallel()

	cause := errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")
	err := EnsureGroup(context.Background(), failingCreator{err: cause}, "events", "main")
	if !errors.Is(err, ErrGroupInit) || !errors.Is(err, cause) {
		t.Fatalf("expected ErrGroupInit wrapping cause, got %v", err)
	}
	if err := EnsureGroup(context.Background(), failingCreator{err: redisInfra.ErrGroupExists}, "events", "main"); err != nil {
		t.Fatalf("existing group must be success, got %v", err)
	}
}

func TestSubmitConsumeAcknowledge(t *testing.T) {
	t.Parallel()
	store := newMiniStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := EnsureGroup(ctx, store, "events", "main"); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	id, err := store.Append(ctx, "events", event.PayloadField, `{"user":"abc"}`)
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	var got []Delivery
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	h := HandlerFunc(func(ctx context.Context, d Delivery) error {
		got = append(got, d)
		stop()
		return nil
	})
	opts := testOptions()
	opts.Block = 20 * time.Millisecond

	if err := newTestLoop(t, store, h, nil, opts).Run(runCtx); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(got) != 1 || got[0].ID != id {
		t.Fatalf("expected exactly entry %s, got %+v", id, got)
	}
	if got[0].Message[event.PayloadField] != `{"user":"abc"}` || len(got[0].Message) != 1 {
		t.Fatalf("unexpected message %v", got[0].Message)
	}

	summary, err := store.Pending(ctx, "events", "main")
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if summary.Count != 0 {
		t.Fatalf("expected empty pending set, got %d", summary.Count)
	}
}

func TestFailedEntryIsRedeliveredAfterRestart(t *testing.T) {
	t.Parallel()
	store := newMiniStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := EnsureGroup(ctx, store, "events", "main"); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	id, _ := store.Append(ctx, "events", event.PayloadField, `{"poison":true}`)

	opts := testOptions()
	opts.Block = 20 * time.Millisecond

	boom := errors.New("boom")
	crashing := HandlerFunc(func(ctx context.Context, d Delivery) error { return boom })
	if err := newTestLoop(t, store, crashing, nil, opts).Run(ctx); !errors.Is(err, boom) {
		t.Fatalf("expected crash, got %v", err)
	}

	summary, _ := store.Pending(ctx, "events", "main")
	if summary.Count != 1 {
		t.Fatalf("expected failed entry to stay pending, got %d", summary.Count)
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	var redelivered string
	healthy := HandlerFunc(func(ctx context.Context, d Delivery) error {
		redelivered = d.ID
		stop()
		return nil
	})
	if err := newTestLoop(t, store, healthy, nil, opts).Run(runCtx); err != nil {
		t.Fatalf("restart run: %v", err)
	}
	if redelivered != id {
		t.Fatalf("expected redelivery of %s, got %q", id, redelivered)
	}

	summary, _ = store.Pending(ctx, "events", "main")
	if summary.Count != 0 {
		t.Fatalf("expected pending set drained, got %d", summary.Count)
	}
}

func TestIdleEntryClaimedByAnotherConsumer(t *testing.T) {
	t.Parallel()
	store := newMiniStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := EnsureGroup(ctx, store, "events", "main"); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	id, _ := store.Append(ctx, "events", event.PayloadField, `{}`)
	if _, err := store.ReadGroup(ctx, redisInfra.ReadArgs{Stream: "events", Group: "main", Consumer: "worker-1", Count: 10}); err != nil {
		t.Fatalf("read: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	var claimed string
	h := HandlerFunc(func(ctx context.Context, d Delivery) error {
		claimed = d.ID
		stop()
		return nil
	})
	opts := testOptions()
	opts.Consumer = "worker-2"
	opts.Block = 20 * time.Millisecond
	opts.ClaimMinIdle = time.Millisecond

	if err := newTestLoop(t, store, h, nil, opts).Run(runCtx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if claimed != id {
		t.Fatalf("expected worker-2 to claim %s, got %q", id, claimed)
	}
}
