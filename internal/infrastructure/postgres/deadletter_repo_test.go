package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"streamsworker/internal/domain/deadletter"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type execCall struct {
	sql  string
	args []any
}

type fakeExecutor struct {
	calls []execCall
	err   error
}

func (f *fakeExecutor) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	return pgconn.NewCommandTag("INSERT 0 1"), f.err
}

func (f *fakeExecutor) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func TestDeadLetterCreateAssignsID(t *testing.T) {
	t.Parallel()

	db := &fakeExecutor{}
	repo := NewDeadLetterRepository(db)

	rec := &deadletter.Record{
		Stream:   "events",
		Group:    "main",
		Consumer: "worker-1",
		EntryID:  "5-0",
		Fields:   []string{"payload", "{}"},
		Error:    "boom",
		Attempts: 1,
		FailedAt: time.Now(),
	}
	if err := repo.Publish(context.Background(), rec); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if _, err := uuid.Parse(rec.ID); err != nil {
		t.Fatalf("expected uuid id, got %q", rec.ID)
	}
	if len(db.calls) != 1 || !strings.Contains(db.calls[0].sql, "INSERT INTO dead_letters") {
		t.Fatalf("unexpected calls %+v", db.calls)
	}
	if got := string(db.calls[0].args[5].([]byte)); got != `["payload","{}"]` {
		t.Fatalf("unexpected fields arg %s", got)
	}
}

func TestDeadLetterCreateWrapsError(t *testing.T) {
	t.Parallel()

	dbErr := errors.New("connection refused")
	repo := NewDeadLetterRepository(&fakeExecutor{err: dbErr})

	err := repo.Create(context.Background(), &deadletter.Record{ID: "x"})
	if !errors.Is(err, dbErr) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestEnsureSchemaAndMarkReplayed(t *testing.T) {
	t.Parallel()

	db := &fakeExecutor{}
	repo := NewDeadLetterRepository(db)
	ctx := context.Background()

	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if err := repo.MarkReplayed(ctx, []string{"a", "b"}); err != nil {
		t.Fatalf("mark replayed: %v", err)
	}
	if len(db.calls) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(db.calls))
	}
	if !strings.Contains(db.calls[0].sql, "CREATE TABLE IF NOT EXISTS dead_letters") {
		t.Fatalf("unexpected schema statement %q", db.calls[0].sql)
	}
	ids := db.calls[1].args[0].([]string)
	if len(ids) != 2 || ids[0] != "a" {
		t.Fatalf("unexpected ids %v", ids)
	}
}
