package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"streamsworker/internal/domain/deadletter"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const schema = `
	CREATE TABLE IF NOT EXISTS dead_letters (
		id          UUID PRIMARY KEY,
		stream      TEXT NOT NULL,
		group_name  TEXT NOT NULL,
		consumer    TEXT NOT NULL,
		entry_id    TEXT NOT NULL,
		fields      JSONB NOT NULL,
		error       TEXT NOT NULL,
		attempts    INT NOT NULL,
		failed_at   TIMESTAMPTZ NOT NULL,
		replayed_at TIMESTAMPTZ
	)
`

type executor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type DeadLetterRepository struct {
	pool executor
}

var _ deadletter.Repository = (*DeadLetterRepository)(nil)

// NewDeadLetterRepository accepts a *pgxpool.Pool or anything with the same Exec/Query surface.
func NewDeadLetterRepository(pool executor) *DeadLetterRepository {
	return &DeadLetterRepository{pool: pool}
}

func (r *DeadLetterRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create dead_letters: %w", err)
	}
	return nil
}

func (r *DeadLetterRepository) Create(ctx context.Context, rec *deadletter.Record) error {
	const sql = `
		INSERT INTO dead_letters (id, stream, group_name, consumer, entry_id, fields, error, attempts, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}

	_, err = r.pool.Exec(ctx, sql,
		rec.ID, rec.Stream, rec.Group, rec.Consumer, rec.EntryID, fields, rec.Error, rec.Attempts, rec.FailedAt)
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

// Publish lets the repository act as the consumer's dead-letter sink.
func (r *DeadLetterRepository) Publish(ctx context.Context, rec *deadletter.Record) error {
	return r.Create(ctx, rec)
}

func (r *DeadLetterRepository) ListRecent(ctx context.Context, limit int) ([]*deadletter.Record, error) {
	const sql = `
		SELECT id, stream, group_name, consumer, entry_id, fields, error, attempts, failed_at
		FROM dead_letters
		ORDER BY failed_at DESC
		LIMIT $1
	`
	return r.list(ctx, sql, limit)
}

// ListUnreplayed returns records not yet replayed, oldest first.
func (r *DeadLetterRepository) ListUnreplayed(ctx context.Context, limit int) ([]*deadletter.Record, error) {
	const sql = `
		SELECT id, stream, group_name, consumer, entry_id, fields, error, attempts, failed_at
		FROM dead_letters
		WHERE replayed_at IS NULL
		ORDER BY failed_at ASC
		LIMIT $1
	`
	return r.list(ctx, sql, limit)
}

func (r *DeadLetterRepository) MarkReplayed(ctx context.Context, ids []string) error {
	const sql = `
		UPDATE dead_letters
		SET replayed_at = NOW()
		WHERE id = ANY($1)
	`
	if _, err := r.pool.Exec(ctx, sql, ids); err != nil {
		return fmt.Errorf("mark replayed: %w", err)
	}
	return nil
}

func (r *DeadLetterRepository) list(ctx context.Context, sql string, limit int) ([]*deadletter.Record, error) {
	rows, err := r.pool.Query(ctx, sql, limit)
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}
	defer rows.Close()

	var records []*deadletter.Record
	for rows.Next() {
		rec := &deadletter.Record{}
		var fields []byte
		if err := rows.Scan(&rec.ID, &rec.Stream, &rec.Group, &rec.Consumer, &rec.EntryID, &fields, &rec.Error, &rec.Attempts, &rec.FailedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		if err := json.Unmarshal(fields, &rec.Fields); err != nil {
			return nil, fmt.Errorf("unmarshal fields of %s: %w", rec.ID, err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}
