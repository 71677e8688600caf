package deadletter

import (
	"context"
	"time"
)

// Record describes an entry the consumer gave up on.
// Fields keeps the original flattened field sequence so the entry can be replayed verbatim.
type Record struct {
	ID       string    `json:"id"`
	Stream   string    `json:"stream"`
	Group    string    `json:"group"`
	Consumer string    `json:"consumer"`
	EntryID  string    `json:"entry_id"`
	Fields   []string  `json:"fields"`
	Error    string    `json:"error"`
	Attempts int       `json:"attempts"`
	FailedAt time.Time `json:"failed_at"`
}

type Repository interface {
	Create(ctx context.Context, r *Record) error
	ListRecent(ctx context.Context, limit int) ([]*Record, error)
	// ListUnreplayed returns records not yet replayed, oldest first.
	ListUnreplayed(ctx context.Context, limit int) ([]*Record, error)
	MarkReplayed(ctx context.Context, ids []string) error
}
