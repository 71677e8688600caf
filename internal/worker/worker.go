package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"streamsworker/internal/domain/deadletter"
	"streamsworker/internal/domain/event"
	redisInfra "streamsworker/internal/infrastructure/redis"

	"github.com/google/uuid"
)

const (
	ackTimeout = 5 * time.Second
	maxBackoff = time.Minute
)

// Source is the part of the log store the loop reads from and acknowledges to.
type Source interface {
	ReadGroup(ctx context.Context, a redisInfra.ReadArgs) ([]event.Entry, error)
	Ack(ctx context.Context, stream, group string, ids ...string) (int64, error)
	AutoClaim(ctx context.Context, a redisInfra.AutoClaimArgs) ([]event.Entry, string, error)
}

type Options struct {
	Stream   string
	Group    string
	Consumer string
	// Count is the maximum batch size of one poll.
	Count int64
	// Block bounds how long one poll waits for new entries.
	Block time.Duration
	// ClaimMinIdle enables claiming entries other consumers left idle this long. Zero disables it.
	ClaimMinIdle time.Duration
	Policy       Policy
	// MaxAttempts counts the first try. Values below 1 mean 1.
	MaxAttempts int
	Backoff     time.Duration
}

// Loop is a single consumer of a group. Entries are dispatched one at a time, in the order delivered.
type Loop struct {
	src     Source
	handler Handler
	sink    DeadLetterSink
	opts    Options
	logger  *slog.Logger

	claimCursor string
}

func NewLoop(src Source, handler Handler, sink DeadLetterSink, opts Options, logger *slog.Logger) (*Loop, error) {
	if src == nil || handler == nil {
		return nil, errors.New("worker: source and handler are required")
	}
	if opts.Stream == "" || opts.Group == "" || opts.Consumer == "" {
		return nil, errors.New("worker: stream, group and consumer are required")
	}
	if opts.Policy == PolicyDeadLetter && sink == nil {
		return nil, errors.New("worker: dead-letter policy requires a sink")
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Count <= 0 {
		opts.Count = 10
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Loop{
		src:         src,
		handler:     handler,
		sink:        sink,
		opts:        opts,
		logger:      logger.With("stream", opts.Stream, "group", opts.Group, "consumer", opts.Consumer),
		claimCursor: "0-0",
	}, nil
}

// Run polls until ctx is cancelled, returning nil, or until an entry fails under PolicyCrash
// or the log store errors, returning that error. Entries left unacknowledged stay pending.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("Worker listening", "block", l.opts.Block, "count", l.opts.Count, "policy", l.opts.Policy.String())

	if err := l.drainOwnPending(ctx); err != nil {
		return l.stopped(ctx, err)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		if l.opts.ClaimMinIdle > 0 {
			if err := l.claimIdle(ctx); err != nil {
				return l.stopped(ctx, err)
			}
		}

		entries, err := l.src.ReadGroup(ctx, redisInfra.ReadArgs{
			Stream:   l.opts.Stream,
			Group:    l.opts.Group,
			Consumer: l.opts.Consumer,
			ID:       ">",
			Count:    l.opts.Count,
			Block:    l.opts.Block,
		})
		if err != nil {
			return l.stopped(ctx, fmt.Errorf("poll: %w", err))
		}
		if len(entries) == 0 {
			pollsEmpty.Inc()
			continue
		}

		if err := l.dispatch(ctx, entries); err != nil {
			return err
		}
	}
}

// drainOwnPending redelivers entries this consumer received but never acknowledged,
// e.g. before a crash.
func (l *Loop) drainOwnPending(ctx context.Context) error {
	cursor := "0"
	for ctx.Err() == nil {
		entries, err := l.src.ReadGroup(ctx, redisInfra.ReadArgs{
			Stream:   l.opts.Stream,
			Group:    l.opts.Group,
			Consumer: l.opts.Consumer,
			ID:       cursor,
			Count:    l.opts.Count,
		})
		if err != nil {
			return fmt.Errorf("read pending: %w", err)
		}
		if len(entries) == 0 {
			return nil
		}

		l.logger.Info("Redelivering pending entries", "count", len(entries))
		if err := l.dispatch(ctx, entries); err != nil {
			return err
		}
		cursor = entries[len(entries)-1].ID
	}
	return nil
}

func (l *Loop) claimIdle(ctx context.Context) error {
	entries, next, err := l.src.AutoClaim(ctx, redisInfra.AutoClaimArgs{
		Stream:   l.opts.Stream,
		Group:    l.opts.Group,
		Consumer: l.opts.Consumer,
		MinIdle:  l.opts.ClaimMinIdle,
		Start:    l.claimCursor,
		Count:    l.opts.Count,
	})
	if err != nil {
		return fmt.Errorf("claim idle: %w", err)
	}
	l.claimCursor = next
	if len(entries) == 0 {
		return nil
	}

	entriesClaimed.Add(float64(len(entries)))
	l.logger.Info("Claimed idle entries", "count", len(entries))
	return l.dispatch(ctx, entries)
}

func (l *Loop) dispatch(ctx context.Context, entries []event.Entry) error {
	for _, e := range entries {
		if ctx.Err() != nil {
			return nil
		}
		if err := l.handle(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loop) handle(ctx context.Context, e event.Entry) error {
	if e.Deleted {
		l.logger.Warn("Acknowledging deleted entry", "id", e.ID)
		return l.ack(ctx, e.ID)
	}

	started := time.Now()

	msg, err := event.Decode(e.Fields)
	if err != nil {
		return l.fail(ctx, e, 1, fmt.Errorf("decode: %w", err))
	}

	attempts := 0
	for attempt := 1; attempt <= l.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			backoff := retryBackoff(l.opts.Backoff, attempt)
			l.logger.Info("Retry attempt", "id", e.ID, "attempt", attempt, "max", l.opts.MaxAttempts, "backoff", backoff)
			select {
			case <-ctx.Done():
				// left pending for redelivery
				return nil
			case <-time.After(backoff):
			}
		}

		attempts = attempt
		err = l.process(ctx, Delivery{ID: e.ID, Consumer: l.opts.Consumer, Attempt: attempt, Message: msg})
		if err == nil {
			break
		}
		l.logger.Warn("Processing failed", "id", e.ID, "attempt", attempt, "error", err)
	}

	if err != nil {
		return l.fail(ctx, e, attempts, err)
	}

	if err := l.ack(ctx, e.ID); err != nil {
		return err
	}
	processingDuration.Observe(time.Since(started).Seconds())
	entriesProcessed.Inc()
	return nil
}

// retryBackoff doubles base for every retry after the first, capped at maxBackoff.
func retryBackoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	backoff := base
	for i := 2; i < attempt && backoff < maxBackoff; i++ {
		backoff *= 2
	}
	if backoff > maxBackoff {
		return maxBackoff
	}
	return backoff
}

func (l *Loop) process(ctx context.Context, d Delivery) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return l.handler.Handle(ctx, d)
}

func (l *Loop) fail(ctx context.Context, e event.Entry, attempts int, cause error) error {
	entriesFailed.WithLabelValues(l.opts.Policy.String()).Inc()

	switch l.opts.Policy {
	case PolicySkip:
		l.logger.Error("Skipping failed entry", "id", e.ID, "attempts", attempts, "error", cause)
		return l.ack(ctx, e.ID)

	case PolicyDeadLetter:
		rec := &deadletter.Record{
			ID:       uuid.New().String(),
			Stream:   l.opts.Stream,
			Group:    l.opts.Group,
			Consumer: l.opts.Consumer,
			EntryID:  e.ID,
			Fields:   e.Fields,
			Error:    cause.Error(),
			Attempts: attempts,
			FailedAt: time.Now().UTC(),
		}
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ackTimeout)
		err := l.sink.Publish(pubCtx, rec)
		cancel()
		if err != nil {
			return fmt.Errorf("dead-letter entry %s: %w", e.ID, err)
		}
		l.logger.Error("DLQ: entry dead-lettered", "id", e.ID, "attempts", attempts, "dead_letter_id", rec.ID, "error", cause)
		return l.ack(ctx, e.ID)

	default:
		l.logger.Error("Processing failed, stopping consumer", "id", e.ID, "attempts", attempts, "error", cause)
		return fmt.Errorf("process entry %s: %w", e.ID, cause)
	}
}

// ack survives cancellation of ctx so that work already done is not redelivered.
func (l *Loop) ack(ctx context.Context, id string) error {
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ackTimeout)
	defer cancel()

	if _, err := l.src.Ack(ackCtx, l.opts.Stream, l.opts.Group, id); err != nil {
		return fmt.Errorf("ack %s: %w", id, err)
	}
	return nil
}

// stopped hides log store errors caused by shutdown.
func (l *Loop) stopped(ctx context.Context, err error) error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}
