package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"streamsworker/internal/domain/event"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "producer_events_accepted_total",
		Help: "The total number of events accepted for append",
	})
	appendErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "producer_append_errors_total",
		Help: "The total number of failed appends to the stream",
	})
	appendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "producer_append_duration_seconds",
		Help:    "Time taken to append one event, connection setup included",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})
)

var ErrInvalidEvent = errors.New("event must be a JSON object or array")

type Appender interface {
	Append(ctx context.Context, stream string, fields ...string) (string, error)
}

// AcceptMode controls whether Execute returns before or after the append.
type AcceptMode int

const (
	// AcceptAsync returns as soon as the event is validated. Append failures are logged only.
	AcceptAsync AcceptMode = iota
	// AcceptDurable returns once the append completed and reports its error.
	AcceptDurable
)

func ParseAcceptMode(s string) (AcceptMode, error) {
	switch s {
	case "async", "":
		return AcceptAsync, nil
	case "durable":
		return AcceptDurable, nil
	}
	return AcceptAsync, fmt.Errorf("unknown accept mode %q", s)
}

type SubmitEventConfig struct {
	Stream        string
	Mode          AcceptMode
	AppendTimeout time.Duration
}

type SubmitEvent struct {
	appender Appender
	cfg      SubmitEventConfig
	logger   *slog.Logger
	inflight sync.WaitGroup
}

func NewSubmitEvent(appender Appender, cfg SubmitEventConfig, logger *slog.Logger) *SubmitEvent {
	if cfg.AppendTimeout <= 0 {
		cfg.AppendTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SubmitEvent{
		appender: appender,
		cfg:      cfg,
		logger:   logger,
	}
}

// Execute validates body and appends it as a single payload field.
// In AcceptAsync mode the append runs in the background and never fails the call.
func (uc *SubmitEvent) Execute(ctx context.Context, body []byte) error {
	payload, err := CanonicalJSON(body)
	if err != nil {
		return err
	}
	eventsAccepted.Inc()

	if uc.cfg.Mode == AcceptDurable {
		return uc.append(ctx, payload)
	}

	uc.inflight.Add(1)
	go func() {
		defer uc.inflight.Done()
		// the request context ends with the response; the append must outlive it
		if err := uc.append(context.WithoutCancel(ctx), payload); err != nil {
			uc.logger.Error("Redis error", "error", err)
		}
	}()
	return nil
}

func (uc *SubmitEvent) append(ctx context.Context, payload string) error {
	ctx, cancel := context.WithTimeout(ctx, uc.cfg.AppendTimeout)
	defer cancel()

	started := time.Now()
	id, err := uc.appender.Append(ctx, uc.cfg.Stream, event.PayloadField, payload)
	appendDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		appendErrors.Inc()
		return fmt.Errorf("append event: %w", err)
	}

	uc.logger.Debug("Event appended", "stream", uc.cfg.Stream, "id", id)
	return nil
}

// Close waits for background appends, giving up when ctx ends.
func (uc *SubmitEvent) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		uc.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for in-flight appends: %w", ctx.Err())
	}
}

// CanonicalJSON re-encodes body compactly with sorted object keys and numbers kept verbatim.
// An empty body is treated as an empty object.
func CanonicalJSON(body []byte) (string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "{}", nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return "", fmt.Errorf("%w: trailing data", ErrInvalidEvent)
	}

	switch v.(type) {
	case map[string]interface{}, []interface{}:
	default:
		return "", ErrInvalidEvent
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("encode event: %w", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
