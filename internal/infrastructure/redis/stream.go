package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"streamsworker/internal/domain/event"

	"github.com/redis/go-redis/v9"
)

var ErrGroupExists = errors.New("consumer group already exists")

// Store is the Redis Streams implementation of the log store.
// It shares one pooled client across every call.
type Store struct {
	client redis.UniversalClient
}

func NewStore(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

// Append adds one entry and lets Redis assign its id.
func (s *Store) Append(ctx context.Context, stream string, fields ...string) (string, error) {
	if len(fields) == 0 || len(fields)%2 != 0 {
		return "", fmt.Errorf("append to %s: %w", stream, event.ErrOddFields)
	}

	values := make([]interface{}, len(fields))
	for i, f := range fields {
		values[i] = f
	}

	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		ID:     "*",
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	return id, nil
}

// CreateGroup creates group on stream starting at start ("$" for the tail),
// creating the stream when it does not exist.
func (s *Store) CreateGroup(ctx context.Context, stream, group, start string) error {
	err := s.client.XGroupCreateMkStream(ctx, stream, group, start).Err()
	if err == nil {
		return nil
	}
	if strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return ErrGroupExists
	}
	return fmt.Errorf("xgroup create %s %s: %w", stream, group, err)
}

type ReadArgs struct {
	Stream   string
	Group    string
	Consumer string
	// ID is ">" for new entries or "0" for the consumer's own pending history.
	ID    string
	Count int64
	// Block <= 0 returns immediately.
	Block time.Duration
}

// ReadGroup issues XREADGROUP and returns entries with their field order intact.
// A blocking read that times out yields no entries and no error.
func (s *Store) ReadGroup(ctx context.Context, a ReadArgs) ([]event.Entry, error) {
	args := []interface{}{"XREADGROUP", "GROUP", a.Group, a.Consumer}
	if a.Count > 0 {
		args = append(args, "COUNT", a.Count)
	}
	if a.Block > 0 {
		args = append(args, "BLOCK", a.Block.Milliseconds())
	}
	id := a.ID
	if id == "" {
		id = ">"
	}
	args = append(args, "STREAMS", a.Stream, id)

	reply, err := s.client.Do(ctx, args...).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup %s %s: %w", a.Stream, a.Group, err)
	}
	return parseStreams(reply)
}

// Range returns entries between start and end inclusive, oldest first.
func (s *Store) Range(ctx context.Context, stream, start, end string, count int64) ([]event.Entry, error) {
	args := []interface{}{"XRANGE", stream, start, end}
	if count > 0 {
		args = append(args, "COUNT", count)
	}
	reply, err := s.client.Do(ctx, args...).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xrange %s: %w", stream, err)
	}
	return parseEntries(reply)
}

func (s *Store) Delete(ctx context.Context, stream string, ids ...string) (int64, error) {
	n, err := s.client.XDel(ctx, stream, ids...).Result()
	if err != nil {
		return 0, fmt.Errorf("xdel %s: %w", stream, err)
	}
	return n, nil
}

func (s *Store) Ack(ctx context.Context, stream, group string, ids ...string) (int64, error) {
	n, err := s.client.XAck(ctx, stream, group, ids...).Result()
	if err != nil {
		return 0, fmt.Errorf("xack %s %s: %w", stream, group, err)
	}
	return n, nil
}

type PendingSummary struct {
	Count     int64
	Lower     string
	Higher    string
	Consumers map[string]int64
}

func (s *Store) Pending(ctx context.Context, stream, group string) (PendingSummary, error) {
	p, err := s.client.XPending(ctx, stream, group).Result()
	if err != nil {
		return PendingSummary{}, fmt.Errorf("xpending %s %s: %w", stream, group, err)
	}
	return PendingSummary{
		Count:     p.Count,
		Lower:     p.Lower,
		Higher:    p.Higher,
		Consumers: p.Consumers,
	}, nil
}

type PendingEntry struct {
	ID         string
	Consumer   string
	Idle       time.Duration
	Deliveries int64
}

func (s *Store) PendingEntries(ctx context.Context, stream, group string, count int64) ([]PendingEntry, error) {
	res, err := s.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xpending ext %s %s: %w", stream, group, err)
	}

	out := make([]PendingEntry, 0, len(res))
	for _, p := range res {
		out = append(out, PendingEntry{
			ID:         p.ID,
			Consumer:   p.Consumer,
			Idle:       p.Idle,
			Deliveries: p.RetryCount,
		})
	}
	return out, nil
}

type AutoClaimArgs struct {
	Stream   string
	Group    string
	Consumer string
	MinIdle  time.Duration
	Start    string
	Count    int64
}

// AutoClaim transfers entries idle for at least MinIdle to Consumer.
// It returns the claimed entries and the cursor for the next call ("0-0" when the scan is complete).
func (s *Store) AutoClaim(ctx context.Context, a AutoClaimArgs) ([]event.Entry, string, error) {
	start := a.Start
	if start == "" {
		start = "0-0"
	}
	args := []interface{}{"XAUTOCLAIM", a.Stream, a.Group, a.Consumer, a.MinIdle.Milliseconds(), start}
	if a.Count > 0 {
		args = append(args, "COUNT", a.Count)
	}

	reply, err := s.client.Do(ctx, args...).Result()
	if err != nil {
		return nil, "", fmt.Errorf("xautoclaim %s %s: %w", a.Stream, a.Group, err)
	}

	parts, ok := reply.([]interface{})
	if !ok || len(parts) < 2 {
		return nil, "", fmt.Errorf("xautoclaim: unexpected reply %T", reply)
	}
	next, err := toString(parts[0])
	if err != nil {
		return nil, "", fmt.Errorf("xautoclaim cursor: %w", err)
	}
	entries, err := parseEntries(parts[1])
	if err != nil {
		return nil, "", err
	}
	return entries, next, nil
}

// parseStreams accepts both the RESP2 array and the RESP3 map form of a stream read reply.
func parseStreams(reply interface{}) ([]event.Entry, error) {
	var out []event.Entry

	switch v := reply.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		for _, item := range v {
			pair, ok := item.([]interface{})
			if !ok || len(pair) != 2 {
				return nil, fmt.Errorf("stream reply: unexpected item %T", item)
			}
			entries, err := parseEntries(pair[1])
			if err != nil {
				return nil, err
			}
			out = append(out, entries...)
		}
	case map[interface{}]interface{}:
		for _, raw := range v {
			entries, err := parseEntries(raw)
			if err != nil {
				return nil, err
			}
			out = append(out, entries...)
		}
	case map[string]interface{}:
		for _, raw := range v {
			entries, err := parseEntries(raw)
			if err != nil {
				return nil, err
			}
			out = append(out, entries...)
		}
	default:
		return nil, fmt.Errorf("stream reply: unexpected type %T", reply)
	}

	return out, nil
}

func parseEntries(raw interface{}) ([]event.Entry, error) {
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("entries: unexpected type %T", raw)
	}

	out := make([]event.Entry, 0, len(items))
	for _, item := range items {
		// XAUTOCLAIM on older servers reports deleted entries as nil.
		if item == nil {
			continue
		}
		pair, ok := item.([]interface{})
		if !ok || len(pair) != 2 {
			return nil, fmt.Errorf("entry: unexpected item %T", item)
		}
		id, err := toString(pair[0])
		if err != nil {
			return nil, fmt.Errorf("entry id: %w", err)
		}

		e := event.Entry{ID: id}
		switch fields := pair[1].(type) {
		case nil:
			e.Deleted = true
		case []interface{}:
			e.Fields = make([]string, 0, len(fields))
			for _, f := range fields {
				s, err := toString(f)
				if err != nil {
					return nil, fmt.Errorf("entry %s field: %w", id, err)
				}
				e.Fields = append(e.Fields, s)
			}
		default:
			return nil, fmt.Errorf("entry %s: unexpected fields %T", id, pair[1])
		}
		out = append(out, e)
	}
	return out, nil
}

func toString(v interface{}) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	default:
		return "", fmt.Errorf("unexpected value %T", v)
	}
}
