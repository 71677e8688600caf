package worker

import (
	"context"
	"fmt"

	"streamsworker/internal/domain/deadletter"
)

// Policy decides what happens to an entry whose processing failed on every attempt.
type Policy int

const (
	// PolicyCrash stops the loop without acknowledging, leaving the entry pending for redelivery.
	PolicyCrash Policy = iota
	// PolicySkip logs the failure and acknowledges the entry.
	PolicySkip
	// PolicyDeadLetter hands the entry to a DeadLetterSink, then acknowledges it.
	PolicyDeadLetter
)

func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "crash", "":
		return PolicyCrash, nil
	case "skip":
		return PolicySkip, nil
	case "deadletter":
		return PolicyDeadLetter, nil
	}
	return PolicyCrash, fmt.Errorf("unknown error policy %q", s)
}

func (p Policy) String() string {
	switch p {
	case PolicySkip:
		return "skip"
	case PolicyDeadLetter:
		return "deadletter"
	default:
		return "crash"
	}
}

type DeadLetterSink interface {
	Publish(ctx context.Context, r *deadletter.Record) error
}
