// Package queue defines the message source contract of the shout worker.
// The worker only depends on this contract; the concrete transports live
// in the subpackages.
package queue

import (
	"context"
)

// Message is one work item pulled from the queue. It is owned by the
// worker for the duration of one processing cycle only.
type Message struct {
	ID         string
	Body       []byte
	Attributes map[string]string
	AckID      string
}

// Source is a pull-style message queue. Pull and Acknowledge may block on
// external I/O and must honor the context. Any returned error is an
// infrastructure error: the caller must not acknowledge and must leave the
// message pending for redelivery.
type Source interface {
	Pull(ctx context.Context, maxMessages int, returnImmediately bool) ([]Message, error)
	Acknowledge(ctx context.Context, ackIDs []string) error
}
