// Package shouter implements one processing cycle of the shout worker:
// pull, validate, deadline check, transform, report, acknowledge.
package shouter

import (
	"context"
	"time"

	"emperror.dev/errors"
	"github.com/go-logr/logr"

	"github.com/pgillich/shout-worker/internal/queue"
	"github.com/pgillich/shout-worker/internal/report"
)

const (
	MsgTimedOut = "Request timed out."
	MsgFatal    = "Fatal"
)

type Shouter struct {
	source   queue.Source
	reporter report.Reporter
	now      func() time.Time
	log      logr.Logger
}

type Option func(s *Shouter)

// WithClock replaces the wall clock of the deadline check.
func WithClock(now func() time.Time) Option {
	return func(s *Shouter) {
		s.now = now
	}
}

func New(source queue.Source, reporter report.Reporter, log logr.Logger, opts ...Option) *Shouter {
	s := &Shouter{
		source:   source,
		reporter: reporter,
		now:      time.Now,
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// RunCycle pulls at most one message and drives it to a terminal state.
// A nil return means the cycle completed: either there was nothing to do,
// or the message was consumed (acknowledged) with its terminal status
// reported where a validated destination existed. A non-nil return is an
// infrastructure error: the message (if any) is neither reported about
// nor acknowledged and stays pending for redelivery.
//
// Cancellation is honored before the pull only. Once a message is owned,
// the remaining steps run on a context detached from cancellation, so a
// pulled message is never left half-processed.
func (s *Shouter) RunCycle(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "cycle cancelled")
	}
	msgs, err := s.source.Pull(ctx, 1, true)
	if err != nil {
		return errors.Wrap(err, "queue pull")
	}
	if len(msgs) == 0 {
		return nil
	}
	msg := msgs[0]
	ctx = context.WithoutCancel(ctx)
	log := s.log.WithValues("messageID", msg.ID)

	attrs, err := ParseRequestAttributes(msg.Attributes)
	if err != nil {
		log.Info(ErrBadAttributes.Error(), "details", errors.GetDetails(err))

		return s.acknowledge(ctx, msg)
	}

	if Expired(attrs.Deadline, s.now().Unix()) {
		log.Info(MsgTimedOut, "deadline", attrs.Deadline)

		return s.report(ctx, msg, attrs, report.StatusReport{
			Token:  attrs.PostStatusToken,
			Status: report.StatusTimeout,
		})
	}

	switch outcome := Transform(msg.Body).(type) {
	case Success:
		return s.report(ctx, msg, attrs, report.StatusReport{
			Token:  attrs.PostStatusToken,
			Status: report.StatusSuccess,
			Result: outcome.Result,
		})
	case Failure:
		if !outcome.Fatal {
			return errors.Errorf("unexpected non-fatal failure: %s", outcome.Reason)
		}
		log.Error(errors.NewPlain(outcome.Reason), MsgFatal)

		return s.report(ctx, msg, attrs, report.StatusReport{
			Token:  attrs.PostStatusToken,
			Status: report.StatusFatal,
		})
	default:
		return errors.Errorf("unexpected outcome %T", outcome)
	}
}

func (s *Shouter) report(ctx context.Context, msg queue.Message, attrs RequestAttributes, statusReport report.StatusReport) error {
	if err := s.reporter.Post(ctx, attrs.PostStatusURL, statusReport); err != nil {
		// The message stays pending: without a delivered status the
		// caller could wait forever on a silently consumed message.
		return errors.Wrap(err, "status post")
	}

	return s.acknowledge(ctx, msg)
}

func (s *Shouter) acknowledge(ctx context.Context, msg queue.Message) error {
	if err := s.source.Acknowledge(ctx, []string{msg.AckID}); err != nil {
		return errors.Wrap(err, "queue acknowledge")
	}

	return nil
}
