// Package natsjs is a queue.Source over a NATS JetStream pull consumer.
// Message attributes travel as headers; the JetStream reply subject is
// used as the ack ID.
package natsjs

import (
	"context"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/go-logr/logr"
	"github.com/nats-io/nats.go"

	"github.com/pgillich/shout-worker/internal/queue"
	"github.com/pgillich/shout-worker/internal/util"
)

// immediateMaxWait caps the fetch wait when the caller does not want to
// block on an empty subscription.
const immediateMaxWait = 250 * time.Millisecond

var _ queue.Source = (*Source)(nil)

type Source struct {
	conn *nats.Conn
	sub  *nats.Subscription
	log  logr.Logger

	mtx     sync.Mutex
	pending map[string]*nats.Msg
}

func NewSource(natsURL string, subject string, durable string, log logr.Logger) (*Source, error) {
	conn, err := nats.Connect(natsURL)
	if err != nil {
		return nil, errors.Wrap(err, "nats connect")
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()

		return nil, errors.Wrap(err, "jetstream context")
	}
	sub, err := js.PullSubscribe(subject, durable)
	if err != nil {
		conn.Close()

		return nil, errors.Wrap(err, "jetstream pull subscribe")
	}

	return &Source{
		conn:    conn,
		sub:     sub,
		log:     log,
		pending: map[string]*nats.Msg{},
	}, nil
}

func (s *Source) Pull(ctx context.Context, maxMessages int, returnImmediately bool) ([]queue.Message, error) {
	var opt nats.PullOpt
	if returnImmediately {
		opt = nats.MaxWait(immediateMaxWait)
	} else {
		opt = nats.Context(ctx)
	}
	natsMsgs, err := s.sub.Fetch(maxMessages, opt)
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}

		return nil, errors.Wrap(err, "jetstream fetch")
	}

	msgs := make([]queue.Message, 0, len(natsMsgs))
	s.mtx.Lock()
	defer s.mtx.Unlock()
	for _, natsMsg := range natsMsgs {
		attrs := map[string]string{}
		for key := range natsMsg.Header {
			attrs[key] = natsMsg.Header.Get(key)
		}
		s.pending[natsMsg.Reply] = natsMsg
		msgs = append(msgs, queue.Message{
			ID:         natsMsg.Reply,
			Body:       natsMsg.Data,
			Attributes: attrs,
			AckID:      natsMsg.Reply,
		})
	}
	s.log.V(1).Info("Fetched", "count", len(msgs))

	return msgs, nil
}

func (s *Source) Acknowledge(ctx context.Context, ackIDs []string) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	for _, ackID := range ackIDs {
		natsMsg, has := s.pending[ackID]
		if !has {
			s.log.Info("Unknown ack ID", "ackID", ackID)

			continue
		}
		if err := natsMsg.Ack(nats.Context(ctx)); err != nil {
			return errors.Wrap(err, "jetstream ack")
		}
		delete(s.pending, ackID)
	}

	return nil
}

func (s *Source) Close() error {
	err := s.conn.Drain()
	if err != nil {
		s.log.Error(err, "nats.Conn.Drain")
	}

	return util.ErrorfIf("nats drain: %w", err)
}
