package pubsubhttp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"emperror.dev/errors"
	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/suite"

	"github.com/pgillich/shout-worker/internal/logger"
	"github.com/pgillich/shout-worker/internal/queue"
)

type fakeSubscription struct {
	mtx    sync.Mutex
	queued []receivedMessage
	acked  []string
}

func (f *fakeSubscription) pull(w http.ResponseWriter, r *http.Request) {
	pullReq := pullRequest{}
	if err := json.NewDecoder(r.Body).Decode(&pullReq); err != nil {
		w.WriteHeader(http.StatusBadRequest)

		return
	}
	f.mtx.Lock()
	count := pullReq.MaxMessages
	if count > len(f.queued) {
		count = len(f.queued)
	}
	resp := pullResponse{ReceivedMessages: f.queued[:count]}
	f.queued = f.queued[count:]
	f.mtx.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp) //nolint:errcheck // test
}

func (f *fakeSubscription) acknowledge(w http.ResponseWriter, r *http.Request) {
	ackReq := acknowledgeRequest{}
	if err := json.NewDecoder(r.Body).Decode(&ackReq); err != nil {
		w.WriteHeader(http.StatusBadRequest)

		return
	}
	f.mtx.Lock()
	f.acked = append(f.acked, ackReq.AckIDs...)
	f.mtx.Unlock()
	w.Write([]byte("{}")) //nolint:errcheck,gosec // test
}

type PubsubTestSuite struct {
	suite.Suite
	log logr.Logger
}

func TestPubsubTestSuite(t *testing.T) {
	suite.Run(t, new(PubsubTestSuite))
}

func (s *PubsubTestSuite) SetupTest() {
	s.log, _ = logger.GetTestLogger(s.T().Name())
}

func (s *PubsubTestSuite) runSubscription(sub *fakeSubscription) *httptest.Server {
	testLog := s.log
	r := chi.NewRouter()
	r.Use(chi_middleware.RequestLogger(&logger.ChiLogr{Logger: testLog}))
	r.Post("/v1/projects/demo/subscriptions/shout:pull", sub.pull)
	r.Post("/v1/projects/demo/subscriptions/shout:acknowledge", sub.acknowledge)

	return httptest.NewServer(r)
}

func (s *PubsubTestSuite) newSource(server *httptest.Server) *Source {
	return NewSource(server.Client(), server.URL+"/v1", "demo", "shout", s.log)
}

func (s *PubsubTestSuite) TestPull() {
	sub := &fakeSubscription{queued: []receivedMessage{{
		AckID: "ack-1",
		Message: pubsubMessage{
			Data:       base64.StdEncoding.EncodeToString([]byte("hello")),
			Attributes: map[string]string{"deadline": "0"},
			MessageID:  "msg-1",
		},
	}}}
	server := s.runSubscription(sub)
	defer server.Close()
	source := s.newSource(server)

	msgs, err := source.Pull(context.Background(), 1, true)
	s.NoError(err)
	s.Equal([]queue.Message{{
		ID:         "msg-1",
		Body:       []byte("hello"),
		Attributes: map[string]string{"deadline": "0"},
		AckID:      "ack-1",
	}}, msgs)

	msgs, err = source.Pull(context.Background(), 1, true)
	s.NoError(err)
	s.Empty(msgs)
}

func (s *PubsubTestSuite) TestPullMalformedData() {
	sub := &fakeSubscription{queued: []receivedMessage{{
		AckID:   "ack-1",
		Message: pubsubMessage{Data: "%%% not base64 %%%", MessageID: "msg-1"},
	}}}
	server := s.runSubscription(sub)
	defer server.Close()

	_, err := s.newSource(server).Pull(context.Background(), 1, true)
	s.Error(err)
}

func (s *PubsubTestSuite) TestPullBadStatus() {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewSource(server.Client(), server.URL+"/v1", "demo", "shout", s.log).Pull(context.Background(), 1, true)
	s.Error(err)
	s.True(errors.Is(err, ErrPullStatus))
}

func (s *PubsubTestSuite) TestPullTransportError() {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	source := NewSource(http.DefaultClient, server.URL+"/v1", "demo", "shout", s.log)
	server.Close()

	_, err := source.Pull(context.Background(), 1, true)
	s.Error(err)
}

func (s *PubsubTestSuite) TestAcknowledge() {
	sub := &fakeSubscription{}
	server := s.runSubscription(sub)
	defer server.Close()

	s.NoError(s.newSource(server).Acknowledge(context.Background(), []string{"ack-1", "ack-2"}))
	s.Equal([]string{"ack-1", "ack-2"}, sub.acked)
}
