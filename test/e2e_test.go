package test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/suite"

	"github.com/pgillich/shout-worker/internal"
	"github.com/pgillich/shout-worker/internal/logger"
	"github.com/pgillich/shout-worker/internal/model"
)

type E2ETestSuite struct {
	suite.Suite
}

func TestE2ETestSuite(t *testing.T) {
	suite.Run(t, new(E2ETestSuite))
}

type queuedMessage struct {
	AckID   string `json:"ackId"`
	Message struct {
		Data       string            `json:"data"`
		Attributes map[string]string `json:"attributes"`
		MessageID  string            `json:"messageId"`
	} `json:"message"`
}

// fakeQueue is an in-memory Pub/Sub-style subscription endpoint.
// failRemaining makes the next pulls fail, to simulate a queue outage.
type fakeQueue struct {
	mtx           sync.Mutex
	queued        []queuedMessage
	acked         []string
	failRemaining int
}

func (q *fakeQueue) push(id string, body string, attrs map[string]string) {
	q.mtx.Lock()
	defer q.mtx.Unlock()
	msg := queuedMessage{AckID: "ack-" + id}
	msg.Message.MessageID = id
	msg.Message.Data = base64.StdEncoding.EncodeToString([]byte(body))
	msg.Message.Attributes = attrs
	q.queued = append(q.queued, msg)
}

func (q *fakeQueue) ackedIDs() []string {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	return append([]string{}, q.acked...)
}

func (q *fakeQueue) bindRoutes(r chi.Router) {
	r.Post("/v1/projects/demo/subscriptions/shout:pull", func(w http.ResponseWriter, req *http.Request) {
		pullReq := struct {
			MaxMessages int `json:"maxMessages"`
		}{}
		body, _ := io.ReadAll(req.Body)    //nolint:errcheck // test
		_ = json.Unmarshal(body, &pullReq) //nolint:errcheck // test
		q.mtx.Lock()
		if q.failRemaining > 0 {
			q.failRemaining--
			q.mtx.Unlock()
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}
		count := pullReq.MaxMessages
		if count > len(q.queued) {
			count = len(q.queued)
		}
		resp := struct {
			ReceivedMessages []queuedMessage `json:"receivedMessages"`
		}{ReceivedMessages: q.queued[:count]}
		q.queued = q.queued[count:]
		q.mtx.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp) //nolint:errcheck // test
	})
	r.Post("/v1/projects/demo/subscriptions/shout:acknowledge", func(w http.ResponseWriter, req *http.Request) {
		ackReq := struct {
			AckIDs []string `json:"ackIds"`
		}{}
		body, _ := io.ReadAll(req.Body)    //nolint:errcheck // test
		_ = json.Unmarshal(body, &ackReq)  //nolint:errcheck // test
		q.mtx.Lock()
		q.acked = append(q.acked, ackReq.AckIDs...)
		q.mtx.Unlock()
		w.Write([]byte("{}")) //nolint:errcheck,gosec // test
	})
}

// fakeCallback records the status posts of the worker, by token.
type fakeCallback struct {
	mtx   sync.Mutex
	posts map[string]map[string]string
}

func (c *fakeCallback) bindRoutes(r chi.Router) {
	r.Post("/status", func(w http.ResponseWriter, req *http.Request) {
		if err := req.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)

			return
		}
		fields := map[string]string{}
		for key := range req.PostForm {
			fields[key] = req.PostForm.Get(key)
		}
		c.mtx.Lock()
		c.posts[req.PostForm.Get("token")] = fields
		c.mtx.Unlock()
		w.WriteHeader(http.StatusOK)
	})
}

func (c *fakeCallback) post(token string) map[string]string {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	return c.posts[token]
}

func (s *E2ETestSuite) runFakeServer(log logr.Logger, bind func(chi.Router)) *httptest.Server {
	r := chi.NewRouter()
	r.Use(chi_middleware.RequestLogger(&logger.ChiLogr{Logger: log}))
	bind(r)

	return httptest.NewServer(r)
}

func (s *E2ETestSuite) TestWorkerProcessesQueue() {
	log := logger.GetLogger(s.T().Name())

	queue := &fakeQueue{}
	queueServer := s.runFakeServer(log, queue.bindRoutes)
	defer queueServer.Close()
	callback := &fakeCallback{posts: map[string]map[string]string{}}
	callbackServer := s.runFakeServer(log, callback.bindRoutes)
	defer callbackServer.Close()

	statusURL := callbackServer.URL + "/status"
	future := strconv.FormatInt(time.Now().Add(30*time.Second).Unix(), 10)
	queue.push("1", "hello", map[string]string{
		"postStatusUrl": statusURL, "postStatusToken": "tok-hello", "deadline": future,
	})
	queue.push("2", "chickens", map[string]string{
		"postStatusUrl": statusURL, "postStatusToken": "tok-poison", "deadline": future,
	})
	queue.push("3", "hello", map[string]string{
		"postStatusUrl": statusURL, "postStatusToken": "tok-late", "deadline": "0",
	})
	queue.push("4", "hello", map[string]string{"deadline": "0"})

	adminServer := httptest.NewUnstartedServer(nil)
	started := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = context.WithValue(ctx, model.CtxKeyCmd, "shout-worker worker")
	ctx = context.WithValue(ctx, model.CtxKeyServerRunner, TestServerRunner(adminServer, started))

	config := &internal.WorkerConfig{
		Instance:     "worker-1",
		Command:      "shout-worker worker",
		Source:       internal.SourceTypePubsub,
		PullURL:      queueServer.URL + "/v1",
		Project:      "demo",
		Subscription: "shout",
		Interval:     10 * time.Millisecond,
		JaegerURL:    "-",
		OtlpURL:      "-",
	}
	service := internal.NewWorkerService(ctx, config, log)
	serviceDone := make(chan error, 1)
	go func() {
		serviceDone <- service.Run(nil)
	}()
	<-started

	s.Eventually(func() bool {
		return len(queue.ackedIDs()) == 4
	}, 5*time.Second, 20*time.Millisecond)

	s.Equal(map[string]string{
		"token": "tok-hello", "status": "success", "result": "HELLO",
	}, callback.post("tok-hello"))
	s.Equal(map[string]string{
		"token": "tok-poison", "status": "fatal",
	}, callback.post("tok-poison"))
	s.Equal(map[string]string{
		"token": "tok-late", "status": "timeout",
	}, callback.post("tok-late"))
	// no validated destination for the message with bad attributes
	s.Len(callback.posts, 3)
	s.ElementsMatch([]string{"ack-1", "ack-2", "ack-3", "ack-4"}, queue.ackedIDs())

	resp, err := adminServer.Client().Get(adminServer.URL + "/healthz")
	s.NoError(err)
	if err == nil {
		resp.Body.Close() //nolint:errcheck,gosec // test
		s.Equal(http.StatusOK, resp.StatusCode)
	}
	resp, err = adminServer.Client().Get(adminServer.URL + "/readyz")
	s.NoError(err)
	if err == nil {
		resp.Body.Close() //nolint:errcheck,gosec // test
		s.Equal(http.StatusOK, resp.StatusCode)
	}

	cancel()
	select {
	case err := <-serviceDone:
		s.NoError(err)
	case <-time.After(5 * time.Second):
		s.Fail("worker did not stop")
	}
}

func (s *E2ETestSuite) TestWorkerRecoversFromQueueOutage() {
	log := logger.GetLogger(s.T().Name())

	queue := &fakeQueue{failRemaining: 2}
	queueServer := s.runFakeServer(log, queue.bindRoutes)
	defer queueServer.Close()
	callback := &fakeCallback{posts: map[string]map[string]string{}}
	callbackServer := s.runFakeServer(log, callback.bindRoutes)
	defer callbackServer.Close()

	future := strconv.FormatInt(time.Now().Add(30*time.Second).Unix(), 10)
	queue.push("1", "hello", map[string]string{
		"postStatusUrl":   callbackServer.URL + "/status",
		"postStatusToken": "tok-recovered",
		"deadline":        future,
	})

	adminServer := httptest.NewUnstartedServer(nil)
	started := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = context.WithValue(ctx, model.CtxKeyCmd, "shout-worker worker")
	ctx = context.WithValue(ctx, model.CtxKeyServerRunner, TestServerRunner(adminServer, started))

	config := &internal.WorkerConfig{
		Instance:     "worker-2",
		Command:      "shout-worker worker",
		Source:       internal.SourceTypePubsub,
		PullURL:      queueServer.URL + "/v1",
		Project:      "demo",
		Subscription: "shout",
		Interval:     10 * time.Millisecond,
		JaegerURL:    "-",
		OtlpURL:      "-",
	}
	service := internal.NewWorkerService(ctx, config, log)
	serviceDone := make(chan error, 1)
	go func() {
		serviceDone <- service.Run(nil)
	}()
	<-started

	// the failed pulls back off and do not kill the worker
	s.Eventually(func() bool {
		return len(queue.ackedIDs()) == 1
	}, 10*time.Second, 20*time.Millisecond)
	s.Equal(map[string]string{
		"token": "tok-recovered", "status": "success", "result": "HELLO",
	}, callback.post("tok-recovered"))

	cancel()
	select {
	case err := <-serviceDone:
		s.NoError(err)
	case <-time.After(5 * time.Second):
		s.Fail("worker did not stop")
	}
}
