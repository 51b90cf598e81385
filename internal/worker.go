package internal

import (
	"context"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"emperror.dev/errors"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"github.com/labstack/echo/v4"
	echo_middleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/baggage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/pgillich/shout-worker/internal/logger"
	"github.com/pgillich/shout-worker/internal/middleware"
	client_middleware "github.com/pgillich/shout-worker/internal/middleware/client"
	"github.com/pgillich/shout-worker/internal/middleware/inner"
	"github.com/pgillich/shout-worker/internal/model"
	"github.com/pgillich/shout-worker/internal/queue"
	"github.com/pgillich/shout-worker/internal/queue/natsjs"
	"github.com/pgillich/shout-worker/internal/queue/pubsubhttp"
	"github.com/pgillich/shout-worker/internal/report"
	"github.com/pgillich/shout-worker/internal/shouter"
	"github.com/pgillich/shout-worker/internal/tracing"
)

const (
	SourceTypePubsub = "pubsub"
	SourceTypeNats   = "nats"
)

type WorkerConfig struct {
	ListenAddr string
	Instance   string
	Command    string

	Source       string
	PullURL      string
	Project      string
	Subscription string

	NatsURL string
	Subject string
	Durable string

	Interval        time.Duration
	CallbackTimeout time.Duration

	JaegerURL string
	OtlpURL   string
}

func (c *WorkerConfig) SetListenAddr(addr string) {
	c.ListenAddr = addr
}

type Worker struct {
	config       WorkerConfig
	serverRunner model.ServerRunner
	log          logr.Logger
	shutdown     <-chan struct{}
	ready        atomic.Bool
}

func NewWorkerService(ctx context.Context, cfg interface{}, log logr.Logger) model.Service {
	if config, is := cfg.(*WorkerConfig); !is {
		log.Error(logger.ErrInvalidConfig, "config type")
		panic(logger.ErrInvalidConfig)
	} else if serverRunner, is := ctx.Value(model.CtxKeyServerRunner).(model.ServerRunner); !is {
		log.Error(ErrInvalidServerRunner, "server runner config")
		panic(ErrInvalidServerRunner)
	} else {
		if config.Interval <= 0 {
			config.Interval = time.Second
		}

		return &Worker{
			config:       *config,
			serverRunner: serverRunner,
			log:          log,
			shutdown:     ctx.Done(),
		}
	}
}

func (s *Worker) Run(args []string) error {
	s.log = s.log.WithValues("args", args)
	s.log.Info("Worker start")
	tracing.SetErrorHandlerLogger(&s.log)
	exporter, err := s.newExporter()
	if err != nil {
		return errors.Wrap(err, "trace exporter")
	}
	tp := tracing.InitTracer(exporter, sdktrace.AlwaysSample(), "shout-worker", s.config.Instance, s.config.Command, s.log)
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil { //nolint:govet // err shadow
			s.log.Error(err, "Tracer shutdown error")
		}
	}()
	tr := tp.Tracer("github.com/pgillich/shout-worker/internal", trace.WithInstrumentationVersion(tracing.SemVersion()))

	httpClient := &http.Client{
		Transport: client_middleware.NewTransport(otelhttp.NewTransport(http.DefaultTransport), s.log),
		Timeout:   s.config.CallbackTimeout,
	}
	source, err := s.newSource(httpClient)
	if err != nil {
		return errors.Wrap(err, "message source")
	}
	if closer, is := source.(io.Closer); is {
		defer closer.Close() //nolint:errcheck // drained on exit
	}
	sh := shouter.New(source, report.NewHTTPReporter(httpClient, s.log), s.log)

	go s.serverRunner(s.adminServer(), s.shutdown, s.config.ListenAddr, s.log)

	s.poll(tr, sh)
	s.log.Info("Worker exit")

	return nil
}

func (s *Worker) newExporter() (sdktrace.SpanExporter, error) {
	if s.config.OtlpURL != "" && s.config.OtlpURL != "-" {
		return tracing.OtlpProvider(s.config.OtlpURL)
	}

	return tracing.JaegerProvider(s.config.JaegerURL)
}

func (s *Worker) newSource(httpClient *http.Client) (queue.Source, error) {
	switch s.config.Source {
	case SourceTypePubsub:
		return pubsubhttp.NewSource(httpClient, s.config.PullURL, s.config.Project, s.config.Subscription, s.log), nil
	case SourceTypeNats:
		return natsjs.NewSource(s.config.NatsURL, s.config.Subject, s.config.Durable, s.log)
	}

	return nil, errors.WithDetails(ErrUnknownSource, "source", s.config.Source)
}

func (s *Worker) adminServer() http.Handler {
	e := echo.New()
	e.Use(logger.EchoLogr(s.log))
	e.Use(echo_middleware.Recover())
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok") //nolint:wrapcheck // Echo
	})
	e.GET("/readyz", func(c echo.Context) error {
		if s.ready.Load() {
			return c.String(http.StatusOK, "ready") //nolint:wrapcheck // Echo
		}

		return c.String(http.StatusServiceUnavailable, "starting") //nolint:wrapcheck // Echo
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return e
}

// poll runs processing cycles until shutdown. Message semantics live in
// shouter.RunCycle; this loop owns scheduling only: an infrastructure
// error backs off exponentially, a completed cycle waits out the
// configured interval.
func (s *Worker) poll(tr trace.Tracer, sh *shouter.Shouter) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.shutdown
		cancel()
	}()
	if bag, err := tracing.NewBaggage(s.config.Instance, s.config.Command); err != nil {
		s.log.Error(err, "unable to set command in baggage")
	} else {
		ctx = baggage.ContextWithBaggage(ctx, bag)
	}

	cycle := inner.InternalMiddlewareChain(
		inner.SemAcquire(semaphore.NewWeighted(1)),
		inner.Logger(s.log, map[string]string{"service": "worker"}),
		inner.Span(tr, "shout cycle"),
		inner.Metrics(middleware.GetMeter(s.log), "shoutworker_cycle", "Shout worker cycles",
			map[string]string{
				middleware.MetrAttrSource:   s.config.Source,
				middleware.MetrAttrInstance: s.config.Instance,
			}, middleware.FirstErr, s.log),
		inner.TryCatch(),
	)(func(ctx context.Context) (interface{}, error) {
		return nil, sh.RunCycle(ctx)
	})

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()
	for {
		if _, err := cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := bo.NextBackOff()
			s.log.Error(err, "Cycle failed", "backoff", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}

			continue
		}
		s.ready.Store(true)
		bo.Reset()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
