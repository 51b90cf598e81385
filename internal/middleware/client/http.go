package client

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/trace"
)

// Transport implements the http.RoundTripper interface and wraps
// outbound HTTP(S) requests with logs.
type Transport struct {
	rt http.RoundTripper

	log logr.Logger
}

// NewTransport wraps the provided http.RoundTripper with one that
// logs request and respnse.
//
// If the provided http.RoundTripper is nil, http.DefaultTransport will be used
// as the base http.RoundTripper.
func NewTransport(base http.RoundTripper, log logr.Logger) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}

	return &Transport{
		rt:  base,
		log: log,
	}
}

// RoundTrip logs outgoing request and response.
func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	log := t.log.WithValues(
		"outMethod", r.Method,
		"outUrl", r.URL.String(),
		"spanID", trace.SpanFromContext(r.Context()).SpanContext().SpanID(),
	)

	log.V(1).Info("OUT_REQ")
	beginTS := time.Now()

	res, err := t.rt.RoundTrip(r)

	elapsedSec := time.Since(beginTS).Seconds()
	if err != nil {
		log.Error(err, "OUT_RESP", "outDuration", fmt.Sprintf("%.3f", elapsedSec))

		return res, err //nolint:wrapcheck // should not be changed
	}
	log.V(1).Info("OUT_RESP",
		"outStatusCode", res.StatusCode,
		"outContentLength", res.ContentLength,
		"outDuration", fmt.Sprintf("%.3f", elapsedSec),
	)

	return res, nil
}
