// Package report delivers the terminal status of a processed shout request
// to the caller-supplied callback URL.
package report

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"emperror.dev/errors"
	"github.com/go-logr/logr"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFatal   Status = "fatal"
	StatusTimeout Status = "timeout"
)

// StatusReport is constructed once per cycle, sent once and discarded.
// Result is meaningful for StatusSuccess only.
type StatusReport struct {
	Token  string
	Status Status
	Result string
}

// Reporter posts a status report. At most one delivery attempt per report.
// A returned error means the report could not be handed to the transport
// at all; a delivered but rejected report is not an error.
type Reporter interface {
	Post(ctx context.Context, postURL string, report StatusReport) error
}

var _ Reporter = (*HTTPReporter)(nil)

type HTTPReporter struct {
	client *http.Client
	log    logr.Logger
}

func NewHTTPReporter(client *http.Client, log logr.Logger) *HTTPReporter {
	if client == nil {
		client = http.DefaultClient
	}

	return &HTTPReporter{client: client, log: log}
}

func (r *HTTPReporter) Post(ctx context.Context, postURL string, report StatusReport) error {
	form := url.Values{}
	form.Set("token", report.Token)
	form.Set("status", string(report.Status))
	if report.Status == StatusSuccess {
		form.Set("result", report.Result)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, postURL, strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, "build status post")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "status post transport")
	}
	// The response body is not inspected.
	resp.Body.Close() //nolint:errcheck,gosec // not important
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		r.log.Info("Status post rejected", "url", postURL, "status", resp.StatusCode)
	}

	return nil
}
