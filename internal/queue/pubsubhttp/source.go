// Package pubsubhttp pulls messages over a Pub/Sub-style REST API:
// POST <base>/projects/<project>/subscriptions/<sub>:pull and :acknowledge.
// Message bodies are base64-encoded on the wire and decoded before hand-off.
package pubsubhttp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"emperror.dev/errors"
	"github.com/go-logr/logr"

	"github.com/pgillich/shout-worker/internal/queue"
)

var ErrPullStatus = errors.NewPlain("unexpected pull response status")
var ErrAckStatus = errors.NewPlain("unexpected acknowledge response status")

type pullRequest struct {
	MaxMessages       int  `json:"maxMessages"`
	ReturnImmediately bool `json:"returnImmediately"`
}

type pubsubMessage struct {
	Data       string            `json:"data"`
	Attributes map[string]string `json:"attributes"`
	MessageID  string            `json:"messageId"`
}

type receivedMessage struct {
	AckID   string        `json:"ackId"`
	Message pubsubMessage `json:"message"`
}

type pullResponse struct {
	ReceivedMessages []receivedMessage `json:"receivedMessages"`
}

type acknowledgeRequest struct {
	AckIDs []string `json:"ackIds"`
}

var _ queue.Source = (*Source)(nil)

type Source struct {
	client       *http.Client
	baseURL      string
	project      string
	subscription string
	log          logr.Logger
}

func NewSource(client *http.Client, baseURL string, project string, subscription string, log logr.Logger) *Source {
	return &Source{
		client:       client,
		baseURL:      baseURL,
		project:      project,
		subscription: subscription,
		log:          log,
	}
}

func (s *Source) subscriptionURL(action string) string {
	return fmt.Sprintf("%s/projects/%s/subscriptions/%s:%s", s.baseURL, s.project, s.subscription, action)
}

func (s *Source) Pull(ctx context.Context, maxMessages int, returnImmediately bool) ([]queue.Message, error) {
	respBody, err := s.post(ctx, s.subscriptionURL("pull"), pullRequest{
		MaxMessages:       maxMessages,
		ReturnImmediately: returnImmediately,
	}, ErrPullStatus)
	if err != nil {
		return nil, err
	}

	pullResp := pullResponse{}
	if err = json.Unmarshal(respBody, &pullResp); err != nil {
		return nil, errors.Wrap(err, "malformed pull response")
	}

	msgs := make([]queue.Message, 0, len(pullResp.ReceivedMessages))
	for _, received := range pullResp.ReceivedMessages {
		body, err := base64.StdEncoding.DecodeString(received.Message.Data)
		if err != nil {
			return nil, errors.Wrap(err, "malformed message data")
		}
		msgs = append(msgs, queue.Message{
			ID:         received.Message.MessageID,
			Body:       body,
			Attributes: received.Message.Attributes,
			AckID:      received.AckID,
		})
	}
	s.log.V(1).Info("Pulled", "count", len(msgs))

	return msgs, nil
}

func (s *Source) Acknowledge(ctx context.Context, ackIDs []string) error {
	_, err := s.post(ctx, s.subscriptionURL("acknowledge"), acknowledgeRequest{AckIDs: ackIDs}, ErrAckStatus)

	return err
}

func (s *Source) post(ctx context.Context, url string, payload interface{}, statusErr error) ([]byte, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "queue transport")
	}
	defer resp.Body.Close() //nolint:errcheck // not important

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, errors.WithDetails(statusErr, "status", resp.StatusCode, "url", url)
	}

	return respBody, nil
}
