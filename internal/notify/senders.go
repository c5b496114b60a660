package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"flowline/internal/events"
	"flowline/internal/notifystore"
)

const userAgent = "flowline/" + "0.1.0"

// Sender delivers one matched notification to its channel. Senders are
// fire-and-log: a failed delivery is reported to the caller but never
// retried here.
type Sender interface {
	Send(ctx context.Context, cfg notifystore.Config, event events.PipelineExecutionEvent) error
}

// webhookPayload is the body POSTed to webhook receivers.
type webhookPayload struct {
	PipelineID   int64  `json:"pipelineId"`
	PipelineName string `json:"pipelineName"`
	Location     string `json:"location"`
	Timestamp    string `json:"timestamp"`
}

// WebhookSender POSTs a small JSON document to the configured URL.
type WebhookSender struct {
	client *http.Client
}

// NewWebhookSender builds a webhook sender with the given request timeout.
func NewWebhookSender(timeout time.Duration) *WebhookSender {
	return &WebhookSender{client: &http.Client{Timeout: timeout}}
}

func (s *WebhookSender) Send(ctx context.Context, cfg notifystore.Config, event events.PipelineExecutionEvent) error {
	payload := webhookPayload{
		PipelineID:   event.PipelineID,
		PipelineName: event.PipelineName,
		Location:     event.Location(),
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}
	return postJSON(ctx, s.client, cfg.Webhook.URL, payload)
}

// SlackSender posts a human-readable message to an incoming-webhook URL
// derived from the workspace, channel and secret triple.
type SlackSender struct {
	baseURL string
	client  *http.Client
}

// NewSlackSender builds a Slack sender rooted at baseURL.
func NewSlackSender(baseURL string, timeout time.Duration) *SlackSender {
	return &SlackSender{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *SlackSender) Send(ctx context.Context, cfg notifystore.Config, event events.PipelineExecutionEvent) error {
	endpoint := fmt.Sprintf("%s/%s/%s/%s",
		s.baseURL,
		url.PathEscape(cfg.Slack.WorkspaceID),
		url.PathEscape(cfg.Slack.ChannelID),
		url.PathEscape(cfg.Slack.Secret))
	message := map[string]string{
		"text": executionMessage(event),
	}
	return postJSON(ctx, s.client, endpoint, message)
}

// executionMessage renders the chat text for a new-data notification.
func executionMessage(event events.PipelineExecutionEvent) string {
	return fmt.Sprintf("Pipeline %s(%d) has new data available. Fetch at %s.",
		event.PipelineName, event.PipelineID, event.Location())
}

func postJSON(ctx context.Context, client *http.Client, endpoint string, payload any) error {
	return postJSONWithHeaders(ctx, client, endpoint, payload, nil)
}

func postJSONWithHeaders(ctx context.Context, client *http.Client, endpoint string, payload any, headers map[string]string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post notification: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notification receiver returned status %d", resp.StatusCode)
	}
	return nil
}
