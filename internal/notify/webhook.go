package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"mealplan/internal/httputil"
)

const maxErrorBodyBytes = 1024

// WebhookSender posts the raw JSON payload to a generic webhook.
type WebhookSender struct {
	url    string
	client *http.Client
}

func NewWebhookSender(webhookURL string, client *http.Client) *WebhookSender {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebhookSender{url: strings.TrimSpace(webhookURL), client: client}
}

func (s *WebhookSender) Name() string { return "webhook" }

func (s *WebhookSender) Send(ctx context.Context, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	return postJSON(ctx, s.client, s.url, body, s.Name())
}

// postJSON sends once; the dispatcher owns retries for lifecycle events.
func postJSON(ctx context.Context, client *http.Client, endpoint string, body []byte, channel string) error {
	return post(ctx, client, httputil.NoRetry(), endpoint, "application/json", body, channel, is2xx)
}

func is2xx(code int) bool { return code >= 200 && code < 300 }

// post sends body to endpoint and fails unless ok accepts the status code.
// Error bodies are read up to maxErrorBodyBytes.
func post(ctx context.Context, client *http.Client, retry httputil.RetryConfig, endpoint, contentType string, body []byte, channel string, ok func(int) bool) error {
	if strings.TrimSpace(endpoint) == "" {
		return fmt.Errorf("%s endpoint is empty", channel)
	}

	buildReq := func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build %s request: %w", channel, err)
		}
		req.Header.Set("Content-Type", contentType)
		return req, nil
	}

	resp, err := httputil.Do(ctx, client, buildReq, retry)
	if err != nil {
		return fmt.Errorf("send %s request: %w", channel, err)
	}
	defer resp.Body.Close()

	if !ok(resp.StatusCode) {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		msg := strings.TrimSpace(string(respBody))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("%s request failed with status %d: %s", channel, resp.StatusCode, msg)
	}
	return nil
}
