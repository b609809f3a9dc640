package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultServerURL  = "http://127.0.0.1:8000"
	defaultTimeout    = 10 * time.Second
	maxErrorBodyBytes = 1024
)

// APIError is a non-2xx response from the backend. Detail carries the
// body's "detail" field, or a fallback message when the body has none.
type APIError struct {
	Path   string
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return e.Detail
}

// IsStatus reports whether err is an APIError with the given HTTP status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// Client talks to the meal-plan REST API.
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string, client *http.Client) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultServerURL
	}
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{baseURL: baseURL, client: client}
}

func (c *Client) BaseURL() string { return c.baseURL }

// Config fetches the initial form defaults.
func (c *Client) Config(ctx context.Context) (DefaultConfig, error) {
	var out DefaultConfig
	err := c.doJSON(ctx, http.MethodGet, "/api/config", nil, &out, "")
	return out, err
}

// Status fetches the current job status.
func (c *Client) Status(ctx context.Context) (JobStatus, error) {
	var out JobStatus
	err := c.doJSON(ctx, http.MethodGet, "/api/status", nil, &out, "")
	return out, err
}

// Generate starts a new generation job.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	var out GenerateResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/generate", req, &out, "Failed to start generation")
	return out, err
}

// Recommendations fetches the latest completed results.
func (c *Client) Recommendations(ctx context.Context) (Recommendations, error) {
	var out Recommendations
	err := c.doJSON(ctx, http.MethodGet, "/api/recommendations", nil, &out, "Failed to load recommendations")
	return out, err
}

// SendDiscord asks the backend to deliver the latest results to a Discord webhook.
func (c *Client) SendDiscord(ctx context.Context, webhookURL string) (MessageResponse, error) {
	webhookURL = strings.TrimSpace(webhookURL)
	if webhookURL == "" {
		return MessageResponse{}, errors.New("Discord webhook URL is required")
	}
	var out MessageResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/send-discord", DiscordRequest{WebhookURL: webhookURL}, &out, "Failed to send to Discord")
	return out, err
}

// FlyerImage streams the stitched flyer image into w and returns the byte count.
func (c *Client) FlyerImage(ctx context.Context, w io.Writer) (int64, error) {
	path := fmt.Sprintf("/api/flyer-image?t=%d", time.Now().UnixMilli())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, fmt.Errorf("build flyer request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch flyer image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, readAPIError(resp, "/api/flyer-image", "Flyer image not found")
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("read flyer image: %w", err)
	}
	return n, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, result any, fallback string) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s body: %w", path, err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send %s request: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readAPIError(resp, path, fallback)
	}
	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func readAPIError(resp *http.Response, path, fallback string) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	var eb ErrorBody
	detail := ""
	if json.Unmarshal(raw, &eb) == nil {
		detail = strings.TrimSpace(eb.Detail)
	}
	if detail == "" {
		detail = fallback
	}
	if detail == "" {
		detail = fmt.Sprintf("%s: HTTP %d %s", path, resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return &APIError{Path: path, Status: resp.StatusCode, Detail: detail}
}
