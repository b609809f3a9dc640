package api

import (
	"encoding/json"
	"fmt"
)

// Status is the backend-reported state of the most recent generation job.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// IsTerminal reports whether no further polling is needed for the job.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

func (s *Status) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}
	switch Status(raw) {
	case StatusIdle, StatusProcessing, StatusCompleted, StatusError:
		*s = Status(raw)
		return nil
	default:
		return fmt.Errorf("unknown status %q", raw)
	}
}

// JobStatus is the payload of GET /api/status.
type JobStatus struct {
	Status        Status `json:"status"`
	StatusMessage string `json:"status_message,omitempty"`
	Error         string `json:"error,omitempty"`
	HasResults    bool   `json:"has_results"`
	Timestamp     string `json:"timestamp,omitempty"`
}

// DefaultConfig is the payload of GET /api/config.
type DefaultConfig struct {
	PostalCode        string `json:"postal_code"`
	NumPeople         int    `json:"num_people"`
	NumMeals          int    `json:"num_meals"`
	Cuisine           string `json:"cuisine"`
	Headless          bool   `json:"headless"`
	DiscordWebhookURL string `json:"discord_webhook_url"`
}

// GenerateRequest is the body of POST /api/generate.
type GenerateRequest struct {
	PostalCode      string `json:"postal_code"`
	NumPeople       int    `json:"num_people"`
	NumMeals        int    `json:"num_meals"`
	Cuisine         string `json:"cuisine"`
	Headless        bool   `json:"headless"`
	AutoSendDiscord bool   `json:"auto_send_discord"`
}

// GenerateResponse is the 2xx body of POST /api/generate.
type GenerateResponse struct {
	Message string `json:"message"`
	Status  Status `json:"status"`
}

// Recommendations is the payload of GET /api/recommendations.
type Recommendations struct {
	Recommendations string `json:"recommendations"`
	FlyerImage      string `json:"flyer_image,omitempty"`
	Timestamp       string `json:"timestamp,omitempty"`
}

// DiscordRequest is the body of POST /api/send-discord.
type DiscordRequest struct {
	WebhookURL string `json:"webhook_url"`
}

// MessageResponse is a generic {message} body.
type MessageResponse struct {
	Message string `json:"message"`
	Success bool   `json:"success,omitempty"`
}

// ErrorBody is the {detail} body returned with non-2xx responses.
type ErrorBody struct {
	Detail string `json:"detail"`
}
