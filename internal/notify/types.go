package notify

import (
	"context"
	"fmt"
	"strings"

	"mealplan/internal/config"
)

const (
	TriggerCompleted = config.TriggerCompleted
	TriggerFailed    = config.TriggerFailed
)

var AllTriggers = []string{
	TriggerCompleted,
	TriggerFailed,
}

// Payload describes a run lifecycle event sent to notification channels.
type Payload struct {
	Event     string `json:"event"`
	RunID     string `json:"run_id"`
	State     string `json:"state"`
	Summary   string `json:"summary"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

type Sender interface {
	Name() string
	Send(ctx context.Context, payload Payload) error
}

type ChannelResult struct {
	Channel string `json:"channel"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func TriggerSet(triggers []string) map[string]struct{} {
	if triggers == nil {
		triggers = AllTriggers
	}
	out := make(map[string]struct{}, len(triggers))
	for _, trigger := range triggers {
		normalized := strings.ToLower(strings.TrimSpace(trigger))
		if normalized == TriggerCompleted || normalized == TriggerFailed {
			out[normalized] = struct{}{}
		}
	}
	return out
}

func EventState(event string) string {
	if event == TriggerCompleted {
		return "completed"
	}
	return "error"
}

func EventLabel(event string) string {
	if event == TriggerCompleted {
		return "Meal Plan Ready"
	}
	return "Generation Failed"
}

// RunSummary is the one-line description of a generation request.
func RunSummary(cuisine string, people, meals int, postalCode string) string {
	return fmt.Sprintf("%s, %d meals for %d people (%s)", cuisine, meals, people, postalCode)
}

func SlackText(payload Payload) string {
	text := fmt.Sprintf("mealplan: %s\nRun: %s\nRequest: %s", EventLabel(payload.Event), payload.RunID, payload.Summary)
	if payload.Error != "" {
		text += "\nError: " + payload.Error
	}
	return text
}
