package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"mealplan/internal/config"
)

const maxChannelErrorLen = 512

var urlPattern = regexp.MustCompile(`https?://[^\s"'` + "`" + `]+`)

// BuildSenders returns the lifecycle channels enabled in cfg. Discord is not
// among them; it receives full results through DiscordSender instead.
func BuildSenders(cfg config.NotificationsConfig, client *http.Client) []Sender {
	var senders []Sender
	if strings.TrimSpace(cfg.WebhookURL) != "" {
		senders = append(senders, NewWebhookSender(cfg.WebhookURL, client))
	}
	if strings.TrimSpace(cfg.SlackWebhook) != "" {
		senders = append(senders, NewSlackSender(cfg.SlackWebhook, client))
	}
	if cfg.Desktop {
		if sender := NewDesktopSender(); sender != nil {
			senders = append(senders, sender)
		}
	}
	return senders
}

// Results holds per-channel outcomes of one SendAll call.
type Results []ChannelResult

func (r Results) Succeeded() int {
	n := 0
	for _, result := range r {
		if result.Success {
			n++
		}
	}
	return n
}

// FailureSummary joins the failed channels and their errors, or returns ""
// when every channel succeeded.
func (r Results) FailureSummary() string {
	var parts []string
	for _, result := range r {
		switch {
		case result.Success:
		case result.Error == "":
			parts = append(parts, result.Channel+" failed")
		default:
			parts = append(parts, fmt.Sprintf("%s: %s", result.Channel, result.Error))
		}
	}
	return strings.Join(parts, "; ")
}

// SendAll sends payload on every channel, each under its own timeout. A
// failing channel never stops the others.
func SendAll(ctx context.Context, senders []Sender, payload Payload, timeout time.Duration) Results {
	results := make(Results, 0, len(senders))
	for _, sender := range senders {
		if sender == nil {
			continue
		}
		results = append(results, sendOne(ctx, sender, payload, timeout))
	}
	return results
}

func sendOne(ctx context.Context, sender Sender, payload Payload, timeout time.Duration) ChannelResult {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	result := ChannelResult{Channel: sender.Name(), Success: true}
	if err := sender.Send(ctx, payload); err != nil {
		result.Success = false
		result.Error = sanitizeChannelError(err)
	}
	return result
}

// sanitizeChannelError strips webhook secrets from an error message. Webhook
// URLs embed their token in the path, so only scheme and host survive.
func sanitizeChannelError(err error) string {
	if err == nil {
		return ""
	}
	msg := redactURLs(strings.TrimSpace(err.Error()))
	if len(msg) > maxChannelErrorLen {
		msg = msg[:maxChannelErrorLen]
	}
	return msg
}

func redactURLs(msg string) string {
	return urlPattern.ReplaceAllStringFunc(msg, func(match string) string {
		parsed, err := url.Parse(match)
		if err != nil || parsed.Host == "" {
			return "[redacted-url]"
		}
		return parsed.Scheme + "://" + parsed.Host + "/REDACTED"
	})
}
