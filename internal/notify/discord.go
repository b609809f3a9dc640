package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"strings"

	"mealplan/internal/httputil"
)

const (
	// DiscordChunkRunes keeps each message, header and code fence included,
	// under Discord's 2000 character limit.
	DiscordChunkRunes = 1900

	discordTitle         = "**🍽️ Your Weekly No Frills Meal Plan**"
	discordFlyerCaption  = "📄 Complete flyer for reference:"
	discordFlyerFilename = "no_frills_flyer.jpg"
)

// DiscordSender delivers full meal plans to a Discord webhook.
type DiscordSender struct {
	url    string
	client *http.Client
	retry  httputil.RetryConfig
}

func NewDiscordSender(webhookURL string, client *http.Client) *DiscordSender {
	if client == nil {
		client = http.DefaultClient
	}
	return &DiscordSender{url: strings.TrimSpace(webhookURL), client: client, retry: httputil.DefaultRetryConfig()}
}

func (s *DiscordSender) Name() string { return "discord" }

// SendRecommendations posts the plan as one or more code-block messages and
// then uploads the flyer image when flyerPath names an existing file. It
// returns how many messages were accepted before any failure.
func (s *DiscordSender) SendRecommendations(ctx context.Context, text, flyerPath string) (int, error) {
	if s.url == "" {
		return 0, fmt.Errorf("discord webhook URL is required")
	}

	messages := DiscordMessages(text)
	sent := 0
	for i, content := range messages {
		body, err := json.Marshal(struct {
			Content string `json:"content"`
		}{Content: content})
		if err != nil {
			return sent, fmt.Errorf("marshal discord message: %w", err)
		}
		if err := post(ctx, s.client, s.retry, s.url, "application/json", body, s.Name(), discordAccepted); err != nil {
			if len(messages) > 1 {
				return sent, fmt.Errorf("part %d/%d: %w", i+1, len(messages), err)
			}
			return sent, err
		}
		sent++
	}

	if flyerPath == "" {
		return sent, nil
	}
	f, err := os.Open(flyerPath)
	if errors.Is(err, fs.ErrNotExist) {
		return sent, nil
	}
	if err != nil {
		return sent, fmt.Errorf("open flyer image: %w", err)
	}
	defer f.Close()

	if err := s.uploadFlyer(ctx, f); err != nil {
		return sent, fmt.Errorf("flyer image: %w", err)
	}
	return sent + 1, nil
}

func (s *DiscordSender) uploadFlyer(ctx context.Context, image io.Reader) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("content", discordFlyerCaption); err != nil {
		return fmt.Errorf("write caption: %w", err)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, discordFlyerFilename))
	h.Set("Content-Type", "image/jpeg")
	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(part, image); err != nil {
		return fmt.Errorf("copy image: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close multipart body: %w", err)
	}
	return post(ctx, s.client, s.retry, s.url, w.FormDataContentType(), buf.Bytes(), s.Name(), discordAccepted)
}

func discordAccepted(code int) bool {
	return code == http.StatusOK || code == http.StatusNoContent
}

// DiscordMessages formats text for Discord. Text longer than
// DiscordChunkRunes is split into numbered parts.
func DiscordMessages(text string) []string {
	chunks := SplitRunes(text, DiscordChunkRunes)
	if len(chunks) <= 1 {
		return []string{fmt.Sprintf("%s\n```\n%s\n```", discordTitle, text)}
	}
	out := make([]string, len(chunks))
	title := strings.TrimSuffix(discordTitle, "**")
	for i, chunk := range chunks {
		out[i] = fmt.Sprintf("%s (Part %d/%d)**\n```\n%s\n```", title, i+1, len(chunks), chunk)
	}
	return out
}

// SplitRunes cuts s into pieces of at most n runes without splitting a
// multi-byte character.
func SplitRunes(s string, n int) []string {
	if n <= 0 {
		return []string{s}
	}
	runes := []rune(s)
	if len(runes) <= n {
		return []string{s}
	}
	out := make([]string, 0, (len(runes)+n-1)/n)
	for start := 0; start < len(runes); start += n {
		end := min(start+n, len(runes))
		out = append(out, string(runes[start:end]))
	}
	return out
}
