package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Placeholders recognised in configured CLI arguments.
const (
	PromptPlaceholder = "{prompt}"
	ImagePlaceholder  = "{image}"
)

const maxStderrBytes = 2048

// CLIProvider invokes an LLM via its CLI tool. The prompt and image path are
// substituted into args; when args name neither, the prompt is appended with
// an @image reference, which is how the gemini CLI attaches files.
type CLIProvider struct {
	command string
	args    []string
	timeout time.Duration
}

func NewCLIProvider(command string, args []string, timeout time.Duration) *CLIProvider {
	return &CLIProvider{command: command, args: args, timeout: timeout}
}

func (p *CLIProvider) Name() string { return filepath.Base(p.command) }

func (p *CLIProvider) Recommend(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	args := p.buildArgs(BuildPrompt(req), req.ImagePath)
	slog.Debug("llm exec", "provider", p.Name(), "image", req.ImagePath, "args_count", len(args))

	cmd := exec.CommandContext(ctx, p.command, args...)
	if req.ImagePath != "" {
		cmd.Dir = filepath.Dir(req.ImagePath)
	}
	var stdout bytes.Buffer
	stderr := &limitedBuffer{max: maxStderrBytes}
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return Response{}, fmt.Errorf("%s exited with error: %w: %s", p.Name(), err, msg)
		}
		return Response{}, fmt.Errorf("%s exited with error: %w", p.Name(), err)
	}

	return Response{
		Text:       extractText(stdout.Bytes()),
		DurationMS: int(time.Since(start).Milliseconds()),
	}, nil
}

func (p *CLIProvider) buildArgs(prompt, image string) []string {
	out := make([]string, 0, len(p.args)+2)
	substituted := false
	for _, arg := range p.args {
		if strings.Contains(arg, PromptPlaceholder) || strings.Contains(arg, ImagePlaceholder) {
			substituted = true
			arg = strings.ReplaceAll(arg, PromptPlaceholder, prompt)
			arg = strings.ReplaceAll(arg, ImagePlaceholder, image)
		}
		out = append(out, arg)
	}
	if substituted {
		return out
	}
	if image != "" {
		prompt = prompt + "\n\n@" + filepath.Base(image)
	}
	return append(out, "--prompt", prompt)
}

// extractText returns the model reply from CLI output. JSON output
// ({"response": ...} or {"result": ...}) is unwrapped; anything else is
// returned as plain text.
func extractText(out []byte) string {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var msg cliMessage
		if err := json.Unmarshal(trimmed, &msg); err == nil {
			switch {
			case msg.Response != "":
				return strings.TrimSpace(msg.Response)
			case msg.Result != "":
				return strings.TrimSpace(msg.Result)
			}
		}
	}
	return string(trimmed)
}

type cliMessage struct {
	Response string `json:"response,omitempty"`
	Result   string `json:"result,omitempty"`
}

// limitedBuffer keeps the first max bytes written to it and drops the rest.
type limitedBuffer struct {
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string { return b.buf.String() }
