package httputil

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryConfig controls the retry behavior.
type RetryConfig struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64 // fraction of delay to randomize (0..1)
}

// DefaultRetryConfig suits chat webhooks, which rate limit with 429 and a
// Retry-After header.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		BaseDelay:    1 * time.Second,
		MaxDelay:     15 * time.Second,
		JitterFactor: 0.25,
	}
}

// NoRetry sends each request exactly once.
func NoRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 1}
}

// Do sends a request built by buildReq, retrying network errors, HTTP 429 and
// HTTP 5xx. buildReq runs once per attempt since a consumed body cannot be
// resent.
//
// Any other status is returned immediately with the body intact. When the
// final attempt still gets 429 or 5xx, that response is returned too so the
// caller can report its status and body.
func Do(ctx context.Context, client *http.Client, buildReq func() (*http.Request, error), cfg RetryConfig) (*http.Response, error) {
	if client == nil {
		client = http.DefaultClient
	}
	attempts := max(cfg.MaxAttempts, 1)

	var lastErr error
	for attempt := range attempts {
		last := attempt == attempts-1

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !last {
				slog.Warn("httputil: retrying after network error", "attempt", attempt+1, "max", attempts, "err", err)
				if err := sleepWithContext(ctx, backoff(cfg, attempt, nil)); err != nil {
					return nil, err
				}
			}
			continue
		}

		if !retryable(resp.StatusCode) || last {
			return resp, nil
		}

		delay := backoff(cfg, attempt, resp)
		resp.Body.Close()
		slog.Warn("httputil: retrying after status", "attempt", attempt+1, "max", attempts, "status", resp.StatusCode, "delay", delay)
		if err := sleepWithContext(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("all %d attempts exhausted: %w", attempts, lastErr)
}

func retryable(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// backoff computes the sleep duration for the given attempt. A Retry-After
// header on resp takes precedence.
func backoff(cfg RetryConfig, attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if ra := parseRetryAfter(resp.Header.Get("Retry-After")); ra > 0 {
			return ra
		}
	}

	delay := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	delay += delay * cfg.JitterFactor * (rand.Float64()*2 - 1)
	if delay < 0 {
		delay = float64(cfg.BaseDelay)
	}
	return time.Duration(delay)
}

// parseRetryAfter accepts delay-seconds ("120") or an HTTP-date. It returns
// 0 when the value is empty, unparseable or already past.
func parseRetryAfter(val string) time.Duration {
	val = strings.TrimSpace(val)
	if val == "" {
		return 0
	}
	if secs, err := strconv.Atoi(val); err == nil {
		if secs > 0 {
			return time.Duration(secs) * time.Second
		}
		return 0
	}
	// Discord sends fractional seconds.
	if secs, err := strconv.ParseFloat(val, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(val); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
