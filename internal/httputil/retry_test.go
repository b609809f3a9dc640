package httputil

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, BaseDelay: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond}
}

func get(url string) func() (*http.Request, error) {
	return func() (*http.Request, error) { return http.NewRequest(http.MethodGet, url, nil) }
}

func TestDoReturnsFirstSuccess(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	resp, err := Do(context.Background(), srv.Client(), get(srv.URL), fastRetry(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok" || attempts.Load() != 1 {
		t.Fatalf("got body %q after %d attempts", body, attempts.Load())
	}
}

func TestDoRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "recovered")
	}))
	defer srv.Close()

	resp, err := Do(context.Background(), srv.Client(), get(srv.URL), fastRetry(4))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if got := attempts.Load(); got != 3 {
		t.Fatalf("want 3 attempts, got %d", got)
	}
}

func TestDoHonorsRetryAfter(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.Header().Set("Retry-After", "0.3")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	start := time.Now()
	resp, err := Do(context.Background(), srv.Client(), get(srv.URL), fastRetry(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if elapsed := time.Since(start); elapsed < 250*time.Millisecond {
		t.Fatalf("expected Retry-After delay, got %v", elapsed)
	}
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
}

func TestDoReturnsClientErrorsImmediately(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"message":"Invalid Webhook Token"}`)
	}))
	defer srv.Close()

	resp, err := Do(context.Background(), srv.Client(), get(srv.URL), fastRetry(4))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if got := attempts.Load(); got != 1 {
		t.Fatalf("want 1 attempt, got %d", got)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "Invalid Webhook Token") {
		t.Fatalf("expected body intact, got %q", body)
	}
}

func TestDoReturnsLastRetryableResponse(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "upstream down")
	}))
	defer srv.Close()

	resp, err := Do(context.Background(), srv.Client(), get(srv.URL), fastRetry(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway || attempts.Load() != 3 {
		t.Fatalf("got status %d after %d attempts", resp.StatusCode, attempts.Load())
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "upstream down" {
		t.Fatalf("expected final body, got %q", body)
	}
}

func TestDoNoRetrySendsOnce(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	resp, err := Do(context.Background(), srv.Client(), get(srv.URL), NoRetry())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if got := attempts.Load(); got != 1 {
		t.Fatalf("want 1 attempt, got %d", got)
	}
}

func TestDoNetworkErrorsExhaust(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := Do(context.Background(), nil, get(url), fastRetry(2))
	if err == nil || !strings.Contains(err.Error(), "all 2 attempts exhausted") {
		t.Fatalf("expected exhausted error, got %v", err)
	}
}

func TestDoStopsWhenContextCancelled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 10, BaseDelay: 5 * time.Second, MaxDelay: 30 * time.Second}

	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, srv.Client(), get(srv.URL), cfg)
		done <- err
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "context canceled") {
			t.Fatalf("expected context canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancel")
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		val  string
		want time.Duration
	}{
		{"120", 120 * time.Second},
		{"1.5", 1500 * time.Millisecond},
		{"", 0},
		{"abc", 0},
		{"0", 0},
		{"-5", 0},
	}
	for _, tc := range tests {
		if got := parseRetryAfter(tc.val); got != tc.want {
			t.Fatalf("parseRetryAfter(%q) = %v, want %v", tc.val, got, tc.want)
		}
	}

	future := time.Now().Add(5 * time.Second).UTC().Format(http.TimeFormat)
	if d := parseRetryAfter(future); d < 3*time.Second || d > 6*time.Second {
		t.Fatalf("expected ~5s from HTTP-date, got %v", d)
	}
}
