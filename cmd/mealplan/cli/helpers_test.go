package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"mealplan/internal/api"

	"github.com/spf13/cobra"
)

// fakeAPI is an in-memory meal plan backend.
type fakeAPI struct {
	mu        sync.Mutex
	defaults  api.DefaultConfig
	statuses  []api.JobStatus
	polls     int
	genStatus int
	genDetail string
	generated []api.GenerateRequest
	recs      *api.Recommendations
	flyer     []byte
	discord   []string
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()
	f := &fakeAPI{
		defaults: api.DefaultConfig{PostalCode: "L6E1T8", NumPeople: 2, NumMeals: 7, Cuisine: "Chinese", Headless: true},
		statuses: []api.JobStatus{{Status: api.StatusIdle, StatusMessage: "Ready"}},
	}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.URL.Path {
	case "/api/config":
		writeJSON(w, http.StatusOK, f.defaults)
	case "/api/status":
		st := f.statuses[min(f.polls, len(f.statuses)-1)]
		f.polls++
		writeJSON(w, http.StatusOK, st)
	case "/api/generate":
		var req api.GenerateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.generated = append(f.generated, req)
		if f.genStatus != 0 {
			writeJSON(w, f.genStatus, api.ErrorBody{Detail: f.genDetail})
			return
		}
		writeJSON(w, http.StatusOK, api.GenerateResponse{Message: "Recommendation generation started", Status: api.StatusProcessing})
	case "/api/recommendations":
		if f.recs == nil {
			writeJSON(w, http.StatusNotFound, api.ErrorBody{Detail: "No recommendations available yet"})
			return
		}
		writeJSON(w, http.StatusOK, f.recs)
	case "/api/flyer-image":
		if f.flyer == nil {
			writeJSON(w, http.StatusNotFound, api.ErrorBody{Detail: "Flyer image not found"})
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(f.flyer)
	case "/api/send-discord":
		var req api.DiscordRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.discord = append(f.discord, req.WebhookURL)
		writeJSON(w, http.StatusOK, api.MessageResponse{Message: "Successfully sent to Discord", Success: true})
	default:
		writeJSON(w, http.StatusNotFound, api.ErrorBody{Detail: "Not Found"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeTestConfig writes a config whose client polls fast against server.
func writeTestConfig(t *testing.T, dir, server string) string {
	t.Helper()
	path := filepath.Join(dir, "mealplan.toml")
	cfg := fmt.Sprintf(`db_path = %q

[client]
server_url = %q
poll_interval = "10ms"
watch_interval = "10ms"
request_timeout = "2s"

[server]
pid_file = %q

[notifications]
discord_webhook = "https://discord.com/api/webhooks/1/abc"
`, filepath.Join(dir, "mealplan.db"), server, filepath.Join(dir, "mealplan.pid"))
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// useConfig points the global flags at configPath and server for the test.
func useConfig(t *testing.T, configPath, server string, asJSON bool) {
	t.Helper()
	prevCfgPath, prevJSON, prevServer := cfgPath, jsonOut, serverURL
	cfgPath = configPath
	jsonOut = asJSON
	serverURL = server
	t.Cleanup(func() {
		cfgPath = prevCfgPath
		jsonOut = prevJSON
		serverURL = prevServer
	})
}

func testCmd() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	return cmd
}

func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()
	prevStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("create pipe: %v", err)
	}
	os.Stdout = w
	outCh := make(chan []byte, 1)
	go func() {
		out, _ := io.ReadAll(r)
		outCh <- out
	}()

	runErr := fn()
	if err := w.Close(); err != nil {
		t.Fatalf("close write pipe: %v", err)
	}
	os.Stdout = prevStdout
	out := <-outCh
	if err := r.Close(); err != nil {
		t.Fatalf("close read pipe: %v", err)
	}
	return string(out), runErr
}

func (f *fakeAPI) requests() ([]api.GenerateRequest, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]api.GenerateRequest(nil), f.generated...), append([]string(nil), f.discord...)
}
