package db

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "mealplan.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

var testRequest = RunRequest{PostalCode: "L6E1T8", NumPeople: 2, NumMeals: 7, Cuisine: "Chinese", Headless: true}

// startRun creates and claims a run.
func startRun(t *testing.T, store *Store) string {
	t.Helper()
	ctx := context.Background()
	id, err := store.CreateRun(ctx, testRequest)
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	claimed, err := store.ClaimRun(ctx)
	if err != nil {
		t.Fatalf("claim run: %v", err)
	}
	if claimed != id {
		t.Fatalf("expected to claim %s, got %q", id, claimed)
	}
	return id
}

func TestCreateRunAllowsOneActiveRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTestStore(t)

	id, err := store.CreateRun(ctx, testRequest)
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if _, err := store.CreateRun(ctx, testRequest); !errors.Is(err, ErrActiveRun) {
		t.Fatalf("expected ErrActiveRun while queued, got %v", err)
	}

	if _, err := store.ClaimRun(ctx); err != nil {
		t.Fatalf("claim run: %v", err)
	}
	if _, err := store.CreateRun(ctx, testRequest); !errors.Is(err, ErrActiveRun) {
		t.Fatalf("expected ErrActiveRun while processing, got %v", err)
	}

	if err := store.CompleteRun(ctx, id, "**Shopping List**", "/tmp/complete_flyer.jpg"); err != nil {
		t.Fatalf("complete run: %v", err)
	}
	if _, err := store.CreateRun(ctx, testRequest); err != nil {
		t.Fatalf("expected new run after completion, got %v", err)
	}
}

func TestCreateRunStoresRequest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTestStore(t)

	req := RunRequest{PostalCode: "K1A0B1", NumPeople: 3, NumMeals: 4, Cuisine: "Korean", Headless: false, AutoSendDiscord: true}
	id, err := store.CreateRun(ctx, req)
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	run, err := store.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.State != RunQueued || run.StatusMessage != "Initializing..." {
		t.Fatalf("unexpected initial state %q / %q", run.State, run.StatusMessage)
	}
	if run.PostalCode != "K1A0B1" || run.NumPeople != 3 || run.NumMeals != 4 || run.Cuisine != "Korean" {
		t.Fatalf("request fields not stored: %+v", run)
	}
	if run.Headless || !run.AutoSendDiscord {
		t.Fatalf("expected headless=false auto_send=true, got %+v", run)
	}
}

func TestClaimRunEmptyQueue(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)

	id, err := store.ClaimRun(context.Background())
	if err != nil {
		t.Fatalf("claim run: %v", err)
	}
	if id != "" {
		t.Fatalf("expected no run, got %s", id)
	}
}

func TestRunProgressAndCompletion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTestStore(t)
	id := startRun(t, store)

	if err := store.SetRunStatus(ctx, id, "Stitching flyer images together..."); err != nil {
		t.Fatalf("set status: %v", err)
	}
	run, err := store.LatestRun(ctx)
	if err != nil {
		t.Fatalf("latest run: %v", err)
	}
	if run.State != RunProcessing || run.StatusMessage != "Stitching flyer images together..." || run.StartedAt == "" {
		t.Fatalf("unexpected processing run %+v", run)
	}

	if err := store.CompleteRun(ctx, id, "plan", "/out/complete_flyer.jpg"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := store.SetRunStatus(ctx, id, "late"); err == nil {
		t.Fatalf("expected status update on completed run to fail")
	}
	run, err = store.LatestResults(ctx)
	if err != nil {
		t.Fatalf("latest results: %v", err)
	}
	if run.StatusMessage != "Complete!" || run.Recommendations != "plan" || run.FlyerImage != "/out/complete_flyer.jpg" || run.CompletedAt == "" {
		t.Fatalf("unexpected completed run %+v", run)
	}

	events, err := store.ListNotificationEvents(ctx, NotificationStatusPending)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 || events[0].EventType != NotificationEventCompleted || events[0].RunID != id {
		t.Fatalf("expected one completed event, got %+v", events)
	}
}

func TestFailRunKeepsPreviousResults(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTestStore(t)

	first := startRun(t, store)
	if err := store.CompleteRun(ctx, first, "first plan", "/out/a.jpg"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	second := startRun(t, store)
	if err := store.FailRun(ctx, second, "disk full"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := store.FailRun(ctx, second, "again"); err == nil {
		t.Fatalf("expected failing a finished run to error")
	}

	latest, err := store.LatestRun(ctx)
	if err != nil {
		t.Fatalf("latest run: %v", err)
	}
	if latest.ID != second || latest.State != RunError {
		t.Fatalf("expected errored second run, got %+v", latest)
	}
	if latest.StatusMessage != "Error: disk full" || latest.ErrorMessage != "disk full" {
		t.Fatalf("unexpected error fields %q / %q", latest.StatusMessage, latest.ErrorMessage)
	}

	results, err := store.LatestResults(ctx)
	if err != nil {
		t.Fatalf("latest results: %v", err)
	}
	if results.ID != first {
		t.Fatalf("expected results from first run, got %s", results.ID)
	}
}

func TestLatestRunEmpty(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)

	if _, err := store.LatestRun(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.LatestResults(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetRun(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecoverInFlightRunsRequeues(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTestStore(t)
	id := startRun(t, store)
	if err := store.SetRunStatus(ctx, id, "Analyzing flyer with LLM..."); err != nil {
		t.Fatalf("set status: %v", err)
	}

	n, err := store.RecoverInFlightRuns(ctx)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 recovered run, got %d", n)
	}
	run, err := store.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.State != RunQueued || run.StatusMessage != "Initializing..." || run.StartedAt != "" {
		t.Fatalf("expected requeued run, got %+v", run)
	}
	if claimed, _ := store.ClaimRun(ctx); claimed != id {
		t.Fatalf("expected recovered run to be claimable, got %q", claimed)
	}
}

func TestListAndResolveRuns(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTestStore(t)

	first := startRun(t, store)
	if err := store.FailRun(ctx, first, "boom"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	second := startRun(t, store)

	all, err := store.ListRuns(ctx, "all", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || all[0].ID != second || all[1].ID != first {
		t.Fatalf("expected newest first, got %+v", all)
	}
	errored, err := store.ListRuns(ctx, RunError, 10)
	if err != nil {
		t.Fatalf("list errored: %v", err)
	}
	if len(errored) != 1 || errored[0].ID != first {
		t.Fatalf("expected only errored run, got %+v", errored)
	}

	got, err := store.ResolveRunID(ctx, ShortID(second))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != second {
		t.Fatalf("expected %s, got %s", second, got)
	}
	if _, err := store.ResolveRunID(ctx, "zzzz"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.ResolveRunID(ctx, ""); err == nil || !strings.Contains(err.Error(), "required") {
		t.Fatalf("expected required error, got %v", err)
	}
}

func TestDeliveriesRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTestStore(t)
	id := startRun(t, store)

	if _, err := store.RecordDelivery(ctx, Delivery{RunID: id, Channel: "discord", Error: "status 500"}); err != nil {
		t.Fatalf("record failed delivery: %v", err)
	}
	if _, err := store.RecordDelivery(ctx, Delivery{RunID: id, Channel: "discord", Success: true, Parts: 3}); err != nil {
		t.Fatalf("record delivery: %v", err)
	}

	got, err := store.ListDeliveries(ctx, id)
	if err != nil {
		t.Fatalf("list deliveries: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(got))
	}
	if got[0].Success || got[0].Error != "status 500" {
		t.Fatalf("unexpected first delivery %+v", got[0])
	}
	if !got[1].Success || got[1].Parts != 3 {
		t.Fatalf("unexpected second delivery %+v", got[1])
	}
}
