package cli

import (
	"fmt"
	"strings"

	"mealplan/internal/db"

	"github.com/spf13/cobra"
)

var (
	runsState string
	runsLimit int
)

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "List generation runs from the local server database",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRuns,
}

func init() {
	runsCmd.Flags().StringVar(&runsState, "state", "all", "filter by state: queued, processing, completed, error, or all")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum number of runs to list (0 for all)")
	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, args []string) error {
	state, err := normalizeRunState(runsState)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if len(args) == 1 {
		return showRun(cmd, store, args[0])
	}

	runs, err := store.ListRuns(cmd.Context(), state, runsLimit)
	if err != nil {
		return err
	}
	if jsonOut {
		if runs == nil {
			runs = []db.Run{}
		}
		printJSON(runs)
		return nil
	}
	if len(runs) == 0 {
		fmt.Println("No runs found. Run 'mealplan generate' to start one.")
		return nil
	}

	fmt.Printf("%-10s %-11s %-12s %-6s %-21s %s\n", "RUN", "STATE", "CUISINE", "MEALS", "UPDATED", "MESSAGE")
	for _, r := range runs {
		fmt.Printf("%-10s %-11s %-12s %-6d %-21s %s\n",
			db.ShortID(r.ID), r.State, truncate(r.Cuisine, 12), r.NumMeals, r.UpdatedAt, truncate(r.StatusMessage, 60))
	}
	return nil
}

type runDetail struct {
	db.Run
	Deliveries []db.Delivery
}

func showRun(cmd *cobra.Command, store *db.Store, arg string) error {
	ctx := cmd.Context()
	id, err := store.ResolveRunID(ctx, arg)
	if err != nil {
		return err
	}
	run, err := store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	deliveries, err := store.ListDeliveries(ctx, id)
	if err != nil {
		return err
	}
	if jsonOut {
		if deliveries == nil {
			deliveries = []db.Delivery{}
		}
		printJSON(runDetail{Run: run, Deliveries: deliveries})
		return nil
	}

	fmt.Printf("Run:       %s\n", run.ID)
	fmt.Printf("State:     %s\n", run.State)
	fmt.Printf("Message:   %s\n", run.StatusMessage)
	if run.ErrorMessage != "" {
		fmt.Printf("Error:     %s\n", run.ErrorMessage)
	}
	fmt.Printf("Request:   %s, %d meals for %d people (%s)\n", run.Cuisine, run.NumMeals, run.NumPeople, run.PostalCode)
	fmt.Printf("Created:   %s\n", run.CreatedAt)
	if run.CompletedAt != "" {
		fmt.Printf("Completed: %s\n", run.CompletedAt)
	}
	if run.FlyerImage != "" {
		fmt.Printf("Flyer:     %s\n", run.FlyerImage)
	}
	for _, d := range deliveries {
		outcome := "ok"
		if !d.Success {
			outcome = "failed: " + d.Error
		}
		fmt.Printf("Delivery:  %s %s (%d parts) %s\n", d.Channel, d.CreatedAt, d.Parts, outcome)
	}
	return nil
}

func normalizeRunState(raw string) (string, error) {
	state := strings.ToLower(strings.TrimSpace(raw))
	switch state {
	case "", "all":
		return "all", nil
	case db.RunQueued, db.RunProcessing, db.RunCompleted, db.RunError:
		return state, nil
	default:
		return "", fmt.Errorf("invalid state %q; expected queued, processing, completed, error, or all", raw)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
